package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/callback"
	"github.com/stridehq/stride/codec"
	"github.com/stridehq/stride/execution"
	"github.com/stridehq/stride/ext"
	"github.com/stridehq/stride/id"
	mw "github.com/stridehq/stride/middleware"
	"github.com/stridehq/stride/observability"
	"github.com/stridehq/stride/store"
)

// purgeInterval is how often the retention purge runs.
const purgeInterval = time.Minute

// Engine is the top-level entry point: it registers workflows, starts
// and resumes executions, settles callbacks, and runs the background
// sweep and retention purge.
type Engine struct {
	cfg         stride.Config
	store       store.Store
	registry    *execution.Registry
	coordinator *execution.Coordinator
	callbacks   *callback.Service
	extensions  *ext.Registry
	cdc         codec.Codec
	logger      *slog.Logger
	mws         []mw.Middleware
	resume      *resumer

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	mu       sync.Mutex
	shutdown bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default engine configuration.
func WithConfig(cfg stride.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithLogger sets the engine's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = logger }
}

// WithCodec sets the codec used for workflow inputs and step results.
// Defaults to JSON.
func WithCodec(c codec.Codec) Option {
	return func(eng *Engine) { eng.cdc = c }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware appends middleware to the engine's chain, inside the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New creates an Engine backed by s and starts the background sweep,
// resume dispatcher, and retention purge. Call Shutdown to stop them.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, stride.ErrNoStore
	}

	eng := &Engine{
		cfg:      stride.DefaultConfig(),
		store:    s,
		registry: execution.NewRegistry(),
		cdc:      codec.JSON{},
		logger:   slog.Default(),
	}
	eng.extensions = ext.NewRegistry(eng.logger)
	for _, opt := range opts {
		opt(eng)
	}

	if eng.meterProvider != nil {
		eng.extensions.Register(observability.NewMetricsExtensionWithProvider(eng.meterProvider))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}

	emitter := &extEmitter{r: eng.extensions}

	eng.resume = newResumer(eng.backgroundRun, eng.cfg.ResumeRate, eng.logger)
	eng.callbacks = callback.NewService(s, eng.resume, emitter, eng.logger)

	// Default middleware stack: recover → tracing → metrics → logging.
	// User middlewares run innermost, closest to the body.
	mws := append([]mw.Middleware{
		mw.Recover(),
		mw.Tracing(eng.tracerProvider),
		mw.Metrics(eng.meterProvider),
		mw.Logging(eng.logger),
	}, eng.mws...)
	mws = append(mws, mw.Timeout(0))

	eng.coordinator = execution.NewCoordinator(execution.CoordinatorConfig{
		Store:             s,
		Registry:          eng.registry,
		Callbacks:         eng.callbacks,
		Codec:             eng.cdc,
		Logger:            eng.logger,
		Emitter:           emitter,
		Middlewares:       mws,
		BranchConcurrency: eng.cfg.BranchConcurrency,
		Retention:         eng.cfg.Retention,
	})

	bgCtx, cancel := context.WithCancel(context.Background())
	eng.bgCancel = cancel
	eng.resume.start(bgCtx)
	eng.bgWG.Add(2)
	go func() {
		defer eng.bgWG.Done()
		eng.callbacks.Run(bgCtx, eng.cfg.SweepInterval)
	}()
	go func() {
		defer eng.bgWG.Done()
		eng.purgeLoop(bgCtx)
	}()

	return eng, nil
}

// RegisterWorkflow adds a workflow definition. Every process that may
// run or resume the workflow's executions must register a structurally
// identical definition.
func (eng *Engine) RegisterWorkflow(def *execution.Definition) error {
	return eng.registry.Register(def)
}

// StartOption configures a single Start call.
type StartOption func(*startOpts)

type startOpts struct {
	timeout time.Duration
}

// WithTimeout overrides the engine's default execution deadline for one
// execution. The timeout covers suspended time and is clamped to
// stride.MaxExecutionTimeout.
func WithTimeout(d time.Duration) StartOption {
	return func(o *startOpts) { o.timeout = d }
}

// Start creates a new execution of the named workflow and schedules its
// first coordination pass in the background. The input is encoded with
// the engine's codec; []byte and nil pass through unencoded.
func (eng *Engine) Start(ctx context.Context, workflow string, input any, opts ...StartOption) (*execution.Execution, error) {
	so := startOpts{timeout: eng.cfg.ExecutionTimeout}
	for _, opt := range opts {
		opt(&so)
	}

	raw, err := eng.encodeInput(input)
	if err != nil {
		return nil, err
	}

	exec, err := eng.coordinator.Start(ctx, workflow, raw, so.timeout)
	if err != nil {
		return nil, err
	}
	eng.resume.Resume(ctx, exec.ID)
	return exec, nil
}

func (eng *Engine) encodeInput(input any) ([]byte, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	default:
		raw, err := eng.cdc.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("engine: encode input: %w", err)
		}
		return raw, nil
	}
}

// Run drives one synchronous coordination pass and returns the
// execution's post-pass state. It is the lazy complement to the
// background resume path: calling Run on a suspended execution whose
// callback has settled advances it immediately.
func (eng *Engine) Run(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	return eng.coordinator.Run(ctx, execID)
}

// GetStatus returns the execution's current stored state.
func (eng *Engine) GetStatus(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	return eng.store.GetExecution(ctx, execID)
}

// ListExecutions returns executions matching opts.
func (eng *Engine) ListExecutions(ctx context.Context, opts execution.ListOpts) ([]*execution.Execution, error) {
	return eng.store.ListExecutions(ctx, opts)
}

// ListStepRecords returns an execution's checkpoint log in sequence
// order.
func (eng *Engine) ListStepRecords(ctx context.Context, execID id.ExecutionID) ([]*execution.StepRecord, error) {
	return eng.store.ListStepRecords(ctx, execID)
}

// ListCallbacks returns an execution's callbacks, oldest first.
func (eng *Engine) ListCallbacks(ctx context.Context, execID id.ExecutionID) ([]*callback.Callback, error) {
	return eng.store.ListCallbacks(ctx, execID)
}

// ResolveCallback settles a waiting callback successfully; the payload
// becomes the waiting step's committed result. Exactly one settlement
// wins: later resolvers get stride.ErrCallbackResolved or
// stride.ErrCallbackExpired.
func (eng *Engine) ResolveCallback(ctx context.Context, cbID id.CallbackID, payload []byte) error {
	return eng.callbacks.Resolve(ctx, cbID, payload)
}

// FailCallback settles a waiting callback as failed. The waiting step's
// retry policy decides whether a fresh callback is armed.
func (eng *Engine) FailCallback(ctx context.Context, cbID id.CallbackID, reason string) error {
	return eng.callbacks.Fail(ctx, cbID, reason)
}

// HeartbeatCallback extends a waiting callback's expiry to ttl from
// now, keeping a slow external party's window open.
func (eng *Engine) HeartbeatCallback(ctx context.Context, cbID id.CallbackID, ttl time.Duration) error {
	return eng.callbacks.Heartbeat(ctx, cbID, ttl)
}

// Cancel requests cooperative cancellation. In-flight step attempts run
// to settlement; the coordinator finalizes the execution as cancelled
// at the next step boundary. Cancelling a terminal execution returns
// stride.ErrExecutionTerminal.
func (eng *Engine) Cancel(ctx context.Context, execID id.ExecutionID) error {
	exec, err := eng.store.GetExecution(ctx, execID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return stride.ErrExecutionTerminal
	}
	exec.CancelRequested = true
	exec.Touch()
	if err := eng.store.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	eng.resume.Resume(ctx, execID)
	return nil
}

// Extensions returns the engine's extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Store returns the engine's backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Logger returns the engine's logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }

// Shutdown stops the background sweep, resume dispatcher, and purge,
// then notifies Shutdown extensions. It waits up to the configured
// shutdown timeout (or ctx, whichever ends first).
func (eng *Engine) Shutdown(ctx context.Context) error {
	eng.mu.Lock()
	if eng.shutdown {
		eng.mu.Unlock()
		return nil
	}
	eng.shutdown = true
	eng.mu.Unlock()

	eng.bgCancel()

	done := make(chan struct{})
	go func() {
		eng.bgWG.Wait()
		eng.resume.wait()
		close(done)
	}()

	timeout := eng.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
	case <-time.After(timeout):
		eng.logger.Warn("shutdown timeout elapsed before background loops stopped")
	case <-ctx.Done():
		return ctx.Err()
	}

	eng.extensions.EmitShutdown(ctx)
	return nil
}

// backgroundRun is the resume dispatcher's pass runner.
func (eng *Engine) backgroundRun(ctx context.Context, execID id.ExecutionID) {
	if _, err := eng.coordinator.Run(ctx, execID); err != nil {
		if ctx.Err() != nil {
			return
		}
		eng.logger.ErrorContext(ctx, "background coordination pass failed",
			slog.String("execution_id", execID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// purgeLoop reclaims terminal executions past their retention.
func (eng *Engine) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := eng.store.PurgeExpired(ctx, now.UTC())
			if err != nil {
				if ctx.Err() == nil {
					eng.logger.ErrorContext(ctx, "retention purge failed",
						slog.String("error", err.Error()),
					)
				}
				continue
			}
			if n > 0 {
				eng.logger.DebugContext(ctx, "purged expired executions", slog.Int("count", n))
			}
		}
	}
}
