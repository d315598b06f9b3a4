package callback_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stridehq/stride"
	"github.com/stridehq/stride/callback"
	"github.com/stridehq/stride/id"
	"github.com/stridehq/stride/store/memory"
)

type recordingResumer struct {
	woken []id.ExecutionID
}

func (r *recordingResumer) Resume(_ context.Context, execID id.ExecutionID) {
	r.woken = append(r.woken, execID)
}

type recordingEmitter struct {
	created, resolved, expired int
}

func (e *recordingEmitter) CallbackCreated(context.Context, *callback.Callback)  { e.created++ }
func (e *recordingEmitter) CallbackResolved(context.Context, *callback.Callback) { e.resolved++ }
func (e *recordingEmitter) CallbackExpired(context.Context, *callback.Callback)  { e.expired++ }

func newService(t *testing.T) (*callback.Service, *recordingResumer, *recordingEmitter) {
	t.Helper()
	resumer := &recordingResumer{}
	emitter := &recordingEmitter{}
	svc := callback.NewService(memory.New(), resumer, emitter, nil)
	return svc, resumer, emitter
}

func TestResolveWakesExecution(t *testing.T) {
	svc, resumer, emitter := newService(t)
	ctx := context.Background()
	execID := id.NewExecutionID()

	cb, err := svc.Create(ctx, execID, "approval", callback.KindSignal, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if emitter.created != 1 {
		t.Fatalf("created events = %d", emitter.created)
	}

	if err := svc.Resolve(ctx, cb.ID, []byte(`{"approved":true}`)); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	got, err := svc.Get(ctx, cb.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != callback.StatusResolved {
		t.Fatalf("status = %s", got.Status)
	}
	if string(got.Payload) != `{"approved":true}` {
		t.Fatalf("payload = %s", got.Payload)
	}
	if got.SettledAt.IsZero() {
		t.Fatal("settled_at not set")
	}
	if len(resumer.woken) != 1 || resumer.woken[0].String() != execID.String() {
		t.Fatalf("woken = %v", resumer.woken)
	}
	if emitter.resolved != 1 {
		t.Fatalf("resolved events = %d", emitter.resolved)
	}
}

func TestSecondSettlementLoses(t *testing.T) {
	svc, resumer, _ := newService(t)
	ctx := context.Background()

	cb, err := svc.Create(ctx, id.NewExecutionID(), "approval", callback.KindSignal, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Resolve(ctx, cb.ID, []byte(`"yes"`)); err != nil {
		t.Fatal(err)
	}
	if err := svc.Fail(ctx, cb.ID, "changed my mind"); !errors.Is(err, stride.ErrCallbackResolved) {
		t.Fatalf("second settle err = %v", err)
	}
	if err := svc.Resolve(ctx, cb.ID, []byte(`"no"`)); !errors.Is(err, stride.ErrCallbackResolved) {
		t.Fatalf("third settle err = %v", err)
	}

	got, _ := svc.Get(ctx, cb.ID)
	if string(got.Payload) != `"yes"` {
		t.Fatalf("payload = %s, first settlement must stand", got.Payload)
	}
	if len(resumer.woken) != 1 {
		t.Fatalf("woken = %d, losing settlements must not wake", len(resumer.woken))
	}
}

func TestFailRecordsReason(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	cb, err := svc.Create(ctx, id.NewExecutionID(), "approval", callback.KindSignal, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Fail(ctx, cb.ID, "rejected by reviewer"); err != nil {
		t.Fatal(err)
	}

	got, _ := svc.Get(ctx, cb.ID)
	if got.Status != callback.StatusFailed || got.Error != "rejected by reviewer" {
		t.Fatalf("got %+v", got)
	}
}

func TestResolveMissingCallback(t *testing.T) {
	svc, _, _ := newService(t)
	err := svc.Resolve(context.Background(), id.NewCallbackID(), nil)
	if !errors.Is(err, stride.ErrCallbackNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestSweepExpiresAndWakes(t *testing.T) {
	svc, resumer, emitter := newService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Two past expiry, one still live.
	first, err := svc.Create(ctx, id.NewExecutionID(), "a", callback.KindSignal, -2*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Create(ctx, id.NewExecutionID(), "b", callback.KindTimer, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	live, err := svc.Create(ctx, id.NewExecutionID(), "c", callback.KindSignal, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	settled, err := svc.Sweep(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if settled != 2 {
		t.Fatalf("settled = %d", settled)
	}
	if emitter.expired != 2 {
		t.Fatalf("expired events = %d", emitter.expired)
	}
	if len(resumer.woken) != 2 {
		t.Fatalf("woken = %d", len(resumer.woken))
	}

	for _, cb := range []*callback.Callback{first, second} {
		got, getErr := svc.Get(ctx, cb.ID)
		if getErr != nil {
			t.Fatal(getErr)
		}
		if got.Status != callback.StatusExpired {
			t.Fatalf("%s status = %s", cb.Step, got.Status)
		}
	}
	got, _ := svc.Get(ctx, live.ID)
	if got.Status != callback.StatusWaiting {
		t.Fatalf("live callback status = %s", got.Status)
	}

	// Second sweep finds nothing.
	settled, err = svc.Sweep(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if settled != 0 {
		t.Fatalf("resweep settled = %d", settled)
	}
}

func TestSweepSkipsRacedCallback(t *testing.T) {
	store := memory.New()
	resumer := &recordingResumer{}
	svc := callback.NewService(store, resumer, nil, nil)
	ctx := context.Background()

	cb, err := svc.Create(ctx, id.NewExecutionID(), "a", callback.KindSignal, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	// A resolver wins between list and settle.
	if err := svc.Resolve(ctx, cb.ID, []byte(`"won"`)); err != nil {
		t.Fatal(err)
	}

	settled, err := svc.Sweep(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep must skip raced callbacks, got %v", err)
	}
	if settled != 0 {
		t.Fatalf("settled = %d", settled)
	}

	got, _ := svc.Get(ctx, cb.ID)
	if got.Status != callback.StatusResolved {
		t.Fatalf("status = %s, resolver outcome must stand", got.Status)
	}
}

func TestHeartbeatExtendsExpiry(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	cb, err := svc.Create(ctx, id.NewExecutionID(), "long-task", callback.KindSignal, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Heartbeat(ctx, cb.ID, 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}

	if err := svc.Heartbeat(ctx, cb.ID, time.Hour); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	got, _ := svc.Get(ctx, cb.ID)
	if got.ExpiresAt.Before(time.Now().Add(50 * time.Minute)) {
		t.Fatalf("expires_at = %v, not extended", got.ExpiresAt)
	}

	// Settled callbacks refuse heartbeats.
	if err := svc.Resolve(ctx, cb.ID, nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.Heartbeat(ctx, cb.ID, time.Hour); !errors.Is(err, stride.ErrCallbackResolved) {
		t.Fatalf("heartbeat after settle err = %v", err)
	}
}
