package execution

import (
	"fmt"
	"time"

	"github.com/stridehq/stride/backoff"
)

// Definition is an immutable, validated workflow: a name and an ordered
// sequence of nodes. Build one with NewDefinition and register it so
// executions can locate it on start and on every resume.
type Definition struct {
	name  string
	nodes []Node

	// byName maps node names, including names of steps nested in
	// branch groups, for duplicate detection and record lookup.
	byName map[string]Node
}

// Name returns the workflow name.
func (d *Definition) Name() string { return d.name }

// Nodes returns the declared node sequence.
func (d *Definition) Nodes() []Node { return d.nodes }

// Builder assembles a Definition step by step. Builders are not safe
// for concurrent use; build once at startup.
type Builder struct {
	def *Definition
	err error
}

// NewDefinition starts a workflow definition with the given name.
func NewDefinition(name string) *Builder {
	return &Builder{
		def: &Definition{
			name:   name,
			byName: make(map[string]Node),
		},
	}
}

func (b *Builder) addNode(n Node) *Builder {
	if b.err != nil {
		return b
	}
	name := n.NodeName()
	if name == "" {
		b.err = fmt.Errorf("execution: node %d has empty name", len(b.def.nodes))
		return b
	}
	if _, dup := b.def.byName[name]; dup {
		b.err = fmt.Errorf("execution: duplicate node name %q", name)
		return b
	}
	b.def.byName[name] = n
	b.def.nodes = append(b.def.nodes, n)
	return b
}

// Step appends a single step.
func (b *Builder) Step(name string, body Body, opts ...StepOption) *Builder {
	if b.err != nil {
		return b
	}
	if body == nil {
		b.err = fmt.Errorf("execution: step %q has nil body", name)
		return b
	}
	return b.addNode(NewStep(name, body, opts...))
}

// Branch appends a parallel group of steps. Step names within the group
// share the workflow-wide namespace.
func (b *Builder) Branch(name string, steps ...*Step) *Builder {
	return b.BranchOpt(name, false, steps...)
}

// BranchOpt appends a parallel group with an explicit best-effort flag.
func (b *Builder) BranchOpt(name string, bestEffort bool, steps ...*Step) *Builder {
	if b.err != nil {
		return b
	}
	if len(steps) == 0 {
		b.err = fmt.Errorf("execution: branch %q has no steps", name)
		return b
	}
	br := &Branch{Name: name, Steps: steps, BestEffort: bestEffort}
	if b = b.addNode(br); b.err != nil {
		return b
	}
	for _, s := range steps {
		if s.Body == nil {
			b.err = fmt.Errorf("execution: branch step %q has nil body", s.Name)
			return b
		}
		if _, dup := b.def.byName[s.Name]; dup {
			b.err = fmt.Errorf("execution: duplicate node name %q", s.Name)
			return b
		}
		b.def.byName[s.Name] = s
	}
	return b
}

// Wait appends a callback suspension point with the given open window.
func (b *Builder) Wait(name string, timeout time.Duration, opts ...WaitOption) *Builder {
	if b.err != nil {
		return b
	}
	if timeout <= 0 {
		b.err = fmt.Errorf("execution: wait %q has non-positive timeout", name)
		return b
	}
	w := &Wait{Name: name, Timeout: timeout}
	for _, opt := range opts {
		opt(w)
	}
	return b.addNode(w)
}

// Sleep appends a durable timer.
func (b *Builder) Sleep(name string, d time.Duration) *Builder {
	if b.err != nil {
		return b
	}
	if d <= 0 {
		b.err = fmt.Errorf("execution: sleep %q has non-positive duration", name)
		return b
	}
	return b.addNode(&Sleep{Name: name, Duration: d})
}

// WaitOption configures a Wait node.
type WaitOption func(*Wait)

// WithWaitRetry re-arms a fresh callback on timeout or failed
// resolution, per the policy.
func WithWaitRetry(p backoff.Policy) WaitOption {
	return func(w *Wait) { w.Retry = p }
}

// WithWaitBestEffort records an exhausted wait without failing the
// execution.
func WithWaitBestEffort() WaitOption {
	return func(w *Wait) { w.BestEffort = true }
}

// Build validates the definition, assigns commit sequence numbers in
// declared order, and returns the immutable Definition.
func (b *Builder) Build() (*Definition, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.def.name == "" {
		return nil, fmt.Errorf("execution: definition has empty name")
	}
	if len(b.def.nodes) == 0 {
		return nil, fmt.Errorf("execution: definition %q has no nodes", b.def.name)
	}

	// Sequence numbers fix the replay and commit order once, at build
	// time. Suspension nodes occupy a slot too so their records sort
	// stably among step records.
	seq := 0
	for _, n := range b.def.nodes {
		switch node := n.(type) {
		case *Step:
			node.seq = seq
			seq++
		case *Branch:
			for _, s := range node.Steps {
				s.seq = seq
				seq++
			}
		case *Wait:
			node.seq = seq
			seq++
		case *Sleep:
			node.seq = seq
			seq++
		}
	}
	return b.def, nil
}

// MustBuild is Build that panics on error, for package-level workflow
// declarations.
func (b *Builder) MustBuild() *Definition {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}
