package execution

import (
	"fmt"
	"sync"
)

// Registry holds the workflow definitions an engine can execute.
// Definitions are looked up by name on start and on every resume, so a
// process must register the same set across restarts for executions to
// replay.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition. Re-registering a name replaces the
// previous definition; callers that need stable replay should only do
// this with structurally identical definitions.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("execution: register nil definition")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name()] = def
	return nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Names returns the registered workflow names, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	return names
}
