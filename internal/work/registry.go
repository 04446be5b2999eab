package work

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownKind is returned when no work function is registered for a kind.
var ErrUnknownKind = errors.New("unknown work kind")

// Registry holds registered work functions keyed by task kind.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates an empty work registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs: make(map[string]Func),
	}
}

// Register adds a work function under the given kind, replacing any
// previous registration.
func (r *Registry) Register(kind string, f Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[kind] = f
}

// Resolve returns the work function registered for kind.
func (r *Registry) Resolve(kind string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.funcs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return f, nil
}

// Kinds returns all registered kinds, sorted for stable output.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.funcs))
	for k := range r.funcs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
