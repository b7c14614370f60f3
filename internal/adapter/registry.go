package adapter

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps adapter kinds to implementations. The deterministic adapter is always
// present and is the fallback for unknown names.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Kind]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[Kind]Adapter{KindDeterministic: NewDeterministic()}}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	if a == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[normalizeKind(a.Name())] = a
}

// Resolve returns the adapter registered under name, or the deterministic adapter.
func (r *Registry) Resolve(name string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[normalizeKind(name)]; ok {
		return a
	}
	return r.adapters[KindDeterministic]
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

func normalizeKind(name string) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(name)))
}

// Selector holds the process-wide adapter choice. It can be changed while serving; the
// next request resolves the new value.
type Selector struct {
	mu   sync.RWMutex
	name string
}

func NewSelector(name string) *Selector {
	return &Selector{name: strings.TrimSpace(name)}
}

func (s *Selector) Set(name string) {
	s.mu.Lock()
	s.name = strings.TrimSpace(name)
	s.mu.Unlock()
}

func (s *Selector) Current() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}
