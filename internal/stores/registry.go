package stores

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps a domain to its Classifier.
// It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Classifier
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]Classifier{}}
}

// NewDefaultRegistry registers the built-in classifiers followed by extra.
func NewDefaultRegistry(extra ...Classifier) (*Registry, error) {
	r := NewRegistry()
	for _, c := range append(Builtins(), extra...) {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(c Classifier) error {
	if c == nil {
		return fmt.Errorf("register: nil classifier")
	}
	d := normalizeDomain(c.Domain())
	if d == "" {
		return fmt.Errorf("register: classifier has empty domain")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[d]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDomain, d)
	}
	r.m[d] = c
	return nil
}

// Resolve returns the classifier for domain or ErrUnsupportedStore.
func (r *Registry) Resolve(domain string) (Classifier, error) {
	d := normalizeDomain(domain)
	r.mu.RLock()
	c, ok := r.m[d]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStore, d)
	}
	return c, nil
}

// Domains returns the registered domains, sorted.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.m))
	for d := range r.m {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
