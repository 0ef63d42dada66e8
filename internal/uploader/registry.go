package uploader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/shipper/internal/handle"
	"github.com/seantiz/shipper/internal/model"
)

// ManagerInfo describes a registered manager.
type ManagerInfo struct {
	Name      string `json:"name"`
	Container string `json:"container"`
	Prefix    string `json:"prefix"`
	Default   bool   `json:"default"`
	Closed    bool   `json:"closed"`
	Stats     Stats  `json:"stats"`
}

// Registry holds upload managers keyed by backend name. The first manager
// registered is the default.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]*Manager
	def      string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		managers: make(map[string]*Manager),
	}
}

// Register adds m under its backend name. A name can be registered once;
// the caller still owns m when ErrDuplicateBackend is returned.
func (r *Registry) Register(m *Manager) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.managers[m.Name()]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateBackend, m.Name())
	}
	r.managers[m.Name()] = m
	if r.def == "" {
		r.def = m.Name()
	}
	return nil
}

// Resolve returns the manager for name. An empty name resolves to the
// default manager.
func (r *Registry) Resolve(name string) (*Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.def
	}
	m, ok := r.managers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return m, nil
}

// List returns information about all registered managers, sorted by name
// for a stable API response.
func (r *Registry) List() []ManagerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ManagerInfo, 0, len(r.managers))
	for name, m := range r.managers {
		cfg := m.Config()
		infos = append(infos, ManagerInfo{
			Name:      name,
			Container: cfg.Container,
			Prefix:    cfg.Prefix,
			Default:   name == r.def,
			Closed:    m.Closed(),
			Stats:     m.Stats(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

func (r *Registry) snapshot() []*Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	managers := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	return managers
}

// Lookup finds an in-flight upload on any registered manager.
func (r *Registry) Lookup(id string) (model.Upload, *handle.Handle[Result], bool) {
	for _, m := range r.snapshot() {
		if u, h, ok := m.Lookup(id); ok {
			return u, h, true
		}
	}
	return model.Upload{}, nil, false
}

// Cancel cancels the in-flight upload id on whichever manager owns it.
func (r *Registry) Cancel(id string) error {
	for _, m := range r.snapshot() {
		err := m.Cancel(id)
		if !errors.Is(err, ErrUnknownUpload) {
			return err
		}
	}
	return ErrUnknownUpload
}

// Close closes every manager concurrently and returns the first error.
func (r *Registry) Close(ctx context.Context) error {
	managers := r.snapshot()

	g, ctx := errgroup.WithContext(ctx)
	for _, m := range managers {
		g.Go(func() error {
			return m.Close(ctx)
		})
	}
	return g.Wait()
}
