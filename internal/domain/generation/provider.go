package generation

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Provider implements the generate capability for one backend.
type Provider interface {
	ID() string
	Name() string
	// Validate reports missing configuration without touching the network.
	Validate() error
	Generate(ctx context.Context, req Request, progress ProgressFunc) Result
}

// ProviderInfo is the public identity of a registered provider.
type ProviderInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Factory selects the active provider by id.
type Factory struct {
	mu        sync.RWMutex
	providers map[string]Provider
	active    string
}

func NewFactory(active string, providers ...Provider) *Factory {
	f := &Factory{providers: make(map[string]Provider), active: active}
	for _, p := range providers {
		f.Register(p)
	}
	return f
}

func (f *Factory) Register(p Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[p.ID()] = p
}

// Active returns the selected provider or a ConfigError.
func (f *Factory) Active() (Provider, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.providers[f.active]
	if !ok {
		return nil, newError(KindConfig, fmt.Sprintf("unknown generation provider %q", f.active), nil)
	}
	return p, nil
}

func (f *Factory) Providers() []ProviderInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]ProviderInfo, 0, len(f.providers))
	for id, p := range f.providers {
		out = append(out, ProviderInfo{ID: id, Name: p.Name(), Active: id == f.active})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
