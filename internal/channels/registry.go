package channels

import (
	"fmt"

	"github.com/qbloq/agentico/internal/model"
)

// Registry maps a channel kind to the adapter that serves it. One
// Registry is shared process-wide; tenant-specific routing (credential
// lookup) happens per-call via model.ChannelCredential, not here.
type Registry struct {
	adapters map[model.ChannelKind]ChannelAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[model.ChannelKind]ChannelAdapter)}
}

// Register installs an adapter for its own Kind().
func (r *Registry) Register(adapter ChannelAdapter) {
	r.adapters[adapter.Kind()] = adapter
}

// Adapter returns the adapter registered for kind, if any.
func (r *Registry) Adapter(kind model.ChannelKind) (ChannelAdapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no channel adapter registered for kind %q", kind)
	}
	return a, nil
}
