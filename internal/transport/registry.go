package transport

import (
	"errors"
	"fmt"
	"sync"

	"promocast/internal/domain"
)

var ErrNoTransport = errors.New("no transport registered for platform")

// Registry maps platforms to transports. It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex
	m  map[domain.Platform]ChannelTransport
}

func NewRegistry(ts ...ChannelTransport) *Registry {
	r := &Registry{m: map[domain.Platform]ChannelTransport{}}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds or replaces the transport for t.Platform().
func (r *Registry) Register(t ChannelTransport) {
	if t == nil {
		return
	}
	r.mu.Lock()
	r.m[t.Platform()] = t
	r.mu.Unlock()
}

func (r *Registry) Get(p domain.Platform) (ChannelTransport, error) {
	r.mu.RLock()
	t, ok := r.m[p]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTransport, p)
	}
	return t, nil
}

func (r *Registry) Platforms() []domain.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Platform, 0, len(r.m))
	for p := range r.m {
		out = append(out, p)
	}
	return out
}
