package app

import (
	"context"

	"github.com/fairyhunter13/chat-relay/internal/domain"
)

// Pinger is implemented by store backends that can probe their backing
// medium.
type Pinger interface{ Ping(ctx context.Context) error }

// BuildStoreCheck returns the readiness probe for the state store backend.
// Backends without a probe (process memory) are always ready. The probe
// targets the raw backend, not the cache in front of it, so a lost backend
// flips readiness even while cached serving continues.
func BuildStoreCheck(backend domain.StateStore) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if p, ok := backend.(Pinger); ok {
			return p.Ping(ctx)
		}
		return nil
	}
}
