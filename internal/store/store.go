// ABOUTME: Store interface for agent state persistence.
// ABOUTME: The relay passes opaque state blobs through; it never inspects them.

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no state exists for a requested agent id.
var ErrNotFound = errors.New("not found")

// Store persists opaque per-agent state blobs. The relay is only a
// pass-through for these; agent-level collaborators decide what they mean.
type Store interface {
	// GetState returns the state blob for an agent id, or ErrNotFound.
	GetState(ctx context.Context, agentID string) ([]byte, error)

	// SaveState stores the state blob for an agent id, replacing any
	// previous value.
	SaveState(ctx context.Context, agentID string, state []byte) error

	// Close releases the underlying resources.
	Close() error
}
