// Package store persists search sessions. The engine only needs
// create/read/update semantics keyed by session identifier; updates always
// overwrite the full session snapshot so a reader never observes a
// partially written session.
package store

import (
	"context"
	"errors"

	"github.com/nvandessel/voicesearch/internal/models"
)

// ErrNotFound reports an unknown session identifier.
var ErrNotFound = errors.New("session not found")

// ErrExists reports a Create for an identifier that is already stored.
var ErrExists = errors.New("session already exists")

// Store persists sessions. Implementations must be safe for concurrent use;
// per-session write serialization is the engine's job.
type Store interface {
	// Create stores a new session. Fails with ErrExists if the ID is taken.
	Create(ctx context.Context, session *models.Session) error

	// Get returns the session for the given ID, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*models.Session, error)

	// Update overwrites the full stored snapshot for the session's ID.
	// Fails with ErrNotFound if the session was never created.
	Update(ctx context.Context, session *models.Session) error

	// List returns all stored session IDs, oldest first.
	List(ctx context.Context) ([]string, error)

	// Close releases resources.
	Close() error
}
