package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/nvandessel/voicesearch/internal/models"
)

// MemoryStore keeps sessions in process memory. Snapshots are deep-copied on
// the way in and out so callers cannot mutate stored state through aliases.
// Used in tests and as the store behind ephemeral single-run sessions.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.Session)}
}

// Create stores a new session. Fails with ErrExists if the ID is taken.
func (m *MemoryStore) Create(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.SessionID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, session.SessionID)
	}
	cp, err := cloneSession(session)
	if err != nil {
		return err
	}
	m.sessions[session.SessionID] = cp
	return nil
}

// Get returns the session for the given ID, or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return cloneSession(s)
}

// Update overwrites the stored snapshot. Fails with ErrNotFound if absent.
func (m *MemoryStore) Update(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.SessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, session.SessionID)
	}
	cp, err := cloneSession(session)
	if err != nil {
		return err
	}
	m.sessions[session.SessionID] = cp
	return nil
}

// List returns all stored session IDs, oldest first.
func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.sessions[ids[i]].CreatedAt.Before(m.sessions[ids[j]].CreatedAt)
	})
	return ids, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// cloneSession deep-copies a session through its JSON form, the same
// representation every store round-trips.
func cloneSession(s *models.Session) (*models.Session, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("cloning session: %w", err)
	}
	var cp models.Session
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("cloning session: %w", err)
	}
	return &cp, nil
}

// Verify MemoryStore satisfies the Store interface at compile time.
var _ Store = (*MemoryStore)(nil)
