package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/nvandessel/voicesearch/internal/models"
)

const sessionFileName = "session.json"

// FileStore persists each session as a JSON snapshot at
// <root>/sessions/<id>/session.json, next to that session's audio
// artifacts. Writes go through a temp file and rename so a crash mid-write
// never leaves a truncated snapshot.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at dataDir, creating the sessions
// directory if needed.
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("store: data dir not configured")
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "sessions"), 0755); err != nil {
		return nil, fmt.Errorf("creating sessions dir: %w", err)
	}
	return &FileStore{root: dataDir}, nil
}

func (f *FileStore) sessionPath(sessionID string) string {
	return filepath.Join(f.root, "sessions", sessionID, sessionFileName)
}

// Create stores a new session. Fails with ErrExists if the ID is taken.
func (f *FileStore) Create(_ context.Context, session *models.Session) error {
	path := f.sessionPath(session.SessionID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, session.SessionID)
	}
	return f.write(session)
}

// Get returns the session for the given ID, or ErrNotFound.
func (f *FileStore) Get(_ context.Context, sessionID string) (*models.Session, error) {
	data, err := os.ReadFile(f.sessionPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", sessionID, err)
	}
	return &s, nil
}

// Update overwrites the stored snapshot. Fails with ErrNotFound if absent.
func (f *FileStore) Update(_ context.Context, session *models.Session) error {
	if _, err := os.Stat(f.sessionPath(session.SessionID)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, session.SessionID)
		}
		return fmt.Errorf("checking session: %w", err)
	}
	return f.write(session)
}

// write marshals the session and atomically replaces its snapshot file.
func (f *FileStore) write(session *models.Session) error {
	path := f.sessionPath(session.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	tmp := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing session snapshot: %w", err)
	}
	return nil
}

// List returns all stored session IDs, oldest first by creation time.
func (f *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, "sessions"))
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	type entry struct {
		id      string
		created time.Time
	}
	var found []entry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s, err := f.Get(ctx, e.Name())
		if err != nil {
			continue // directory without a snapshot, e.g. artifacts only
		}
		found = append(found, entry{id: e.Name(), created: s.CreatedAt})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].created.Before(found[j].created) })

	ids := make([]string, len(found))
	for i, e := range found {
		ids[i] = e.id
	}
	return ids, nil
}

// Close is a no-op.
func (f *FileStore) Close() error {
	return nil
}

// Verify FileStore satisfies the Store interface at compile time.
var _ Store = (*FileStore)(nil)
