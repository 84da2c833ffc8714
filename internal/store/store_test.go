package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvandessel/voicesearch/internal/models"
)

// storeUnderTest builds each implementation against the same contract tests.
func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "voicesearch.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"sqlite": sqliteStore,
	}
}

func testSession(id string, created time.Time) *models.Session {
	return &models.Session{
		SessionID: id,
		CreatedAt: created,
		Settings: models.SessionSettings{
			Language:          "zh",
			PreviewText:       "欢迎体验",
			CandidatesPerIter: 2,
			MaxIters:          5,
			DedupThreshold:    0.92,
		},
		Iterations: []*models.Iteration{
			{Iter: 1, Candidates: []*models.Candidate{
				{CandID: "1a", Type: models.CategoryExplore, Instruct: "warm narrator", Rationale: "baseline"},
				{CandID: "1b", Type: models.CategoryExploit, Instruct: "bright host", Rationale: "contrast"},
			}},
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, st := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			defer st.Close()
			ctx := context.Background()
			created := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

			// Unknown ID is absent.
			if _, err := st.Get(ctx, "VS_unknown"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(unknown) error = %v, want ErrNotFound", err)
			}

			s := testSession("VS_20260829_aaaa0001", created)
			if err := st.Create(ctx, s); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if err := st.Create(ctx, s); !errors.Is(err, ErrExists) {
				t.Errorf("second Create() error = %v, want ErrExists", err)
			}

			got, err := st.Get(ctx, s.SessionID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.SessionID != s.SessionID || got.Settings != s.Settings {
				t.Errorf("Get() round trip changed session: %+v", got)
			}
			if len(got.Iterations) != 1 || len(got.Iterations[0].Candidates) != 2 {
				t.Fatalf("Get() round trip changed iterations: %+v", got.Iterations)
			}

			// Update overwrites the full snapshot.
			got.Iterations[0].UserNote = "warmer please"
			got.Iterations[0].Candidates[1].IsBest = true
			got.Iterations = append(got.Iterations, &models.Iteration{
				Iter:       2,
				Candidates: []*models.Candidate{{CandID: "2a", Instruct: "calm guide"}},
			})
			if err := st.Update(ctx, got); err != nil {
				t.Fatalf("Update() error = %v", err)
			}

			after, err := st.Get(ctx, s.SessionID)
			if err != nil {
				t.Fatalf("Get() after update error = %v", err)
			}
			if len(after.Iterations) != 2 {
				t.Fatalf("update not persisted: %d iterations", len(after.Iterations))
			}
			if after.Iterations[0].UserNote != "warmer please" {
				t.Errorf("user note not persisted: %q", after.Iterations[0].UserNote)
			}
			if !after.Iterations[0].Candidates[1].IsBest {
				t.Error("is_best flag not persisted")
			}

			// Update of an unknown session fails.
			missing := testSession("VS_20260829_missing1", created)
			if err := st.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
				t.Errorf("Update(unknown) error = %v, want ErrNotFound", err)
			}

			// List returns stored IDs oldest first.
			second := testSession("VS_20260830_aaaa0002", created.Add(time.Hour))
			if err := st.Create(ctx, second); err != nil {
				t.Fatal(err)
			}
			ids, err := st.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(ids) != 2 {
				t.Fatalf("List() = %v, want 2 ids", ids)
			}
			if ids[0] != s.SessionID || ids[1] != second.SessionID {
				t.Errorf("List() order = %v", ids)
			}
		})
	}
}

func TestMemoryStore_NoAliasing(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	s := testSession("VS_20260829_alias001", time.Now())

	if err := st.Create(ctx, s); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's copy must not leak into the store.
	s.Iterations[0].Candidates[0].IsBest = true

	got, err := st.Get(ctx, s.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Iterations[0].Candidates[0].IsBest {
		t.Error("store aliased caller memory: mutation visible after Create")
	}
}
