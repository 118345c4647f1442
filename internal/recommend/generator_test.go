package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/margin/internal/apperr"
	"github.com/kalambet/margin/internal/llm"
	"github.com/kalambet/margin/internal/model"
	"github.com/kalambet/margin/internal/storage"
)

type fakeCompleter struct {
	calls    atomic.Int32
	response string
	err      error
	gate     chan struct{}
}

func (f *fakeCompleter) Complete(_ context.Context, _ []llm.Message, _ llm.Params) (string, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	return f.response, f.err
}

type fakeStore struct {
	mu      sync.Mutex
	sets    map[string]model.RecommendationSet
	saveErr error
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sets: make(map[string]model.RecommendationSet)}
}

func (s *fakeStore) Recommendations(_ context.Context, userID string) (model.RecommendationSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[userID]
	if !ok {
		return model.RecommendationSet{}, storage.ErrNotFound
	}
	return set, nil
}

func (s *fakeStore) SaveRecommendations(_ context.Context, userID string, set model.RecommendationSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.sets[userID] = set
	return nil
}

type fakeProfiles map[string]model.UserProfile

func (f fakeProfiles) Get(_ context.Context, userID string) (model.UserProfile, error) {
	p, ok := f[userID]
	if !ok {
		return model.UserProfile{}, storage.ErrNotFound
	}
	return p, nil
}

func books(prefix string, n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{
			"title":        fmt.Sprintf("%s %d", prefix, i+1),
			"author":       "Author",
			"description":  "A book.",
			"relevance":    "Fits the reader.",
			"keyTakeaways": []string{"one", "two", "three"},
		}
	}
	return out
}

func setJSON(t *testing.T, top, career, personal int) string {
	t.Helper()
	doc := map[string]any{
		"topOfMind":         books("Top", top),
		"careerGrowth":      books("Career", career),
		"personalInterests": books("Personal", personal),
	}
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

var reader = fakeProfiles{"u1": {
	UserID:    "u1",
	Answers:   model.Answers{Age: 29, Areas: []string{"Leadership", "Creativity"}, Inspirations: []string{"Steve Jobs"}},
	Narrative: model.Narrative{Reading: "r", Interests: "i", Motivation: "m", Personal: "p"},
}}

func TestGenerate_Valid(t *testing.T) {
	g := New(&fakeCompleter{response: setJSON(t, 5, 5, 5)}, newFakeStore(), reader, nil)

	set, err := g.Generate(context.Background(), reader["u1"])
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for name, list := range map[string][]model.BookRecommendation{
		"topOfMind": set.TopOfMind, "careerGrowth": set.CareerGrowth, "personalInterests": set.PersonalInterests,
	} {
		if len(list) != 5 {
			t.Errorf("%s has %d books, want 5", name, len(list))
		}
	}
	if set.GeneratedAt.IsZero() {
		t.Error("GeneratedAt not stamped")
	}
}

func TestGenerate_WrongCountsRejected(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"four in one category", setJSON(t, 5, 4, 5)},
		{"six in one category", setJSON(t, 5, 5, 6)},
		{"missing category", `{"topOfMind":[],"careerGrowth":[]}`},
		{"category not a list", `{"topOfMind":"none","careerGrowth":[],"personalInterests":[]}`},
		{"no JSON", "Here are some great books you might enjoy!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(&fakeCompleter{response: tt.response}, newFakeStore(), reader, nil)
			_, err := g.Generate(context.Background(), reader["u1"])
			var shapeErr *apperr.InvalidShapeError
			if !errors.As(err, &shapeErr) {
				t.Errorf("Generate = %v, want InvalidShapeError", err)
			}
		})
	}
}

func TestGenerate_FencedOutputAccepted(t *testing.T) {
	g := New(&fakeCompleter{response: "```json\n" + setJSON(t, 5, 5, 5) + "\n```"}, newFakeStore(), reader, nil)

	if _, err := g.Generate(context.Background(), reader["u1"]); err != nil {
		t.Errorf("Generate with fenced output: %v", err)
	}
}

func TestGenerate_ProviderError(t *testing.T) {
	g := New(&fakeCompleter{err: &llm.ProviderError{Provider: "openai", StatusCode: 429}}, newFakeStore(), reader, nil)

	_, err := g.Generate(context.Background(), reader["u1"])
	var pe *llm.ProviderError
	if !errors.As(err, &pe) {
		t.Errorf("Generate = %v, want ProviderError", err)
	}
}

func TestForUser_CachesUntilRefresh(t *testing.T) {
	c := &fakeCompleter{response: setJSON(t, 5, 5, 5)}
	store := newFakeStore()
	g := New(c, store, reader, nil)
	ctx := context.Background()

	first, err := g.ForUser(ctx, "u1", false)
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if _, err := g.ForUser(ctx, "u1", false); err != nil {
		t.Fatalf("ForUser cached: %v", err)
	}
	if n := c.calls.Load(); n != 1 {
		t.Errorf("completer called %d times, want 1", n)
	}

	g.now = func() time.Time { return first.GeneratedAt.Add(time.Hour) }
	refreshed, err := g.ForUser(ctx, "u1", true)
	if err != nil {
		t.Fatalf("ForUser refresh: %v", err)
	}
	if n := c.calls.Load(); n != 2 {
		t.Errorf("completer called %d times after refresh, want 2", n)
	}
	cached, _ := store.Recommendations(ctx, "u1")
	if !cached.GeneratedAt.Equal(refreshed.GeneratedAt) {
		t.Error("refresh did not overwrite the cached set")
	}
}

func TestForUser_InvalidSetNotSaved(t *testing.T) {
	store := newFakeStore()
	g := New(&fakeCompleter{response: setJSON(t, 5, 5, 3)}, store, reader, nil)

	if _, err := g.ForUser(context.Background(), "u1", false); err == nil {
		t.Fatal("ForUser accepted an invalid set")
	}
	if store.saves != 0 {
		t.Errorf("invalid set saved %d times", store.saves)
	}
}

func TestForUser_SaveFailureSurfaced(t *testing.T) {
	store := newFakeStore()
	store.saveErr = &storage.PersistenceError{Op: "set", Path: "recommendations/u1", Err: errors.New("read-only")}
	g := New(&fakeCompleter{response: setJSON(t, 5, 5, 5)}, store, reader, nil)

	_, err := g.ForUser(context.Background(), "u1", false)
	var pe *storage.PersistenceError
	if !errors.As(err, &pe) {
		t.Errorf("ForUser = %v, want PersistenceError", err)
	}
}

func TestForUser_RequiresIdentityAndProfile(t *testing.T) {
	g := New(&fakeCompleter{response: setJSON(t, 5, 5, 5)}, newFakeStore(), reader, nil)

	_, err := g.ForUser(context.Background(), "", false)
	var idErr *apperr.IdentityError
	if !errors.As(err, &idErr) {
		t.Errorf("anonymous ForUser = %v, want IdentityError", err)
	}

	if _, err := g.ForUser(context.Background(), "stranger", false); !errors.Is(err, ErrNoProfile) {
		t.Errorf("ForUser without profile = %v, want ErrNoProfile", err)
	}
}

func TestForUser_ConcurrentCallsShareGeneration(t *testing.T) {
	c := &fakeCompleter{response: setJSON(t, 5, 5, 5), gate: make(chan struct{})}
	g := New(c, newFakeStore(), reader, nil)

	const n = 5
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.ForUser(context.Background(), "u1", true)
			errs <- err
		}()
	}

	// Let the first call reach the completer, then give the rest time to join it.
	for c.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(c.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("ForUser: %v", err)
		}
	}
	if got := c.calls.Load(); got != 1 {
		t.Errorf("completer called %d times, want 1", got)
	}
}
