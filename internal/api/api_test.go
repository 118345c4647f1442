package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/margin/internal/discussion"
	"github.com/kalambet/margin/internal/llm"
	"github.com/kalambet/margin/internal/model"
	"github.com/kalambet/margin/internal/profile"
	"github.com/kalambet/margin/internal/prompt"
	"github.com/kalambet/margin/internal/recommend"
	"github.com/kalambet/margin/internal/storage"
)

const testToken = "test-token-12345"

// --- fakes ---

// fakeCompleter answers by looking at the system prompt.
type fakeCompleter struct {
	mu    sync.Mutex
	calls int
	// override, when set, answers every call.
	override func(system, user string) (string, error)
}

const (
	narrativeJSON  = `{"reading":"Reads every evening.","interests":"Philosophy and habits.","motivation":"Wants calm focus.","personal":"Mid thirties."}`
	extractionJSON = `{"bookFound":true,"title":"Meditations","author":"Marcus Aurelius"}`
	discussionJSON = `{"content":"Stoicism is about what you control.","learningAids":[{"type":"think","title":"Control","content":"What can you control today?"}],"prefills":["Why?","How?","What next?"]}`
	guideJSON      = `{"content":"Here is a guide.","explorationGuide":{"Themes":["Duty","Death"]},"prefills":["a","b","c"]}`
	summaryJSON    = `{"keyTakeaways":["Focus on what you control"],"topics":["stoicism"],"preferences":["philosophy"],"focusAreas":["self-discipline"]}`
	chatJSON       = `{"content":"Try The Obstacle Is the Way.","prefills":["Why that one?","Anything shorter?","Something similar?"]}`
)

func recommendationsJSON(perCategory int) string {
	book := func(cat string, i int) string {
		return fmt.Sprintf(`{"title":"%s %d","author":"Author","description":"d","relevance":"r","keyTakeaways":["a","b","c"]}`, cat, i)
	}
	list := func(cat string) string {
		items := make([]string, perCategory)
		for i := range items {
			items[i] = book(cat, i)
		}
		return "[" + strings.Join(items, ",") + "]"
	}
	return fmt.Sprintf(`{"topOfMind":%s,"careerGrowth":%s,"personalInterests":%s}`,
		list("top"), list("career"), list("personal"))
}

func (f *fakeCompleter) Complete(_ context.Context, messages []llm.Message, _ llm.Params) (string, error) {
	f.mu.Lock()
	f.calls++
	override := f.override
	f.mu.Unlock()

	system := messages[0].Content
	user := messages[len(messages)-1].Content
	if override != nil {
		return override(system, user)
	}
	switch {
	case strings.Contains(system, "profile analyzer"):
		return narrativeJSON, nil
	case strings.Contains(system, "book recommendation system"):
		return recommendationsJSON(model.RecommendationsPerCategory), nil
	case strings.Contains(system, "Extract book information"):
		return extractionJSON, nil
	case strings.Contains(system, "Analyze this book discussion"):
		return summaryJSON, nil
	case strings.Contains(system, "book recommendation assistant"):
		return chatJSON, nil
	case strings.Contains(user, prompt.GuideInput):
		return guideJSON, nil
	default:
		return discussionJSON, nil
	}
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeCompleter) setOverride(fn func(system, user string) (string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.override = fn
}

// --- helpers ---

type testEnv struct {
	handler   http.Handler
	repo      *storage.Repository
	completer *fakeCompleter
	orch      *discussion.Orchestrator
	deps      Deps
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := quietLogger()
	repo := storage.NewRepository(store)
	c := &fakeCompleter{}
	profiles := profile.NewManager(repo, profile.NewSynthesizer(c, logger), logger)
	orch := discussion.New(c, repo, profiles, logger)
	t.Cleanup(orch.Wait)

	deps := Deps{
		Token:       testToken,
		Profiles:    profiles,
		Discussions: orch,
		Sessions:    discussion.NewRegistry(orch, 16, time.Hour),
		Recommender: recommend.New(c, repo, profiles, logger),
		Repo:        repo,
		Logger:      logger,
	}
	return &testEnv{handler: NewHandler(deps), repo: repo, completer: c, orch: orch, deps: deps}
}

func apiReq(method, url, body, user string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	return req
}

func (e *testEnv) do(t *testing.T, method, url, body, user string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, apiReq(method, url, body, user))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v; body = %s", err, rr.Body.String())
	}
	return v
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func wantStatus(t *testing.T, rr *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rr.Code != code {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, code, rr.Body.String())
	}
}

const onboardingBody = `{"age":34,"gender":"Female","areas":["Habits","Mindset"],"inspirations":["Brené Brown"],"context":"New manager"}`

func (e *testEnv) onboard(t *testing.T, user string) {
	t.Helper()
	wantStatus(t, e.do(t, http.MethodPost, "/api/onboarding", onboardingBody, user), http.StatusOK)
}

// --- tests ---

func TestHealth_NoAuth(t *testing.T) {
	env := newTestEnv(t)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	wantStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestAPI_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/profile", nil))
	wantStatus(t, rr, http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	wantStatus(t, rr, http.StatusUnauthorized)
}

func TestChat(t *testing.T) {
	env := newTestEnv(t)

	body := `{"message":"What should I read next?","chatHistory":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`
	rr := env.do(t, http.MethodPost, "/api/chat", body, "")
	wantStatus(t, rr, http.StatusOK)

	reply := decode[discussion.ChatReply](t, rr)
	if reply.Content != "Try The Obstacle Is the Way." {
		t.Errorf("content = %q", reply.Content)
	}
	if len(reply.Prefills) != 3 {
		t.Errorf("prefills = %v", reply.Prefills)
	}
}

func TestChat_PlainTextGetsDefaultPrefills(t *testing.T) {
	env := newTestEnv(t)
	env.completer.setOverride(func(string, string) (string, error) {
		return "Just read more Seneca.", nil
	})

	rr := env.do(t, http.MethodPost, "/api/chat", `{"message":"hi"}`, "u1")
	wantStatus(t, rr, http.StatusOK)

	reply := decode[discussion.ChatReply](t, rr)
	if reply.Content != "Just read more Seneca." {
		t.Errorf("content = %q", reply.Content)
	}
	if len(reply.Prefills) != 3 || reply.Prefills[0] != discussion.DefaultPrefills[0] {
		t.Errorf("prefills = %v, want defaults", reply.Prefills)
	}
}

func TestChat_MissingMessage(t *testing.T) {
	env := newTestEnv(t)
	wantStatus(t, env.do(t, http.MethodPost, "/api/chat", `{"message":"  "}`, ""), http.StatusBadRequest)
	wantStatus(t, env.do(t, http.MethodPost, "/api/chat", `not json`, ""), http.StatusBadRequest)
}

func TestChat_ProviderError(t *testing.T) {
	env := newTestEnv(t)
	env.completer.setOverride(func(string, string) (string, error) {
		return "", &llm.ProviderError{Provider: "openai", StatusCode: 500, Err: fmt.Errorf("boom")}
	})

	rr := env.do(t, http.MethodPost, "/api/chat", `{"message":"hi"}`, "")
	wantStatus(t, rr, http.StatusBadGateway)

	resp := decode[errorResponse](t, rr)
	if resp.Error.Message != providerUnavailableMessage {
		t.Errorf("message = %q", resp.Error.Message)
	}
	if strings.Contains(rr.Body.String(), "boom") {
		t.Error("provider details leaked to client")
	}
}

func TestRecommendations_Anonymous(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/api/recommendations", "", "")
	wantStatus(t, rr, http.StatusUnauthorized)
	if env.completer.callCount() != 0 {
		t.Error("provider called for anonymous user")
	}
}

func TestRecommendations_NoProfile(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/api/recommendations", "", "u1")
	wantStatus(t, rr, http.StatusNotFound)

	resp := decode[errorResponse](t, rr)
	if !strings.Contains(resp.Error.Message, "onboarding") {
		t.Errorf("message = %q", resp.Error.Message)
	}
}

func TestRecommendations_CachedUntilRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.onboard(t, "u1")
	base := env.completer.callCount()

	rr := env.do(t, http.MethodGet, "/api/recommendations", "", "u1")
	wantStatus(t, rr, http.StatusOK)
	set := decode[model.RecommendationSet](t, rr)
	if len(set.TopOfMind) != 5 || len(set.CareerGrowth) != 5 || len(set.PersonalInterests) != 5 {
		t.Fatalf("set sizes = %d/%d/%d", len(set.TopOfMind), len(set.CareerGrowth), len(set.PersonalInterests))
	}
	if got := env.completer.callCount() - base; got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}

	wantStatus(t, env.do(t, http.MethodGet, "/api/recommendations", "", "u1"), http.StatusOK)
	if got := env.completer.callCount() - base; got != 1 {
		t.Errorf("cached read called provider; calls = %d", got)
	}

	wantStatus(t, env.do(t, http.MethodGet, "/api/recommendations?refresh=true", "", "u1"), http.StatusOK)
	if got := env.completer.callCount() - base; got != 2 {
		t.Errorf("refresh calls = %d, want 2", got)
	}
}

func TestRecommendations_InvalidShape(t *testing.T) {
	env := newTestEnv(t)
	env.onboard(t, "u1")
	env.completer.setOverride(func(string, string) (string, error) {
		return recommendationsJSON(4), nil
	})

	rr := env.do(t, http.MethodGet, "/api/recommendations", "", "u1")
	wantStatus(t, rr, http.StatusUnprocessableEntity)

	resp := decode[errorResponse](t, rr)
	if len(resp.Error.Details) == 0 {
		t.Error("expected validation details")
	}
	if _, err := env.repo.Recommendations(context.Background(), "u1"); !storage.IsNotFound(err) {
		t.Errorf("invalid set was cached: %v", err)
	}
}

func TestPostRecommendations(t *testing.T) {
	env := newTestEnv(t)
	body := `{"userProfile":{"areas":["Leadership"],"inspirations":[],"reading":"Reads on trains."}}`

	rr := env.do(t, http.MethodPost, "/api/recommendations", body, "")
	wantStatus(t, rr, http.StatusUnauthorized)
	if n := env.completer.callCount(); n != 0 {
		t.Errorf("anonymous request reached the completer %d times", n)
	}

	rr = env.do(t, http.MethodPost, "/api/recommendations", body, "u2")
	wantStatus(t, rr, http.StatusOK)
	if _, err := env.repo.Recommendations(context.Background(), "u2"); err != nil {
		t.Errorf("signed-in result not cached: %v", err)
	}

	wantStatus(t, env.do(t, http.MethodPost, "/api/recommendations", `{}`, "u2"), http.StatusBadRequest)
}

func TestOnboardingOptions(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/api/onboarding/options", "", "")
	wantStatus(t, rr, http.StatusOK)

	opts := decode[onboardingOptions](t, rr)
	if len(opts.Areas) != len(model.AreaOptions) || len(opts.LearningGoals) != 4 {
		t.Errorf("options = %+v", opts)
	}
}

func TestProfileLifecycle(t *testing.T) {
	env := newTestEnv(t)

	wantStatus(t, env.do(t, http.MethodGet, "/api/profile", "", "u1"), http.StatusNotFound)

	rr := env.do(t, http.MethodPost, "/api/onboarding", onboardingBody, "u1")
	wantStatus(t, rr, http.StatusOK)
	p := decode[model.UserProfile](t, rr)
	if p.Reading != "Reads every evening." || len(p.Areas) != 2 {
		t.Errorf("profile = %+v", p)
	}

	rr = env.do(t, http.MethodPatch, "/api/profile", `{"context":"Senior manager"}`, "u1")
	wantStatus(t, rr, http.StatusOK)
	p = decode[model.UserProfile](t, rr)
	if p.Context != "Senior manager" || p.Reading != "Reads every evening." {
		t.Errorf("patched profile = %+v", p)
	}

	wantStatus(t, env.do(t, http.MethodPatch, "/api/profile", `{}`, "u1"), http.StatusBadRequest)

	wantStatus(t, env.do(t, http.MethodDelete, "/api/profile", "", "u1"), http.StatusOK)
	wantStatus(t, env.do(t, http.MethodGet, "/api/profile", "", "u1"), http.StatusNotFound)
}

func TestOnboarding_Validation(t *testing.T) {
	env := newTestEnv(t)
	wantStatus(t, env.do(t, http.MethodPost, "/api/onboarding", `{"areas":[]}`, "u1"), http.StatusBadRequest)
	wantStatus(t, env.do(t, http.MethodPost, "/api/onboarding", onboardingBody, ""), http.StatusUnauthorized)
	wantStatus(t, env.do(t, http.MethodPost, "/api/onboarding", onboardingBody, "bad.id"), http.StatusBadRequest)
}

func TestDiscussionFlow(t *testing.T) {
	env := newTestEnv(t)
	const user = "reader-1"

	rr := env.do(t, http.MethodPost, "/api/discussions", "", user)
	wantStatus(t, rr, http.StatusCreated)
	view := decode[discussion.View](t, rr)
	if view.State != discussion.StateSelectingBook || view.ID == "" {
		t.Fatalf("view = %+v", view)
	}
	base := "/api/discussions/" + view.ID

	rr = env.do(t, http.MethodPost, base+"/messages", `{"text":"I'm reading Meditations"}`, user)
	wantStatus(t, rr, http.StatusOK)
	out := decode[discussion.Outcome](t, rr)
	if out.State != discussion.StateGoalSelection || out.Book == nil || out.Book.Title != "Meditations" {
		t.Fatalf("after resolve = %+v", out)
	}
	if len(out.GoalOptions) != 4 {
		t.Errorf("goal options = %v", out.GoalOptions)
	}

	rr = env.do(t, http.MethodPost, base+"/goal", `{"goal":"Apply to Life"}`, user)
	wantStatus(t, rr, http.StatusOK)
	out = decode[discussion.Outcome](t, rr)
	if out.State != discussion.StateOverview || out.Response == nil {
		t.Fatalf("after goal = %+v", out)
	}

	wantStatus(t, env.do(t, http.MethodPost, base+"/guide", "", user), http.StatusOK)

	rr = env.do(t, http.MethodPost, base+"/start", "", user)
	wantStatus(t, rr, http.StatusOK)
	if out = decode[discussion.Outcome](t, rr); out.State != discussion.StateActive {
		t.Fatalf("after start = %+v", out)
	}

	rr = env.do(t, http.MethodPost, base+"/messages", `{"text":"What is the dichotomy of control?"}`, user)
	wantStatus(t, rr, http.StatusOK)
	out = decode[discussion.Outcome](t, rr)
	if out.Response == nil || len(out.Response.LearningAids) != 1 {
		t.Fatalf("answer = %+v", out)
	}

	wantStatus(t, env.do(t, http.MethodPost, base+"/aid", `{"type":"think","title":"Control"}`, user), http.StatusOK)
	wantStatus(t, env.do(t, http.MethodPost, base+"/topic", `{"category":"Themes","topic":"Duty"}`, user), http.StatusOK)

	rr = env.do(t, http.MethodPost, base+"/end", "", user)
	wantStatus(t, rr, http.StatusOK)
	out = decode[discussion.Outcome](t, rr)
	if out.State != discussion.StateSelectingBook || out.Summary == nil {
		t.Fatalf("after end = %+v", out)
	}

	env.orch.Wait()

	rr = env.do(t, http.MethodGet, "/api/books/meditations/history", "", user)
	wantStatus(t, rr, http.StatusOK)
	turns := decode[[]model.DiscussionTurn](t, rr)
	if len(turns) != 5 {
		t.Fatalf("history turns = %d, want 5", len(turns))
	}
	if turns[0].Type != model.TurnOverview {
		t.Errorf("first turn = %s, want overview", turns[0].Type)
	}

	rr = env.do(t, http.MethodGet, "/api/books/meditations/summary", "", user)
	wantStatus(t, rr, http.StatusOK)
	rec := decode[model.SummaryRecord](t, rr)
	if len(rec.Analysis.KeyTakeaways) != 1 {
		t.Errorf("summary = %+v", rec)
	}
}

func TestDiscussion_Errors(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/discussions", "", "u1")
	view := decode[discussion.View](t, rr)
	base := "/api/discussions/" + view.ID

	// Another user cannot see the session.
	wantStatus(t, env.do(t, http.MethodGet, base, "", "u2"), http.StatusNotFound)
	wantStatus(t, env.do(t, http.MethodGet, "/api/discussions/nope", "", "u1"), http.StatusNotFound)

	// No book yet.
	wantStatus(t, env.do(t, http.MethodPost, base+"/start", "", "u1"), http.StatusConflict)
	wantStatus(t, env.do(t, http.MethodPost, base+"/end", "", "u1"), http.StatusConflict)

	wantStatus(t, env.do(t, http.MethodPost, base+"/messages", `{"text":""}`, "u1"), http.StatusBadRequest)

	rr = env.do(t, http.MethodGet, base, "", "u1")
	wantStatus(t, rr, http.StatusOK)
	if v := decode[discussion.View](t, rr); v.State != discussion.StateSelectingBook {
		t.Errorf("state = %s", v.State)
	}
}

func TestDiscussion_BookNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.completer.setOverride(func(string, string) (string, error) {
		return `{"bookFound":false,"title":""}`, nil
	})

	view := decode[discussion.View](t, env.do(t, http.MethodPost, "/api/discussions", "", ""))
	rr := env.do(t, http.MethodPost, "/api/discussions/"+view.ID+"/messages", `{"text":"hello there"}`, "")
	wantStatus(t, rr, http.StatusOK)

	out := decode[discussion.Outcome](t, rr)
	if out.State != discussion.StateSelectingBook || out.Book != nil {
		t.Errorf("outcome = %+v", out)
	}
}

func TestBookHistory_Anonymous(t *testing.T) {
	env := newTestEnv(t)
	wantStatus(t, env.do(t, http.MethodGet, "/api/books/meditations/history", "", ""), http.StatusUnauthorized)
}

func TestBookHistory_Empty(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/api/books/unknown-book/history", "", "u1")
	wantStatus(t, rr, http.StatusOK)
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("body = %s, want []", rr.Body.String())
	}
	wantStatus(t, env.do(t, http.MethodGet, "/api/books/unknown-book/summary", "", "u1"), http.StatusNotFound)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Limiter = NewRateLimiter(0.001, 1)
	h := NewHandler(env.deps)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, apiReq(http.MethodGet, "/api/onboarding/options", "", "u1"))
	wantStatus(t, rr, http.StatusOK)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, apiReq(http.MethodGet, "/api/onboarding/options", "", "u1"))
	wantStatus(t, rr, http.StatusTooManyRequests)
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// Other callers have their own budget.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, apiReq(http.MethodGet, "/api/onboarding/options", "", "u2"))
	wantStatus(t, rr, http.StatusOK)
}
