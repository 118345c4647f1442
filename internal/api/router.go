// Package api exposes the reading companion over HTTP and MCP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/margin/internal/discussion"
	"github.com/kalambet/margin/internal/profile"
	"github.com/kalambet/margin/internal/recommend"
	"github.com/kalambet/margin/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds everything the HTTP surface calls into.
type Deps struct {
	Token       string
	Profiles    *profile.Manager
	Discussions *discussion.Orchestrator
	Sessions    *discussion.Registry
	Recommender *recommend.Generator
	Repo        *storage.Repository
	Limiter     *RateLimiter // optional
	Logger      *slog.Logger
}

// NewHandler returns the service router. /health is public; everything
// under /api requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(Identity)
		if deps.Limiter != nil {
			r.Use(deps.Limiter.Middleware)
		}

		r.Post("/chat", handleChat(deps))
		r.Get("/recommendations", handleGetRecommendations(deps))
		r.Post("/recommendations", handlePostRecommendations(deps))

		r.Get("/onboarding/options", handleOnboardingOptions)
		r.Post("/onboarding", handleOnboarding(deps))
		r.Get("/profile", handleGetProfile(deps))
		r.Patch("/profile", handlePatchProfile(deps))
		r.Delete("/profile", handleDeleteProfile(deps))

		r.Post("/discussions", handleCreateDiscussion(deps))
		r.Route("/discussions/{id}", func(r chi.Router) {
			r.Get("/", handleGetDiscussion(deps))
			r.Post("/messages", handleDiscussionMessage(deps))
			r.Post("/book", handleDiscussionBook(deps))
			r.Post("/goal", handleDiscussionGoal(deps))
			r.Post("/start", handleDiscussionStart(deps))
			r.Post("/aid", handleDiscussionAid(deps))
			r.Post("/topic", handleDiscussionTopic(deps))
			r.Post("/guide", handleDiscussionGuide(deps))
			r.Post("/end", handleDiscussionEnd(deps))
		})

		r.Get("/books/{bookID}/history", handleBookHistory(deps))
		r.Get("/books/{bookID}/summary", handleBookSummary(deps))

		r.Get("/subscribe", handleSubscribe(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
