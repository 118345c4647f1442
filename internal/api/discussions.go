package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/margin/internal/discussion"
	"github.com/kalambet/margin/internal/model"
	"github.com/kalambet/margin/internal/prompt"
)

func handleCreateDiscussion(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Sessions.Create(UserFrom(r.Context()))
		w.Header().Set("Location", "/api/discussions/"+s.ID)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		encodeJSON(w, s.View())
	}
}

// session looks up the discussion named in the URL for the caller. It
// writes the error response itself.
func session(w http.ResponseWriter, r *http.Request, deps Deps) (*discussion.Session, bool) {
	s, err := deps.Sessions.Get(chi.URLParam(r, "id"), UserFrom(r.Context()))
	if err != nil {
		writeError(w, deps.Logger, err)
		return nil, false
	}
	return s, true
}

// runStep executes one session operation and writes its outcome.
func runStep(w http.ResponseWriter, deps Deps, step func() (discussion.Outcome, error)) {
	out, err := step()
	if err != nil {
		writeError(w, deps.Logger, err)
		return
	}
	writeJSON(w, out)
}

func handleGetDiscussion(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(w, r, deps)
		if !ok {
			return
		}
		writeJSON(w, s.View())
	}
}

type messageRequest struct {
	Text    string          `json:"text"`
	Context *prompt.Context `json:"context,omitempty"`
}

// handleDiscussionMessage resolves the book while none is chosen and asks
// a question afterwards. An explicit context sends the text with that
// interaction type.
func handleDiscussionMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(w, r, deps)
		if !ok {
			return
		}
		var req messageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		ctx := r.Context()
		runStep(w, deps, func() (discussion.Outcome, error) {
			if req.Context != nil && req.Context.Type != "" {
				c := *req.Context
				c.Type = prompt.ParseContextType(string(c.Type))
				return s.Ask(ctx, req.Text, c)
			}
			return s.Submit(ctx, req.Text)
		})
	}
}

func handleDiscussionBook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(w, r, deps)
		if !ok {
			return
		}
		var b model.Book
		if !decodeBody(w, r, &b) {
			return
		}
		runStep(w, deps, func() (discussion.Outcome, error) {
			return s.SelectBook(b)
		})
	}
}

type goalRequest struct {
	Goal string `json:"goal"`
}

func handleDiscussionGoal(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(w, r, deps)
		if !ok {
			return
		}
		var req goalRequest
		if !decodeBody(w, r, &req) {
			return
		}
		ctx := r.Context()
		runStep(w, deps, func() (discussion.Outcome, error) {
			return s.ChooseGoal(ctx, req.Goal)
		})
	}
}

func handleDiscussionStart(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(w, r, deps)
		if !ok {
			return
		}
		runStep(w, deps, s.Start)
	}
}

func handleDiscussionAid(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(w, r, deps)
		if !ok {
			return
		}
		var aid model.LearningAid
		if !decodeBody(w, r, &aid) {
			return
		}
		ctx := r.Context()
		runStep(w, deps, func() (discussion.Outcome, error) {
			return s.ExploreAid(ctx, aid)
		})
	}
}

type topicRequest struct {
	Category string `json:"category"`
	Topic    string `json:"topic"`
}

func handleDiscussionTopic(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(w, r, deps)
		if !ok {
			return
		}
		var req topicRequest
		if !decodeBody(w, r, &req) {
			return
		}
		ctx := r.Context()
		runStep(w, deps, func() (discussion.Outcome, error) {
			return s.ExploreTopic(ctx, req.Category, req.Topic)
		})
	}
}

func handleDiscussionGuide(deps Deps) http.HandlerFunc {
	return sessionCall(deps, (*discussion.Session).ExplorationGuide)
}

func handleDiscussionEnd(deps Deps) http.HandlerFunc {
	return sessionCall(deps, (*discussion.Session).End)
}

// sessionCall adapts a bodiless session operation to a handler.
func sessionCall(deps Deps, op func(*discussion.Session, context.Context) (discussion.Outcome, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(w, r, deps)
		if !ok {
			return
		}
		runStep(w, deps, func() (discussion.Outcome, error) {
			return op(s, r.Context())
		})
	}
}

func handleBookHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		turns, err := deps.Discussions.History(r.Context(), UserFrom(r.Context()), chi.URLParam(r, "bookID"))
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, turns)
	}
}

func handleBookSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Discussions.LastSummary(r.Context(), UserFrom(r.Context()), chi.URLParam(r, "bookID"))
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, rec)
	}
}
