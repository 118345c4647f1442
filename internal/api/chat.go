package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/kalambet/margin/internal/apperr"
	"github.com/kalambet/margin/internal/discussion"
	"github.com/kalambet/margin/internal/model"
	"github.com/kalambet/margin/internal/storage"
)

type chatRequest struct {
	UserProfile *model.UserProfile  `json:"userProfile"`
	Message     string              `json:"message"`
	ChatHistory []model.ChatMessage `json:"chatHistory"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		p, err := profileFor(r, deps, req.UserProfile)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}

		reply, err := deps.Discussions.Chat(r.Context(), discussion.ChatRequest{
			Profile: p,
			Message: req.Message,
			History: req.ChatHistory,
		})
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, reply)
	}
}

// profileFor prefers a profile supplied in the request body, then the
// caller's stored profile. Anonymous or not yet onboarded callers get an
// empty profile.
func profileFor(r *http.Request, deps Deps, supplied *model.UserProfile) (model.UserProfile, error) {
	if supplied != nil {
		return *supplied, nil
	}
	uid := UserFrom(r.Context())
	if apperr.IsAnonymous(uid) {
		return model.UserProfile{}, nil
	}
	p, err := deps.Profiles.Get(r.Context(), uid)
	if errors.Is(err, storage.ErrNotFound) {
		return model.UserProfile{UserID: uid}, nil
	}
	return p, err
}

func handleGetRecommendations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

		set, err := deps.Recommender.ForUser(r.Context(), UserFrom(r.Context()), refresh)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, set)
	}
}

type recommendationsRequest struct {
	UserProfile *model.UserProfile `json:"userProfile"`
}

// handlePostRecommendations generates from the supplied profile and
// replaces the caller's cached set.
func handlePostRecommendations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recommendationsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserProfile == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "userProfile is required")
			return
		}

		set, err := deps.Recommender.GenerateFor(r.Context(), UserFrom(r.Context()), *req.UserProfile)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, set)
	}
}
