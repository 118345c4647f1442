package api

import (
	"net/http"

	"github.com/kalambet/margin/internal/model"
	"github.com/kalambet/margin/internal/profile"
)

type onboardingOptions struct {
	Areas         []string `json:"areas"`
	Inspirations  []string `json:"inspirations"`
	Genders       []string `json:"genders"`
	LearningGoals []string `json:"learningGoals"`
}

func handleOnboardingOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, onboardingOptions{
		Areas:         model.AreaOptions,
		Inspirations:  model.InspirationOptions,
		Genders:       model.GenderOptions,
		LearningGoals: model.LearningGoals,
	})
}

func handleOnboarding(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var answers model.Answers
		if !decodeBody(w, r, &answers) {
			return
		}
		if len(answers.Areas) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "select at least one area")
			return
		}

		p, err := deps.Profiles.CompleteOnboarding(r.Context(), UserFrom(r.Context()), answers)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, p)
	}
}

func handleGetProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profiles.Get(r.Context(), UserFrom(r.Context()))
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, p)
	}
}

func handlePatchProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch profile.Patch
		if !decodeBody(w, r, &patch) {
			return
		}
		if patch.Empty() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no profile fields to update")
			return
		}

		p, err := deps.Profiles.Update(r.Context(), UserFrom(r.Context()), patch)
		if err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, p)
	}
}

func handleDeleteProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Profiles.Clear(r.Context(), UserFrom(r.Context())); err != nil {
			writeError(w, deps.Logger, err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}
