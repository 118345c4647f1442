// Package recommend produces the three fixed recommendation lists for a
// reader and caches them per user.
package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/margin/internal/apperr"
	"github.com/kalambet/margin/internal/llm"
	"github.com/kalambet/margin/internal/model"
	"github.com/kalambet/margin/internal/normalize"
	"github.com/kalambet/margin/internal/prompt"
	"github.com/kalambet/margin/internal/storage"
)

// ErrNoProfile is returned when a user asks for recommendations before onboarding.
var ErrNoProfile = errors.New("no profile to recommend from")

// Store caches recommendation sets. Implemented by storage.Repository.
type Store interface {
	Recommendations(ctx context.Context, userID string) (model.RecommendationSet, error)
	SaveRecommendations(ctx context.Context, userID string, set model.RecommendationSet) error
}

// ProfileSource loads the profile recommendations are generated from.
// Implemented by profile.Manager.
type ProfileSource interface {
	Get(ctx context.Context, userID string) (model.UserProfile, error)
}

// Generator asks the model for recommendations and validates them strictly.
type Generator struct {
	llm      llm.Completer
	store    Store
	profiles ProfileSource
	logger   *slog.Logger
	now      func() time.Time

	flights singleflight.Group
}

// New creates a Generator. A nil logger uses slog.Default().
func New(c llm.Completer, store Store, profiles ProfileSource, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		llm:      c,
		store:    store,
		profiles: profiles,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// categories lists the required keys in contract order.
var categories = []string{"topOfMind", "careerGrowth", "personalInterests"}

// Generate makes one completion call for p. The result has exactly
// RecommendationsPerCategory books in each category or the call fails with
// *apperr.InvalidShapeError. Nothing is retried.
func (g *Generator) Generate(ctx context.Context, p model.UserProfile) (model.RecommendationSet, error) {
	pr := prompt.Recommendations(p)
	raw, err := g.llm.Complete(ctx, llm.Conversation(pr.System, nil, pr.User), llm.Params{})
	if err != nil {
		return model.RecommendationSet{}, fmt.Errorf("generating recommendations: %w", err)
	}

	doc, method, err := normalize.Decode[map[string]json.RawMessage](raw)
	if err != nil {
		return model.RecommendationSet{}, &apperr.InvalidShapeError{
			What:     "recommendations",
			Problems: []string{"completion contained no JSON object"},
		}
	}
	if method != normalize.MethodStrict {
		g.logger.Warn("recommendation output needed recovery", "method", method)
	}

	set, problems := validate(doc)
	if len(problems) > 0 {
		g.logger.Warn("rejecting malformed recommendations", "problems", strings.Join(problems, "; "))
		return model.RecommendationSet{}, &apperr.InvalidShapeError{What: "recommendations", Problems: problems}
	}
	set.GeneratedAt = g.now()
	return set, nil
}

func validate(doc map[string]json.RawMessage) (model.RecommendationSet, []string) {
	var set model.RecommendationSet
	var problems []string
	targets := map[string]*[]model.BookRecommendation{
		"topOfMind":         &set.TopOfMind,
		"careerGrowth":      &set.CareerGrowth,
		"personalInterests": &set.PersonalInterests,
	}

	for _, name := range categories {
		raw, ok := doc[name]
		if !ok || string(raw) == "null" {
			problems = append(problems, fmt.Sprintf("missing category %q", name))
			continue
		}
		var books []model.BookRecommendation
		if err := json.Unmarshal(raw, &books); err != nil {
			problems = append(problems, fmt.Sprintf("category %q is not a list of books", name))
			continue
		}
		if len(books) != model.RecommendationsPerCategory {
			problems = append(problems, fmt.Sprintf("category %q has %d books, want %d",
				name, len(books), model.RecommendationsPerCategory))
			continue
		}
		for i, b := range books {
			if strings.TrimSpace(b.Title) == "" {
				problems = append(problems, fmt.Sprintf("category %q book %d has no title", name, i+1))
			}
			if books[i].KeyTakeaways == nil {
				books[i].KeyTakeaways = []string{}
			}
		}
		*targets[name] = books
	}
	return set, problems
}

// ForUser returns the cached set for userID, generating and saving a new
// one on refresh or when none is cached. Concurrent calls for the same user
// share one generation.
func (g *Generator) ForUser(ctx context.Context, userID string, refresh bool) (model.RecommendationSet, error) {
	if err := apperr.RequireUser(userID, "Getting recommendations"); err != nil {
		return model.RecommendationSet{}, err
	}

	key := userID
	if refresh {
		key += ":refresh"
	}
	v, err, shared := g.flights.Do(key, func() (any, error) {
		return g.forUser(ctx, userID, refresh)
	})
	if err != nil {
		return model.RecommendationSet{}, err
	}
	if shared {
		g.logger.Debug("recommendation request shared an in-flight generation", "user", userID)
	}
	return v.(model.RecommendationSet), nil
}

func (g *Generator) forUser(ctx context.Context, userID string, refresh bool) (model.RecommendationSet, error) {
	if !refresh {
		set, err := g.store.Recommendations(ctx, userID)
		if err == nil {
			return set, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return model.RecommendationSet{}, fmt.Errorf("loading cached recommendations: %w", err)
		}
	}

	p, err := g.profiles.Get(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.RecommendationSet{}, ErrNoProfile
	}
	if err != nil {
		return model.RecommendationSet{}, err
	}

	return g.GenerateFor(ctx, userID, p)
}

// GenerateFor generates from p and overwrites the cached set for userID.
// An invalid set is never saved; a failed save is returned.
func (g *Generator) GenerateFor(ctx context.Context, userID string, p model.UserProfile) (model.RecommendationSet, error) {
	if err := apperr.RequireUser(userID, "Getting recommendations"); err != nil {
		return model.RecommendationSet{}, err
	}

	set, err := g.Generate(ctx, p)
	if err != nil {
		return model.RecommendationSet{}, err
	}
	if err := g.store.SaveRecommendations(ctx, userID, set); err != nil {
		return model.RecommendationSet{}, fmt.Errorf("saving recommendations: %w", err)
	}
	g.logger.Info("recommendations generated", "user", userID)
	return set, nil
}
