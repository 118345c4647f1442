package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/margin/internal/model"
)

const (
	profilesRoot        = "profiles"
	recommendationsRoot = "recommendations"
	discussionsRoot     = "bookDiscussions"
	chatHistoryRoot     = "chatHistory"
)

// Repository maps the application's documents onto store paths.
type Repository struct {
	store *Store
}

// NewRepository creates a Repository over s.
func NewRepository(s *Store) *Repository {
	return &Repository{store: s}
}

// Store returns the underlying document store.
func (r *Repository) Store() *Store { return r.store }

// ProfilePath returns the document path of a user's profile.
func ProfilePath(userID string) (string, error) {
	return Path(profilesRoot, userID)
}

// RecommendationsPath returns the document path of a user's cached recommendations.
func RecommendationsPath(userID string) (string, error) {
	return Path(recommendationsRoot, userID)
}

// Profile returns the stored profile for userID, or ErrNotFound.
func (r *Repository) Profile(ctx context.Context, userID string) (model.UserProfile, error) {
	var p model.UserProfile
	path, err := ProfilePath(userID)
	if err != nil {
		return p, &PersistenceError{Op: "get", Path: profilesRoot, Err: err}
	}
	err = r.getJSON(ctx, path, &p)
	return p, err
}

// SaveProfile replaces the stored profile document.
func (r *Repository) SaveProfile(ctx context.Context, p model.UserProfile) error {
	path, err := ProfilePath(p.UserID)
	if err != nil {
		return &PersistenceError{Op: "set", Path: profilesRoot, Err: err}
	}
	return r.store.Set(ctx, path, p)
}

// DeleteProfile removes the stored profile. Deleting a missing profile is not an error.
func (r *Repository) DeleteProfile(ctx context.Context, userID string) error {
	path, err := ProfilePath(userID)
	if err != nil {
		return &PersistenceError{Op: "delete", Path: profilesRoot, Err: err}
	}
	return r.store.Delete(ctx, path)
}

// Recommendations returns the cached recommendation set, or ErrNotFound.
func (r *Repository) Recommendations(ctx context.Context, userID string) (model.RecommendationSet, error) {
	var set model.RecommendationSet
	path, err := RecommendationsPath(userID)
	if err != nil {
		return set, &PersistenceError{Op: "get", Path: recommendationsRoot, Err: err}
	}
	err = r.getJSON(ctx, path, &set)
	return set, err
}

// SaveRecommendations overwrites the cached recommendation set.
func (r *Repository) SaveRecommendations(ctx context.Context, userID string, set model.RecommendationSet) error {
	path, err := RecommendationsPath(userID)
	if err != nil {
		return &PersistenceError{Op: "set", Path: recommendationsRoot, Err: err}
	}
	return r.store.Set(ctx, path, set)
}

// AppendTurn pushes a discussion turn onto the user's history for turn.BookID.
func (r *Repository) AppendTurn(ctx context.Context, userID string, turn model.DiscussionTurn) error {
	path, err := Path(discussionsRoot, userID, turn.BookID)
	if err != nil {
		return &PersistenceError{Op: "push", Path: discussionsRoot, Err: err}
	}
	_, err = r.store.Push(ctx, path, turn)
	return err
}

// Turns returns the discussion history for a book, oldest first. A book with
// no history yields an empty slice.
func (r *Repository) Turns(ctx context.Context, userID, bookID string) ([]model.DiscussionTurn, error) {
	path, err := Path(discussionsRoot, userID, bookID)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Path: discussionsRoot, Err: err}
	}
	children, err := r.store.List(ctx, path)
	if err != nil {
		return nil, err
	}

	turns := make([]model.DiscussionTurn, 0, len(children))
	for _, c := range children {
		var t model.DiscussionTurn
		if err := json.Unmarshal(c.Value, &t); err != nil {
			return nil, &PersistenceError{Op: "list", Path: path + "/" + c.Key, Err: fmt.Errorf("decoding turn: %w", err)}
		}
		turns = append(turns, t)
	}
	model.SortTurns(turns)
	return turns, nil
}

// SaveSummary stores the end-of-session analysis for rec.Book.
func (r *Repository) SaveSummary(ctx context.Context, userID string, rec model.SummaryRecord) error {
	path, err := Path(chatHistoryRoot, userID, rec.Book.Key())
	if err != nil {
		return &PersistenceError{Op: "set", Path: chatHistoryRoot, Err: err}
	}
	return r.store.Set(ctx, path, rec)
}

// Summary returns the last stored session analysis for a book, or ErrNotFound.
func (r *Repository) Summary(ctx context.Context, userID, bookID string) (model.SummaryRecord, error) {
	var rec model.SummaryRecord
	path, err := Path(chatHistoryRoot, userID, bookID)
	if err != nil {
		return rec, &PersistenceError{Op: "get", Path: chatHistoryRoot, Err: err}
	}
	err = r.getJSON(ctx, path, &rec)
	return rec, err
}

// WatchProfile subscribes to a user's profile document.
func (r *Repository) WatchProfile(ctx context.Context, userID string, fn func(Snapshot)) (func(), error) {
	path, err := ProfilePath(userID)
	if err != nil {
		return nil, &PersistenceError{Op: "subscribe", Path: profilesRoot, Err: err}
	}
	return r.store.Subscribe(ctx, path, fn)
}

// WatchRecommendations subscribes to a user's cached recommendations.
func (r *Repository) WatchRecommendations(ctx context.Context, userID string, fn func(Snapshot)) (func(), error) {
	path, err := RecommendationsPath(userID)
	if err != nil {
		return nil, &PersistenceError{Op: "subscribe", Path: recommendationsRoot, Err: err}
	}
	return r.store.Subscribe(ctx, path, fn)
}

func (r *Repository) getJSON(ctx context.Context, path string, v any) error {
	raw, err := r.store.Get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &PersistenceError{Op: "get", Path: path, Err: fmt.Errorf("decoding document: %w", err)}
	}
	return nil
}

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
