package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kalambet/margin/internal/apperr"
	"github.com/kalambet/margin/internal/model"
	"github.com/kalambet/margin/internal/storage"
)

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Repository.
type ProfileStore interface {
	Profile(ctx context.Context, userID string) (model.UserProfile, error)
	SaveProfile(ctx context.Context, p model.UserProfile) error
	DeleteProfile(ctx context.Context, userID string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	profile  model.UserProfile
	cachedAt time.Time
}

// Manager provides cached access to user profiles and serializes every
// read-merge-write of a single user's document.
type Manager struct {
	store  ProfileStore
	synth  *Synthesizer
	clock  Clock
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
	// writes counts cache updates; Get caches what it loaded only if none
	// happened during the load. Guarded by mu.
	writes uint64

	locksMu sync.Mutex
	locks   map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ProfileStore, synth *Synthesizer, logger *slog.Logger) *Manager {
	return NewManagerWithClock(store, synth, logger, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, synth *Synthesizer, logger *slog.Logger, clock Clock, ttl time.Duration) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		synth:  synth,
		clock:  clock,
		ttl:    ttl,
		logger: logger,
		cache:  make(map[string]cacheEntry),
		locks:  make(map[string]*userLock),
	}
}

// Get returns the stored profile for userID. A user who has not onboarded
// yet gets storage.ErrNotFound.
func (m *Manager) Get(ctx context.Context, userID string) (model.UserProfile, error) {
	if err := apperr.RequireUser(userID, "Viewing your profile"); err != nil {
		return model.UserProfile{}, err
	}

	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if e, ok := m.cache[userID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		p := deepCopyProfile(e.profile)
		m.mu.RUnlock()
		return p, nil
	}
	seen := m.writes
	m.mu.RUnlock()

	p, err := m.store.Profile(ctx, userID)
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("loading profile: %w", err)
	}

	m.mu.Lock()
	if m.writes == seen {
		m.cache[userID] = cacheEntry{profile: deepCopyProfile(p), cachedAt: m.clock.Now()}
	}
	m.mu.Unlock()
	return deepCopyProfile(p), nil
}

// CompleteOnboarding synthesizes the narrative from answers and merges both
// into the stored profile. Nothing is written when synthesis fails.
func (m *Manager) CompleteOnboarding(ctx context.Context, userID string, answers model.Answers) (model.UserProfile, error) {
	if err := apperr.RequireUser(userID, "Saving your profile"); err != nil {
		return model.UserProfile{}, err
	}

	narrative, err := m.synth.Synthesize(ctx, answers)
	if err != nil {
		return model.UserProfile{}, err
	}

	return m.modify(ctx, userID, func(p *model.UserProfile) {
		p.Answers = answers
		p.Narrative = narrative
	})
}

// Update applies an explicit edit to the stored profile.
func (m *Manager) Update(ctx context.Context, userID string, patch Patch) (model.UserProfile, error) {
	if err := apperr.RequireUser(userID, "Editing your profile"); err != nil {
		return model.UserProfile{}, err
	}
	return m.modify(ctx, userID, patch.apply)
}

// AppendSession records the insights of a finished discussion.
func (m *Manager) AppendSession(ctx context.Context, userID string, insight model.SessionInsight) error {
	if err := apperr.RequireUser(userID, "Saving session insights"); err != nil {
		return err
	}
	_, err := m.modify(ctx, userID, func(p *model.UserProfile) {
		p.SessionHistory = append(p.SessionHistory, insight)
	})
	return err
}

// Clear removes the profile so the user can redo onboarding.
func (m *Manager) Clear(ctx context.Context, userID string) error {
	if err := apperr.RequireUser(userID, "Redoing onboarding"); err != nil {
		return err
	}

	unlock := m.lockUser(userID)
	defer unlock()

	if err := m.store.DeleteProfile(ctx, userID); err != nil {
		return fmt.Errorf("deleting profile: %w", err)
	}
	m.forget(userID)
	m.logger.Info("profile cleared", "user", userID)
	return nil
}

// Summary returns a compact rendering of the profile suitable for injection
// into a system prompt. Targets < 500 tokens (~2000 chars).
func (m *Manager) Summary(ctx context.Context, userID string) (string, error) {
	p, err := m.Get(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return summarize(model.UserProfile{}), nil
	}
	if err != nil {
		return "", fmt.Errorf("getting profile for summary: %w", err)
	}
	return summarize(p), nil
}

// modify runs a read-merge-write of one user's profile under that user's lock.
func (m *Manager) modify(ctx context.Context, userID string, merge func(*model.UserProfile)) (model.UserProfile, error) {
	unlock := m.lockUser(userID)
	defer unlock()

	now := m.clock.Now().UTC()
	p, err := m.store.Profile(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		p = model.UserProfile{UserID: userID, CreatedAt: now}
	case err != nil:
		return model.UserProfile{}, fmt.Errorf("loading profile: %w", err)
	}

	merge(&p)
	p.UserID = userID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if err := m.store.SaveProfile(ctx, p); err != nil {
		m.forget(userID)
		return model.UserProfile{}, fmt.Errorf("saving profile: %w", err)
	}
	m.remember(p)
	return deepCopyProfile(p), nil
}

func (m *Manager) lockUser(userID string) func() {
	m.locksMu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &userLock{}
		m.locks[userID] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, userID)
		}
		m.locksMu.Unlock()
	}
}

func (m *Manager) remember(p model.UserProfile) {
	m.mu.Lock()
	m.writes++
	m.cache[p.UserID] = cacheEntry{profile: deepCopyProfile(p), cachedAt: m.clock.Now()}
	m.mu.Unlock()
}

func (m *Manager) forget(userID string) {
	m.mu.Lock()
	m.writes++
	delete(m.cache, userID)
	m.mu.Unlock()
}

// maxSummaryChars caps the summary to stay under ~500 tokens (4 chars/token).
const maxSummaryChars = 2000

// recentSessions is how many session insights the summary includes.
const recentSessions = 3

func summarize(p model.UserProfile) string {
	var parts []string

	var who []string
	if p.Age > 0 {
		who = append(who, fmt.Sprintf("age %d", p.Age))
	}
	if p.Gender != "" {
		who = append(who, p.Gender)
	}
	if len(who) > 0 {
		parts = append(parts, fmt.Sprintf("Reader: %s.", strings.Join(who, ", ")))
	}
	if len(p.Areas) > 0 {
		parts = append(parts, fmt.Sprintf("Wants to grow in: %s.", strings.Join(p.Areas, ", ")))
	}
	if len(p.Inspirations) > 0 {
		parts = append(parts, fmt.Sprintf("Inspired by: %s.", strings.Join(p.Inspirations, ", ")))
	}

	for _, section := range []struct{ label, text string }{
		{"Reading", p.Reading},
		{"Interests", p.Interests},
		{"Motivation", p.Motivation},
		{"Personal", p.Personal},
	} {
		if section.text != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", section.label, section.text))
		}
	}

	history := p.SessionHistory
	if len(history) > recentSessions {
		history = history[len(history)-recentSessions:]
	}
	for _, s := range history {
		if len(s.Insights) == 0 {
			continue
		}
		label := s.BookTitle
		if label == "" {
			label = "a recent discussion"
		}
		parts = append(parts, fmt.Sprintf("From %s: %s.", label, strings.Join(s.Insights, "; ")))
	}

	if len(parts) == 0 {
		return "Reader profile: not yet configured."
	}

	summary := strings.Join(parts, " ")
	if len(summary) > maxSummaryChars {
		// Ensure we don't split a multi-byte UTF-8 character.
		end := maxSummaryChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], " "); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}

func deepCopyProfile(p model.UserProfile) model.UserProfile {
	cp := p
	if p.Areas != nil {
		cp.Areas = append([]string(nil), p.Areas...)
	}
	if p.Inspirations != nil {
		cp.Inspirations = append([]string(nil), p.Inspirations...)
	}
	if p.SessionHistory != nil {
		cp.SessionHistory = make([]model.SessionInsight, len(p.SessionHistory))
		for i, s := range p.SessionHistory {
			s.Insights = append([]string(nil), s.Insights...)
			cp.SessionHistory[i] = s
		}
	}
	return cp
}
