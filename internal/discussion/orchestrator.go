// Package discussion answers book-discussion turns, resolves which book a
// reader means, records history and summarizes finished sessions.
package discussion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/margin/internal/apperr"
	"github.com/kalambet/margin/internal/llm"
	"github.com/kalambet/margin/internal/model"
	"github.com/kalambet/margin/internal/normalize"
	"github.com/kalambet/margin/internal/prompt"
)

// extractionTemperature keeps book resolution close to deterministic.
const extractionTemperature = 0.1

// persistTimeout bounds a background history write.
const persistTimeout = 10 * time.Second

// HistoryStore is the persistence the Orchestrator needs.
// Implemented by storage.Repository.
type HistoryStore interface {
	AppendTurn(ctx context.Context, userID string, turn model.DiscussionTurn) error
	Turns(ctx context.Context, userID, bookID string) ([]model.DiscussionTurn, error)
	SaveSummary(ctx context.Context, userID string, rec model.SummaryRecord) error
	Summary(ctx context.Context, userID, bookID string) (model.SummaryRecord, error)
}

// ProfileAppender records session insights on the reader's profile.
// Implemented by profile.Manager.
type ProfileAppender interface {
	AppendSession(ctx context.Context, userID string, insight model.SessionInsight) error
}

// Orchestrator runs discussion requests through prompt, completion and
// normalization.
type Orchestrator struct {
	llm      llm.Completer
	history  HistoryStore
	profiles ProfileAppender
	logger   *slog.Logger
	now      func() time.Time

	pending sync.WaitGroup
}

// New creates an Orchestrator. profiles may be nil, in which case session
// summaries are not added to the profile.
func New(c llm.Completer, history HistoryStore, profiles ProfileAppender, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		llm:      c,
		history:  history,
		profiles: profiles,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Request is one discussion turn.
type Request struct {
	Book    model.Book
	Text    string
	UserID  string
	Context prompt.Context
}

// Reply is the normalized answer to a Request.
type Reply struct {
	Turn     model.DiscussionTurn
	Degraded bool
	Method   normalize.Method
}

// Respond answers req and schedules the turn for history in the background.
// History failures are logged, never returned.
func (o *Orchestrator) Respond(ctx context.Context, req Request) (Reply, error) {
	reply, err := o.answer(ctx, req)
	if err != nil {
		return Reply{}, err
	}
	o.record(ctx, req.UserID, reply.Turn)
	return reply, nil
}

func (o *Orchestrator) answer(ctx context.Context, req Request) (Reply, error) {
	if strings.TrimSpace(req.Book.Title) == "" {
		return Reply{}, fmt.Errorf("%w: discussion request has no book", ErrEmptyInput)
	}

	c := req.Context
	c.Type = prompt.ParseContextType(string(c.Type))
	input := strings.TrimSpace(req.Text)
	if input == "" {
		switch c.Type {
		case prompt.Overview:
			input = prompt.OverviewInput(req.Book, c.Goal)
		case prompt.ExplorationGuide:
			input = prompt.GuideInput
		case prompt.TopicExploration:
			input = prompt.TopicInput(req.Book, c.Category, c.Topic)
		default:
			return Reply{}, fmt.Errorf("%w: discussion request has no text", ErrEmptyInput)
		}
	}

	p := prompt.Discussion(req.Book, input, c)
	raw, err := o.llm.Complete(ctx, llm.Conversation(p.System, nil, p.User), llm.Params{})
	if err != nil {
		return Reply{}, fmt.Errorf("answering discussion turn: %w", err)
	}

	res := normalize.Discussion(raw)
	if res.Degraded() {
		o.logger.Warn("discussion output degraded to plain text",
			"book", req.Book.Title, "type", c.Type, "response_len", len(raw))
	}

	return Reply{
		Turn: model.DiscussionTurn{
			Timestamp: o.now(),
			Type:      c.Type.TurnType(),
			Input:     input,
			Response:  res.Response,
			BookID:    req.Book.Key(),
			BookTitle: req.Book.Title,
		},
		Degraded: res.Degraded(),
		Method:   res.Method,
	}, nil
}

// record appends turn to the user's history without blocking the caller.
// Anonymous users have no history.
func (o *Orchestrator) record(ctx context.Context, userID string, turn model.DiscussionTurn) {
	if apperr.IsAnonymous(userID) || o.history == nil {
		return
	}

	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()

		if err := o.history.AppendTurn(ctx, userID, turn); err != nil {
			o.logger.Error("failed to save discussion turn",
				"user", userID, "book", turn.BookID, "type", turn.Type, "error", err)
		}
	}()
}

// Wait blocks until background history writes have finished.
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}

type extraction struct {
	BookFound bool   `json:"bookFound"`
	Title     string `json:"title"`
	Author    string `json:"author"`
}

// ResolveBook asks which book text refers to. Output that cannot be read as
// an extraction result counts as no book found.
func (o *Orchestrator) ResolveBook(ctx context.Context, text string) (model.Book, bool, error) {
	if strings.TrimSpace(text) == "" {
		return model.Book{}, false, nil
	}

	p := prompt.BookExtraction(text)
	raw, err := o.llm.Complete(ctx, llm.Conversation(p.System, nil, p.User),
		llm.Params{Temperature: llm.Temperature(extractionTemperature)})
	if err != nil {
		return model.Book{}, false, fmt.Errorf("resolving book: %w", err)
	}

	ex, _, err := normalize.Decode[extraction](raw)
	if err != nil {
		o.logger.Warn("book extraction returned no JSON", "response_len", len(raw))
		return model.Book{}, false, nil
	}
	title := strings.TrimSpace(ex.Title)
	if !ex.BookFound || title == "" {
		return model.Book{}, false, nil
	}

	b := model.Book{Title: title, Author: strings.TrimSpace(ex.Author)}
	return b.WithKey(), true, nil
}

// Summarize analyzes a finished discussion. For signed-in users the result
// is stored under the book and its takeaways are added to the profile;
// failures of either write are logged.
func (o *Orchestrator) Summarize(ctx context.Context, userID string, b model.Book, transcript []model.ChatMessage) (model.SessionSummary, error) {
	summary, err := o.summarize(ctx, b, transcript)
	if err != nil {
		return model.SessionSummary{}, err
	}
	o.keepSummary(ctx, userID, b, summary)
	return summary, nil
}

func (o *Orchestrator) summarize(ctx context.Context, b model.Book, transcript []model.ChatMessage) (model.SessionSummary, error) {
	p := prompt.SessionSummary(b, transcript)
	raw, err := o.llm.Complete(ctx, llm.Conversation(p.System, nil, p.User), llm.Params{})
	if err != nil {
		return model.SessionSummary{}, fmt.Errorf("summarizing discussion: %w", err)
	}

	summary, _, err := normalize.Decode[model.SessionSummary](raw)
	if err != nil {
		return model.SessionSummary{}, &apperr.InvalidShapeError{
			What:     "session summary",
			Problems: []string{"completion contained no JSON object"},
		}
	}
	return tidySummary(summary), nil
}

// keepSummary writes summary to history and the profile. Anonymous
// summaries are not kept.
func (o *Orchestrator) keepSummary(ctx context.Context, userID string, b model.Book, summary model.SessionSummary) {
	if apperr.IsAnonymous(userID) {
		return
	}

	b = b.WithKey()
	now := o.now()
	if o.history != nil {
		rec := model.SummaryRecord{Timestamp: now, Book: b, Analysis: summary}
		if err := o.history.SaveSummary(ctx, userID, rec); err != nil {
			o.logger.Error("failed to save session summary", "user", userID, "book", b.ID, "error", err)
		}
	}
	if o.profiles != nil {
		insight := model.SessionInsight{
			Date:      now,
			BookID:    b.ID,
			BookTitle: b.Title,
			Insights:  append(append([]string{}, summary.KeyTakeaways...), summary.Preferences...),
		}
		if err := o.profiles.AppendSession(ctx, userID, insight); err != nil {
			o.logger.Error("failed to add session insights to profile", "user", userID, "book", b.ID, "error", err)
		}
	}
}

// History returns the recorded turns for a book, oldest first.
func (o *Orchestrator) History(ctx context.Context, userID, bookID string) ([]model.DiscussionTurn, error) {
	if err := apperr.RequireUser(userID, "Viewing discussion history"); err != nil {
		return nil, err
	}
	turns, err := o.history.Turns(ctx, userID, bookID)
	if err != nil {
		return nil, fmt.Errorf("loading discussion history: %w", err)
	}
	model.SortTurns(turns)
	return turns, nil
}

// LastSummary returns the stored analysis of the last finished discussion of a book.
func (o *Orchestrator) LastSummary(ctx context.Context, userID, bookID string) (model.SummaryRecord, error) {
	if err := apperr.RequireUser(userID, "Viewing discussion summaries"); err != nil {
		return model.SummaryRecord{}, err
	}
	rec, err := o.history.Summary(ctx, userID, bookID)
	if err != nil {
		return model.SummaryRecord{}, fmt.Errorf("loading session summary: %w", err)
	}
	return rec, nil
}

func tidySummary(s model.SessionSummary) model.SessionSummary {
	clean := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, v := range in {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		return out
	}
	s.KeyTakeaways = clean(s.KeyTakeaways)
	s.Topics = clean(s.Topics)
	s.Preferences = clean(s.Preferences)
	s.FocusAreas = clean(s.FocusAreas)
	return s
}
