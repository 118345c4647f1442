package discussion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kalambet/margin/internal/model"
	"github.com/kalambet/margin/internal/prompt"
)

// State is the position of a Session in the discussion flow.
type State string

const (
	StateSelectingBook State = "selecting-book"
	StateGoalSelection State = "goal-selection"
	StateOverview      State = "overview"
	StateActive        State = "active-discussion"
)

var (
	// ErrInvalidState is returned for an operation the current state does not allow.
	ErrInvalidState = errors.New("operation not allowed in current session state")

	// ErrDiscarded is returned when a result arrives after the session was
	// ended or reset. The result is dropped.
	ErrDiscarded = errors.New("session moved on before the result arrived")

	// ErrEmptyInput is returned when a required text field is blank.
	ErrEmptyInput = errors.New("missing input")
)

const (
	greetingMessage     = "Hello! Which book would you like to discuss? Just mention it in your question."
	bookNotFoundMessage = "I couldn't identify which book you'd like to discuss. Could you please mention the book title in your question?"
	bookFoundFormat     = "Great! Let's discuss %s. What would you like to know about it?"
	bookChosenFormat    = "Great choice! Let's discuss %s. What would you like to focus on?"
	startFormat         = "Let's dive into %s. Ask anything, or pick one of the suggested questions."
)

// Outcome is what a Session operation produced.
type Outcome struct {
	State       State                     `json:"state"`
	Reply       model.ChatMessage         `json:"reply"`
	Book        *model.Book               `json:"book,omitempty"`
	Response    *model.DiscussionResponse `json:"response,omitempty"`
	Degraded    bool                      `json:"degraded,omitempty"`
	GoalOptions []string                  `json:"goalOptions,omitempty"`
	Summary     *model.SessionSummary     `json:"summary,omitempty"`
}

// View is a point-in-time copy of a Session.
type View struct {
	ID         string              `json:"id"`
	State      State               `json:"state"`
	Book       *model.Book         `json:"book,omitempty"`
	Goal       string              `json:"goal,omitempty"`
	Turns      int                 `json:"turns"`
	Transcript []model.ChatMessage `json:"transcript"`
}

// Session is one reader's walk through a discussion: pick a book, pick a
// goal, read the overview, then discuss. Provider calls run without the
// session lock; a result is applied only if no End or Reset happened in
// the meantime.
type Session struct {
	ID     string
	UserID string

	orch *Orchestrator

	mu         sync.Mutex
	state      State
	book       model.Book
	goal       string
	turns      int
	transcript []model.ChatMessage
	gen        uint64
}

// NewSession creates a session in the selecting-book state.
func NewSession(id, userID string, orch *Orchestrator) *Session {
	s := &Session{ID: id, UserID: userID, orch: orch}
	s.resetLocked()
	return s
}

func (s *Session) resetLocked() {
	s.state = StateSelectingBook
	s.book = model.Book{}
	s.goal = ""
	s.turns = 0
	s.transcript = []model.ChatMessage{{Role: model.RoleAssistant, Content: greetingMessage}}
	s.gen++
}

// View returns a copy of the session's current state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:         s.ID,
		State:      s.state,
		Goal:       s.goal,
		Turns:      s.turns,
		Transcript: append([]model.ChatMessage(nil), s.transcript...),
	}
	if s.state != StateSelectingBook {
		b := s.book
		v.Book = &b
	}
	return v
}

// Transcript returns the messages exchanged so far.
func (s *Session) Transcript() []model.ChatMessage {
	return s.View().Transcript
}

// Reset abandons the current discussion. Results still in flight are discarded.
func (s *Session) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

// begin checks that the session is in one of allowed and returns the
// current generation and book.
func (s *Session) begin(allowed ...State) (uint64, model.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range allowed {
		if s.state == st {
			return s.gen, s.book, nil
		}
	}
	return 0, model.Book{}, fmt.Errorf("%w: %s", ErrInvalidState, s.state)
}

// commit applies fn if gen is still current.
func (s *Session) commit(gen uint64, fn func() Outcome) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return Outcome{}, ErrDiscarded
	}
	return fn(), nil
}

func (s *Session) say(content string, prefills []string) model.ChatMessage {
	msg := model.ChatMessage{Role: model.RoleAssistant, Content: content, Prefills: prefills}
	s.transcript = append(s.transcript, msg)
	return msg
}

func (s *Session) hear(content string) {
	s.transcript = append(s.transcript, model.ChatMessage{Role: model.RoleUser, Content: content})
}

func (s *Session) bookPtr() *model.Book {
	b := s.book
	return &b
}

// Submit handles free text: while no book is chosen it is resolved to a
// book, during the discussion it is asked as a question.
func (s *Session) Submit(ctx context.Context, text string) (Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{}, fmt.Errorf("%w: message", ErrEmptyInput)
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateSelectingBook:
		return s.resolve(ctx, text)
	case StateActive:
		return s.Ask(ctx, text, prompt.Context{Type: prompt.Question})
	default:
		return Outcome{}, fmt.Errorf("%w: %s", ErrInvalidState, state)
	}
}

func (s *Session) resolve(ctx context.Context, text string) (Outcome, error) {
	gen, _, err := s.begin(StateSelectingBook)
	if err != nil {
		return Outcome{}, err
	}

	b, found, err := s.orch.ResolveBook(ctx, text)
	if err != nil {
		return Outcome{}, err
	}

	return s.commit(gen, func() Outcome {
		s.hear(text)
		if !found {
			return Outcome{State: s.state, Reply: s.say(bookNotFoundMessage, nil)}
		}
		s.book = b
		s.state = StateGoalSelection
		return Outcome{
			State:       s.state,
			Reply:       s.say(fmt.Sprintf(bookFoundFormat, b.Title), nil),
			Book:        s.bookPtr(),
			GoalOptions: append([]string(nil), model.LearningGoals...),
		}
	})
}

// SelectBook chooses a book explicitly.
func (s *Session) SelectBook(b model.Book) (Outcome, error) {
	if strings.TrimSpace(b.Title) == "" {
		return Outcome{}, fmt.Errorf("%w: book title", ErrEmptyInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSelectingBook {
		return Outcome{}, fmt.Errorf("%w: %s", ErrInvalidState, s.state)
	}

	s.book = b.WithKey()
	s.state = StateGoalSelection
	return Outcome{
		State:       s.state,
		Reply:       s.say(fmt.Sprintf(bookChosenFormat, s.book.Title), nil),
		Book:        s.bookPtr(),
		GoalOptions: append([]string(nil), model.LearningGoals...),
	}, nil
}

// ChooseGoal asks for an overview of the book focused on goal.
func (s *Session) ChooseGoal(ctx context.Context, goal string) (Outcome, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return Outcome{}, fmt.Errorf("%w: goal", ErrEmptyInput)
	}
	gen, b, err := s.begin(StateGoalSelection)
	if err != nil {
		return Outcome{}, err
	}

	reply, err := s.orch.answer(ctx, Request{
		Book:    b,
		UserID:  s.UserID,
		Context: prompt.Context{Type: prompt.Overview, Goal: goal},
	})
	if err != nil {
		return Outcome{}, err
	}

	return s.commit(gen, func() Outcome {
		s.goal = goal
		s.state = StateOverview
		s.hear(goal)
		return s.accept(ctx, reply)
	})
}

// Start moves from the overview into the open discussion.
func (s *Session) Start() (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOverview {
		return Outcome{}, fmt.Errorf("%w: %s", ErrInvalidState, s.state)
	}
	s.state = StateActive
	return Outcome{
		State: s.state,
		Reply: s.say(fmt.Sprintf(startFormat, s.book.Title), nil),
		Book:  s.bookPtr(),
	}, nil
}

// Ask sends a question or prefill during the discussion.
func (s *Session) Ask(ctx context.Context, text string, c prompt.Context) (Outcome, error) {
	return s.discuss(ctx, text, text, c)
}

// ExploreAid expands a learning aid from an earlier answer.
func (s *Session) ExploreAid(ctx context.Context, aid model.LearningAid) (Outcome, error) {
	if strings.TrimSpace(aid.Title) == "" {
		return Outcome{}, fmt.Errorf("%w: learning aid title", ErrEmptyInput)
	}
	s.mu.Lock()
	b := s.book
	s.mu.Unlock()
	return s.discuss(ctx, "Expand on: "+aid.Title, prompt.AidInput(b, aid.Title), prompt.Context{Type: prompt.Exploration})
}

// ExploreTopic analyzes one topic from the exploration guide.
func (s *Session) ExploreTopic(ctx context.Context, category, topic string) (Outcome, error) {
	if strings.TrimSpace(topic) == "" {
		return Outcome{}, fmt.Errorf("%w: topic", ErrEmptyInput)
	}
	s.mu.Lock()
	b := s.book
	s.mu.Unlock()
	shown := fmt.Sprintf("Let's explore %s in %s", topic, b.Title)
	return s.discuss(ctx, shown, prompt.TopicInput(b, category, topic),
		prompt.Context{Type: prompt.TopicExploration, Category: category, Topic: topic})
}

func (s *Session) discuss(ctx context.Context, shown, input string, c prompt.Context) (Outcome, error) {
	if strings.TrimSpace(input) == "" {
		return Outcome{}, fmt.Errorf("%w: message", ErrEmptyInput)
	}
	gen, b, err := s.begin(StateActive)
	if err != nil {
		return Outcome{}, err
	}

	reply, err := s.orch.answer(ctx, Request{Book: b, Text: input, UserID: s.UserID, Context: c})
	if err != nil {
		return Outcome{}, err
	}

	return s.commit(gen, func() Outcome {
		s.hear(shown)
		return s.accept(ctx, reply)
	})
}

// ExplorationGuide requests the category → topics map for the book. It is
// available once a book is chosen.
func (s *Session) ExplorationGuide(ctx context.Context) (Outcome, error) {
	gen, b, err := s.begin(StateGoalSelection, StateOverview, StateActive)
	if err != nil {
		return Outcome{}, err
	}

	reply, err := s.orch.answer(ctx, Request{
		Book:    b,
		UserID:  s.UserID,
		Context: prompt.Context{Type: prompt.ExplorationGuide},
	})
	if err != nil {
		return Outcome{}, err
	}

	return s.commit(gen, func() Outcome {
		return s.accept(ctx, reply)
	})
}

// accept records an answered turn. Caller holds s.mu.
func (s *Session) accept(ctx context.Context, reply Reply) Outcome {
	s.turns++
	s.orch.record(ctx, s.UserID, reply.Turn)
	resp := reply.Turn.Response
	return Outcome{
		State:    s.state,
		Reply:    s.say(resp.Content, resp.Prefills),
		Book:     s.bookPtr(),
		Response: &resp,
		Degraded: reply.Degraded,
	}
}

// End summarizes the discussion and returns the session to book selection.
// The summary is stored only once the reset has been applied; on failure
// the session is left as it was.
func (s *Session) End(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: %s", ErrInvalidState, s.state)
	}
	gen := s.gen
	b := s.book
	transcript := append([]model.ChatMessage(nil), s.transcript...)
	s.mu.Unlock()

	summary, err := s.orch.summarize(ctx, b, transcript)
	if err != nil {
		return Outcome{}, err
	}

	out, err := s.commit(gen, func() Outcome {
		s.resetLocked()
		return Outcome{
			State:   s.state,
			Reply:   s.transcript[0],
			Book:    &b,
			Summary: &summary,
		}
	})
	if err != nil {
		return Outcome{}, err
	}
	s.orch.keepSummary(ctx, s.UserID, b, summary)
	return out, nil
}
