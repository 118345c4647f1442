package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/margin/internal/apperr"
	"github.com/kalambet/margin/internal/llm"
	"github.com/kalambet/margin/internal/model"
	"github.com/kalambet/margin/internal/normalize"
	"github.com/kalambet/margin/internal/prompt"
)

// Synthesizer turns onboarding answers into the four narrative profile sections.
type Synthesizer struct {
	llm    llm.Completer
	logger *slog.Logger
}

// NewSynthesizer creates a Synthesizer. A nil logger uses slog.Default().
func NewSynthesizer(c llm.Completer, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{llm: c, logger: logger}
}

// Synthesize makes one completion call. Missing sections come back empty;
// a completion with no JSON object at all is an *apperr.InvalidShapeError.
func (s *Synthesizer) Synthesize(ctx context.Context, a model.Answers) (model.Narrative, error) {
	p := prompt.ProfileSynthesis(a)
	raw, err := s.llm.Complete(ctx, llm.Conversation(p.System, nil, p.User), llm.Params{})
	if err != nil {
		return model.Narrative{}, fmt.Errorf("synthesizing profile: %w", err)
	}

	fields, method, err := normalize.Decode[map[string]any](raw)
	if err != nil {
		s.logger.Warn("profile synthesis returned no JSON", "response_len", len(raw))
		return model.Narrative{}, &apperr.InvalidShapeError{
			What:     "profile",
			Problems: []string{"completion contained no JSON object"},
		}
	}
	if method != normalize.MethodStrict {
		s.logger.Warn("profile synthesis output recovered", "method", method)
	}

	return model.Narrative{
		Reading:    flatten(fields["reading"]),
		Interests:  flatten(fields["interests"]),
		Motivation: flatten(fields["motivation"]),
		Personal:   flatten(fields["personal"]),
	}, nil
}

// flatten renders a decoded JSON value as plain text.
func flatten(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := flatten(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
