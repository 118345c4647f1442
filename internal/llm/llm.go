// Package llm is the thin transport to the remote completion service. A
// call either returns the raw completion text or a ProviderError; nothing
// here retries.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// DefaultTemperature is used when Params.Temperature is nil.
const DefaultTemperature = 0.7

// Completer sends one completion request and returns the raw text.
type Completer interface {
	Complete(ctx context.Context, messages []Message, params Params) (string, error)
}

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Params are the sampling parameters for one call.
type Params struct {
	Temperature *float64
	MaxTokens   int
}

// Temperature returns a pointer to t for use in Params.
func Temperature(t float64) *float64 { return &t }

func (p Params) temperature() float64 {
	if p.Temperature == nil {
		return DefaultTemperature
	}
	return *p.Temperature
}

var (
	ErrNoChoices    = errors.New("completion returned no choices")
	ErrEmptyContent = errors.New("completion returned empty content")
)

// ProviderError reports a failed completion call or a response with no
// usable choice.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s completion failed (HTTP %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s completion failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Conversation assembles a system prompt, prior turns and a final user
// message into a message list.
func Conversation(system string, history []Message, user string) []Message {
	msgs := make([]Message, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, history...)
	return append(msgs, Message{Role: RoleUser, Content: user})
}

// WithTemperature returns a Completer that fills in t for calls that do not
// set a temperature of their own.
func WithTemperature(c Completer, t float64) Completer {
	return defaultTemperature{next: c, t: t}
}

type defaultTemperature struct {
	next Completer
	t    float64
}

func (d defaultTemperature) Complete(ctx context.Context, messages []Message, params Params) (string, error) {
	if params.Temperature == nil {
		params.Temperature = Temperature(d.t)
	}
	return d.next.Complete(ctx, messages, params)
}
