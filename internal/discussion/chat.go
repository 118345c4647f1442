package discussion

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/margin/internal/llm"
	"github.com/kalambet/margin/internal/model"
	"github.com/kalambet/margin/internal/normalize"
	"github.com/kalambet/margin/internal/prompt"
)

// chatMaxTokens caps replies from the stateless chat endpoint.
const chatMaxTokens = 500

// DefaultPrefills are offered when a chat reply carries no follow-ups.
var DefaultPrefills = []string{
	"What aspects of this topic interest you the most?",
	"Would you like to explore similar books in this area?",
	"How does this relate to your current reading goals?",
}

// ChatRequest is a stateless chat exchange. The caller supplies the whole
// conversation so far.
type ChatRequest struct {
	Profile model.UserProfile
	Message string
	History []model.ChatMessage
}

// ChatReply is the assistant's answer with suggested follow-ups.
type ChatReply struct {
	Content  string   `json:"content"`
	Prefills []string `json:"prefills"`
}

type chatOutput struct {
	Content  string   `json:"content"`
	Prefills []string `json:"prefills"`
}

// Chat answers a free-form message in the light of the reader's profile.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (ChatReply, error) {
	if strings.TrimSpace(req.Message) == "" {
		return ChatReply{}, fmt.Errorf("%w: chat message is empty", ErrEmptyInput)
	}

	p := prompt.Chat(req.Profile, req.Message)
	history := make([]llm.Message, 0, len(req.History))
	for _, m := range req.History {
		role := llm.RoleUser
		if m.Role == model.RoleAssistant {
			role = llm.RoleAssistant
		}
		history = append(history, llm.Message{Role: role, Content: m.Content})
	}

	raw, err := o.llm.Complete(ctx, llm.Conversation(p.System, history, p.User), llm.Params{MaxTokens: chatMaxTokens})
	if err != nil {
		return ChatReply{}, fmt.Errorf("answering chat message: %w", err)
	}

	reply := ChatReply{Content: strings.TrimSpace(raw)}
	out, method, err := normalize.Decode[chatOutput](raw)
	if err == nil && strings.TrimSpace(out.Content) != "" {
		reply.Content = strings.TrimSpace(out.Content)
		reply.Prefills = out.Prefills
	} else {
		o.logger.Warn("chat output degraded to plain text", "method", method, "response_len", len(raw))
	}

	reply.Prefills = capPrefills(reply.Prefills)
	if len(reply.Prefills) == 0 {
		reply.Prefills = append([]string(nil), DefaultPrefills...)
	}
	return reply, nil
}

func capPrefills(in []string) []string {
	out := make([]string, 0, model.MaxPrefills)
	for _, p := range in {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == model.MaxPrefills {
			break
		}
	}
	return out
}
