package normalize

import (
	"strings"

	"github.com/kalambet/margin/internal/model"
)

// Kind tags a discussion result as parsed or degraded.
type Kind int

const (
	Parsed Kind = iota
	Degraded
)

func (k Kind) String() string {
	if k == Degraded {
		return "degraded"
	}
	return "parsed"
}

// emptyOutputNotice stands in for a completion that carried no text at all.
const emptyOutputNotice = "I wasn't able to put together an answer this time. Please try asking again."

// Result is the outcome of normalizing one discussion completion.
// Response.Content is never empty.
type Result struct {
	Kind     Kind
	Method   Method
	Response model.DiscussionResponse
	Raw      string
}

// Degraded reports whether the result came from the plain-text fallback.
// Degraded responses carry no learning aids or prefills.
func (r Result) Degraded() bool { return r.Kind == Degraded }

// Discussion normalizes raw discussion output. It never fails.
func Discussion(raw string) Result {
	resp, method, err := decodeWhere(raw, func(r model.DiscussionResponse) bool {
		return strings.TrimSpace(r.Content) != ""
	})
	if err != nil {
		return Result{Kind: Degraded, Method: MethodFallback, Response: degrade(raw), Raw: raw}
	}
	return Result{Kind: Parsed, Method: method, Response: tidy(resp), Raw: raw}
}

func degrade(raw string) model.DiscussionResponse {
	content := raw
	if strings.TrimSpace(content) == "" {
		content = emptyOutputNotice
	}
	return model.DiscussionResponse{
		Content:      content,
		LearningAids: []model.LearningAid{},
		Prefills:     []string{},
	}
}

// tidy drops aids of unknown type, caps prefills and replaces nil slices
// with empty ones.
func tidy(r model.DiscussionResponse) model.DiscussionResponse {
	aids := make([]model.LearningAid, 0, len(r.LearningAids))
	for _, a := range r.LearningAids {
		a.Type = model.AidType(strings.ToLower(strings.TrimSpace(string(a.Type))))
		if !a.Type.Valid() {
			continue
		}
		aids = append(aids, a)
	}
	r.LearningAids = aids

	prefills := make([]string, 0, model.MaxPrefills)
	for _, p := range r.Prefills {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		prefills = append(prefills, p)
		if len(prefills) == model.MaxPrefills {
			break
		}
	}
	r.Prefills = prefills
	return r
}
