// Package prompt builds the system/user message pairs sent to the
// completion service. Every builder is a pure function of its inputs.
package prompt

import (
	"fmt"
	"strings"

	"github.com/kalambet/margin/internal/model"
)

// Pair is a system/user message pair ready for completion.
type Pair struct {
	System string
	User   string
}

// ContextType selects the discussion prompt variant.
type ContextType string

const (
	Question         ContextType = "question"
	Overview         ContextType = "overview"
	Exploration      ContextType = "exploration"
	ExplorationGuide ContextType = "exploration_guide"
	TopicExploration ContextType = "topic_exploration"
)

// ParseContextType maps s onto a known ContextType. Unknown or empty values
// fall back to Question.
func ParseContextType(s string) ContextType {
	switch t := ContextType(strings.ToLower(strings.TrimSpace(s))); t {
	case Question, Overview, Exploration, ExplorationGuide, TopicExploration:
		return t
	default:
		return Question
	}
}

// TurnType is the history classification for requests of this type.
func (t ContextType) TurnType() model.TurnType {
	switch t {
	case Overview:
		return model.TurnOverview
	case Exploration:
		return model.TurnExploration
	case ExplorationGuide:
		return model.TurnExplorationGuide
	case TopicExploration:
		return model.TurnTopicExploration
	default:
		return model.TurnQuestion
	}
}

// Context carries the interaction details of a discussion request.
type Context struct {
	Type     ContextType `json:"type"`
	Goal     string      `json:"goal,omitempty"`
	Category string      `json:"category,omitempty"`
	Topic    string      `json:"topic,omitempty"`
}

// GuideInput is the user message that requests an exploration guide.
const GuideInput = "Generate a structured exploration guide with main categories and specific topics to explore"

// OverviewInput is the user message that requests an overview for goal.
func OverviewInput(b model.Book, goal string) string {
	return fmt.Sprintf("Explain the key concepts of %s focusing on %s", b.Title, goal)
}

// TopicInput is the user message sent when a guide topic is clicked.
func TopicInput(b model.Book, category, topic string) string {
	return fmt.Sprintf("Analyze %s in %s, focusing on its significance within the %s.", topic, b.Title, category)
}

// AidInput is the user message sent when a learning aid is expanded.
func AidInput(b model.Book, aidTitle string) string {
	return fmt.Sprintf("Can you elaborate on %s in %s?", aidTitle, b.Title)
}

func describeBook(b model.Book) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%q", b.Title)
	if b.Author != "" {
		fmt.Fprintf(&sb, " by %s", b.Author)
	}
	return sb.String()
}

func orNotProvided(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Not provided"
	}
	return s
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None selected"
	}
	return strings.Join(items, ", ")
}
