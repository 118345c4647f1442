package model

import (
	"sort"
	"time"
)

// TurnType classifies a recorded discussion turn.
type TurnType string

const (
	TurnQuestion         TurnType = "question"
	TurnOverview         TurnType = "overview"
	TurnExploration      TurnType = "exploration"
	TurnExplorationGuide TurnType = "exploration_guide"
	TurnTopicExploration TurnType = "topic_exploration"
)

// AidType is the kind of a learning aid.
type AidType string

const (
	AidThink      AidType = "think"
	AidWhy        AidType = "why"
	AidList       AidType = "list"
	AidBackground AidType = "background"
	AidExplore    AidType = "explore"
)

// Valid reports whether t is one of the known aid types.
func (t AidType) Valid() bool {
	switch t {
	case AidThink, AidWhy, AidList, AidBackground, AidExplore:
		return true
	}
	return false
}

// LearningAid is a supplementary snippet attached to a discussion response.
type LearningAid struct {
	Type    AidType `json:"type"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
}

// MaxPrefills caps the follow-up suggestions attached to a response.
const MaxPrefills = 3

// DiscussionResponse is the structured answer to a discussion turn.
type DiscussionResponse struct {
	Content          string              `json:"content"`
	LearningAids     []LearningAid       `json:"learningAids"`
	Prefills         []string            `json:"prefills"`
	ExplorationGuide map[string][]string `json:"explorationGuide,omitempty"`
	AudioTranscript  string              `json:"audioTranscript,omitempty"`
}

// DiscussionTurn is one persisted exchange about a book.
type DiscussionTurn struct {
	Timestamp time.Time          `json:"timestamp"`
	Type      TurnType           `json:"type"`
	Input     string             `json:"input"`
	Response  DiscussionResponse `json:"response"`
	BookID    string             `json:"bookId"`
	BookTitle string             `json:"bookTitle"`
}

// SortTurns orders turns by timestamp ascending. Turns with equal
// timestamps keep their relative order.
func SortTurns(turns []DiscussionTurn) {
	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].Timestamp.Before(turns[j].Timestamp)
	})
}

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is a transcript entry returned to clients.
type ChatMessage struct {
	Role     Role     `json:"role"`
	Content  string   `json:"content"`
	Prefills []string `json:"prefills,omitempty"`
}

// SessionSummary is the analysis produced when a discussion ends.
type SessionSummary struct {
	KeyTakeaways []string `json:"keyTakeaways"`
	Topics       []string `json:"topics"`
	Preferences  []string `json:"preferences"`
	FocusAreas   []string `json:"focusAreas"`
}

// SummaryRecord is the document stored for a finished discussion.
type SummaryRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Book      Book           `json:"book"`
	Analysis  SessionSummary `json:"analysis"`
}
