package model

import "time"

// Answers are the raw onboarding inputs collected before synthesis.
type Answers struct {
	Age          int      `json:"age,omitempty"`
	Gender       string   `json:"gender,omitempty"`
	Areas        []string `json:"areas"`
	Inspirations []string `json:"inspirations"`
	Context      string   `json:"context,omitempty"`
	LinkedInURL  string   `json:"linkedinUrl,omitempty"`
}

// Narrative holds the four synthesized profile sections.
type Narrative struct {
	Reading    string `json:"reading"`
	Interests  string `json:"interests"`
	Motivation string `json:"motivation"`
	Personal   string `json:"personal"`
}

// SessionInsight records what a finished discussion revealed about the reader.
type SessionInsight struct {
	Date      time.Time `json:"date"`
	BookID    string    `json:"bookId,omitempty"`
	BookTitle string    `json:"bookTitle,omitempty"`
	Insights  []string  `json:"insights"`
}

// UserProfile is the persisted reader profile.
type UserProfile struct {
	UserID string `json:"userId"`
	Answers
	Narrative
	SessionHistory []SessionInsight `json:"sessionHistory,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// Onboarded reports whether synthesis has populated the narrative sections.
func (p UserProfile) Onboarded() bool {
	return p.Reading != "" || p.Interests != "" || p.Motivation != "" || p.Personal != ""
}
