package model

import "strings"

// Book identifies a title under discussion or recommendation.
type Book struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Author      string   `json:"author,omitempty"`
	Description string   `json:"description,omitempty"`
	Topics      []string `json:"topics,omitempty"`
}

// Key returns the book's storage key: its explicit ID when set, otherwise the
// slug of its title. Two references to the same title always share a key.
func (b Book) Key() string {
	if id := strings.TrimSpace(b.ID); id != "" {
		return id
	}
	return Slugify(b.Title)
}

// WithKey returns a copy of b whose ID is populated.
func (b Book) WithKey() Book {
	b.ID = b.Key()
	return b
}
