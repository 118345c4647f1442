package profile

import "github.com/kalambet/margin/internal/model"

// Patch is an explicit profile edit. Nil fields are left unchanged; a
// non-nil slice replaces the stored list.
type Patch struct {
	Age          *int     `json:"age,omitempty"`
	Gender       *string  `json:"gender,omitempty"`
	Areas        []string `json:"areas,omitempty"`
	Inspirations []string `json:"inspirations,omitempty"`
	Context      *string  `json:"context,omitempty"`
	LinkedInURL  *string  `json:"linkedinUrl,omitempty"`

	Reading    *string `json:"reading,omitempty"`
	Interests  *string `json:"interests,omitempty"`
	Motivation *string `json:"motivation,omitempty"`
	Personal   *string `json:"personal,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Age == nil && p.Gender == nil && p.Areas == nil && p.Inspirations == nil &&
		p.Context == nil && p.LinkedInURL == nil &&
		p.Reading == nil && p.Interests == nil && p.Motivation == nil && p.Personal == nil
}

func (p Patch) apply(dst *model.UserProfile) {
	if p.Age != nil {
		dst.Age = *p.Age
	}
	if p.Gender != nil {
		dst.Gender = *p.Gender
	}
	if p.Areas != nil {
		dst.Areas = append([]string(nil), p.Areas...)
	}
	if p.Inspirations != nil {
		dst.Inspirations = append([]string(nil), p.Inspirations...)
	}
	if p.Context != nil {
		dst.Context = *p.Context
	}
	if p.LinkedInURL != nil {
		dst.LinkedInURL = *p.LinkedInURL
	}
	if p.Reading != nil {
		dst.Reading = *p.Reading
	}
	if p.Interests != nil {
		dst.Interests = *p.Interests
	}
	if p.Motivation != nil {
		dst.Motivation = *p.Motivation
	}
	if p.Personal != nil {
		dst.Personal = *p.Personal
	}
}
