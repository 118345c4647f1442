package prompt

import (
	"fmt"
	"strings"

	"github.com/kalambet/margin/internal/model"
)

const profileSystem = `You are a professional profile analyzer that creates detailed, natural-language descriptions of readers based on their onboarding answers.`

const recommendationSystem = `You are a book recommendation system. Each category must have exactly 5 book recommendations. Return ONLY valid JSON: no markdown, no code fences, no backticks and no explanation.`

// ProfileSynthesis builds the prompt that turns onboarding answers into the
// four narrative profile sections.
func ProfileSynthesis(a model.Answers) Pair {
	age := "Not provided"
	if a.Age > 0 {
		age = fmt.Sprintf("%d", a.Age)
	}

	var sb strings.Builder
	sb.WriteString("Based on the following reader information, generate comprehensive profile sections:\n\n")
	fmt.Fprintf(&sb, "Age: %s\n", age)
	fmt.Fprintf(&sb, "Gender: %s\n", orNotProvided(a.Gender))
	fmt.Fprintf(&sb, "Areas of Interest: %s\n", joinOrNone(a.Areas))
	fmt.Fprintf(&sb, "Inspirational Figures: %s\n", joinOrNone(a.Inspirations))
	fmt.Fprintf(&sb, "Additional Context: %s\n", orNotProvided(a.Context))
	fmt.Fprintf(&sb, "LinkedIn URL: %s\n", orNotProvided(a.LinkedInURL))
	sb.WriteString(`
Provide detailed, natural-language text for each section:
1. "reading": reading profile and preferences, describing their learning style based on their areas of interest
2. "interests": interests and expertise, analyzing their chosen areas
3. "motivation": motivation and goals, based on their inspirational figures and areas of interest
4. "personal": personal context, synthesizing their demographic and professional information`)

	return Pair{
		System: profileSystem + "\n\n" + responseContract(narrativeSchema),
		User:   sb.String(),
	}
}

// Recommendations builds the prompt that requests exactly five books in
// each of the three recommendation categories.
func Recommendations(p model.UserProfile) Pair {
	var sb strings.Builder
	sb.WriteString("Generate 5 book recommendations for each category based on this reader profile:\n\n")
	fmt.Fprintf(&sb, "Reading Profile: %s\n", orNotProvided(p.Reading))
	fmt.Fprintf(&sb, "Interests & Expertise: %s\n", orNotProvided(p.Interests))
	fmt.Fprintf(&sb, "Motivation & Goals: %s\n", orNotProvided(p.Motivation))
	fmt.Fprintf(&sb, "Personal Context: %s\n", orNotProvided(p.Personal))
	if len(p.Areas) > 0 {
		fmt.Fprintf(&sb, "Selected Areas: %s\n", strings.Join(p.Areas, ", "))
	}
	if len(p.Inspirations) > 0 {
		fmt.Fprintf(&sb, "Inspirations: %s\n", strings.Join(p.Inspirations, ", "))
	}
	sb.WriteString(`
Provide exactly 5 books for each category: "topOfMind" (Top of Mind), "careerGrowth" (Career Growth) and "personalInterests" (Personal Interests).
Each book needs a title, author, brief description, why it is relevant to this reader, and at least three key takeaways.`)

	return Pair{
		System: recommendationSystem + "\n\n" + responseContract(recommendationSchema),
		User:   sb.String(),
	}
}
