package model

// Onboarding option catalog offered to new readers.
var (
	AreaOptions = []string{
		"Emotions", "Motivation", "Nutrition",
		"Habits", "Self-confidence", "Mindset",
		"Self-care", "Exercise", "Empathy",
		"Love & relationships", "Personal Finance", "Creativity",
		"Innovation", "Leadership", "Technology",
	}

	InspirationOptions = []string{
		"Steve Jobs", "Richard Branson", "LeBron James",
		"Oprah Winfrey", "Emma Watson", "Serena Williams",
		"Jeff Bezos", "Kevin Hart", "Brené Brown",
	}

	GenderOptions = []string{
		"Male",
		"Female",
		"Non-binary",
		"Prefer not to say",
	}

	LearningGoals = []string{
		"Explore Key Ideas",
		"Apply to Life",
		"Critical Analysis",
		"Historical Context",
	}
)
