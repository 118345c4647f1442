package prompt

import (
	"fmt"
	"strings"

	"github.com/kalambet/margin/internal/model"
)

const discussionFormat = `For every response, provide:
1. A clear, concise main answer (2-3 sentences) in "content".
2. One or two learning aids in "learningAids" that deepen understanding. Each aid has a "type" of:
   - "think": a thought-provoking discussion prompt
   - "why": an explanation of significance
   - "list": key points or examples
   - "background": historical or contextual information
   - "explore": connections to other works or ideas
3. Exactly three follow-up questions in "prefills".
4. Optionally, a short "audioTranscript" of the key concept suitable for text-to-speech.`

const guideFormat = `Build an exploration guide in "explorationGuide": an object whose keys are thematic categories (for example "Themes", "Characters", "Symbolism") and whose values are arrays of specific topics from the book.
Put a one or two sentence introduction in "content".
Put exactly three thought-provoking follow-up questions, specific to the book and its topics, in "prefills".`

// Discussion builds the prompt for a discussion turn about b. The variant is
// selected by c.Type; unrecognized types use the general question variant.
func Discussion(b model.Book, input string, c Context) Pair {
	if c.Type == ExplorationGuide {
		return guide(b, input)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are an AI reading assistant helping a reader discuss %s.\n", describeBook(b))
	if b.Description != "" {
		fmt.Fprintf(&sb, "About the book: %s\n", b.Description)
	}

	switch c.Type {
	case Overview:
		if goal := strings.TrimSpace(c.Goal); goal != "" {
			fmt.Fprintf(&sb, "Generate an overview of the book focused on the learning goal: %s.\n", goal)
		} else {
			sb.WriteString("Generate an overview of the book's central ideas.\n")
		}
		sb.WriteString("Include learning aids relevant to the goal and an audio-friendly overview in \"audioTranscript\".\n")
	case Exploration:
		sb.WriteString("The reader wants to go deeper into a learning aid from this discussion. Expand on it with concrete passages, examples and connections from the book.\n")
	case TopicExploration:
		fmt.Fprintf(&sb, "The reader is exploring the topic %q within the category %q. Explain its significance and how it develops across the book.\n", c.Topic, c.Category)
	default:
		sb.WriteString("Provide thoughtful analysis and learning aids to help the reader understand the book.\n")
	}

	sb.WriteString("\n")
	sb.WriteString(discussionFormat)
	sb.WriteString("\n\n")
	sb.WriteString(responseContract(discussionSchema))

	return Pair{System: sb.String(), User: input}
}

func guide(b model.Book, input string) Pair {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are an AI reading assistant helping a reader explore %s.\n", describeBook(b))
	sb.WriteString("Generate a structured exploration guide.\n\n")
	sb.WriteString(guideFormat)
	sb.WriteString("\n\n")
	sb.WriteString(responseContract(guideSchema))
	if strings.TrimSpace(input) == "" {
		input = GuideInput
	}
	return Pair{System: sb.String(), User: input}
}
