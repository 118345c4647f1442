package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/margin/internal/model"
)

const extractionSystem = `Extract book information from the reader's message. If a specific book is mentioned, set "bookFound" to true and return its title and, if known, its author. If no book is clearly mentioned, set "bookFound" to false and leave "title" empty.`

const summarySystem = `Analyze this book discussion and extract, concisely:
1. Key insights and takeaways ("keyTakeaways")
2. Main topics discussed ("topics")
3. Reading preferences and interests ("preferences")
4. Areas of focus ("focusAreas")`

const chatSystem = `You are a knowledgeable book recommendation assistant. Consider the reader's profile when recommending and discussing books. Keep the answer in "content" and offer exactly three follow-up questions in "prefills".`

// BookExtraction builds the constrained prompt that identifies which book a
// free-text message refers to.
func BookExtraction(text string) Pair {
	return Pair{
		System: extractionSystem + "\n\n" + responseContract(extractionSchema),
		User:   text,
	}
}

// SessionSummary builds the prompt that analyzes a finished discussion.
// The user message is the JSON document {book, chatHistory}.
func SessionSummary(b model.Book, transcript []model.ChatMessage) Pair {
	if transcript == nil {
		transcript = []model.ChatMessage{}
	}
	payload, err := json.Marshal(struct {
		Book        model.Book          `json:"book"`
		ChatHistory []model.ChatMessage `json:"chatHistory"`
	}{b, transcript})
	if err != nil {
		// Book and ChatMessage hold only strings and string slices.
		panic(fmt.Sprintf("marshalling discussion transcript: %v", err))
	}
	return Pair{
		System: summarySystem + "\n\n" + responseContract(summarySchema),
		User:   string(payload),
	}
}

// Chat builds the system prompt and user message for the stateless chat
// endpoint. Prior history is inserted between the two by the caller.
func Chat(p model.UserProfile, message string) Pair {
	var sb strings.Builder
	sb.WriteString(chatSystem)
	sb.WriteString("\n\n[Reader Profile]\n")
	fmt.Fprintf(&sb, "- Areas of Interest: %s\n", joinOrNone(p.Areas))
	fmt.Fprintf(&sb, "- Inspirations: %s\n", joinOrNone(p.Inspirations))
	if p.Reading != "" {
		fmt.Fprintf(&sb, "- Reading Profile: %s\n", p.Reading)
	}
	if p.Motivation != "" {
		fmt.Fprintf(&sb, "- Motivation: %s\n", p.Motivation)
	}
	sb.WriteString("\n")
	sb.WriteString(responseContract(chatSchema))
	return Pair{System: sb.String(), User: message}
}
