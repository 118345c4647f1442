package prompt

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

type learningAidContract struct {
	Type    string `json:"type" jsonschema:"required,enum=think,enum=why,enum=list,enum=background,enum=explore"`
	Title   string `json:"title" jsonschema:"required"`
	Content string `json:"content" jsonschema:"required"`
}

type discussionContract struct {
	Content         string                `json:"content" jsonschema:"required"`
	LearningAids    []learningAidContract `json:"learningAids" jsonschema:"required,minItems=1,maxItems=2"`
	Prefills        []string              `json:"prefills" jsonschema:"required,minItems=3,maxItems=3"`
	AudioTranscript string                `json:"audioTranscript,omitempty"`
}

type guideContract struct {
	ExplorationGuide map[string][]string `json:"explorationGuide" jsonschema:"required"`
	Content          string              `json:"content" jsonschema:"required"`
	Prefills         []string            `json:"prefills" jsonschema:"required,minItems=3,maxItems=3"`
}

type chatContract struct {
	Content  string   `json:"content" jsonschema:"required"`
	Prefills []string `json:"prefills" jsonschema:"required,minItems=3,maxItems=3"`
}

type narrativeContract struct {
	Reading    string `json:"reading" jsonschema:"required"`
	Interests  string `json:"interests" jsonschema:"required"`
	Motivation string `json:"motivation" jsonschema:"required"`
	Personal   string `json:"personal" jsonschema:"required"`
}

type recommendationContract struct {
	Title        string   `json:"title" jsonschema:"required"`
	Author       string   `json:"author" jsonschema:"required"`
	Description  string   `json:"description" jsonschema:"required"`
	Relevance    string   `json:"relevance" jsonschema:"required"`
	KeyTakeaways []string `json:"keyTakeaways" jsonschema:"required,minItems=3"`
}

type recommendationSetContract struct {
	TopOfMind         []recommendationContract `json:"topOfMind" jsonschema:"required,minItems=5,maxItems=5"`
	CareerGrowth      []recommendationContract `json:"careerGrowth" jsonschema:"required,minItems=5,maxItems=5"`
	PersonalInterests []recommendationContract `json:"personalInterests" jsonschema:"required,minItems=5,maxItems=5"`
}

type extractionContract struct {
	BookFound bool   `json:"bookFound" jsonschema:"required"`
	Title     string `json:"title" jsonschema:"required"`
	Author    string `json:"author,omitempty"`
}

type summaryContract struct {
	KeyTakeaways []string `json:"keyTakeaways" jsonschema:"required"`
	Topics       []string `json:"topics" jsonschema:"required"`
	Preferences  []string `json:"preferences" jsonschema:"required"`
	FocusAreas   []string `json:"focusAreas" jsonschema:"required"`
}

// Schemas are reflected once so every prompt embeds byte-identical contracts.
var (
	discussionSchema     = schemaFor[discussionContract]()
	guideSchema          = schemaFor[guideContract]()
	chatSchema           = schemaFor[chatContract]()
	narrativeSchema      = schemaFor[narrativeContract]()
	recommendationSchema = schemaFor[recommendationSetContract]()
	extractionSchema     = schemaFor[extractionContract]()
	summarySchema        = schemaFor[summaryContract]()
)

func schemaFor[T any]() string {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	schema.Version = ""
	schema.ID = ""
	b, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("marshalling response schema for %T: %v", v, err))
	}
	return string(b)
}

// responseContract renders the machine-parsable output contract appended to
// system prompts.
func responseContract(schema string) string {
	return "Respond with ONLY a single JSON object, with no surrounding prose, that validates against this JSON Schema:\n" + schema
}
