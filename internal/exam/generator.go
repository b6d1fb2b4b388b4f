// Package exam turns a room's transcript into a generated exam using the
// Gemini API.
package exam

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"

	"conference-transcription-service/internal/transcript"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.0-flash-lite-001"

// Question is one generated exam question. Multiple choice questions carry
// four options; yes/no questions carry none.
type Question struct {
	Type     string   `json:"type"` // "multiple_choice" or "yes_no"
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Answer   string   `json:"answer"`
}

const promptTemplate = `You are an expert educator. Based on the following conversation, create a comprehensive exam that tests understanding of the discussed topics.
Requirements:
  - Create only multiple choice and yes/no questions
  - Each multiple choice question should have 4 options
  - Include the correct answer for each question

The response should be a with this format and omit everything else:
[
  {
    "type": "multiple_choice or yes_no",
    "question": "question text",
    "options": ["option 1", "option 2", "option 3", "option 4"],
    "answer": "correct answer"
  },
  ...
]

Conversation transcript:
%s`

// Generator produces exams from conversations.
type Generator struct {
	model *genai.GenerativeModel
	log   zerolog.Logger
}

// NewGenerator binds a generator to a Gemini model on a shared client.
func NewGenerator(client *genai.Client, modelName string, log zerolog.Logger) *Generator {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Generator{
		model: client.GenerativeModel(modelName),
		log:   log,
	}
}

// Generate asks the model for an exam over the given conversation.
func (g *Generator) Generate(ctx context.Context, conversation string) ([]Question, error) {
	prompt := fmt.Sprintf(promptTemplate, conversation)

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("generate exam: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, fmt.Errorf("generate exam: empty model response")
	}

	questions, err := parseQuestions(text)
	if err != nil {
		g.log.Error().Err(err).Str("response", text).Msg("exam response did not parse")
		return nil, err
	}
	return questions, nil
}

// BuildConversation renders transcript lines as "<label>: <message>" for the
// prompt, skipping lines that do not match the stored format.
func BuildConversation(lines []string) string {
	var out []string
	for _, line := range lines {
		parsed, ok := transcript.ParseLine(line)
		if !ok {
			continue
		}
		out = append(out, parsed.Label+": "+parsed.Message)
	}
	return strings.Join(out, "\n")
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}

// parseQuestions strips markdown code fences and decodes the question array.
func parseQuestions(text string) ([]Question, error) {
	cleaned := strings.ReplaceAll(text, "```json\n", "")
	cleaned = strings.ReplaceAll(cleaned, "\n```", "")
	cleaned = strings.TrimSpace(cleaned)

	var questions []Question
	if err := json.Unmarshal([]byte(cleaned), &questions); err != nil {
		return nil, fmt.Errorf("decode exam: %w", err)
	}
	return questions, nil
}
