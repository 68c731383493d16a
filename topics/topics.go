// Package topics classifies transcriptions against the curated topic
// taxonomy. A chat model picks from the existing topic names only; anything
// it invents is discarded and an empty pick degrades to Unknown rather than
// failing the pipeline.
package topics

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mixware/mxwhisper/store"
)

const classifySystemPrompt = `You are a librarian assigning topics to a transcription.
Pick between one and three topics from the provided list that best describe the content.
Respond with the chosen topic names only, comma separated. Never invent a topic that is not on the list.`

// Classifier asks a chat model to label content with known topic names.
type Classifier struct {
	api   *openai.Client
	model string
}

// NewClassifier builds a Classifier against an OpenAI-compatible endpoint
// (baseURL includes the /v1 suffix).
func NewClassifier(baseURL, apiKey, model string) *Classifier {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return &Classifier{api: openai.NewClientWithConfig(cfg), model: model}
}

// Classify picks topic names for the content described by the chunk
// summaries. available is the full list of curated topic names. The result
// is non-empty: content the model cannot place comes back as Unknown.
func (c *Classifier) Classify(ctx context.Context, summaries, available []string) ([]string, error) {
	if len(summaries) == 0 {
		return []string{store.UnknownTopicName}, nil
	}
	user := fmt.Sprintf("Available topics:\n%s\n\nContent summaries:\n- %s",
		strings.Join(available, ", "),
		strings.Join(summaries, "\n- "))

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifySystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("classify topics: %w", err)
	}
	if len(resp.Choices) == 0 {
		return []string{store.UnknownTopicName}, nil
	}
	return MatchNames(resp.Choices[0].Message.Content, available), nil
}

// MatchNames extracts known topic names from a model response. The response
// is split on commas and newlines first, each piece stripped of quotes and
// list markers and matched case-insensitively; when that yields nothing the
// whole response is scanned for each name on a word boundary. An empty match
// set becomes Unknown.
func MatchNames(response string, available []string) []string {
	canon := make(map[string]string, len(available))
	for _, name := range available {
		canon[strings.ToLower(name)] = name
	}

	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	for _, piece := range strings.FieldsFunc(response, func(r rune) bool {
		return r == ',' || r == '\n'
	}) {
		piece = strings.Trim(piece, " \t\"'`*-.0123456789)")
		add(canon[strings.ToLower(piece)])
	}

	if len(out) == 0 {
		for _, name := range available {
			re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
			if re.MatchString(response) {
				add(name)
			}
		}
	}

	if len(out) == 0 {
		out = append(out, store.UnknownTopicName)
	}
	return out
}
