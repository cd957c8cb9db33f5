// Package classifier talks to the external AI vision service that scores
// issue photos against the category enumeration. The service is untrusted:
// every caller must be prepared for an error, a timeout, or garbage output.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/civicgrid/civic-issues-api/engine"
	"github.com/civicgrid/civic-issues-api/models"
)

// RequestTimeout caps a single classification call so a slow vision model
// can never block a submission.
const RequestTimeout = 20 * time.Second

const systemPrompt = `You classify photos of civic infrastructure problems.
Respond with a single JSON object and nothing else:
{"category": "<one of: %s>", "confidence": <0.0-1.0>, "explanation": "<one sentence>"}`

// OpenAIClassifier implements engine.Classifier over the OpenAI vision chat
// API.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

// New builds a classifier for the given API key and model. An empty model
// picks GPT-4o.
func New(apiKey, model string) *OpenAIClassifier {
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIClassifier{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Classify sends the issue photos to the vision model and parses its scored
// category.
func (c *OpenAIClassifier) Classify(ctx context.Context, imageURLs []string, citizenCategory models.IssueCategory) (engine.ClassifierResult, error) {
	if len(imageURLs) == 0 {
		return engine.ClassifierResult{}, fmt.Errorf("no images to classify")
	}

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	categories := make([]string, len(models.Categories))
	for i, cat := range models.Categories {
		categories[i] = string(cat)
	}

	parts := []openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: fmt.Sprintf("The citizen filed this under %q. What is it?", citizenCategory),
	}}
	for _, url := range imageURLs {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailLow},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf(systemPrompt, strings.Join(categories, ", ")),
			},
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			},
		},
		MaxTokens: 200,
	})
	if err != nil {
		return engine.ClassifierResult{}, fmt.Errorf("vision classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return engine.ClassifierResult{}, fmt.Errorf("vision classify: empty response")
	}

	result, err := ParseResult(resp.Choices[0].Message.Content)
	if err != nil {
		return engine.ClassifierResult{}, err
	}

	zap.S().Debugw("classifier result",
		"category", result.Category,
		"confidence", result.Confidence,
	)
	return result, nil
}

// ParseResult extracts the scored category from the model's reply. Models
// occasionally wrap JSON in code fences or prose; we take the outermost
// object.
func ParseResult(content string) (engine.ClassifierResult, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return engine.ClassifierResult{}, fmt.Errorf("vision classify: no JSON object in %q", content)
	}

	var payload struct {
		Category    string  `json:"category"`
		Confidence  float64 `json:"confidence"`
		Explanation string  `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &payload); err != nil {
		return engine.ClassifierResult{}, fmt.Errorf("vision classify: %w", err)
	}

	return engine.ClassifierResult{
		Category:    models.IssueCategory(strings.ToLower(strings.TrimSpace(payload.Category))),
		Confidence:  payload.Confidence,
		Explanation: payload.Explanation,
	}, nil
}
