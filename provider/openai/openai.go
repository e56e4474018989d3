package openai_provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/core"
)

const (
	OpenAIBaseURL   = "https://api.openai.com/v1"
	DeepSeekBaseURL = "https://api.deepseek.com"
)

// client implements core.Drafter over the chat-completions API.
type client struct {
	apiKey          string
	endpoint        string
	completionModel string
	temperature     float64
	maxTokens       int
	http            *core.HTTPClient
}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewOpenAIClient creates a chat-completions client rooted at baseURL.
func NewOpenAIClient(apiKey, baseURL, completionModel string, temperature float64, maxTokens int, timeout time.Duration, retries int) *client {
	return &client{
		apiKey:          apiKey,
		endpoint:        strings.TrimRight(baseURL, "/") + "/chat/completions",
		completionModel: completionModel,
		temperature:     temperature,
		maxTokens:       maxTokens,
		http:            core.NewHTTPClient(timeout, retries, 0),
	}
}

// Draft sends the prompt as a system and a user message and returns the
// first choice verbatim.
func (c *client) Draft(ctx context.Context, p core.Prompt) (string, error) {
	messages := make([]Message, 0, 2)
	if strings.TrimSpace(p.System) != "" {
		messages = append(messages, Message{Role: "system", Content: p.System})
	}
	messages = append(messages, Message{Role: "user", Content: p.User})

	return c.sendRequest(ctx, p.Stage, messages)
}

func (c *client) sendRequest(ctx context.Context, stage string, messages []Message) (string, error) {
	body := request{
		Model:       c.completionModel,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"Accept":        "application/json",
	}
	var resp response
	if err := c.http.DoJSON(ctx, http.MethodPost, c.endpoint, headers, body, &resp); err != nil {
		return "", core.ModelError(stage, err)
	}
	if len(resp.Choices) == 0 {
		return "", core.ModelError(stage, errors.New("no choices in response"))
	}
	return resp.Choices[0].Message.Content, nil
}

var _ core.Drafter = (*client)(nil)
