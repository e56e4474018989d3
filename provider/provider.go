// Package provider builds the language-model Drafter.
package provider

import (
	"errors"
	"time"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/core"
	openai_provider "github.com/LordFoxFairy/deepseek-deepsearch-quickstart/provider/openai"
)

// Client names an LLM API family.
type Client string

const (
	OpenAI   Client = "openai"
	DeepSeek Client = "deepseek"
)

type Options struct {
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// NewDrafter creates a Drafter for client. DeepSeek speaks the OpenAI
// chat-completions protocol and only differs in its defaults.
func NewDrafter(client Client, apiKey string, opts Options) (core.Drafter, error) {
	if apiKey == "" {
		return nil, errors.New("llm api key is required")
	}
	switch client {
	case DeepSeek, "":
		if opts.BaseURL == "" {
			opts.BaseURL = openai_provider.DeepSeekBaseURL
		}
		if opts.Model == "" {
			opts.Model = "deepseek-chat"
		}
	case OpenAI:
		if opts.BaseURL == "" {
			opts.BaseURL = openai_provider.OpenAIBaseURL
		}
		if opts.Model == "" {
			opts.Model = "gpt-4o-mini"
		}
	default:
		return nil, errors.New("unsupported LLM provider")
	}
	return openai_provider.NewOpenAIClient(apiKey, opts.BaseURL, opts.Model, opts.Temperature, opts.MaxTokens, opts.Timeout, opts.MaxRetries), nil
}
