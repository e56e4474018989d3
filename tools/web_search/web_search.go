// Package web_search adapts hosted web search APIs to core.Searcher.
package web_search

import (
	"errors"
	"time"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/core"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/tools/web_search/brave"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/tools/web_search/serper"
)

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported search provider")

// Options tune the adapter. Zero values use the provider defaults.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

func NewWebSearcher(provider Provider, apiKey string, opts Options) (core.Searcher, error) {
	if apiKey == "" {
		return nil, errors.New("search api key is required")
	}
	client := core.NewHTTPClient(opts.Timeout, opts.MaxRetries, 0)
	switch provider {
	case SerperProvider:
		return &serper.Search{APIKey: apiKey, BaseURL: opts.BaseURL, Client: client}, nil
	case BraveProvider:
		return &brave.Search{APIKey: apiKey, BaseURL: opts.BaseURL, Client: client}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
