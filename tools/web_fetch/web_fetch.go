// Package web_fetch retrieves pages and extracts their readable text.
package web_fetch

import (
	"context"
	"errors"
	"time"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/tools/web_fetch/models"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/tools/web_fetch/readable"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	ReadableFetcherType FetcherType = "readable"
)

var ErrUnsupportedFetcher = errors.New("unsupported fetcher type")

func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case ReadableFetcherType:
		return readable.New(timeout, maxChars), nil
	default:
		return nil, ErrUnsupportedFetcher
	}
}
