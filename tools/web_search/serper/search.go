package serper

import (
	"context"
	"net/http"
	"strings"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/core"
)

const DefaultBaseURL = "https://google.serper.dev/search"

type Search struct {
	APIKey  string
	BaseURL string
	Client  *core.HTTPClient
}

type request struct {
	Q   string `json:"q"`
	Num int    `json:"num,omitempty"`
}

type response struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

func (s *Search) Search(ctx context.Context, q string, k int) ([]core.SearchResult, error) {
	// https://serper.dev/ docs
	base := s.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	headers := map[string]string{"X-API-KEY": s.APIKey}
	client := s.Client
	if client == nil {
		client = core.NewHTTPClient(0, 0, 0)
	}

	var raw response
	if err := client.DoJSON(ctx, http.MethodPost, base, headers, request{Q: q, Num: k}, &raw); err != nil {
		return nil, core.SearchError("serper", err)
	}
	out := make([]core.SearchResult, 0, len(raw.Organic))
	for _, it := range raw.Organic {
		if k > 0 && len(out) >= k {
			break
		}
		if strings.TrimSpace(it.Link) == "" {
			continue
		}
		out = append(out, core.SearchResult{Title: it.Title, URL: it.Link, Snippet: it.Snippet})
	}
	return out, nil
}
