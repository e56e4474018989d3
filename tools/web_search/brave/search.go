package brave

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/core"
)

const DefaultBaseURL = "https://api.search.brave.com/res/v1/web/search"

// maxCount is the largest page Brave serves.
const maxCount = 20

type Search struct {
	APIKey  string
	BaseURL string
	Client  *core.HTTPClient
}

type response struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (s *Search) Search(ctx context.Context, q string, k int) ([]core.SearchResult, error) {
	// https://api.search.brave.com/app/documentation/web-search
	if k <= 0 || k > maxCount {
		k = maxCount
	}
	base := s.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("count", strconv.Itoa(k))
	headers := map[string]string{
		"Accept":               "application/json",
		"X-Subscription-Token": s.APIKey,
	}

	client := s.Client
	if client == nil {
		client = core.NewHTTPClient(0, 0, 0)
	}

	var raw response
	if err := client.DoJSON(ctx, http.MethodGet, base+"?"+params.Encode(), headers, nil, &raw); err != nil {
		return nil, core.SearchError("brave", err)
	}
	out := make([]core.SearchResult, 0, len(raw.Web.Results))
	for _, r := range raw.Web.Results {
		if len(out) >= k {
			break
		}
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		out = append(out, core.SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return out, nil
}

