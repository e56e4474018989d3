package readable

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/tools/web_fetch/models"
)

const (
	userAgent = "deepsearch/1.0 (+https://github.com/LordFoxFairy/deepseek-deepsearch-quickstart)"
	maxBody   = 4 << 20
)

// Fetch downloads a page over plain HTTP and runs readability over it.
type Fetch struct {
	Client   *http.Client
	MaxChars int
}

func New(timeout time.Duration, maxChars int) *Fetch {
	return &Fetch{Client: &http.Client{Timeout: timeout}, MaxChars: maxChars}
}

// Exec returns the readable text of link. Non-2xx responses are reported in
// Status with a nil error; transport failures are errors.
func (f *Fetch) Exec(ctx context.Context, link string) (models.Result, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.Result{}, errors.New("invalid url")
	}
	t0 := time.Now()
	elapsed := func() int { return int(time.Since(t0) / time.Millisecond) }

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.Result{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := f.Client.Do(req)
	if err != nil {
		return models.Result{URL: link, Status: 599, RenderMS: elapsed()}, fmt.Errorf("fetch %s: %w", link, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Result{URL: link, Status: resp.StatusCode, RenderMS: elapsed()}, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return models.Result{URL: link, Status: resp.StatusCode, RenderMS: elapsed()}, fmt.Errorf("read %s: %w", link, err)
	}
	html := string(body)

	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return models.Result{URL: link, Status: resp.StatusCode, RenderMS: elapsed()}, nil
	}
	sum := sha1.Sum(body)

	return models.Result{
		URL:      link,
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		SiteName: strings.TrimSpace(article.SiteName),
		Text:     truncate(strings.TrimSpace(article.TextContent), f.MaxChars),
		HTMLHash: hex.EncodeToString(sum[:]),
		Status:   resp.StatusCode,
		RenderMS: elapsed(),
	}, nil
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
