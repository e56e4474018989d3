package core

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Citation is one registry entry.
type Citation struct {
	Title  string `json:"title"`
	Number int    `json:"number"`
}

// CitationRegistry is the append-only url -> number map shared by every
// chapter of a run. Numbers start at 1 and are never reused or changed.
type CitationRegistry struct {
	mu      sync.RWMutex
	entries *orderedmap.OrderedMap[string, Citation]
	next    int
}

// NewCitationRegistry returns an empty registry whose next number is 1.
func NewCitationRegistry() *CitationRegistry {
	return &CitationRegistry{entries: orderedmap.New[string, Citation](), next: 1}
}

// Assign returns the number of rawURL, allocating the next one on first use.
// The title recorded at first use is kept.
func (r *CitationRegistry) Assign(rawURL, title string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.entries.Get(rawURL); ok {
		return c.Number
	}
	n := r.next
	r.entries.Set(rawURL, Citation{Title: title, Number: n})
	r.next++
	return n
}

// Lookup returns the entry for rawURL.
func (r *CitationRegistry) Lookup(rawURL string) (Citation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries.Get(rawURL)
}

// Len is the number of distinct urls cited so far.
func (r *CitationRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries.Len()
}

// NextNumber is the number the next unseen url will receive.
func (r *CitationRegistry) NextNumber() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.next
}

// Sources lists every entry ordered by number.
func (r *CitationRegistry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, r.entries.Len())
	// insertion order is number order
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, Source{Number: pair.Value.Number, Title: pair.Value.Title, URL: pair.Key})
	}
	return out
}

// MarshalJSON renders the registry in its shared-context shape.
func (r *CitationRegistry) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return json.Marshal(struct {
		Citations *orderedmap.OrderedMap[string, Citation] `json:"citations"`
		Next      int                                      `json:"next_citation_number"`
	}{r.entries, r.next})
}

var citationMarker = regexp.MustCompile(`\[ref:\s*([^\]|\s]+)\s*(?:\|\s*([^\]]*?)\s*)?\]`)

// ApplyCitations rewrites inline markers of the form [ref:<url>] or
// [ref:<url>|<title>] to their numbered form [n], assigning numbers from the
// registry in order of appearance. titles supplies fallback titles by url.
func ApplyCitations(text string, reg *CitationRegistry, titles map[string]string) (string, []int) {
	var used []int
	out := citationMarker.ReplaceAllStringFunc(text, func(m string) string {
		sub := citationMarker.FindStringSubmatch(m)
		link := strings.TrimRight(sub[1], ".,;")
		title := strings.TrimSpace(sub[2])
		if title == "" {
			title = titles[link]
		}
		if title == "" {
			title = hostOf(link)
		}
		if title == "" {
			title = link
		}
		n := reg.Assign(link, title)
		used = append(used, n)
		return fmt.Sprintf("[%d]", n)
	})
	return out, used
}

// RenderReferences renders the reference list ordered by number.
func RenderReferences(sources []Source) string {
	if len(sources) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## References\n\n")
	for _, s := range sources {
		fmt.Fprintf(&b, "[%d] %s. %s\n", s.Number, s.Title, s.URL)
	}
	return b.String()
}

func hostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}
