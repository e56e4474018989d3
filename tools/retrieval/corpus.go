// Package retrieval is the per-run full-text index the writers draw
// passages from.
package retrieval

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"go.uber.org/zap"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/core"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/tools/web_fetch"
)

const (
	chunkSize    = 1000
	chunkOverlap = 200
)

type Options struct {
	// Fetcher, when set, replaces the snippet of up to FetchPages documents
	// per Index call with the readable text of the page.
	Fetcher    web_fetch.WebFetcher
	FetchPages int
	Logger     *zap.Logger
}

type chunk struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text"`
}

// Corpus is an in-memory bleve index. It is safe for concurrent use.
type Corpus struct {
	mu    sync.RWMutex
	index bleve.Index
	meta  map[string]chunk
	seen  map[string]bool
	opts  Options
	log   *zap.Logger
}

func NewCorpus(opts Options) (*Corpus, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Corpus{
		index: index,
		meta:  make(map[string]chunk),
		seen:  make(map[string]bool),
		opts:  opts,
		log:   logger.Named("retrieval"),
	}, nil
}

// Index chunks and indexes docs. A document whose url is already indexed,
// ignoring tracking parameters and fragments, is skipped.
func (c *Corpus) Index(ctx context.Context, docs []core.Document) error {
	fetched := 0
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.RLock()
		dup := doc.URL != "" && c.seen[urlKey(doc.URL)]
		c.mu.RUnlock()
		if dup {
			continue
		}
		if c.opts.Fetcher != nil && fetched < c.opts.FetchPages && doc.URL != "" {
			fetched++
			doc = c.enrich(ctx, doc)
		}
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		if err := c.add(doc); err != nil {
			return err
		}
	}
	return nil
}

func (c *Corpus) enrich(ctx context.Context, doc core.Document) core.Document {
	res, err := c.opts.Fetcher.Exec(ctx, doc.URL)
	if err != nil {
		c.log.Debug("page fetch failed", zap.String("url", doc.URL), zap.Error(err))
		return doc
	}
	if len(res.Text) > len(doc.Text) {
		doc.Text = res.Text
		if doc.Title == "" {
			doc.Title = res.Title
		}
	}
	return doc
}

func (c *Corpus) add(doc core.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash := sha1Hex(doc.URL + "\x00" + doc.Text)
	batch := c.index.NewBatch()
	parts := makeChunks(doc.Text, chunkSize, chunkOverlap)
	for i, part := range parts {
		id := fmt.Sprintf("%s#%03d", hash, i)
		ch := chunk{Title: doc.Title, URL: doc.URL, Text: part}
		if err := batch.Index(id, ch); err != nil {
			return fmt.Errorf("index %s: %w", doc.URL, err)
		}
		c.meta[id] = ch
	}
	if err := c.index.Batch(batch); err != nil {
		return fmt.Errorf("index %s: %w", doc.URL, err)
	}
	if doc.URL != "" {
		c.seen[urlKey(doc.URL)] = true
	}
	return nil
}

// Retrieve returns up to topK passages for query, best first. An empty index
// yields an empty list.
func (c *Corpus) Retrieve(ctx context.Context, query string, topK int) ([]core.Passage, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.meta) == 0 || strings.TrimSpace(query) == "" {
		return []core.Passage{}, nil
	}
	if topK <= 0 {
		topK = 3
	}
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, topK*3, 0, false)
	res, err := c.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]core.Passage, 0, topK)
	seen := map[string]bool{}
	for _, hit := range res.Hits {
		ch, ok := c.meta[hit.ID]
		if !ok || seen[ch.Text] {
			continue
		}
		seen[ch.Text] = true
		out = append(out, core.Passage{Content: ch.Text, Source: ch.URL})
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}

// Len is the number of indexed chunks.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.meta)
}

func (c *Corpus) Close() error {
	return c.index.Close()
}

func sha1Hex(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// makeChunks splits text into windows of about approx runes that overlap by
// overlap runes.
func makeChunks(text string, approx, overlap int) []string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= approx {
		return []string{string(r)}
	}
	var chunks []string
	for start := 0; start < len(r); {
		end := start + approx
		if end > len(r) {
			end = len(r)
		}
		chunks = append(chunks, string(r[start:end]))
		if end == len(r) {
			break
		}
		start = end - overlap
	}
	return chunks
}

var _ core.Corpus = (*Corpus)(nil)
