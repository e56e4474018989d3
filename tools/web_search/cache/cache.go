// Package cache memoizes search results in Redis. The cache is advisory:
// Redis failures fall through to the wrapped Searcher.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/core"
)

const keyPrefix = "deepsearch:search:"

// Conn dials Redis and checks the connection.
func Conn(ctx context.Context, host, port, pass string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", host, port),
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		Password:     pass,
		DB:           db,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if pong != "PONG" {
		_ = client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}

// Searcher wraps another core.Searcher with a Redis cache keyed by the
// normalized query and limit.
type Searcher struct {
	next core.Searcher
	rdb  redis.Cmdable
	ttl  time.Duration
	log  *zap.Logger
}

func New(next core.Searcher, rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Searcher{next: next, rdb: rdb, ttl: ttl, log: logger.Named("search_cache")}
}

func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]core.SearchResult, error) {
	key := Key(query, limit)
	raw, err := s.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		var cached []core.SearchResult
		if uerr := sonic.UnmarshalString(raw, &cached); uerr == nil {
			return cached, nil
		}
		s.log.Warn("dropping corrupt cache entry", zap.String("key", key))
		_ = s.rdb.Del(ctx, key).Err()
	case errors.Is(err, redis.Nil):
	default:
		s.log.Warn("cache read failed", zap.Error(err))
	}

	results, err := s.next.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	// Empty pages are not cached so a later attempt can still find something.
	if len(results) == 0 {
		return results, nil
	}
	if data, merr := sonic.Marshal(results); merr == nil {
		if serr := s.rdb.Set(ctx, key, data, s.ttl).Err(); serr != nil {
			s.log.Warn("cache write failed", zap.Error(serr))
		}
	}
	return results, nil
}

// Key derives the cache key for a query.
func Key(query string, limit int) string {
	norm := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", norm, limit)))
	return keyPrefix + hex.EncodeToString(sum[:])
}
