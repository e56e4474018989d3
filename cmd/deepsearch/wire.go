package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/config"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/core"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/telemetry"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/provider"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/tools/retrieval"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/tools/web_fetch"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/tools/web_search"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/tools/web_search/cache"
)

// buildEngine assembles the capabilities described by cfg. The returned
// cleanup closes the Redis connection when one was opened.
func buildEngine(ctx context.Context, cfg *config.Config, tele *telemetry.Telemetry, logger *zap.Logger) (*core.Engine, func(), error) {
	noop := func() {}

	drafter, err := provider.NewDrafter(provider.Client(cfg.LLM.Provider), cfg.LLM.APIKey, provider.Options{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
	})
	if err != nil {
		return nil, noop, err
	}

	searcher, err := web_search.NewWebSearcher(web_search.Provider(cfg.Search.Provider), cfg.Search.APIKey, web_search.Options{
		BaseURL:    cfg.Search.BaseURL,
		Timeout:    cfg.Search.Timeout,
		MaxRetries: cfg.Search.MaxRetries,
	})
	if err != nil {
		return nil, noop, err
	}

	var fetcher web_fetch.WebFetcher
	if cfg.Retrieval.FetchPages > 0 {
		fetcher, err = web_fetch.NewWebFetcher(web_fetch.ReadableFetcherType, cfg.Retrieval.FetchTimeout, cfg.Retrieval.MaxChars)
		if err != nil {
			return nil, noop, err
		}
	}

	cleanup := noop
	if rc := cfg.Storage.Redis; rc.Enabled() {
		rdb, err := cache.Conn(ctx, rc.Host, rc.Port, rc.Password, rc.DB, rc.Timeout)
		if err != nil {
			logger.Warn("search cache disabled", zap.Error(err))
		} else {
			searcher = cache.New(searcher, rdb, rc.SearchCacheTTL, logger)
			cleanup = func() { _ = rdb.Close() }
		}
	}

	newCorpus := func() (core.Corpus, error) {
		return retrieval.NewCorpus(retrieval.Options{
			Fetcher:    fetcher,
			FetchPages: cfg.Retrieval.FetchPages,
			Logger:     logger,
		})
	}

	oc := cfg.Orchestrator
	engine, err := core.NewEngine(core.Capabilities{
		Drafter:   drafter,
		Searcher:  searcher,
		NewCorpus: newCorpus,
	}, core.Options{
		Config: core.Config{
			MaxSteps:                  oc.MaxSteps,
			NoProgressThreshold:       oc.NoProgressThreshold,
			PlanningAttemptsThreshold: oc.PlanningAttemptsThreshold,
			MaxItemAttempts:           oc.MaxItemAttempts,
			MaxRevisions:              oc.MaxRevisions,
			SearchLimit:               oc.SearchLimit,
			RetrievalTopK:             oc.RetrievalTopK,
		},
		Logger:    logger,
		Telemetry: tele,
	})
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	return engine, cleanup, nil
}
