package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/yungbote/newsgraph/internal/clients/redis"
	"github.com/yungbote/newsgraph/internal/domain/newsletter"
	"github.com/yungbote/newsgraph/internal/modules/newsletter/ingestion/extractor"
	"github.com/yungbote/newsgraph/internal/platform/neo4jdb"
	"github.com/yungbote/newsgraph/internal/platform/retry"
)

func (a *App) wireClients(ctx context.Context) error {
	a.Log.Info("Wiring clients...")

	gc, err := neo4jdb.New(a.Cfg.Neo4jClientConfig(), a.Log,
		neo4jdb.WithHooks(a.Metrics.Neo4jHooks()),
		neo4jdb.WithOnConnect(a.applySchema),
		neo4jdb.WithRetryOptions(retry.WithObserver(a.Metrics.RetryObserver())),
	)
	if err != nil {
		return fmt.Errorf("init neo4j client: %w", err)
	}
	a.Graph = gc

	rc := a.Cfg.Redis
	if rc.CacheEnabled && strings.TrimSpace(rc.Addr) != "" {
		cache, err := redis.NewCache(ctx, a.Log, redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		if err != nil {
			// Extraction works without the cache.
			a.Log.Warn("Redis cache unavailable, continuing without it", "error", err)
		} else {
			a.Cache = cache
		}
	}
	return nil
}

// newExtractor returns nil when no API key is configured.
func (a *App) newExtractor() (extractor.Extractor, error) {
	l := a.Cfg.LLM
	x, err := extractor.New(extractor.Config{
		APIKey:              l.APIKey,
		BaseURL:             l.BaseURL,
		Model:               l.Model,
		Temperature:         l.Temperature,
		MaxTokens:           l.MaxTokens,
		Timeout:             l.Timeout.Duration,
		MaxContentChars:     l.MaxContentChars,
		Retry:               l.Retry.Policy(),
		BreakerMinRequests:  l.BreakerMinRequests,
		BreakerFailureRatio: l.BreakerFailureRatio,
		BreakerOpenTimeout:  l.BreakerOpenTimeout.Duration,
		CacheTTL:            a.Cfg.Redis.CacheTTL.Duration,
	}, extractor.Deps{
		Log:          a.Log,
		Metrics:      a.Metrics,
		Cache:        a.Cache,
		RetryOptions: []retry.Option{retry.WithObserver(a.Metrics.RetryObserver())},
	})
	if errors.Is(err, newsletter.ErrExtractorMissing) {
		a.Log.Warn("No LLM API key configured, entity extraction disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}
	return x, nil
}

// probeTargets parses host:port entries. Bad entries are logged and skipped.
func (a *App) probeTargets() []neo4jdb.ProbeTarget {
	out := make([]neo4jdb.ProbeTarget, 0, len(a.Cfg.Diagnostics.ExtraTargets))
	for _, raw := range a.Cfg.Diagnostics.ExtraTargets {
		host, portStr, err := net.SplitHostPort(strings.TrimSpace(raw))
		if err != nil {
			a.Log.Warn("Skipping diagnostic target", "target", raw, "error", err)
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			a.Log.Warn("Skipping diagnostic target", "target", raw, "error", err)
			continue
		}
		out = append(out, neo4jdb.ProbeTarget{Host: host, Port: port, Description: raw})
	}
	return out
}

// Diagnose probes the graph host and configured extra targets.
func (a *App) Diagnose(ctx context.Context) []neo4jdb.ProbeResult {
	return a.Graph.Diagnose(ctx, a.probeTargets())
}
