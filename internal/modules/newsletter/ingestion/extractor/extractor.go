// Package extractor asks an OpenAI-compatible chat model for entity candidates.
package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/newsgraph/internal/clients/redis"
	"github.com/yungbote/newsgraph/internal/domain/newsletter"
	"github.com/yungbote/newsgraph/internal/observability"
	"github.com/yungbote/newsgraph/internal/pkg/httpx"
	"github.com/yungbote/newsgraph/internal/platform/logger"
	"github.com/yungbote/newsgraph/internal/platform/retry"
)

var tracer = otel.Tracer("github.com/yungbote/newsgraph/internal/modules/newsletter/ingestion/extractor")

// Extractor turns cleaned newsletter text into unvalidated candidates.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]newsletter.Candidate, error)
}

type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float64
	MaxTokens       int
	Timeout         time.Duration
	MaxContentChars int
	Retry           retry.Policy

	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration

	CacheTTL time.Duration
}

type Deps struct {
	Log     *logger.Logger
	Metrics *observability.Metrics
	// Cache is optional.
	Cache redis.Cache
	// HTTPClient overrides the default transport, mostly for tests.
	HTTPClient   *http.Client
	RetryOptions []retry.Option
}

type LLMExtractor struct {
	cfg       Config
	log       *logger.Logger
	metrics   *observability.Metrics
	cache     redis.Cache
	client    *chatClient
	breaker   *gobreaker.CircuitBreaker
	retryOpts []retry.Option
}

// New requires an API key; without one there is no extractor and callers report
// newsletter.ErrExtractorMissing.
func New(cfg Config, deps Deps) (*LLMExtractor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, newsletter.ErrExtractorMissing
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4-turbo"
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = 3000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BreakerMinRequests == 0 {
		cfg.BreakerMinRequests = 5
	}
	if cfg.BreakerFailureRatio <= 0 {
		cfg.BreakerFailureRatio = 0.6
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if err := cfg.Retry.Normalize().Validate(); err != nil {
		return nil, fmt.Errorf("extractor retry policy: %w", err)
	}

	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient()
	}

	x := &LLMExtractor{
		cfg:     cfg,
		log:     log.With("component", "EntityExtractor"),
		metrics: deps.Metrics,
		cache:   deps.Cache,
		client: &chatClient{
			baseURL:    baseURL,
			path:       "/v1/chat/completions",
			apiKey:     strings.TrimSpace(cfg.APIKey),
			timeout:    cfg.Timeout,
			httpClient: httpClient,
		},
		retryOpts: deps.RetryOptions,
	}
	if deps.Metrics != nil {
		x.retryOpts = append([]retry.Option{retry.WithObserver(deps.Metrics.RetryObserver())}, x.retryOpts...)
	}
	x.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "entity-extractor",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			x.log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			if x.metrics != nil {
				x.metrics.BreakerState.Set(float64(to))
			}
		},
		// Caller cancellation says nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return x, nil
}

func (x *LLMExtractor) Model() string { return x.cfg.Model }

func (x *LLMExtractor) BreakerState() gobreaker.State { return x.breaker.State() }

// Extract returns every candidate the model reported, unfiltered.
func (x *LLMExtractor) Extract(ctx context.Context, text string) ([]newsletter.Candidate, error) {
	ctx, span := tracer.Start(ctx, "extractor.Extract")
	defer span.End()

	content, cut := truncate(text, x.cfg.MaxContentChars)
	if cut {
		x.log.Info("content truncated for entity extraction", "original_length", len([]rune(text)), "truncated_length", x.cfg.MaxContentChars)
	}
	key := cacheKey(x.cfg.Model, content)

	if body, ok := x.cacheGet(ctx, key); ok {
		if cands, err := parseCandidates(body); err == nil {
			span.SetAttributes(attribute.Bool("extractor.cache_hit", true))
			x.observe("cache_hit")
			return cands, nil
		}
		x.log.Warn("discarding unparseable cached extraction", "key", key)
	}

	raw, err := x.breaker.Execute(func() (any, error) {
		return retry.DoValue(ctx, x.cfg.Retry, "extractor.chat", func(ctx context.Context) (string, error) {
			out, err := x.client.complete(ctx, chatCompletionRequest{
				Model: x.cfg.Model,
				Messages: []chatMessage{
					{Role: "system", Content: systemPrompt},
					{Role: "user", Content: buildUserPrompt(content)},
				},
				Temperature: x.cfg.Temperature,
				MaxTokens:   x.cfg.MaxTokens,
			})
			if err != nil && !httpx.IsRetryableError(err) {
				return "", retry.Permanent(err)
			}
			return out, err
		}, x.retryOpts...)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction call failed")
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			x.observe("unavailable")
			return nil, &newsletter.UpstreamExtractionError{Kind: newsletter.ExtractionUnavailable, Err: err}
		}
		x.observe("call_error")
		x.log.Error("entity extraction call failed", "error", err)
		return nil, &newsletter.UpstreamExtractionError{Kind: newsletter.ExtractionCall, Err: err}
	}

	body := raw.(string)
	cands, err := parseCandidates(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unparseable response")
		x.observe("parse_error")
		x.log.Error("failed to parse LLM response as JSON", "error", err)
		return nil, &newsletter.UpstreamExtractionError{Kind: newsletter.ExtractionParse, Err: err}
	}
	x.cacheSet(ctx, key, stripFences(body))
	x.observe("ok")
	span.SetAttributes(attribute.Int("extractor.candidates", len(cands)))
	x.log.Info("entities extracted", "count", len(cands))
	return cands, nil
}

func cacheKey(model, content string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + content))
	return "extract:" + hex.EncodeToString(sum[:])
}

func (x *LLMExtractor) cacheGet(ctx context.Context, key string) (string, bool) {
	if x.cache == nil {
		return "", false
	}
	b, ok, err := x.cache.Get(ctx, key)
	switch {
	case err != nil:
		x.log.Warn("extraction cache read failed", "error", err)
		x.lookup("error")
		return "", false
	case !ok:
		x.lookup("miss")
		return "", false
	}
	x.lookup("hit")
	return string(b), true
}

func (x *LLMExtractor) cacheSet(ctx context.Context, key, body string) {
	if x.cache == nil {
		return
	}
	if err := x.cache.Set(ctx, key, []byte(body), x.cfg.CacheTTL); err != nil {
		x.log.Warn("extraction cache write failed", "error", err)
	}
}

func (x *LLMExtractor) observe(outcome string) {
	if x.metrics != nil {
		x.metrics.ExtractorCalls.WithLabelValues(outcome).Inc()
	}
}

func (x *LLMExtractor) lookup(result string) {
	if x.metrics != nil {
		x.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}
