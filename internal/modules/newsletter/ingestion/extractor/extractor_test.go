package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/newsgraph/internal/domain/newsletter"
	"github.com/yungbote/newsgraph/internal/platform/retry"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
	})
	return string(b)
}

const openAIAnswer = "```json\n" + `{"entities": [
  {"name": "OpenAI", "type": "Organization", "aliases": ["Open AI", 7], "confidence": 0.95, "context": "OpenAI announced GPT-4"},
  {"name": "GPT-4", "type": "product", "confidence": 0.9},
  {"name": "Sam Altman", "type": "Person", "confidence": 0.85, "properties": {"role": "CEO"}},
  {"name": "Mystery", "type": "Spaceship", "confidence": 0.99},
  "not an object"
]}` + "\n```"

func noSleep() retry.Option {
	return retry.WithSleep(func(context.Context, time.Duration) error { return nil })
}

func newTestExtractor(t *testing.T, cfg Config, rt roundTripperFunc, cache *memCache) *LLMExtractor {
	t.Helper()
	if cfg.APIKey == "" {
		cfg.APIKey = "sk-test"
	}
	deps := Deps{HTTPClient: &http.Client{Transport: rt}, RetryOptions: []retry.Option{noSleep()}}
	if cache != nil {
		deps.Cache = cache
	}
	x, err := New(cfg, deps)
	require.NoError(t, err)
	return x
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = val
	m.sets++
	return nil
}

func (m *memCache) Close() error { return nil }

func TestNewWithoutAPIKey(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.ErrorIs(t, err, newsletter.ErrExtractorMissing)
}

func TestExtractParsesFencedResponse(t *testing.T) {
	var seen chatCompletionRequest
	x := newTestExtractor(t, Config{Model: "gpt-4-turbo", Temperature: 0.1, MaxTokens: 2000}, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/v1/chat/completions", req.URL.Path)
		assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(req.Body).Decode(&seen))
		return jsonResponse(http.StatusOK, completion(openAIAnswer)), nil
	}, nil)

	cands, err := x.Extract(context.Background(), "OpenAI announced GPT-4. CEO Sam Altman said...")
	require.NoError(t, err)
	require.Len(t, cands, 4)

	assert.Equal(t, "gpt-4-turbo", seen.Model)
	assert.Equal(t, 2000, seen.MaxTokens)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Contains(t, seen.Messages[1].Content, "OpenAI announced GPT-4. CEO Sam Altman said...")
	assert.Contains(t, seen.Messages[1].Content, "**Entity Types:**")

	assert.Equal(t, newsletter.EntityOrganization, cands[0].Type)
	assert.Equal(t, []string{"Open AI"}, cands[0].Aliases)
	assert.Equal(t, "OpenAI announced GPT-4", cands[0].Context)
	assert.Equal(t, newsletter.EntityProduct, cands[1].Type)
	assert.Equal(t, "CEO", cands[2].Properties["role"])
	assert.Equal(t, newsletter.EntityUnknown, cands[3].Type)
	assert.Equal(t, "Spaceship", cands[3].RawType)
}

func TestExtractTruncatesContent(t *testing.T) {
	var prompt string
	x := newTestExtractor(t, Config{MaxContentChars: 10}, func(req *http.Request) (*http.Response, error) {
		var in chatCompletionRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&in))
		prompt = in.Messages[1].Content
		return jsonResponse(http.StatusOK, completion(`{"entities": []}`)), nil
	}, nil)

	cands, err := x.Extract(context.Background(), strings.Repeat("abcdefghij", 5))
	require.NoError(t, err)
	assert.Empty(t, cands)
	assert.Contains(t, prompt, "abcdefghij...")
	assert.NotContains(t, prompt, "abcdefghijabcdefghij")
}

func TestExtractRetriesTransientStatus(t *testing.T) {
	var calls int32
	x := newTestExtractor(t, Config{Retry: retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond}}, func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return jsonResponse(http.StatusTooManyRequests, `{"error":"slow down"}`), nil
		}
		return jsonResponse(http.StatusOK, completion(`{"entities": [{"name": "Paris", "type": "Location", "confidence": 0.8}]}`)), nil
	}, nil)

	cands, err := x.Extract(context.Background(), "Paris")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestExtractDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	x := newTestExtractor(t, Config{Retry: retry.Policy{MaxRetries: 3}}, func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return jsonResponse(http.StatusUnauthorized, `{"error":"bad key"}`), nil
	}, nil)

	_, err := x.Extract(context.Background(), "text")
	var upstream *newsletter.UpstreamExtractionError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, newsletter.ExtractionCall, upstream.Kind)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestExtractParseFailure(t *testing.T) {
	x := newTestExtractor(t, Config{}, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, completion("Sorry, I can't help with that.")), nil
	}, nil)

	_, err := x.Extract(context.Background(), "text")
	var upstream *newsletter.UpstreamExtractionError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, newsletter.ExtractionParse, upstream.Kind)
}

func TestExtractBreakerOpens(t *testing.T) {
	var calls int32
	x := newTestExtractor(t, Config{BreakerMinRequests: 2, BreakerFailureRatio: 0.5, BreakerOpenTimeout: time.Hour}, func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return jsonResponse(http.StatusBadGateway, "down"), nil
	}, nil)

	for i := 0; i < 2; i++ {
		_, err := x.Extract(context.Background(), "text")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, x.BreakerState())

	_, err := x.Extract(context.Background(), "text")
	var upstream *newsletter.UpstreamExtractionError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, newsletter.ExtractionUnavailable, upstream.Kind)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestExtractUsesCache(t *testing.T) {
	var calls int32
	cache := &memCache{data: map[string][]byte{}}
	x := newTestExtractor(t, Config{Model: "m"}, func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return jsonResponse(http.StatusOK, completion(openAIAnswer)), nil
	}, cache)

	first, err := x.Extract(context.Background(), "same text")
	require.NoError(t, err)
	second, err := x.Extract(context.Background(), "same text")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, 1, cache.sets)

	_, err = x.Extract(context.Background(), "other text")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("Here:\n```\n{\"a\":1}\n```\nthanks"))
	assert.Equal(t, `{"a":1}`, stripFences("  {\"a\":1} "))
}

func TestParseCandidatesEdgeCases(t *testing.T) {
	cands, err := parseCandidates(`{"other": 1}`)
	require.NoError(t, err)
	assert.Empty(t, cands)

	_, err = parseCandidates(`{"entities": "nope"}`)
	require.Error(t, err)

	cands, err = parseCandidates(`{"entities": [{"name": "  X  ", "confidence": "high"}]}`)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "X", cands[0].Name)
	assert.Zero(t, cands[0].Confidence)
	assert.Equal(t, newsletter.EntityUnknown, cands[0].Type)
}
