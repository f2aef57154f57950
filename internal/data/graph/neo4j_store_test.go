package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/newsgraph/internal/domain/newsletter"
	"github.com/yungbote/newsgraph/internal/platform/logger"
)

type call struct {
	mode   string
	query  string
	params map[string]any
}

type recordingRunner struct {
	calls []call
	// respond returns rows for a call; nil means no rows.
	respond func(c call) ([]map[string]any, error)
}

func (r *recordingRunner) do(mode, q string, p map[string]any) ([]map[string]any, error) {
	c := call{mode: mode, query: q, params: p}
	r.calls = append(r.calls, c)
	if r.respond == nil {
		return nil, nil
	}
	return r.respond(c)
}

func (r *recordingRunner) Execute(_ context.Context, q string, p map[string]any) ([]map[string]any, error) {
	return r.do("write", q, p)
}

func (r *recordingRunner) ExecuteRead(_ context.Context, q string, p map[string]any) ([]map[string]any, error) {
	return r.do("read", q, p)
}

func (r *recordingRunner) ExecuteAutoCommit(_ context.Context, q string, p map[string]any) ([]map[string]any, error) {
	return r.do("auto", q, p)
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(r *recordingRunner) *Neo4jStore {
	return NewNeo4jStore(r, logger.Nop()).WithClock(func() time.Time { return fixedNow })
}

func TestMergeEntityIsOneStatementAndEchoesOpID(t *testing.T) {
	r := &recordingRunner{}
	r.respond = func(c call) ([]map[string]any, error) {
		return []map[string]any{{
			"name":            c.params["name"],
			"aliases":         []any{"Open AI"},
			"confidence":      0.95,
			"mention_count":   int64(1),
			"created_at":      "2024-03-01T12:00:00Z",
			"last_seen":       "2024-03-01T12:00:00Z",
			"properties_json": `{"hq":"SF"}`,
			"created":         true,
		}}, nil
	}
	s := newTestStore(r)

	res, err := s.MergeEntity(context.Background(), newsletter.Candidate{
		Name: "OpenAI", Type: newsletter.EntityOrganization, Confidence: 0.95,
		Aliases: []string{"Open AI"}, Properties: map[string]any{"hq": "SF"},
	}, newsletter.AliasKeepFirst)
	require.NoError(t, err)

	require.Len(t, r.calls, 1)
	c := r.calls[0]
	assert.Equal(t, "write", c.mode)
	assert.Contains(t, c.query, "MERGE (e:Organization {name: $name})")
	assert.Contains(t, c.query, "ON CREATE SET e.op_id = $op_id")
	assert.Contains(t, c.query, "e.op_id = $op_id AS created")
	assert.NotEmpty(t, c.params["op_id"])
	assert.Equal(t, false, c.params["merge_aliases"])
	assert.Equal(t, `{"hq":"SF"}`, c.params["properties_json"])
	assert.Equal(t, "2024-03-01T12:00:00Z", c.params["now"])

	assert.Equal(t, newsletter.OperationCreated, res.Operation)
	assert.Equal(t, int64(1), res.Entity.MentionCount)
	assert.Equal(t, []string{"Open AI"}, res.Entity.Aliases)
	assert.Equal(t, "SF", res.Entity.Properties["hq"])
	assert.Equal(t, fixedNow, res.Entity.CreatedAt)
}

func TestMergeEntityUnionPolicyAndUpdatedFlag(t *testing.T) {
	r := &recordingRunner{respond: func(c call) ([]map[string]any, error) {
		return []map[string]any{{"name": "GPT-4", "mention_count": int64(2), "confidence": 0.98, "created": false}}, nil
	}}
	s := newTestStore(r)

	res, err := s.MergeEntity(context.Background(), newsletter.Candidate{Name: "GPT-4", Type: newsletter.EntityProduct, Confidence: 0.9}, newsletter.AliasUnion)
	require.NoError(t, err)
	assert.Equal(t, newsletter.OperationUpdated, res.Operation)
	assert.Equal(t, true, r.calls[0].params["merge_aliases"])
	assert.Equal(t, []string{}, r.calls[0].params["aliases"])
}

func TestMergeEntityRejectsUnknownTypeWithoutQuery(t *testing.T) {
	r := &recordingRunner{}
	_, err := newTestStore(r).MergeEntity(context.Background(), newsletter.Candidate{Name: "x", Confidence: 1}, newsletter.AliasKeepFirst)
	assert.ErrorIs(t, err, newsletter.ErrUnknownType)
	assert.Empty(t, r.calls)
}

func TestMergeEntityPropagatesRunnerError(t *testing.T) {
	boom := errors.New("boom")
	r := &recordingRunner{respond: func(call) ([]map[string]any, error) { return nil, boom }}
	_, err := newTestStore(r).MergeEntity(context.Background(), newsletter.Candidate{Name: "x", Type: newsletter.EntityTopic, Confidence: 1}, newsletter.AliasKeepFirst)
	assert.ErrorIs(t, err, boom)
}

func TestMergeMentionUsesMergeNotCreate(t *testing.T) {
	r := &recordingRunner{respond: func(call) ([]map[string]any, error) { return []map[string]any{{"created": true}}, nil }}
	created, err := newTestStore(r).MergeMention(context.Background(), newsletter.Mention{
		EntityName: "Sam Altman", EntityType: newsletter.EntityPerson, NewsletterID: "n1", Context: "CEO Sam Altman",
	})
	require.NoError(t, err)
	assert.True(t, created)
	q := r.calls[0].query
	assert.Contains(t, q, "MATCH (e:Person {name: $name})")
	assert.Contains(t, q, "MERGE (e)-[r:MENTIONED_IN]->(n)")
	assert.Contains(t, q, "ON CREATE SET r.op_id = $op_id")
	assert.NotContains(t, q, "CREATE (e)-")
}

func TestMergeMentionMissingTarget(t *testing.T) {
	r := &recordingRunner{}
	_, err := newTestStore(r).MergeMention(context.Background(), newsletter.Mention{EntityName: "x", EntityType: newsletter.EntityTopic, NewsletterID: "n"})
	assert.ErrorIs(t, err, newsletter.ErrLinkTargetMissing)
}

func TestMergeNewsletterIsIdempotentMerge(t *testing.T) {
	r := &recordingRunner{respond: func(call) ([]map[string]any, error) { return []map[string]any{{"created": false}}, nil }}
	created, err := newTestStore(r).MergeNewsletter(context.Background(), newsletter.Newsletter{
		ID: "n1", Subject: "AI Weekly", Sender: "news@example.com", ReceivedDate: fixedNow, ContentLength: 120,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Contains(t, r.calls[0].query, "MERGE (n:Newsletter {id: $id})")
	assert.Equal(t, int64(120), r.calls[0].params["content_length"])
}

func TestEnsureSchemaContinuesPastFailures(t *testing.T) {
	r := &recordingRunner{respond: func(c call) ([]map[string]any, error) {
		if strings.Contains(c.query, "person_last_seen_idx") || strings.Contains(c.query, "unique_topic_name") {
			return nil, errors.New("permission denied")
		}
		return nil, nil
	}}
	report := newTestStore(r).EnsureSchema(context.Background())

	stmts := SchemaStatements()
	assert.Len(t, r.calls, len(stmts))
	assert.Equal(t, 6+2+12, len(stmts))
	assert.ElementsMatch(t, []string{"person_last_seen_idx", "unique_topic_name"}, report.Failed)
	assert.Len(t, report.Applied, len(stmts)-2)
	for _, c := range r.calls {
		assert.Equal(t, "auto", c.mode)
		assert.Contains(t, c.query, "IF NOT EXISTS")
	}
}

func TestFindSimilarQueryShape(t *testing.T) {
	r := &recordingRunner{respond: func(call) ([]map[string]any, error) {
		return []map[string]any{
			{"name": "OpenAI", "mention_count": int64(5), "confidence": 0.9},
			{"name": "OpenAI Foundation", "mention_count": int64(1), "confidence": 0.8},
		}, nil
	}}
	got, err := newTestStore(r).FindSimilar(context.Background(), "  OpenAI ", newsletter.EntityOrganization, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "read", r.calls[0].mode)
	assert.Equal(t, "openai", r.calls[0].params["term"])
	assert.Equal(t, int64(DefaultSimilarLimit), r.calls[0].params["limit"])
	assert.Contains(t, r.calls[0].query, "ORDER BY mention_count DESC, confidence DESC")

	none, err := newTestStore(r).FindSimilar(context.Background(), "  ", newsletter.EntityOrganization, 5)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Len(t, r.calls, 1)
}

func TestStatsDecodesAndDefaultsToZero(t *testing.T) {
	r := &recordingRunner{respond: func(call) ([]map[string]any, error) {
		return []map[string]any{{
			"organizations": int64(2), "people": int64(1), "products": int64(3), "events": int64(0),
			"locations": int64(0), "topics": int64(4), "newsletters": int64(2), "relationships": int64(9),
		}}, nil
	}}
	st, err := newTestStore(r).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, newsletter.GraphStats{Organizations: 2, People: 1, Products: 3, Topics: 4, Newsletters: 2, Relationships: 9}, st)
	assert.Equal(t, 1, strings.Count(r.calls[0].query, "RETURN organizations"))

	empty, err := newTestStore(&recordingRunner{}).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, newsletter.GraphStats{}, empty)
}
