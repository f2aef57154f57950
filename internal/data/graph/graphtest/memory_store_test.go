package graphtest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/newsgraph/internal/domain/newsletter"
)

func TestMemoryMergeKeepsMaxConfidenceAndCounts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	c1 := newsletter.Candidate{Name: "OpenAI", Type: newsletter.EntityOrganization, Confidence: 0.8, Aliases: []string{"Open AI"}}
	c2 := newsletter.Candidate{Name: "OpenAI", Type: newsletter.EntityOrganization, Confidence: 0.95, Aliases: []string{"OAI"}}
	c3 := newsletter.Candidate{Name: "OpenAI", Type: newsletter.EntityOrganization, Confidence: 0.75}

	r1, err := s.MergeEntity(ctx, c1, newsletter.AliasKeepFirst)
	require.NoError(t, err)
	assert.Equal(t, newsletter.OperationCreated, r1.Operation)
	assert.Equal(t, int64(1), r1.Entity.MentionCount)

	r2, err := s.MergeEntity(ctx, c2, newsletter.AliasKeepFirst)
	require.NoError(t, err)
	assert.Equal(t, newsletter.OperationUpdated, r2.Operation)
	assert.Equal(t, 0.95, r2.Entity.Confidence)
	assert.Equal(t, []string{"Open AI"}, r2.Entity.Aliases)

	r3, err := s.MergeEntity(ctx, c3, newsletter.AliasKeepFirst)
	require.NoError(t, err)
	assert.Equal(t, 0.95, r3.Entity.Confidence)
	assert.Equal(t, int64(3), r3.Entity.MentionCount)
}

func TestMemoryUnionPolicyExtendsAliases(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.MergeEntity(ctx, newsletter.Candidate{Name: "GPT-4", Type: newsletter.EntityProduct, Confidence: 0.9, Aliases: []string{"GPT4"}}, newsletter.AliasUnion)
	r, err := s.MergeEntity(ctx, newsletter.Candidate{Name: "GPT-4", Type: newsletter.EntityProduct, Confidence: 0.9, Aliases: []string{"GPT4", "GPT-Four"}}, newsletter.AliasUnion)
	require.NoError(t, err)
	assert.Equal(t, []string{"GPT4", "GPT-Four"}, r.Entity.Aliases)
}

func TestMemorySameNameDifferentTypeAreDistinct(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a, _ := s.MergeEntity(ctx, newsletter.Candidate{Name: "Apple", Type: newsletter.EntityOrganization, Confidence: 0.9}, newsletter.AliasKeepFirst)
	b, _ := s.MergeEntity(ctx, newsletter.Candidate{Name: "Apple", Type: newsletter.EntityProduct, Confidence: 0.9}, newsletter.AliasKeepFirst)
	assert.Equal(t, newsletter.OperationCreated, a.Operation)
	assert.Equal(t, newsletter.OperationCreated, b.Operation)
}

func TestMemoryConcurrentMergesCreateOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	const n = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := s.MergeEntity(ctx, newsletter.Candidate{Name: "Sam Altman", Type: newsletter.EntityPerson, Confidence: float64(i) / n}, newsletter.AliasKeepFirst)
			if err != nil {
				t.Error(err)
				return
			}
			if r.Operation == newsletter.OperationCreated {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	e, err := s.GetEntity(ctx, newsletter.EntityPerson, "Sam Altman")
	require.NoError(t, err)
	assert.Equal(t, int64(n), e.MentionCount)
	assert.Equal(t, float64(n-1)/n, e.Confidence)
}

func TestMemoryMentionIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.MergeNewsletter(ctx, newsletter.Newsletter{ID: "n1"})
	_, _ = s.MergeEntity(ctx, newsletter.Candidate{Name: "OpenAI", Type: newsletter.EntityOrganization, Confidence: 0.9}, newsletter.AliasKeepFirst)

	m := newsletter.Mention{EntityName: "OpenAI", EntityType: newsletter.EntityOrganization, NewsletterID: "n1", Context: "first"}
	created, err := s.MergeMention(ctx, m)
	require.NoError(t, err)
	assert.True(t, created)

	m.Context = "second"
	created, err = s.MergeMention(ctx, m)
	require.NoError(t, err)
	assert.False(t, created)

	mentions := s.Mentions("n1")
	require.Len(t, mentions, 1)
	assert.Equal(t, "first", mentions[0].Context)

	_, err = s.MergeMention(ctx, newsletter.Mention{EntityName: "Nobody", EntityType: newsletter.EntityPerson, NewsletterID: "n1"})
	assert.ErrorIs(t, err, newsletter.ErrLinkTargetMissing)
}

func TestMemoryNewsletterCreatedOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	first, err := s.MergeNewsletter(ctx, newsletter.Newsletter{ID: "n1", Subject: "a"})
	require.NoError(t, err)
	second, err := s.MergeNewsletter(ctx, newsletter.Newsletter{ID: "n1", Subject: "b"})
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	st, _ := s.Stats(ctx)
	assert.Equal(t, int64(1), st.Newsletters)
}

func TestMemoryFindSimilarRanking(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	org := newsletter.EntityOrganization
	merge := func(name string, conf float64, aliases ...string) {
		_, err := s.MergeEntity(ctx, newsletter.Candidate{Name: name, Type: org, Confidence: conf, Aliases: aliases}, newsletter.AliasKeepFirst)
		require.NoError(t, err)
	}
	merge("OpenAI", 0.9)
	merge("OpenAI", 0.9)
	merge("OpenAI Foundation", 0.95)
	merge("Open Research Lab", 0.8, "ORL")
	merge("Anthropic", 0.99)
	_, _ = s.MergeEntity(ctx, newsletter.Candidate{Name: "OpenAI", Type: newsletter.EntityTopic, Confidence: 1}, newsletter.AliasKeepFirst)

	got, err := s.FindSimilar(ctx, "openai", org, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "OpenAI", got[0].Name)
	assert.Equal(t, "OpenAI Foundation", got[1].Name)

	got, err = s.FindSimilar(ctx, "The ORL group", org, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Open Research Lab", got[0].Name)

	got, err = s.FindSimilar(ctx, "open", org, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryStatsEmptyIsZero(t *testing.T) {
	st, err := NewMemoryStore().Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, newsletter.GraphStats{}, st)
}
