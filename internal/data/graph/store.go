package graph

import (
	"context"

	"github.com/yungbote/newsgraph/internal/domain/newsletter"
)

// Runner executes Cypher. *neo4jdb.Client satisfies it.
type Runner interface {
	Execute(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
	ExecuteRead(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
	ExecuteAutoCommit(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

// Store is the entity graph. Implementations must make MergeEntity atomic per (type, name).
type Store interface {
	EnsureSchema(ctx context.Context) newsletter.SchemaReport
	MergeNewsletter(ctx context.Context, n newsletter.Newsletter) (created bool, err error)
	MergeEntity(ctx context.Context, c newsletter.Candidate, aliases newsletter.AliasMergePolicy) (newsletter.UpsertResult, error)
	MergeMention(ctx context.Context, m newsletter.Mention) (created bool, err error)
	GetEntity(ctx context.Context, t newsletter.EntityType, name string) (newsletter.Entity, error)
	FindSimilar(ctx context.Context, name string, t newsletter.EntityType, limit int) ([]newsletter.Entity, error)
	Stats(ctx context.Context) (newsletter.GraphStats, error)
}

const DefaultSimilarLimit = 10
