package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/newsgraph/internal/domain/newsletter"
)

// Matching is case-insensitive and works in both directions on name and aliases.
const findSimilarCypher = `
MATCH (e:%s)
WITH e, toLower(e.name) AS lname, [a IN coalesce(e.aliases, []) | toLower(a)] AS laliases
WHERE lname CONTAINS $term
   OR $term CONTAINS lname
   OR any(a IN laliases WHERE a CONTAINS $term OR $term CONTAINS a)
RETURN e.name AS name,
    e.aliases AS aliases,
    e.confidence AS confidence,
    e.mention_count AS mention_count,
    e.created_at AS created_at,
    e.last_seen AS last_seen,
    e.properties_json AS properties_json
ORDER BY mention_count DESC, confidence DESC, name ASC
LIMIT $limit
`

func (s *Neo4jStore) FindSimilar(ctx context.Context, name string, t newsletter.EntityType, limit int) ([]newsletter.Entity, error) {
	if !t.Valid() {
		return nil, newsletter.ErrUnknownType
	}
	term := strings.ToLower(strings.TrimSpace(name))
	if term == "" {
		return []newsletter.Entity{}, nil
	}
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	rows, err := s.run.ExecuteRead(ctx, fmt.Sprintf(findSimilarCypher, t.Label()), map[string]any{
		"term":  term,
		"limit": int64(limit),
	})
	if err != nil {
		return nil, err
	}
	out := make([]newsletter.Entity, 0, len(rows))
	for _, row := range rows {
		out = append(out, entityFromRow(t, row))
	}
	return out, nil
}
