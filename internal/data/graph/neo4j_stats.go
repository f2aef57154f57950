package graph

import (
	"context"

	"github.com/yungbote/newsgraph/internal/domain/newsletter"
)

// One statement so every count comes from the same read transaction.
const statsCypher = `
CALL { MATCH (o:Organization) RETURN count(o) AS organizations }
CALL { MATCH (p:Person) RETURN count(p) AS people }
CALL { MATCH (pr:Product) RETURN count(pr) AS products }
CALL { MATCH (ev:Event) RETURN count(ev) AS events }
CALL { MATCH (l:Location) RETURN count(l) AS locations }
CALL { MATCH (t:Topic) RETURN count(t) AS topics }
CALL { MATCH (n:Newsletter) RETURN count(n) AS newsletters }
CALL { MATCH ()-[r]->() RETURN count(r) AS relationships }
RETURN organizations, people, products, events, locations, topics, newsletters, relationships
`

func (s *Neo4jStore) Stats(ctx context.Context) (newsletter.GraphStats, error) {
	rows, err := s.run.ExecuteRead(ctx, statsCypher, nil)
	if err != nil {
		return newsletter.GraphStats{}, err
	}
	if len(rows) == 0 {
		return newsletter.GraphStats{}, nil
	}
	r := rows[0]
	return newsletter.GraphStats{
		Organizations: asInt64(r["organizations"]),
		People:        asInt64(r["people"]),
		Products:      asInt64(r["products"]),
		Events:        asInt64(r["events"]),
		Locations:     asInt64(r["locations"]),
		Topics:        asInt64(r["topics"]),
		Newsletters:   asInt64(r["newsletters"]),
		Relationships: asInt64(r["relationships"]),
	}, nil
}
