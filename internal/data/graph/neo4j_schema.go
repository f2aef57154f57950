package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/newsgraph/internal/domain/newsletter"
)

// SchemaStatements lists every constraint and index, in the order they are applied.
func SchemaStatements() []string {
	stmts := make([]string, 0, 3*len(newsletter.EntityTypes)+2)
	for _, t := range newsletter.EntityTypes {
		key := strings.ToLower(t.Label())
		stmts = append(stmts, fmt.Sprintf(
			"CREATE CONSTRAINT unique_%s_name IF NOT EXISTS FOR (e:%s) REQUIRE e.name IS UNIQUE", key, t.Label()))
	}
	stmts = append(stmts,
		"CREATE CONSTRAINT unique_newsletter_id IF NOT EXISTS FOR (n:Newsletter) REQUIRE n.id IS UNIQUE",
		"CREATE INDEX newsletter_received_date_idx IF NOT EXISTS FOR (n:Newsletter) ON (n.received_date)",
	)
	for _, t := range newsletter.EntityTypes {
		key := strings.ToLower(t.Label())
		stmts = append(stmts,
			fmt.Sprintf("CREATE INDEX %s_confidence_idx IF NOT EXISTS FOR (e:%s) ON (e.confidence)", key, t.Label()),
			fmt.Sprintf("CREATE INDEX %s_last_seen_idx IF NOT EXISTS FOR (e:%s) ON (e.last_seen)", key, t.Label()),
		)
	}
	return stmts
}

// EnsureSchema applies each statement independently. Failures are logged and
// reported, never returned.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) newsletter.SchemaReport {
	report := newsletter.SchemaReport{Applied: []string{}, Failed: []string{}}
	for _, stmt := range SchemaStatements() {
		name := schemaName(stmt)
		if _, err := s.run.ExecuteAutoCommit(ctx, stmt, nil); err != nil {
			serr := &newsletter.SchemaSetupError{Statement: name, Err: err}
			s.log.Warn("neo4j schema init failed (continuing)", "name", name, "error", serr)
			report.Failed = append(report.Failed, name)
			continue
		}
		report.Applied = append(report.Applied, name)
	}
	s.log.Info("neo4j schema ensured", "applied", len(report.Applied), "failed", len(report.Failed))
	return report
}

func schemaName(stmt string) string {
	fields := strings.Fields(stmt)
	if len(fields) >= 3 {
		return fields[2]
	}
	return stmt
}
