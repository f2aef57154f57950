package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/newsgraph/internal/domain/newsletter"
	"github.com/yungbote/newsgraph/internal/platform/logger"
)

type Neo4jStore struct {
	run Runner
	log *logger.Logger
	now func() time.Time
}

var _ Store = (*Neo4jStore)(nil)

func NewNeo4jStore(run Runner, baseLog *logger.Logger) *Neo4jStore {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &Neo4jStore{
		run: run,
		log: baseLog.With("store", "Neo4jGraphStore"),
		now: time.Now,
	}
}

// WithClock overrides the timestamp source.
func (s *Neo4jStore) WithClock(now func() time.Time) *Neo4jStore {
	if now != nil {
		s.now = now
	}
	return s
}

// The op_id written ON CREATE is compared in the RETURN of the same statement,
// so created vs updated needs no separate existence check.
const mergeEntityCypher = `
MERGE (e:%s {name: $name})
ON CREATE SET e.op_id = $op_id,
    e.created_at = $now,
    e.last_seen = $now,
    e.confidence = $confidence,
    e.aliases = $aliases,
    e.mention_count = 1,
    e.properties_json = $properties_json
ON MATCH SET e.last_seen = $now,
    e.mention_count = coalesce(e.mention_count, 0) + 1,
    e.confidence = CASE WHEN $confidence > coalesce(e.confidence, 0.0) THEN $confidence ELSE e.confidence END,
    e.aliases = CASE WHEN $merge_aliases
        THEN coalesce(e.aliases, []) + [a IN $aliases WHERE NOT a IN coalesce(e.aliases, [])]
        ELSE coalesce(e.aliases, []) END
RETURN e.name AS name,
    e.aliases AS aliases,
    e.confidence AS confidence,
    e.mention_count AS mention_count,
    e.created_at AS created_at,
    e.last_seen AS last_seen,
    e.properties_json AS properties_json,
    e.op_id = $op_id AS created
`

func (s *Neo4jStore) MergeEntity(ctx context.Context, c newsletter.Candidate, policy newsletter.AliasMergePolicy) (newsletter.UpsertResult, error) {
	if !c.Type.Valid() {
		return newsletter.UpsertResult{}, &newsletter.ValidationError{Field: "type", Name: c.Name, Err: newsletter.ErrUnknownType}
	}
	props, err := encodeProperties(c.Properties)
	if err != nil {
		return newsletter.UpsertResult{}, fmt.Errorf("encode properties for %q: %w", c.Name, err)
	}
	aliases := c.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	rows, err := s.run.Execute(ctx, fmt.Sprintf(mergeEntityCypher, c.Type.Label()), map[string]any{
		"name":            c.Name,
		"op_id":           uuid.NewString(),
		"now":             formatTime(s.now()),
		"confidence":      c.Confidence,
		"aliases":         aliases,
		"properties_json": props,
		"merge_aliases":   policy == newsletter.AliasUnion,
	})
	if err != nil {
		return newsletter.UpsertResult{}, err
	}
	if len(rows) == 0 {
		return newsletter.UpsertResult{}, fmt.Errorf("merge %s %q returned no rows", c.Type, c.Name)
	}
	row := rows[0]
	op := newsletter.OperationUpdated
	if asBool(row["created"]) {
		op = newsletter.OperationCreated
	}
	return newsletter.UpsertResult{Entity: entityFromRow(c.Type, row), Operation: op}, nil
}

func entityFromRow(t newsletter.EntityType, row map[string]any) newsletter.Entity {
	return newsletter.Entity{
		Name:         asString(row["name"]),
		Type:         t,
		Aliases:      asStrings(row["aliases"]),
		Confidence:   asFloat(row["confidence"]),
		MentionCount: asInt64(row["mention_count"]),
		CreatedAt:    asTime(row["created_at"]),
		LastSeen:     asTime(row["last_seen"]),
		Properties:   decodeProperties(row["properties_json"]),
	}
}

const mergeNewsletterCypher = `
MERGE (n:Newsletter {id: $id})
ON CREATE SET n.op_id = $op_id,
    n.subject = $subject,
    n.sender = $sender,
    n.received_date = $received_date,
    n.content_length = $content_length,
    n.created_at = $now
RETURN n.op_id = $op_id AS created
`

func (s *Neo4jStore) MergeNewsletter(ctx context.Context, n newsletter.Newsletter) (bool, error) {
	if n.ID == "" {
		return false, fmt.Errorf("newsletter id required")
	}
	received := ""
	if !n.ReceivedDate.IsZero() {
		received = formatTime(n.ReceivedDate)
	}
	rows, err := s.run.Execute(ctx, mergeNewsletterCypher, map[string]any{
		"id":             n.ID,
		"op_id":          uuid.NewString(),
		"subject":        n.Subject,
		"sender":         n.Sender,
		"received_date":  received,
		"content_length": int64(n.ContentLength),
		"now":            formatTime(s.now()),
	})
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, fmt.Errorf("merge newsletter %s returned no rows", n.ID)
	}
	return asBool(rows[0]["created"]), nil
}

const mergeMentionCypher = `
MATCH (e:%s {name: $name})
MATCH (n:Newsletter {id: $newsletter_id})
MERGE (e)-[r:MENTIONED_IN]->(n)
ON CREATE SET r.op_id = $op_id,
    r.date = $date,
    r.context = $context
RETURN r.op_id = $op_id AS created
`

func (s *Neo4jStore) MergeMention(ctx context.Context, m newsletter.Mention) (bool, error) {
	if !m.EntityType.Valid() {
		return false, &newsletter.ValidationError{Field: "type", Name: m.EntityName, Err: newsletter.ErrUnknownType}
	}
	date := m.Date
	if date.IsZero() {
		date = s.now()
	}
	rows, err := s.run.Execute(ctx, fmt.Sprintf(mergeMentionCypher, m.EntityType.Label()), map[string]any{
		"name":          m.EntityName,
		"newsletter_id": m.NewsletterID,
		"op_id":         uuid.NewString(),
		"date":          formatTime(date),
		"context":       m.Context,
	})
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, fmt.Errorf("link %s %q to %s: %w", m.EntityType, m.EntityName, m.NewsletterID, newsletter.ErrLinkTargetMissing)
	}
	return asBool(rows[0]["created"]), nil
}

const getEntityCypher = `
MATCH (e:%s {name: $name})
RETURN e.name AS name,
    e.aliases AS aliases,
    e.confidence AS confidence,
    e.mention_count AS mention_count,
    e.created_at AS created_at,
    e.last_seen AS last_seen,
    e.properties_json AS properties_json
`

func (s *Neo4jStore) GetEntity(ctx context.Context, t newsletter.EntityType, name string) (newsletter.Entity, error) {
	if !t.Valid() {
		return newsletter.Entity{}, newsletter.ErrUnknownType
	}
	rows, err := s.run.ExecuteRead(ctx, fmt.Sprintf(getEntityCypher, t.Label()), map[string]any{"name": name})
	if err != nil {
		return newsletter.Entity{}, err
	}
	if len(rows) == 0 {
		return newsletter.Entity{}, newsletter.ErrEntityNotFound
	}
	return entityFromRow(t, rows[0]), nil
}
