// Package graphtest provides an in-process graph.Store for tests.
package graphtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/newsgraph/internal/data/graph"
	"github.com/yungbote/newsgraph/internal/domain/newsletter"
)

type entityKey struct {
	t    newsletter.EntityType
	name string
}

type mentionKey struct {
	entity       entityKey
	newsletterID string
}

// MemoryStore keeps the graph in process. Writes to one (type, name) are
// serialised by a per-key mutex; mu guards the maps themselves.
type MemoryStore struct {
	keys keyedMutex

	mu          sync.RWMutex
	entities    map[entityKey]*newsletter.Entity
	newsletters map[string]newsletter.Newsletter
	mentions    map[mentionKey]newsletter.Mention

	now func() time.Time
}

var _ graph.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:    map[entityKey]*newsletter.Entity{},
		newsletters: map[string]newsletter.Newsletter{},
		mentions:    map[mentionKey]newsletter.Mention{},
		now:         time.Now,
	}
}

func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryStore) EnsureSchema(context.Context) newsletter.SchemaReport {
	return newsletter.SchemaReport{Applied: []string{}, Failed: []string{}}
}

func (s *MemoryStore) MergeNewsletter(ctx context.Context, n newsletter.Newsletter) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if n.ID == "" {
		return false, fmt.Errorf("newsletter id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.newsletters[n.ID]; ok {
		return false, nil
	}
	n.CreatedAt = s.now().UTC()
	s.newsletters[n.ID] = n
	return true, nil
}

func (s *MemoryStore) MergeEntity(ctx context.Context, c newsletter.Candidate, policy newsletter.AliasMergePolicy) (newsletter.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return newsletter.UpsertResult{}, err
	}
	if !c.Type.Valid() {
		return newsletter.UpsertResult{}, &newsletter.ValidationError{Field: "type", Name: c.Name, Err: newsletter.ErrUnknownType}
	}
	key := entityKey{t: c.Type, name: c.Name}
	unlock := s.keys.Lock(key)
	defer unlock()

	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[key]
	if !ok {
		e = &newsletter.Entity{
			Name:         c.Name,
			Type:         c.Type,
			Aliases:      append([]string{}, c.Aliases...),
			Confidence:   c.Confidence,
			MentionCount: 1,
			CreatedAt:    now,
			LastSeen:     now,
			Properties:   copyProps(c.Properties),
		}
		s.entities[key] = e
		return newsletter.UpsertResult{Entity: cloneEntity(e), Operation: newsletter.OperationCreated}, nil
	}

	e.LastSeen = now
	e.MentionCount++
	if c.Confidence > e.Confidence {
		e.Confidence = c.Confidence
	}
	if policy == newsletter.AliasUnion {
		seen := make(map[string]bool, len(e.Aliases))
		for _, a := range e.Aliases {
			seen[a] = true
		}
		for _, a := range c.Aliases {
			if !seen[a] {
				seen[a] = true
				e.Aliases = append(e.Aliases, a)
			}
		}
	}
	return newsletter.UpsertResult{Entity: cloneEntity(e), Operation: newsletter.OperationUpdated}, nil
}

func (s *MemoryStore) MergeMention(ctx context.Context, m newsletter.Mention) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := mentionKey{entity: entityKey{t: m.EntityType, name: m.EntityName}, newsletterID: m.NewsletterID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[key.entity]; !ok {
		return false, fmt.Errorf("link %s %q to %s: %w", m.EntityType, m.EntityName, m.NewsletterID, newsletter.ErrLinkTargetMissing)
	}
	if _, ok := s.newsletters[m.NewsletterID]; !ok {
		return false, fmt.Errorf("link %s %q to %s: %w", m.EntityType, m.EntityName, m.NewsletterID, newsletter.ErrLinkTargetMissing)
	}
	if _, ok := s.mentions[key]; ok {
		return false, nil
	}
	if m.Date.IsZero() {
		m.Date = s.now().UTC()
	}
	s.mentions[key] = m
	return true, nil
}

func (s *MemoryStore) GetEntity(_ context.Context, t newsletter.EntityType, name string) (newsletter.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[entityKey{t: t, name: name}]
	if !ok {
		return newsletter.Entity{}, newsletter.ErrEntityNotFound
	}
	return cloneEntity(e), nil
}

// Mentions returns the edges recorded for one newsletter.
func (s *MemoryStore) Mentions(newsletterID string) []newsletter.Mention {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []newsletter.Mention
	for k, m := range s.mentions {
		if k.newsletterID == newsletterID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityName < out[j].EntityName })
	return out
}

func (s *MemoryStore) FindSimilar(_ context.Context, name string, t newsletter.EntityType, limit int) ([]newsletter.Entity, error) {
	if !t.Valid() {
		return nil, newsletter.ErrUnknownType
	}
	term := strings.ToLower(strings.TrimSpace(name))
	if term == "" {
		return []newsletter.Entity{}, nil
	}
	if limit <= 0 {
		limit = graph.DefaultSimilarLimit
	}
	s.mu.RLock()
	out := make([]newsletter.Entity, 0)
	for k, e := range s.entities {
		if k.t != t {
			continue
		}
		if similar(term, e) {
			out = append(out, cloneEntity(e))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].MentionCount != out[j].MentionCount {
			return out[i].MentionCount > out[j].MentionCount
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func similar(term string, e *newsletter.Entity) bool {
	candidates := append([]string{e.Name}, e.Aliases...)
	for _, c := range candidates {
		lc := strings.ToLower(c)
		if lc == "" {
			continue
		}
		if strings.Contains(lc, term) || strings.Contains(term, lc) {
			return true
		}
	}
	return false
}

// Stats holds the store-wide read lock so the counts form one snapshot.
func (s *MemoryStore) Stats(context.Context) (newsletter.GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st newsletter.GraphStats
	for k := range s.entities {
		st.Add(k.t, 1)
	}
	st.Newsletters = int64(len(s.newsletters))
	st.Relationships = int64(len(s.mentions))
	return st, nil
}

func cloneEntity(e *newsletter.Entity) newsletter.Entity {
	out := *e
	out.Aliases = append([]string{}, e.Aliases...)
	out.Properties = copyProps(e.Properties)
	return out
}

func copyProps(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[entityKey]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) Lock(key entityKey) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[entityKey]*refMutex{}
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
