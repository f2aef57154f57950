package entities

import (
	"sort"
	"strings"

	"github.com/yungbote/newsgraph/internal/domain/newsletter"
)

// FilterByConfidence keeps candidates whose confidence is at least threshold.
// Candidates equal to the threshold are kept.
func FilterByConfidence(cands []newsletter.Candidate, threshold float64) (kept, dropped []newsletter.Candidate) {
	kept = make([]newsletter.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Confidence < threshold {
			dropped = append(dropped, c)
			continue
		}
		kept = append(kept, c)
	}
	return kept, dropped
}

// CapByConfidence returns at most max candidates, highest confidence first.
// Ties keep their input order. A non-positive max disables the cap.
func CapByConfidence(cands []newsletter.Candidate, max int) []newsletter.Candidate {
	if max <= 0 || len(cands) <= max {
		return cands
	}
	sorted := append([]newsletter.Candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	return sorted[:max]
}

type candidateKey struct {
	t    newsletter.EntityType
	name string
}

// Collapse merges candidates sharing a (type, name) key so each key is upserted
// once per newsletter. The merged candidate keeps the first position, the highest
// confidence, the first non-empty context and the union of aliases. Properties
// are merged with earlier values winning. Candidates without a name or a known
// type pass through untouched so they still show up as skipped.
func Collapse(cands []newsletter.Candidate) []newsletter.Candidate {
	out := make([]newsletter.Candidate, 0, len(cands))
	index := make(map[candidateKey]int, len(cands))
	for _, c := range cands {
		name := strings.TrimSpace(c.Name)
		if name == "" || !c.Type.Valid() {
			out = append(out, c)
			continue
		}
		k := candidateKey{t: c.Type, name: name}
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			c.Aliases = append([]string(nil), c.Aliases...)
			if c.Properties != nil {
				props := make(map[string]any, len(c.Properties))
				for pk, pv := range c.Properties {
					props[pk] = pv
				}
				c.Properties = props
			}
			out = append(out, c)
			continue
		}
		m := &out[i]
		if c.Confidence > m.Confidence {
			m.Confidence = c.Confidence
		}
		if strings.TrimSpace(m.Context) == "" {
			m.Context = c.Context
		}
		m.Aliases = append(m.Aliases, c.Aliases...)
		for pk, pv := range c.Properties {
			if m.Properties == nil {
				m.Properties = map[string]any{}
			}
			if _, exists := m.Properties[pk]; !exists {
				m.Properties[pk] = pv
			}
		}
	}
	return out
}
