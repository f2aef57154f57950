package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/newsgraph/internal/domain/newsletter"
)

// stripFences returns the body of the first ```json block, else the first ``` block,
// else the trimmed text.
func stripFences(s string) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		rest := s[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(s)
}

// parseCandidates decodes the model's JSON. Missing fields are tolerated;
// entries that are not objects are dropped. Type and confidence are carried
// through unchecked so validation can report them per candidate.
func parseCandidates(text string) ([]newsletter.Candidate, error) {
	body := stripFences(text)
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode extractor response: %w", err)
	}
	raw, ok := doc["entities"]
	if !ok || string(raw) == "null" {
		return []newsletter.Candidate{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("entities is not a list: %w", err)
	}

	out := make([]newsletter.Candidate, 0, len(items))
	for _, item := range items {
		var m map[string]any
		if err := json.Unmarshal(item, &m); err != nil || m == nil {
			continue
		}
		out = append(out, candidateFrom(m))
	}
	return out, nil
}

func candidateFrom(m map[string]any) newsletter.Candidate {
	c := newsletter.Candidate{
		Name:    stringField(m, "name"),
		RawType: stringField(m, "type"),
		Context: stringField(m, "context"),
	}
	if t, err := newsletter.ParseEntityType(c.RawType); err == nil {
		c.Type = t
	}
	if f, ok := m["confidence"].(float64); ok {
		c.Confidence = f
	}
	if list, ok := m["aliases"].([]any); ok {
		for _, a := range list {
			if s, ok := a.(string); ok {
				c.Aliases = append(c.Aliases, s)
			}
		}
	}
	if props, ok := m["properties"].(map[string]any); ok && len(props) > 0 {
		c.Properties = props
	}
	return c
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
