package newsletter

import (
	"math"
	"strings"
)

// Validate checks name, type and confidence range and the threshold.
// Confidence equal to the threshold passes.
func (c Candidate) Validate(threshold float64) error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return &ValidationError{Field: "name", Err: ErrEmptyName}
	}
	if !c.Type.Valid() {
		return &ValidationError{Field: "type", Name: name, Err: ErrUnknownType}
	}
	if math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 1 {
		return &ValidationError{Field: "confidence", Name: name, Err: ErrConfidenceRange}
	}
	if c.Confidence < threshold {
		return &ValidationError{Field: "confidence", Name: name, Err: ErrBelowThreshold}
	}
	return nil
}

// Normalized trims the name and drops blank or duplicate aliases and the name itself.
func (c Candidate) Normalized() Candidate {
	c.Name = strings.TrimSpace(c.Name)
	c.Context = strings.TrimSpace(c.Context)
	c.Aliases = CleanAliases(c.Name, c.Aliases)
	return c
}

func CleanAliases(name string, aliases []string) []string {
	out := make([]string, 0, len(aliases))
	seen := map[string]bool{strings.ToLower(name): true}
	for _, a := range aliases {
		a = strings.TrimSpace(a)
		key := strings.ToLower(a)
		if a == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}
