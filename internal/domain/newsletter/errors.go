package newsletter

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyName          = errors.New("entity name is empty")
	ErrUnknownType        = errors.New("entity type is not recognised")
	ErrConfidenceRange    = errors.New("confidence outside [0,1]")
	ErrBelowThreshold     = errors.New("confidence below threshold")
	ErrExtractorMissing   = errors.New("entity extractor not initialized")
	ErrEmptyContent       = errors.New("failed to clean HTML content")
	ErrNewsletterNotFound = errors.New("newsletter not found")
	ErrEntityNotFound     = errors.New("entity not found")
	ErrLinkTargetMissing  = errors.New("entity or newsletter missing for mention")
)

// ValidationError explains why a candidate was dropped.
type ValidationError struct {
	Field string
	Name  string
	Err   error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Name != "" {
		return fmt.Sprintf("invalid candidate %q: %s: %v", e.Name, e.Field, e.Err)
	}
	return fmt.Sprintf("invalid candidate: %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type ExtractionFailure string

const (
	ExtractionCall        ExtractionFailure = "call"
	ExtractionParse       ExtractionFailure = "parse"
	ExtractionUnavailable ExtractionFailure = "unavailable"
)

// UpstreamExtractionError is a failed or unparseable extractor call.
type UpstreamExtractionError struct {
	Kind ExtractionFailure
	Err  error
}

func (e *UpstreamExtractionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("entity extraction %s error: %v", e.Kind, e.Err)
}

func (e *UpstreamExtractionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type SchemaSetupError struct {
	Statement string
	Err       error
}

func (e *SchemaSetupError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("schema statement %q failed: %v", e.Statement, e.Err)
}

func (e *SchemaSetupError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
