package neo4jdb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var (
	ErrNotConnected = errors.New("neo4jdb: not connected")
	ErrClosed       = errors.New("neo4jdb: client closed")
)

const maxQueryChars = 200

// ConnectionError reports which connect phase failed.
type ConnectionError struct {
	Phase   Phase
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Address != "" {
		return fmt.Sprintf("neo4jdb: %s phase failed for %s: %v", e.Phase, e.Address, e.Err)
	}
	return fmt.Sprintf("neo4jdb: %s phase failed: %v", e.Phase, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// QueryError is a statement failure on a live connection.
// It carries a truncated query and the server error code, never parameter values.
type QueryError struct {
	Query          string
	Code           string
	Classification string
	Err            error
}

func (e *QueryError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Code != "" {
		// Server messages may echo property values, so only the code is rendered.
		return fmt.Sprintf("neo4jdb: query failed code=%s classification=%s query=%q", e.Code, e.Classification, e.Query)
	}
	return fmt.Sprintf("neo4jdb: query failed: %v query=%q", e.Err, e.Query)
}

func (e *QueryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newQueryError(query string, err error) *QueryError {
	qe := &QueryError{Query: TruncateQuery(query), Err: err}
	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) {
		qe.Code = nerr.Code
		qe.Classification = nerr.Classification()
	}
	return qe
}

// TruncateQuery collapses whitespace and caps the statement for logs and errors.
func TruncateQuery(query string) string {
	q := strings.Join(strings.Fields(query), " ")
	if len(q) > maxQueryChars {
		return q[:maxQueryChars] + "..."
	}
	return q
}

func isAuthError(err error) bool {
	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) {
		return strings.HasPrefix(nerr.Code, "Neo.ClientError.Security.")
	}
	return false
}
