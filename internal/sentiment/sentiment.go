// Package sentiment wraps an external sentiment service behind a validating client.
package sentiment

import (
	"context"
	"errors"
	"fmt"
)

// Sentiment is the document-level result of a sentiment call.
type Sentiment struct {
	Score     float64 `json:"score"`
	Magnitude float64 `json:"magnitude"`
}

// Entity is one named entity with its sentiment in context.
type Entity struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Salience  float64 `json:"salience"`
	Score     float64 `json:"score"`
	Magnitude float64 `json:"magnitude"`
}

// EntityOther is used when the service gives no usable entity type.
const EntityOther = "OTHER"

// Analyzer is the boundary to the remote sentiment service. Each method makes
// exactly one remote call.
type Analyzer interface {
	AnalyzeSentiment(ctx context.Context, text string) (Sentiment, error)
	AnalyzeEntitySentiment(ctx context.Context, text string) ([]Entity, error)
}

// ErrEmptyInput is returned for blank text; no remote call is made.
var ErrEmptyInput = errors.New("empty input text")

// ErrUnsupported is returned by analyzers that cannot serve an operation.
var ErrUnsupported = errors.New("operation not supported by analyzer")

// ServiceError wraps any failure of the remote service: transport, auth,
// quota or a malformed response.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("sentiment service %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// IsServiceError reports whether err is or wraps a ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
