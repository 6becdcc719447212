// Package bucket maps continuous sentiment scores onto ordered categorical labels.
package bucket

import (
	"fmt"
	"strings"
)

const (
	MinScore = -1.0
	MaxScore = 1.0
)

// Scheme names accepted by ByName.
const (
	SchemeDefault = "default"
	SchemeCoarse  = "coarse"
	SchemeCustom  = "custom"
)

// ConfigurationError reports an invalid set of bin edges or labels.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid bucket configuration: " + e.Reason
}

// Scheme is a validated set of N+1 strictly increasing edges spanning [-1, 1]
// with N labels in ascending order.
type Scheme struct {
	edges  []float64
	labels []string
}

// New validates edges and labels and returns a Scheme.
func New(edges []float64, labels []string) (*Scheme, error) {
	if len(labels) == 0 {
		return nil, &ConfigurationError{Reason: "at least one label is required"}
	}
	if len(edges) != len(labels)+1 {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("expected %d edges for %d labels, got %d", len(labels)+1, len(labels), len(edges)),
		}
	}
	if edges[0] != MinScore || edges[len(edges)-1] != MaxScore {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("edges must span [-1, 1], got [%g, %g]", edges[0], edges[len(edges)-1]),
		}
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return nil, &ConfigurationError{
				Reason: fmt.Sprintf("edges must be strictly increasing: %g follows %g", edges[i], edges[i-1]),
			}
		}
	}
	for i, l := range labels {
		if strings.TrimSpace(l) == "" {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("label %d is empty", i)}
		}
	}

	return &Scheme{
		edges:  append([]float64(nil), edges...),
		labels: append([]string(nil), labels...),
	}, nil
}

// Default is the five-label scheme used for reporting.
func Default() *Scheme {
	s, _ := New(
		[]float64{-1, -0.6, -0.2, 0.2, 0.6, 1},
		[]string{"Very Negative", "Negative", "Neutral", "Positive", "Very Positive"},
	)
	return s
}

// Coarse is the three-label scheme.
func Coarse() *Scheme {
	s, _ := New(
		[]float64{-1, -0.25, 0.25, 1},
		[]string{"Negative", "Neutral", "Positive"},
	)
	return s
}

// ByName resolves a named scheme. Custom schemes take their edges and labels
// from the arguments; the built-in schemes ignore them.
func ByName(name string, edges []float64, labels []string) (*Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SchemeDefault:
		return Default(), nil
	case SchemeCoarse:
		return Coarse(), nil
	case SchemeCustom:
		return New(edges, labels)
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown scheme %q", name)}
	}
}

// Labels returns the labels in ascending order.
func (s *Scheme) Labels() []string {
	return append([]string(nil), s.labels...)
}

// Edges returns the bin edges in ascending order.
func (s *Scheme) Edges() []float64 {
	return append([]float64(nil), s.edges...)
}

// Label returns the label of the bucket containing score.
//
// -1 maps to the lowest bucket and 1 to the highest. A score sitting exactly
// on an interior edge goes to the bucket further from zero: edges >= 0 belong
// to the bucket above them, negative edges to the bucket below.
func (s *Scheme) Label(score float64) (string, error) {
	if score < MinScore || score > MaxScore || score != score {
		return "", fmt.Errorf("score %g outside [-1, 1]", score)
	}

	n := len(s.labels)
	for i := 0; i < n; i++ {
		lo, hi := s.edges[i], s.edges[i+1]
		switch {
		case score > lo && score < hi:
			return s.labels[i], nil
		case score == lo:
			if i == 0 || lo >= 0 {
				return s.labels[i], nil
			}
			return s.labels[i-1], nil
		}
	}
	return s.labels[n-1], nil
}
