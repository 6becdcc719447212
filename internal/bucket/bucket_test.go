package bucket

import (
	"errors"
	"testing"
)

func TestDefaultLabels(t *testing.T) {
	s := Default()
	tests := []struct {
		score float64
		want  string
	}{
		{-1, "Very Negative"},
		{-0.8, "Very Negative"},
		{-0.6, "Very Negative"},
		{-0.5, "Negative"},
		{-0.2, "Negative"},
		{-0.1, "Neutral"},
		{0, "Neutral"},
		{0.2, "Positive"},
		{0.3, "Positive"},
		{0.6, "Very Positive"},
		{0.9, "Very Positive"},
		{1, "Very Positive"},
	}
	for _, tt := range tests {
		got, err := s.Label(tt.score)
		if err != nil {
			t.Fatalf("Label(%g): unexpected error: %v", tt.score, err)
		}
		if got != tt.want {
			t.Errorf("Label(%g) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestCoarseLabels(t *testing.T) {
	s := Coarse()
	tests := []struct {
		score float64
		want  string
	}{
		{-1, "Negative"},
		{-0.25, "Negative"},
		{0, "Neutral"},
		{0.25, "Positive"},
		{1, "Positive"},
	}
	for _, tt := range tests {
		got, _ := s.Label(tt.score)
		if got != tt.want {
			t.Errorf("Label(%g) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestZeroEdgeGoesUp(t *testing.T) {
	s, err := New([]float64{-1, 0, 1}, []string{"Bad", "Good"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := s.Label(0)
	if got != "Good" {
		t.Errorf("expected 'Good' for score on zero edge, got %q", got)
	}
}

func TestLabelTotalAndIdempotent(t *testing.T) {
	for _, s := range []*Scheme{Default(), Coarse()} {
		labels := map[string]bool{}
		for _, l := range s.Labels() {
			labels[l] = true
		}
		for i := -1000; i <= 1000; i++ {
			score := float64(i) / 1000
			first, err := s.Label(score)
			if err != nil {
				t.Fatalf("Label(%g): unexpected error: %v", score, err)
			}
			if !labels[first] {
				t.Fatalf("Label(%g) returned unknown label %q", score, first)
			}
			second, _ := s.Label(score)
			if first != second {
				t.Fatalf("Label(%g) not stable: %q then %q", score, first, second)
			}
		}
	}
}

func TestLabelOutOfRange(t *testing.T) {
	s := Default()
	for _, score := range []float64{-1.01, 1.5} {
		if _, err := s.Label(score); err == nil {
			t.Errorf("expected error for score %g", score)
		}
	}
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		edges  []float64
		labels []string
	}{
		{"edge count", []float64{-1, 0, 1}, []string{"a", "b", "c"}},
		{"no labels", []float64{-1, 1}, nil},
		{"not increasing", []float64{-1, 0.5, 0.2, 1}, []string{"a", "b", "c"}},
		{"duplicate edge", []float64{-1, 0, 0, 1}, []string{"a", "b", "c"}},
		{"short span", []float64{-0.9, 0, 1}, []string{"a", "b"}},
		{"long span", []float64{-1, 0, 2}, []string{"a", "b"}},
		{"empty label", []float64{-1, 0, 1}, []string{"a", " "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.edges, tt.labels)
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestByName(t *testing.T) {
	s, err := ByName("coarse", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Labels()) != 3 {
		t.Errorf("expected 3 labels, got %d", len(s.Labels()))
	}

	s, err = ByName("", nil, nil)
	if err != nil || len(s.Labels()) != 5 {
		t.Errorf("expected default scheme for empty name, got %v, %v", s, err)
	}

	s, err = ByName("custom", []float64{-1, 0, 1}, []string{"Down", "Up"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := s.Label(-0.5); got != "Down" {
		t.Errorf("expected 'Down', got %q", got)
	}

	if _, err := ByName("fancy", nil, nil); err == nil {
		t.Error("expected error for unknown scheme")
	}
}
