package sentiment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/TobiSchelling/surveysentiment/internal/metrics"
)

const (
	opSentiment       = "analyze_sentiment"
	opEntitySentiment = "analyze_entity_sentiment"
)

// Client guards and normalises calls to an Analyzer. It does no batching and
// no retries.
type Client struct {
	analyzer Analyzer
	metrics  *metrics.Metrics
}

// NewClient creates a client; m may be nil.
func NewClient(analyzer Analyzer, m *metrics.Metrics) *Client {
	return &Client{analyzer: analyzer, metrics: m}
}

// ScoreWholeText returns the overall sentiment of text.
func (c *Client) ScoreWholeText(ctx context.Context, text string) (Sentiment, error) {
	if strings.TrimSpace(text) == "" {
		return Sentiment{}, ErrEmptyInput
	}

	start := time.Now()
	s, err := c.analyzer.AnalyzeSentiment(ctx, text)
	if err == nil {
		err = validateSentiment(s.Score, s.Magnitude)
	}
	if err != nil {
		c.metrics.ObserveRequest(opSentiment, "error", time.Since(start))
		return Sentiment{}, &ServiceError{Op: opSentiment, Err: err}
	}
	c.metrics.ObserveRequest(opSentiment, "ok", time.Since(start))
	return s, nil
}

// ScoreEntities returns the sentiment of each entity in text. Text without
// entities yields an empty, non-nil slice.
func (c *Client) ScoreEntities(ctx context.Context, text string) ([]Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	start := time.Now()
	raw, err := c.analyzer.AnalyzeEntitySentiment(ctx, text)
	if err != nil {
		c.metrics.ObserveRequest(opEntitySentiment, "error", time.Since(start))
		return nil, &ServiceError{Op: opEntitySentiment, Err: err}
	}

	out := make([]Entity, 0, len(raw))
	for _, e := range raw {
		if err := validateEntity(e); err != nil {
			c.metrics.ObserveRequest(opEntitySentiment, "error", time.Since(start))
			return nil, &ServiceError{Op: opEntitySentiment, Err: err}
		}
		e.Type = NormalizeEntityType(e.Type)
		out = append(out, e)
	}

	c.metrics.ObserveRequest(opEntitySentiment, "ok", time.Since(start))
	c.metrics.EntitiesFound(len(out))
	slog.Debug("entities scored", "count", len(out))
	return out, nil
}

// NormalizeEntityType passes service labels through as upper-case tokens and
// falls back to OTHER for blank or unknown-marker types.
func NormalizeEntityType(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	t = strings.Join(strings.Fields(t), "_")
	switch t {
	case "", "UNKNOWN", "TYPE_UNKNOWN":
		return EntityOther
	}
	return t
}

func validateSentiment(score, magnitude float64) error {
	if score < -1 || score > 1 || score != score {
		return fmt.Errorf("score %g outside [-1, 1]", score)
	}
	if magnitude < 0 || magnitude != magnitude {
		return fmt.Errorf("negative magnitude %g", magnitude)
	}
	return nil
}

func validateEntity(e Entity) error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("entity without name")
	}
	if e.Salience < 0 || e.Salience > 1 || e.Salience != e.Salience {
		return fmt.Errorf("entity %q: salience %g outside [0, 1]", e.Name, e.Salience)
	}
	if err := validateSentiment(e.Score, e.Magnitude); err != nil {
		return fmt.Errorf("entity %q: %w", e.Name, err)
	}
	return nil
}
