package sentiment

import (
	"context"
	"fmt"

	"github.com/TobiSchelling/surveysentiment/internal/llm"
)

const sentimentPrompt = `You are scoring the sentiment of a free-text survey response.

Response:
%s

Respond with ONLY this JSON:
{
    "score": number between -1.0 (very negative) and 1.0 (very positive),
    "magnitude": number >= 0 giving the overall strength of emotion, summed across sentences
}`

const entityPrompt = `You are extracting named entities from a free-text survey response and scoring the sentiment expressed towards each one.

Response:
%s

Merge mentions that refer to the same thing. Respond with ONLY this JSON:
{
    "entities": [
        {
            "name": "entity as written",
            "type": "PERSON" | "LOCATION" | "ORGANIZATION" | "EVENT" | "WORK_OF_ART" | "CONSUMER_GOOD" | "OTHER",
            "salience": number between 0 and 1, importance of the entity to the whole response,
            "score": number between -1.0 and 1.0,
            "magnitude": number >= 0
        }
    ]
}

Return an empty list if there are no entities.`

// LLMAnalyzer asks a language model for sentiment in a fixed JSON shape.
type LLMAnalyzer struct {
	provider  llm.Provider
	maxTokens int
}

// NewLLMAnalyzer wraps an LLM provider.
func NewLLMAnalyzer(provider llm.Provider, maxTokens int) *LLMAnalyzer {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &LLMAnalyzer{provider: provider, maxTokens: maxTokens}
}

// AnalyzeSentiment prompts for a document score and magnitude.
func (a *LLMAnalyzer) AnalyzeSentiment(ctx context.Context, text string) (Sentiment, error) {
	reply, err := a.provider.Generate(ctx, fmt.Sprintf(sentimentPrompt, text), a.maxTokens)
	if err != nil {
		return Sentiment{}, err
	}

	var out struct {
		Score     *float64 `json:"score"`
		Magnitude *float64 `json:"magnitude"`
	}
	if err := llm.DecodeJSON(reply, &out); err != nil {
		return Sentiment{}, err
	}
	if out.Score == nil || out.Magnitude == nil {
		return Sentiment{}, fmt.Errorf("%s reply missing score or magnitude", a.provider.Name())
	}
	return Sentiment{Score: *out.Score, Magnitude: *out.Magnitude}, nil
}

// AnalyzeEntitySentiment prompts for per-entity sentiment.
func (a *LLMAnalyzer) AnalyzeEntitySentiment(ctx context.Context, text string) ([]Entity, error) {
	reply, err := a.provider.Generate(ctx, fmt.Sprintf(entityPrompt, text), a.maxTokens)
	if err != nil {
		return nil, err
	}

	var out struct {
		Entities []Entity `json:"entities"`
	}
	if err := llm.DecodeJSON(reply, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}
