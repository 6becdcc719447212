package sentiment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/surveysentiment/internal/llm"
)

// Providers accepted by NewAnalyzer.
const (
	ProviderGoogle = "google"
	ProviderVader  = "vader"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Settings selects and configures an analyzer backend.
type Settings struct {
	Provider  string
	Language  string
	Endpoint  string
	APIKeyEnv string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// NewAnalyzer builds the analyzer named in s.
func NewAnalyzer(ctx context.Context, s Settings) (Analyzer, error) {
	switch strings.ToLower(s.Provider) {
	case ProviderGoogle:
		return NewGoogleAnalyzer(ctx, GoogleOptions{
			Endpoint:  s.Endpoint,
			Language:  s.Language,
			APIKeyEnv: s.APIKeyEnv,
			Timeout:   s.Timeout,
		})
	case ProviderVader:
		return NewVaderAnalyzer(), nil
	case ProviderOllama, ProviderOpenAI:
		p, err := llm.New(ctx, llm.Settings{
			Provider:  s.Provider,
			Model:     s.Model,
			BaseURL:   s.Endpoint,
			APIKeyEnv: s.APIKeyEnv,
			Timeout:   s.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return NewLLMAnalyzer(p, s.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown sentiment provider %q", s.Provider)
	}
}
