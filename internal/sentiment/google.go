package sentiment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	language "cloud.google.com/go/language/apiv1"
	"cloud.google.com/go/language/apiv1/languagepb"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

const languageScope = "https://www.googleapis.com/auth/cloud-language"

// GoogleOptions configures the Cloud Natural Language analyzer.
type GoogleOptions struct {
	// Endpoint overrides the service host:port.
	Endpoint  string
	Language  string
	APIKeyEnv string
	Timeout   time.Duration
}

// GoogleAnalyzer calls the Cloud Natural Language API through its Go client.
type GoogleAnalyzer struct {
	client   *language.Client
	language string
	timeout  time.Duration
}

// NewGoogleAnalyzer authenticates with the API key in opts.APIKeyEnv when set,
// otherwise with Application Default Credentials.
func NewGoogleAnalyzer(ctx context.Context, opts GoogleOptions) (*GoogleAnalyzer, error) {
	return newGoogleAnalyzer(ctx, opts)
}

func newGoogleAnalyzer(ctx context.Context, opts GoogleOptions, extra ...option.ClientOption) (*GoogleAnalyzer, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 120 * time.Second
	}

	var clientOpts []option.ClientOption
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	auth := "default_credentials"
	apiKey := ""
	if opts.APIKeyEnv != "" {
		apiKey = os.Getenv(opts.APIKeyEnv)
	}
	switch {
	case len(extra) > 0:
		auth = "custom"
	case apiKey != "":
		auth = "api_key"
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	default:
		creds, err := google.FindDefaultCredentials(ctx, languageScope)
		if err != nil {
			return nil, fmt.Errorf("no API key in $%s and no default credentials: %w", opts.APIKeyEnv, err)
		}
		clientOpts = append(clientOpts, option.WithCredentials(creds))
	}
	clientOpts = append(clientOpts, extra...)

	client, err := language.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating natural language client: %w", err)
	}
	// Drop the generated retry policy; a failed call must surface to the
	// pipeline as is.
	client.CallOptions.AnalyzeSentiment = nil
	client.CallOptions.AnalyzeEntitySentiment = nil
	slog.Info("using google natural language", "auth", auth, "language", opts.Language)
	return &GoogleAnalyzer{client: client, language: opts.Language, timeout: opts.Timeout}, nil
}

// Close releases the client connection.
func (g *GoogleAnalyzer) Close() error {
	return g.client.Close()
}

func (g *GoogleAnalyzer) document(text string) *languagepb.Document {
	return &languagepb.Document{
		Type:     languagepb.Document_PLAIN_TEXT,
		Source:   &languagepb.Document_Content{Content: text},
		Language: g.language,
	}
}

// AnalyzeSentiment calls documents:analyzeSentiment.
func (g *GoogleAnalyzer) AnalyzeSentiment(ctx context.Context, text string) (Sentiment, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.AnalyzeSentiment(ctx, &languagepb.AnalyzeSentimentRequest{
		Document:     g.document(text),
		EncodingType: languagepb.EncodingType_UTF8,
	})
	if err != nil {
		return Sentiment{}, fmt.Errorf("natural language API error: %w", err)
	}
	ds := resp.GetDocumentSentiment()
	if ds == nil {
		return Sentiment{}, fmt.Errorf("response has no document sentiment")
	}
	return Sentiment{
		Score:     float64(ds.GetScore()),
		Magnitude: float64(ds.GetMagnitude()),
	}, nil
}

// AnalyzeEntitySentiment calls documents:analyzeEntitySentiment.
func (g *GoogleAnalyzer) AnalyzeEntitySentiment(ctx context.Context, text string) ([]Entity, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.AnalyzeEntitySentiment(ctx, &languagepb.AnalyzeEntitySentimentRequest{
		Document:     g.document(text),
		EncodingType: languagepb.EncodingType_UTF8,
	})
	if err != nil {
		return nil, fmt.Errorf("natural language API error: %w", err)
	}

	entities := make([]Entity, 0, len(resp.GetEntities()))
	for _, e := range resp.GetEntities() {
		entities = append(entities, Entity{
			Name:      e.GetName(),
			Type:      NormalizeEntityType(e.GetType().String()),
			Salience:  float64(e.GetSalience()),
			Score:     float64(e.GetSentiment().GetScore()),
			Magnitude: float64(e.GetSentiment().GetMagnitude()),
		})
	}
	return entities, nil
}
