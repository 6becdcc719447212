package sentiment

import (
	"context"
	"html"
	"math"
	"regexp"
	"strings"

	"github.com/jonreiter/govader"
	"github.com/russross/blackfriday/v2"
)

var (
	tagPattern      = regexp.MustCompile(`<[^>]*>`)
	urlPattern      = regexp.MustCompile(`https?://\S+|www\.\S+`)
	sentencePattern = regexp.MustCompile(`[^.!?\n]+[.!?]*`)
)

// VaderAnalyzer scores text locally with VADER. It has no entity model.
type VaderAnalyzer struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

// NewVaderAnalyzer loads the VADER lexicon.
func NewVaderAnalyzer() *VaderAnalyzer {
	return &VaderAnalyzer{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

// AnalyzeSentiment returns the compound score of the whole text and, as
// magnitude, the summed absolute compound score of its sentences.
func (v *VaderAnalyzer) AnalyzeSentiment(_ context.Context, text string) (Sentiment, error) {
	plain := PlainText(text)

	score := v.analyzer.PolarityScores(plain).Compound
	var magnitude float64
	for _, sentence := range sentencePattern.FindAllString(plain, -1) {
		if strings.TrimSpace(sentence) == "" {
			continue
		}
		magnitude += math.Abs(v.analyzer.PolarityScores(sentence).Compound)
	}

	return Sentiment{Score: clamp(score), Magnitude: magnitude}, nil
}

// AnalyzeEntitySentiment is not supported by VADER.
func (v *VaderAnalyzer) AnalyzeEntitySentiment(context.Context, string) ([]Entity, error) {
	return nil, ErrUnsupported
}

// PlainText renders markdown-ish survey answers down to plain text and drops links.
func PlainText(input string) string {
	rendered := blackfriday.Run([]byte(input), blackfriday.WithNoExtensions())
	text := tagPattern.ReplaceAllString(string(rendered), " ")
	text = html.UnescapeString(text)
	text = urlPattern.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

func clamp(score float64) float64 {
	return math.Max(-1, math.Min(1, score))
}
