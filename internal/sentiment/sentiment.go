// Package sentiment scores text polarity with the VADER lexicon and rules.
package sentiment

import (
	"math"
	"strings"

	"github.com/jonreiter/govader"

	"github.com/mailsift/mailsift/internal/model"
)

// LabelThreshold separates Neutral from Positive and Negative.
const LabelThreshold = 0.05

// Scorer computes VADER compound polarity. The analyzer only reads its
// lexicon after construction, so one Scorer serves concurrent callers.
type Scorer struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

var defaultScorer = New()

func Default() *Scorer { return defaultScorer }

// New loads the VADER lexicon. Prefer Default, which shares one copy.
func New() *Scorer {
	return &Scorer{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

// Label maps a compound polarity to its label. Both thresholds are Neutral.
func Label(polarity float64) model.SentimentLabel {
	switch {
	case polarity > LabelThreshold:
		return model.Positive
	case polarity < -LabelThreshold:
		return model.Negative
	default:
		return model.Neutral
	}
}

func (s *Scorer) Score(text string) model.SentimentResult {
	p := s.Polarity(text)
	return model.SentimentResult{Polarity: p, Label: Label(p)}
}

// Polarity returns the compound score in [-1, 1], rounded to four places.
func (s *Scorer) Polarity(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	c := s.analyzer.PolarityScores(text).Compound
	return math.Round(c*1e4) / 1e4
}
