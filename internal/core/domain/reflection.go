package domain

import (
	"strings"
	"time"
)

// Sentiment is the emotional tone of a meal reflection.
type Sentiment string

const (
	SentimentCalm     Sentiment = "calm"
	SentimentStressed Sentiment = "stressed"
	SentimentNeutral  Sentiment = "neutral"
	SentimentRushed   Sentiment = "rushed"
	SentimentMindful  Sentiment = "mindful"
)

// ParseSentiment maps a free-form label onto a Sentiment.
// Unknown labels become SentimentNeutral.
func ParseSentiment(s string) Sentiment {
	switch Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case SentimentCalm:
		return SentimentCalm
	case SentimentStressed:
		return SentimentStressed
	case SentimentRushed:
		return SentimentRushed
	case SentimentMindful:
		return SentimentMindful
	default:
		return SentimentNeutral
	}
}

// Tone indicator names returned by the language model.
const (
	ToneStressed = "stressed_score"
	ToneMindful  = "mindful_score"
	ToneRushed   = "rushed_score"
)

// ToneIndicatorNames lists the indicators the classifier keeps.
var ToneIndicatorNames = []string{ToneStressed, ToneMindful, ToneRushed}

// TranscriptSegment is one piece of transcribed speech.
type TranscriptSegment struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Speaker   string    `json:"speaker,omitempty"`
}

// JoinSegments concatenates segment text in slice order.
func JoinSegments(segments []TranscriptSegment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}

// ReflectionAnalysis is the classified tone of a meal reflection.
type ReflectionAnalysis struct {
	Text           string             `json:"text"`
	Sentiment      Sentiment          `json:"sentiment"`
	IsReflective   bool               `json:"is_reflective"`
	Keywords       []string           `json:"keywords"`
	ToneIndicators map[string]float64 `json:"tone_indicators"`
}

// NonReflective returns the default analysis for text that is not a reflection.
func NonReflective(text string) ReflectionAnalysis {
	return ReflectionAnalysis{
		Text:           text,
		Sentiment:      SentimentNeutral,
		IsReflective:   false,
		Keywords:       []string{},
		ToneIndicators: map[string]float64{},
	}
}
