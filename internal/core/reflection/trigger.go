// Package reflection detects spoken meal reflections in transcripts and
// classifies their emotional tone.
package reflection

import "strings"

// DefaultTriggerPhrases gate whether a transcript is worth classifying.
var DefaultTriggerPhrases = []string{
	"i feel",
	"i felt",
	"that meal",
	"that was",
	"too fast",
	"too slow",
	"i ate",
	"eating",
	"mindful",
	"rushed",
}

// DefaultKeywords re-validate reflective intent and become the keyword tags
// of a ReflectionAnalysis.
var DefaultKeywords = []string{
	"feel", "felt", "feeling",
	"was", "were", "seemed",
	"too fast", "too slow", "rushed",
	"mindful", "aware", "noticed",
	"enjoyed", "satisfying", "satisfied",
	"stressed", "anxious", "calm",
}

// Trigger matches text against an ordered set of phrases, case-insensitively.
type Trigger struct {
	phrases []string
}

// NewTrigger lowercases and copies phrases, dropping blanks.
// A nil or empty set falls back to DefaultTriggerPhrases.
func NewTrigger(phrases []string) *Trigger {
	if len(phrases) == 0 {
		phrases = DefaultTriggerPhrases
	}
	normalized := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		normalized = append(normalized, p)
	}
	return &Trigger{phrases: normalized}
}

// IsReflection reports whether text contains any trigger phrase.
func (t *Trigger) IsReflection(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range t.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Matches returns the phrases found in text, in the order they were configured.
func (t *Trigger) Matches(text string) []string {
	lower := strings.ToLower(text)
	found := []string{}
	for _, p := range t.phrases {
		if strings.Contains(lower, p) {
			found = append(found, p)
		}
	}
	return found
}

// Phrases returns a copy of the configured phrases.
func (t *Trigger) Phrases() []string {
	return append([]string(nil), t.phrases...)
}
