package reflection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/mend/internal/core/domain"
	"github.com/ewilliams-labs/mend/internal/core/ports"
)

const defaultTimeout = 10 * time.Second

const systemPrompt = "You are a helpful assistant that analyzes meal reflections for emotional tone and mindfulness."

const promptTemplate = `Analyze this meal reflection and determine:
1. The overall sentiment (calm, stressed, neutral, rushed, or mindful)
2. Tone indicators (stressed_score, mindful_score, rushed_score from 0-1)

Reflection: %q

Respond in JSON format:
{
    "sentiment": "calm|stressed|neutral|rushed|mindful",
    "tone_indicators": {
        "stressed_score": 0.0,
        "mindful_score": 0.0,
        "rushed_score": 0.0
    }
}`

var (
	errNoModel      = errors.New("reflection: no language model configured")
	errNoJSONObject = errors.New("reflection: response holds no json object")
)

// SystemPrompt is the instruction sent with every classification request.
func SystemPrompt() string { return systemPrompt }

// BuildPrompt renders the classification request for one reflection.
func BuildPrompt(text string) string {
	return fmt.Sprintf(promptTemplate, text)
}

type ClassifierConfig struct {
	Keywords []string
	// Timeout bounds the language-model call.
	Timeout time.Duration
}

// Classifier labels the sentiment and tone of a meal reflection.
type Classifier struct {
	model    ports.LanguageModel
	keywords *Trigger
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewClassifier(model ports.LanguageModel, cfg ClassifierConfig, logger zerolog.Logger) *Classifier {
	keywords := cfg.Keywords
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Classifier{
		model:    model,
		keywords: NewTrigger(keywords),
		timeout:  timeout,
		logger:   logger.With().Str("component", "tone_classifier").Logger(),
	}
}

// Classify never fails: text without reflective keywords, model errors,
// timeouts and unparseable responses all yield the non-reflective default.
// At most one model request is made per call.
func (c *Classifier) Classify(ctx context.Context, text string) domain.ReflectionAnalysis {
	if !c.keywords.IsReflection(text) {
		return domain.NonReflective(text)
	}

	sentiment, tones, err := c.assess(ctx, text)
	if err != nil {
		c.logger.Warn().Err(err).Msg("tone classification failed, using defaults")
		return domain.NonReflective(text)
	}

	return domain.ReflectionAnalysis{
		Text:           text,
		Sentiment:      sentiment,
		IsReflective:   true,
		Keywords:       c.keywords.Matches(text),
		ToneIndicators: tones,
	}
}

func (c *Classifier) assess(ctx context.Context, text string) (domain.Sentiment, map[string]float64, error) {
	if c.model == nil {
		return domain.SentimentNeutral, nil, errNoModel
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.model.CompleteJSON(ctx, systemPrompt, BuildPrompt(text))
	if err != nil {
		return domain.SentimentNeutral, nil, fmt.Errorf("reflection: model call: %w", err)
	}
	return ParseAssessment(raw)
}

type assessment struct {
	Sentiment      json.RawMessage `json:"sentiment"`
	ToneIndicators json.RawMessage `json:"tone_indicators"`
}

// ParseAssessment decodes a model response. A missing or unknown sentiment
// becomes neutral and missing tone indicators become an empty map; only a
// response that is not a JSON object is an error.
func ParseAssessment(raw string) (domain.Sentiment, map[string]float64, error) {
	body, err := jsonObject(raw)
	if err != nil {
		return domain.SentimentNeutral, nil, err
	}

	var a assessment
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return domain.SentimentNeutral, nil, fmt.Errorf("reflection: decode response: %w", err)
	}

	sentiment := domain.SentimentNeutral
	var label string
	if len(a.Sentiment) > 0 && json.Unmarshal(a.Sentiment, &label) == nil {
		sentiment = domain.ParseSentiment(label)
	}

	return sentiment, parseTones(a.ToneIndicators), nil
}

// parseTones keeps the known indicators, clamped to [0, 1]. Numbers may
// arrive as JSON numbers or numeric strings.
func parseTones(raw json.RawMessage) map[string]float64 {
	tones := map[string]float64{}
	if len(raw) == 0 {
		return tones
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return tones
	}
	for _, name := range domain.ToneIndicatorNames {
		var score float64
		switch v := values[name].(type) {
		case float64:
			score = v
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				continue
			}
			score = parsed
		default:
			continue
		}
		tones[name] = clampScore(score)
	}
	return tones
}

// jsonObject strips markdown fences and any chatter around the outermost
// JSON object.
func jsonObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", errNoJSONObject
	}
	return s[start : end+1], nil
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
