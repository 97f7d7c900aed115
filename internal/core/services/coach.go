package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/mend/internal/core/audio"
	"github.com/ewilliams-labs/mend/internal/core/domain"
	"github.com/ewilliams-labs/mend/internal/core/feedback"
	"github.com/ewilliams-labs/mend/internal/core/ports"
	"github.com/ewilliams-labs/mend/internal/core/reflection"
)

const (
	defaultMinMealDuration = 10 * time.Second
	defaultNotifyTimeout   = 10 * time.Second
)

// CoachConfig holds service-level limits.
type CoachConfig struct {
	MinMealDuration time.Duration
	NotifyTimeout   time.Duration
}

// Deps are the collaborators a Coach is wired with. Notifier, Memories,
// Observer and Clock are optional.
type Deps struct {
	Extractor  *audio.FeatureExtractor
	Detector   *audio.Detector
	Trigger    *reflection.Trigger
	Classifier *reflection.Classifier
	Policy     *feedback.Policy
	Events     ports.EventRepository
	History    ports.FeedbackHistory
	Notifier   ports.Notifier
	Memories   ports.MemoryWriter
	Observer   ports.SignalObserver
	Clock      clockwork.Clock
	Logger     zerolog.Logger
}

// FeedbackOutcome is a feedback decision and whether it reached the user.
type FeedbackOutcome struct {
	Decision  domain.FeedbackDecision `json:"decision"`
	Delivered bool                    `json:"delivered"`
}

// MealSummary is the result of closing a meal.
type MealSummary struct {
	Event    domain.MealEvent `json:"event"`
	Rushed   bool             `json:"rushed"`
	Feedback FeedbackOutcome  `json:"feedback"`
}

// Coach coordinates signal analysis, event storage and feedback delivery.
type Coach struct {
	extractor  *audio.FeatureExtractor
	detector   *audio.Detector
	trigger    *reflection.Trigger
	classifier *reflection.Classifier
	policy     *feedback.Policy
	events     ports.EventRepository
	history    ports.FeedbackHistory
	notifier   ports.Notifier
	memories   ports.MemoryWriter
	observer   ports.SignalObserver
	clock      clockwork.Clock
	logger     zerolog.Logger
	cfg        CoachConfig
}

// NewCoach constructs a Coach.
func NewCoach(deps Deps, cfg CoachConfig) *Coach {
	if cfg.MinMealDuration <= 0 {
		cfg.MinMealDuration = defaultMinMealDuration
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if deps.Observer == nil {
		deps.Observer = ports.NopObserver{}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Coach{
		extractor:  deps.Extractor,
		detector:   deps.Detector,
		trigger:    deps.Trigger,
		classifier: deps.Classifier,
		policy:     deps.Policy,
		events:     deps.Events,
		history:    deps.History,
		notifier:   deps.Notifier,
		memories:   deps.Memories,
		observer:   deps.Observer,
		clock:      deps.Clock,
		logger:     deps.Logger.With().Str("component", "coach").Logger(),
		cfg:        cfg,
	}
}

// DetectEating extracts features from buf and scores them. It records no events.
func (c *Coach) DetectEating(buf domain.AudioBuffer) domain.EatingAnalysisResult {
	features := c.extractor.Extract(buf.Samples, buf.SampleRate)
	result := c.detector.Analyze(features)
	c.observer.EatingAnalyzed(result)
	return result
}

// AnalyzeAudio runs eating detection over one audio chunk. When eating is
// detected and the user has no open meal, a meal_start event is recorded.
func (c *Coach) AnalyzeAudio(ctx context.Context, uid string, buf domain.AudioBuffer) (domain.EatingAnalysisResult, error) {
	if uid == "" {
		return domain.EatingAnalysisResult{}, fmt.Errorf("service: missing uid: %w", domain.ErrInvalidArgument)
	}

	result := c.DetectEating(buf)

	c.logger.Debug().
		Str("uid", uid).
		Bool("eating", result.EatingDetected).
		Float64("confidence", result.Confidence).
		Float64("chunk_seconds", buf.Duration()).
		Msg("audio analyzed")

	if !result.EatingDetected || c.events == nil {
		return result, nil
	}

	_, open, err := c.events.OpenMeal(ctx, uid)
	if err != nil {
		return result, fmt.Errorf("service: failed to look up open meal: %w", err)
	}
	if open {
		return result, nil
	}

	start, err := c.events.CreateEvent(ctx, domain.MealEvent{
		UID:       uid,
		Timestamp: c.clock.Now(),
		Type:      domain.EventMealStart,
	})
	if err != nil {
		return result, fmt.Errorf("service: failed to record meal start: %w", err)
	}
	c.logger.Info().Str("uid", uid).Str("event_id", start.ID).Msg("meal started")
	return result, nil
}

// ProcessTranscript classifies a transcript and, when it is a reflection,
// stores it and dispatches matching feedback. The outcome is nil for
// non-reflective transcripts.
func (c *Coach) ProcessTranscript(ctx context.Context, uid string, segments []domain.TranscriptSegment) (domain.ReflectionAnalysis, *FeedbackOutcome, error) {
	text := strings.TrimSpace(domain.JoinSegments(segments))
	if uid == "" {
		return domain.NonReflective(text), nil, fmt.Errorf("service: missing uid: %w", domain.ErrInvalidArgument)
	}
	if !c.trigger.IsReflection(text) {
		return domain.NonReflective(text), nil, nil
	}

	analysis := c.classifier.Classify(ctx, text)
	c.observer.ReflectionAnalyzed(analysis)
	if !analysis.IsReflective {
		return analysis, nil, nil
	}

	c.logger.Info().Str("uid", uid).Str("sentiment", string(analysis.Sentiment)).Msg("reflection detected")

	var eventID string
	if c.events != nil {
		ev, err := c.events.CreateEvent(ctx, domain.MealEvent{
			UID:            uid,
			Timestamp:      c.clock.Now(),
			Type:           domain.EventReflection,
			ReflectionText: text,
			Sentiment:      analysis.Sentiment,
		})
		if err != nil {
			return analysis, nil, fmt.Errorf("service: failed to record reflection: %w", err)
		}
		eventID = ev.ID
	}

	c.saveMemory(ctx, uid, analysis)

	decision := c.policy.Decide(ctx, uid, feedback.Reflection{Analysis: analysis}, false)
	outcome := c.dispatch(ctx, uid, eventID, decision)
	return analysis, &outcome, nil
}

// EndMeal closes the user's meal. A non-positive duration is measured from
// the open meal_start.
func (c *Coach) EndMeal(ctx context.Context, uid string, duration time.Duration) (MealSummary, error) {
	if uid == "" {
		return MealSummary{}, fmt.Errorf("service: missing uid: %w", domain.ErrInvalidArgument)
	}
	if c.events == nil {
		return MealSummary{}, fmt.Errorf("service: no event store: %w", domain.ErrNoOpenMeal)
	}

	now := c.clock.Now()
	if duration <= 0 {
		start, open, err := c.events.OpenMeal(ctx, uid)
		if err != nil {
			return MealSummary{}, fmt.Errorf("service: failed to look up open meal: %w", err)
		}
		if !open {
			return MealSummary{}, domain.ErrNoOpenMeal
		}
		duration = now.Sub(start.Timestamp)
	}
	if duration < c.cfg.MinMealDuration {
		return MealSummary{}, fmt.Errorf("service: meal lasted %s: %w", duration, domain.ErrMealTooShort)
	}

	end, err := c.events.CreateEvent(ctx, domain.MealEvent{
		UID:       uid,
		Timestamp: now,
		Type:      domain.EventMealEnd,
		Duration:  duration,
	})
	if err != nil {
		return MealSummary{}, fmt.Errorf("service: failed to record meal end: %w", err)
	}

	decision := c.policy.Decide(ctx, uid, feedback.MealDuration{Duration: duration}, false)
	summary := MealSummary{
		Event:    end,
		Rushed:   c.policy.IsRushed(duration, 0),
		Feedback: c.dispatch(ctx, uid, end.ID, decision),
	}
	summary.Event.CueSent = summary.Feedback.Delivered
	return summary, nil
}

// SendFeedback sends a canned message of the given type. Unknown types fall
// back to slow_down.
func (c *Coach) SendFeedback(ctx context.Context, uid string, ft domain.FeedbackType, force bool) (FeedbackOutcome, error) {
	if uid == "" {
		return FeedbackOutcome{}, fmt.Errorf("service: missing uid: %w", domain.ErrInvalidArgument)
	}
	decision := c.policy.Decide(ctx, uid, feedback.Requested{Type: ft}, force)
	return c.dispatch(ctx, uid, "", decision), nil
}

// WeeklyInsights summarizes the seven days starting at weekStart.
func (c *Coach) WeeklyInsights(ctx context.Context, uid string, weekStart time.Time) (domain.WeeklyInsights, error) {
	if uid == "" {
		return domain.WeeklyInsights{}, fmt.Errorf("service: missing uid: %w", domain.ErrInvalidArgument)
	}
	weekEnd := weekStart.AddDate(0, 0, 7)
	insights := domain.WeeklyInsights{
		UID:                uid,
		WeekStart:          weekStart,
		WeekEnd:            weekEnd,
		SentimentBreakdown: map[string]int{},
	}
	if c.events == nil {
		return insights, nil
	}

	events, err := c.events.ListEvents(ctx, uid, weekStart, weekEnd.Add(-time.Millisecond))
	if err != nil {
		return domain.WeeklyInsights{}, fmt.Errorf("service: failed to list events: %w", err)
	}

	var total time.Duration
	mindful := map[string]int{}
	for _, ev := range events {
		switch ev.Type {
		case domain.EventMealEnd:
			insights.TotalMeals++
			total += ev.Duration
		case domain.EventReflection:
			insights.ReflectionsCount++
			insights.SentimentBreakdown[string(ev.Sentiment)]++
			if ev.Sentiment == domain.SentimentMindful || ev.Sentiment == domain.SentimentCalm {
				mindful[timeOfDay(ev.Timestamp)]++
			}
		}
	}
	if insights.TotalMeals > 0 {
		insights.AvgMealDuration = total.Seconds() / float64(insights.TotalMeals)
	}
	insights.MostMindfulTime = busiest(mindful)
	return insights, nil
}

// dispatch delivers an approved decision. Delivery failures are logged and
// reported through the outcome.
func (c *Coach) dispatch(ctx context.Context, uid, eventID string, decision domain.FeedbackDecision) FeedbackOutcome {
	outcome := FeedbackOutcome{Decision: decision}
	defer func() { c.observer.FeedbackDecided(outcome.Decision, outcome.Delivered) }()

	if !decision.ShouldSend {
		c.logger.Debug().Str("uid", uid).Str("reason", decision.Reason).Msg("feedback skipped")
		return outcome
	}
	if c.notifier == nil {
		c.logger.Warn().Str("uid", uid).Msg("no notifier configured, feedback dropped")
		return outcome
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.NotifyTimeout)
	defer cancel()
	if err := c.notifier.SendNotification(sendCtx, uid, decision.Message); err != nil {
		c.logger.Error().Err(err).Str("uid", uid).Str("feedback_type", string(decision.Type)).Msg("sending feedback")
		return outcome
	}
	outcome.Delivered = true
	c.logger.Info().Str("uid", uid).Str("feedback_type", string(decision.Type)).Msg("feedback sent")

	if c.history != nil {
		if err := c.history.RecordFeedback(ctx, uid, c.clock.Now()); err != nil {
			c.logger.Error().Err(err).Str("uid", uid).Msg("recording feedback time")
		}
	}
	if eventID != "" && c.events != nil {
		if err := c.events.MarkFeedbackSent(ctx, eventID); err != nil {
			c.logger.Error().Err(err).Str("event_id", eventID).Msg("marking cue sent")
		}
	}
	return outcome
}

func (c *Coach) saveMemory(ctx context.Context, uid string, analysis domain.ReflectionAnalysis) {
	if c.memories == nil {
		return
	}
	memory := domain.Memory{
		Title:   "Meal reflection",
		Content: analysis.Text,
		Structured: map[string]any{
			"sentiment":       string(analysis.Sentiment),
			"keywords":        analysis.Keywords,
			"tone_indicators": analysis.ToneIndicators,
		},
	}
	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.NotifyTimeout)
	defer cancel()
	if err := c.memories.CreateMemory(sendCtx, uid, memory); err != nil {
		c.logger.Warn().Err(err).Str("uid", uid).Msg("saving reflection memory")
	}
}

var dayParts = []string{"morning", "afternoon", "evening", "night"}

func timeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 22:
		return "evening"
	default:
		return "night"
	}
}

// busiest returns the day part with the highest count; ties go to the earlier part.
func busiest(counts map[string]int) string {
	best, bestN := "", 0
	for _, part := range dayParts {
		if counts[part] > bestN {
			best, bestN = part, counts[part]
		}
	}
	return best
}
