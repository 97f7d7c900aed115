// Package feedback decides whether a coaching notification should go out
// and which canned message it carries.
package feedback

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/mend/internal/core/domain"
	"github.com/ewilliams-labs/mend/internal/core/ports"
)

const (
	defaultCooldown         = 300 * time.Second
	defaultExpectedDuration = 900 * time.Second
	defaultRushedRatio      = 0.5
)

// DefaultMessages are the canned notification texts per feedback type.
func DefaultMessages() map[domain.FeedbackType]string {
	return map[domain.FeedbackType]string{
		domain.FeedbackSlowDown: "Take a deep breath 🌿 Eating slowly helps digestion and mindfulness.",
		domain.FeedbackMindful:  "Great mindful eating! 🧘 Keep up the awareness.",
		domain.FeedbackStressed: "Notice any tension? 💆 Try taking a pause between bites.",
		domain.FeedbackRushed:   "Slow down ⏸️ Enjoy each bite and savor your meal.",
	}
}

type Config struct {
	Cooldown         time.Duration
	ExpectedDuration time.Duration
	// RushedRatio is the share of ExpectedDuration below which a meal is rushed.
	RushedRatio float64
	// FailOpen permits sending when the history lookup fails.
	FailOpen bool
	Messages map[domain.FeedbackType]string
}

func DefaultConfig() Config {
	return Config{
		Cooldown:         defaultCooldown,
		ExpectedDuration: defaultExpectedDuration,
		RushedRatio:      defaultRushedRatio,
		FailOpen:         true,
		Messages:         DefaultMessages(),
	}
}

// Trigger is the event a decision is made for: a MealDuration or a Reflection.
type Trigger interface {
	feedbackType(p *Policy) (domain.FeedbackType, string, bool)
}

// MealDuration triggers rushed-meal feedback. A zero Expected uses the
// policy's expected duration.
type MealDuration struct {
	Duration time.Duration
	Expected time.Duration
}

func (m MealDuration) feedbackType(p *Policy) (domain.FeedbackType, string, bool) {
	if !p.IsRushed(m.Duration, m.Expected) {
		return "", domain.ReasonNotRushed, false
	}
	return domain.FeedbackRushed, domain.ReasonOK, true
}

// Reflection triggers feedback matching the tone of a classified reflection.
type Reflection struct {
	Analysis domain.ReflectionAnalysis
}

func (r Reflection) feedbackType(*Policy) (domain.FeedbackType, string, bool) {
	if !r.Analysis.IsReflective {
		return "", domain.ReasonNotReflective, false
	}
	ft, ok := ForSentiment(r.Analysis.Sentiment)
	if !ok {
		return "", domain.ReasonNoFeedback, false
	}
	return ft, domain.ReasonOK, true
}

// Requested asks for a specific feedback type, e.g. from a manual trigger.
type Requested struct {
	Type domain.FeedbackType
}

func (r Requested) feedbackType(*Policy) (domain.FeedbackType, string, bool) {
	return r.Type, domain.ReasonOK, true
}

// ForSentiment maps a reflection sentiment to the feedback it warrants.
// Neutral reflections get none.
func ForSentiment(s domain.Sentiment) (domain.FeedbackType, bool) {
	switch s {
	case domain.SentimentStressed:
		return domain.FeedbackStressed, true
	case domain.SentimentRushed:
		return domain.FeedbackRushed, true
	case domain.SentimentMindful, domain.SentimentCalm:
		return domain.FeedbackMindful, true
	default:
		return "", false
	}
}

// Policy applies message selection and the per-user cooldown.
type Policy struct {
	cfg     Config
	history ports.FeedbackHistory
	clock   clockwork.Clock
	logger  zerolog.Logger
}

func NewPolicy(cfg Config, history ports.FeedbackHistory, clock clockwork.Clock, logger zerolog.Logger) *Policy {
	def := DefaultConfig()
	if cfg.Cooldown < 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.ExpectedDuration <= 0 {
		cfg.ExpectedDuration = def.ExpectedDuration
	}
	if cfg.RushedRatio <= 0 {
		cfg.RushedRatio = def.RushedRatio
	}
	messages := def.Messages
	for ft, msg := range cfg.Messages {
		if msg != "" {
			messages[ft] = msg
		}
	}
	cfg.Messages = messages
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Policy{
		cfg:     cfg,
		history: history,
		clock:   clock,
		logger:  logger.With().Str("component", "feedback_policy").Logger(),
	}
}

// IsRushed reports whether a meal lasted less than RushedRatio of the
// expected duration. A non-positive expected duration uses the default.
func (p *Policy) IsRushed(duration, expected time.Duration) bool {
	if expected <= 0 {
		expected = p.cfg.ExpectedDuration
	}
	return duration.Seconds() < expected.Seconds()*p.cfg.RushedRatio
}

// MessageFor returns the message for ft, falling back to slow_down for
// unknown types. The returned type is the one the message belongs to.
func (p *Policy) MessageFor(ft domain.FeedbackType) (domain.FeedbackType, string) {
	if msg, ok := p.cfg.Messages[ft]; ok && ft.Known() {
		return ft, msg
	}
	return domain.FeedbackSlowDown, p.cfg.Messages[domain.FeedbackSlowDown]
}

// Decide never fails. With force set the cooldown is skipped.
func (p *Policy) Decide(ctx context.Context, uid string, trigger Trigger, force bool) domain.FeedbackDecision {
	ft, reason, ok := trigger.feedbackType(p)
	if !ok {
		return domain.FeedbackDecision{ShouldSend: false, Reason: reason}
	}
	ft, msg := p.MessageFor(ft)

	if force {
		return domain.FeedbackDecision{ShouldSend: true, Message: msg, Type: ft, Reason: domain.ReasonForced}
	}
	if !p.CanSend(ctx, uid) {
		p.logger.Info().Str("uid", uid).Str("feedback_type", string(ft)).Msg("feedback rate limited")
		return domain.FeedbackDecision{ShouldSend: false, Message: msg, Type: ft, Reason: domain.ReasonCooldown}
	}
	return domain.FeedbackDecision{ShouldSend: true, Message: msg, Type: ft, Reason: domain.ReasonOK}
}

// CanSend reports whether the cooldown since the user's last feedback has
// elapsed. Lookup failures resolve to the FailOpen setting.
func (p *Policy) CanSend(ctx context.Context, uid string) bool {
	if p.history == nil {
		return true
	}
	last, ok, err := p.history.LastFeedbackTime(ctx, uid)
	if err != nil {
		p.logger.Error().Err(err).Str("uid", uid).Bool("fail_open", p.cfg.FailOpen).Msg("checking feedback cooldown")
		return p.cfg.FailOpen
	}
	if !ok {
		return true
	}
	return p.clock.Since(last) >= p.cfg.Cooldown
}
