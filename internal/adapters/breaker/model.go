// Package breaker guards a language model with a circuit breaker so an
// unavailable model fails fast instead of holding every request for the
// full classification timeout.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/ewilliams-labs/mend/internal/core/ports"
)

type Settings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// Model wraps a ports.LanguageModel.
type Model struct {
	next ports.LanguageModel
	cb   *gobreaker.CircuitBreaker
}

var _ ports.LanguageModel = (*Model)(nil)

func NewModel(next ports.LanguageModel, s Settings, logger zerolog.Logger) *Model {
	def := DefaultSettings()
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = def.OpenTimeout
	}
	logger = logger.With().Str("component", "llm_breaker").Logger()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "language-model",
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
		// A caller giving up says nothing about the model's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &Model{next: next, cb: cb}
}

func (m *Model) CompleteJSON(ctx context.Context, system, prompt string) (string, error) {
	out, err := m.cb.Execute(func() (interface{}, error) {
		return m.next.CompleteJSON(ctx, system, prompt)
	})
	if err != nil {
		return "", fmt.Errorf("breaker: %w", err)
	}
	return out.(string), nil
}

// State reports the breaker state.
func (m *Model) State() gobreaker.State {
	return m.cb.State()
}
