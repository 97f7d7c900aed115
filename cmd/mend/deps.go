package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/mend/internal/adapters/breaker"
	"github.com/ewilliams-labs/mend/internal/adapters/ollama"
	"github.com/ewilliams-labs/mend/internal/adapters/openai"
	"github.com/ewilliams-labs/mend/internal/adapters/redis"
	"github.com/ewilliams-labs/mend/internal/adapters/rest"
	"github.com/ewilliams-labs/mend/internal/adapters/sqlite"
	"github.com/ewilliams-labs/mend/internal/config"
	"github.com/ewilliams-labs/mend/internal/core/audio"
	"github.com/ewilliams-labs/mend/internal/core/ports"
	"github.com/ewilliams-labs/mend/internal/core/reflection"
)

// newLanguageModel picks the configured provider and wraps it in a circuit breaker.
func newLanguageModel(cfg *config.Config, logger zerolog.Logger) (ports.LanguageModel, error) {
	var model ports.LanguageModel
	switch cfg.LLMProvider {
	case "ollama":
		model = ollama.NewClient(cfg.OllamaHost, cfg.OllamaModel)
	case "openai":
		model = openai.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.LLMProvider)
	}
	return breaker.NewModel(model, cfg.BreakerSettings(), logger), nil
}

func newClassifier(cfg *config.Config, logger zerolog.Logger) (*reflection.Classifier, error) {
	model, err := newLanguageModel(cfg, logger)
	if err != nil {
		return nil, err
	}
	return reflection.NewClassifier(model, cfg.ClassifierConfig(), logger), nil
}

func newAudioPipeline(cfg *config.Config, logger zerolog.Logger) (*audio.FeatureExtractor, *audio.Detector) {
	extractor := audio.NewFeatureExtractor(audio.DefaultExtractorConfig(), logger)
	return extractor, audio.NewDetector(cfg.Tuning().Detector)
}

// newHistory returns the cooldown store for the configured driver, a health
// probe for it and a closer.
func newHistory(cfg *config.Config, db *sqlite.Adapter) (ports.FeedbackHistory, *rest.HealthCheck, func() error, error) {
	switch cfg.HistoryDriver {
	case "sqlite":
		return db, nil, func() error { return nil }, nil
	case "redis":
		rdb, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		history := redis.NewHistory(rdb, cfg.HistoryTTL())
		check := &rest.HealthCheck{Name: "redis", Check: func(ctx context.Context) error { return history.Ping(ctx) }}
		return history, check, rdb.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown history driver: %s", cfg.HistoryDriver)
	}
}
