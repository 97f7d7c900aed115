// Package config loads service settings from the environment and an
// optional YAML tuning file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"

	"github.com/ewilliams-labs/mend/internal/adapters/breaker"
	"github.com/ewilliams-labs/mend/internal/core/feedback"
	"github.com/ewilliams-labs/mend/internal/core/reflection"
	"github.com/ewilliams-labs/mend/internal/core/services"
)

const minHistoryTTL = 24 * time.Hour

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"json"`

	DatabasePath  string `env:"DATABASE_PATH" default:"mend.db"`
	HistoryDriver string `env:"HISTORY_DRIVER" default:"sqlite"`
	RedisURL      string `env:"REDIS_URL"`

	OmiAPIBaseURL string `env:"OMI_API_BASE_URL" default:"https://api.omi.me"`
	OmiAppID      string `env:"OMI_APP_ID"`
	OmiAppSecret  string `env:"OMI_APP_SECRET"`

	LLMProvider     string        `env:"LLM_PROVIDER" default:"ollama"`
	LLMTimeout      time.Duration `env:"LLM_TIMEOUT" default:"10s"`
	OllamaHost      string        `env:"OLLAMA_HOST" default:"http://localhost:11434"`
	OllamaModel     string        `env:"OLLAMA_MODEL" default:"llama3.1:8b"`
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL" default:"https://api.openai.com"`
	OpenAIModel     string        `env:"OPENAI_MODEL" default:"gpt-4o-mini"`
	BreakerFailures int           `env:"LLM_BREAKER_FAILURES" default:"5"`
	BreakerTimeout  time.Duration `env:"LLM_BREAKER_TIMEOUT" default:"30s"`

	FeedbackCooldownSeconds int           `env:"FEEDBACK_COOLDOWN_SECONDS" default:"300"`
	FeedbackFailOpen        bool          `env:"FEEDBACK_FAIL_OPEN" default:"true"`
	ExpectedMealSeconds     int           `env:"EXPECTED_MEAL_DURATION_SECONDS" default:"900"`
	RushedRatio             float64       `env:"RUSHED_RATIO" default:"0.5"`
	MinMealDurationSeconds  int           `env:"MIN_MEAL_DURATION_SECONDS" default:"10"`
	NotifyTimeout           time.Duration `env:"NOTIFY_TIMEOUT" default:"10s"`

	Workers   int `env:"AUDIO_WORKERS" default:"4"`
	QueueSize int `env:"AUDIO_QUEUE_SIZE" default:"64"`

	TuningFile string `env:"TUNING_FILE"`

	tuning Tuning
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	tuning := DefaultTuning()
	if cfg.TuningFile != "" {
		f, err := os.Open(cfg.TuningFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open tuning file: %w", err)
		}
		defer f.Close()
		if tuning, err = LoadTuning(f); err != nil {
			return nil, err
		}
	}
	cfg.tuning = tuning

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.LLMProvider {
	case "ollama":
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", cfg.LLMProvider)
	}

	switch cfg.HistoryDriver {
	case "sqlite":
	case "redis":
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when HISTORY_DRIVER=redis")
		}
	default:
		return fmt.Errorf("unsupported HISTORY_DRIVER %q", cfg.HistoryDriver)
	}

	if (cfg.OmiAppID == "") != (cfg.OmiAppSecret == "") {
		return errors.New("OMI_APP_ID and OMI_APP_SECRET must be set together")
	}
	if cfg.FeedbackCooldownSeconds < 0 {
		return errors.New("FEEDBACK_COOLDOWN_SECONDS must not be negative")
	}
	if cfg.ExpectedMealSeconds <= 0 {
		return errors.New("EXPECTED_MEAL_DURATION_SECONDS must be positive")
	}
	if cfg.RushedRatio <= 0 || cfg.RushedRatio > 1 {
		return errors.New("RUSHED_RATIO must be in (0, 1]")
	}
	if cfg.BreakerFailures < 1 {
		return errors.New("LLM_BREAKER_FAILURES must be at least 1")
	}
	if cfg.Workers < 1 {
		return errors.New("AUDIO_WORKERS must be at least 1")
	}
	if cfg.QueueSize < 1 {
		return errors.New("AUDIO_QUEUE_SIZE must be at least 1")
	}
	return nil
}

// Tuning returns the detector, trigger and message overrides.
func (c *Config) Tuning() Tuning {
	return c.tuning
}

// OmiEnabled reports whether notifications can be delivered.
func (c *Config) OmiEnabled() bool {
	return c.OmiAppID != "" && c.OmiAppSecret != ""
}

func (c *Config) FeedbackConfig() feedback.Config {
	return feedback.Config{
		Cooldown:         time.Duration(c.FeedbackCooldownSeconds) * time.Second,
		ExpectedDuration: time.Duration(c.ExpectedMealSeconds) * time.Second,
		RushedRatio:      c.RushedRatio,
		FailOpen:         c.FeedbackFailOpen,
		Messages:         c.tuning.Messages,
	}
}

// HistoryTTL is how long a redis feedback record lives. It always outlasts
// the cooldown so an expired key cannot reopen the window early.
func (c *Config) HistoryTTL() time.Duration {
	return max(minHistoryTTL, 2*time.Duration(c.FeedbackCooldownSeconds)*time.Second)
}

func (c *Config) ClassifierConfig() reflection.ClassifierConfig {
	return reflection.ClassifierConfig{
		Keywords: c.tuning.Keywords,
		Timeout:  c.LLMTimeout,
	}
}

func (c *Config) CoachConfig() services.CoachConfig {
	return services.CoachConfig{
		MinMealDuration: time.Duration(c.MinMealDurationSeconds) * time.Second,
		NotifyTimeout:   c.NotifyTimeout,
	}
}

func (c *Config) BreakerSettings() breaker.Settings {
	return breaker.Settings{
		ConsecutiveFailures: uint32(c.BreakerFailures),
		OpenTimeout:         c.BreakerTimeout,
	}
}
