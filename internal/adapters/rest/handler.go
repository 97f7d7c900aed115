// Package rest exposes the coach over HTTP: Omi webhooks, manual triggers
// and insight queries.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ewilliams-labs/mend/internal/core/domain"
	"github.com/ewilliams-labs/mend/internal/core/services"
	"github.com/ewilliams-labs/mend/internal/worker"
)

const healthCheckTimeout = 2 * time.Second

type coachService interface {
	DetectEating(buf domain.AudioBuffer) domain.EatingAnalysisResult
	ProcessTranscript(ctx context.Context, uid string, segments []domain.TranscriptSegment) (domain.ReflectionAnalysis, *services.FeedbackOutcome, error)
	EndMeal(ctx context.Context, uid string, duration time.Duration) (services.MealSummary, error)
	SendFeedback(ctx context.Context, uid string, ft domain.FeedbackType, force bool) (services.FeedbackOutcome, error)
	WeeklyInsights(ctx context.Context, uid string, weekStart time.Time) (domain.WeeklyInsights, error)
}

type audioQueue interface {
	Submit(job worker.Job) error
}

// HealthCheck is a named dependency probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler manages the HTTP interface for our application.
type Handler struct {
	echo    *echo.Echo
	svc     coachService
	queue   audioQueue
	metrics http.Handler
	checks  []HealthCheck
	logger  zerolog.Logger
}

// Option customizes a Handler.
type Option func(*Handler)

// WithMetrics serves h at GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(hd *Handler) { hd.metrics = h }
}

// WithHealthChecks adds probes to GET /health.
func WithHealthChecks(checks ...HealthCheck) Option {
	return func(hd *Handler) { hd.checks = append(hd.checks, checks...) }
}

// NewHandler initializes the HTTP adapter and sets up routes.
func NewHandler(svc coachService, queue audioQueue, logger zerolog.Logger, opts ...Option) *Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	h := &Handler{
		echo:   e,
		svc:    svc,
		queue:  queue,
		logger: logger.With().Str("component", "http").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	e.HTTPErrorHandler = h.handleError

	h.routes()
	return h
}

// ServeHTTP satisfies the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.echo.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.echo.Use(h.requestLogger())
	h.echo.Use(middleware.Recover())

	h.echo.GET("/health", h.HealthCheck)
	if h.metrics != nil {
		h.echo.GET("/metrics", echo.WrapHandler(h.metrics))
	}

	audio := middleware.BodyLimit("10M")
	h.echo.POST("/webhooks/audio", h.AudioWebhook, audio)
	h.echo.POST("/audio/analyze", h.AnalyzeAudio, audio)
	h.echo.POST("/webhooks/transcript", h.TranscriptWebhook)
	h.echo.POST("/meals/end", h.EndMeal)
	h.echo.POST("/feedback", h.SendFeedback)
	h.echo.GET("/users/:uid/insights", h.WeeklyInsights)
}

func (h *Handler) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := h.logger.Info()
			if v.Error != nil {
				ev = h.logger.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	})
}

// HealthCheck reports ok when every dependency probe passes.
func (h *Handler) HealthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	for _, hc := range h.checks {
		if err := hc.Check(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":       "unhealthy",
				"failed_check": hc.Name,
				"error":        err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(c echo.Context, status int, msg string) error {
	return c.JSON(status, errorResponse{Error: msg})
}

// handleError renders errors returned by handlers and middleware as JSON.
func (h *Handler) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, msg := http.StatusInternalServerError, err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status, msg = he.Code, fmt.Sprint(he.Message)
	}
	if werr := writeError(c, status, msg); werr != nil {
		h.logger.Error().Err(werr).Msg("writing error response")
	}
}

// serviceError maps domain errors onto status codes.
func serviceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNoOpenMeal):
		return writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrMealTooShort):
		return writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return writeError(c, http.StatusNotFound, err.Error())
	default:
		return writeError(c, http.StatusInternalServerError, err.Error())
	}
}
