package rest

import (
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ewilliams-labs/mend/internal/core/domain"
	"github.com/ewilliams-labs/mend/internal/core/services"
)

type transcriptRequest struct {
	SessionID string                     `json:"session_id"`
	Segments  []domain.TranscriptSegment `json:"segments"`
}

type transcriptResponse struct {
	IsReflection bool                       `json:"is_reflection"`
	Reflection   *domain.ReflectionAnalysis `json:"reflection"`
	Feedback     *services.FeedbackOutcome  `json:"feedback,omitempty"`
}

// TranscriptWebhook handles POST /webhooks/transcript?uid=
func (h *Handler) TranscriptWebhook(c echo.Context) error {
	uid := c.QueryParam("uid")
	if uid == "" {
		return writeError(c, http.StatusBadRequest, "uid is required")
	}

	var req transcriptRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}

	analysis, outcome, err := h.svc.ProcessTranscript(c.Request().Context(), uid, req.Segments)
	if err != nil {
		return serviceError(c, err)
	}

	resp := transcriptResponse{IsReflection: analysis.IsReflective, Feedback: outcome}
	if analysis.IsReflective {
		resp.Reflection = &analysis
	}
	return c.JSON(http.StatusOK, resp)
}

type endMealRequest struct {
	UID             string  `json:"uid"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// EndMeal handles POST /meals/end. A zero duration closes the open meal.
func (h *Handler) EndMeal(c echo.Context) error {
	var req endMealRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}
	if req.UID == "" {
		return writeError(c, http.StatusBadRequest, "uid is required")
	}
	if req.DurationSeconds < 0 || math.IsNaN(req.DurationSeconds) || math.IsInf(req.DurationSeconds, 0) {
		return writeError(c, http.StatusBadRequest, "duration_seconds must be a non-negative number")
	}

	duration := time.Duration(req.DurationSeconds * float64(time.Second))
	summary, err := h.svc.EndMeal(c.Request().Context(), req.UID, duration)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

type feedbackRequest struct {
	UID          string              `json:"uid"`
	FeedbackType domain.FeedbackType `json:"feedback_type"`
	Force        bool                `json:"force"`
}

type feedbackResponse struct {
	Sent     bool                    `json:"sent"`
	Decision domain.FeedbackDecision `json:"decision"`
}

// SendFeedback handles POST /feedback
func (h *Handler) SendFeedback(c echo.Context) error {
	var req feedbackRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}
	if req.UID == "" {
		return writeError(c, http.StatusBadRequest, "uid is required")
	}
	if req.FeedbackType == "" {
		req.FeedbackType = domain.FeedbackSlowDown
	}

	outcome, err := h.svc.SendFeedback(c.Request().Context(), req.UID, req.FeedbackType, req.Force)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, feedbackResponse{Sent: outcome.Delivered, Decision: outcome.Decision})
}

// WeeklyInsights handles GET /users/:uid/insights?week_start=YYYY-MM-DD
// Without week_start the current week, starting Monday UTC, is used.
func (h *Handler) WeeklyInsights(c echo.Context) error {
	uid := c.Param("uid")

	weekStart := startOfWeek(time.Now().UTC())
	if raw := c.QueryParam("week_start"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return writeError(c, http.StatusBadRequest, "week_start must be YYYY-MM-DD")
		}
		weekStart = parsed
	}

	insights, err := h.svc.WeeklyInsights(c.Request().Context(), uid, weekStart)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, insights)
}

func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}

// decodeJSON returns an *echo.HTTPError for the error handler to render.
func decodeJSON(c echo.Context, dst any) error {
	ct := c.Request().Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(ct, echo.MIMEApplicationJSON) {
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, "Content-Type must be application/json")
	}
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	return nil
}
