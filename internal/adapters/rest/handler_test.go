package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewilliams-labs/mend/internal/core/audio"
	"github.com/ewilliams-labs/mend/internal/core/domain"
	"github.com/ewilliams-labs/mend/internal/core/services"
	"github.com/ewilliams-labs/mend/internal/worker"
)

// --- Mocks ---

type mockCoach struct {
	detectBuf   domain.AudioBuffer
	analysis    domain.ReflectionAnalysis
	outcome     *services.FeedbackOutcome
	err         error
	gotUID      string
	gotSegments []domain.TranscriptSegment
	gotDuration time.Duration
	gotType     domain.FeedbackType
	gotForce    bool
	gotWeek     time.Time
}

func (m *mockCoach) DetectEating(buf domain.AudioBuffer) domain.EatingAnalysisResult {
	m.detectBuf = buf
	return domain.EatingAnalysisResult{EatingDetected: true, Confidence: 0.8, Features: domain.AcousticFeatures{domain.FeatureRMSMean: 0.1}}
}

func (m *mockCoach) ProcessTranscript(_ context.Context, uid string, segments []domain.TranscriptSegment) (domain.ReflectionAnalysis, *services.FeedbackOutcome, error) {
	m.gotUID, m.gotSegments = uid, segments
	return m.analysis, m.outcome, m.err
}

func (m *mockCoach) EndMeal(_ context.Context, uid string, duration time.Duration) (services.MealSummary, error) {
	m.gotUID, m.gotDuration = uid, duration
	if m.err != nil {
		return services.MealSummary{}, m.err
	}
	return services.MealSummary{
		Event:  domain.MealEvent{ID: "ev-1", UID: uid, Type: domain.EventMealEnd, Duration: duration},
		Rushed: true,
		Feedback: services.FeedbackOutcome{
			Decision:  domain.FeedbackDecision{ShouldSend: true, Type: domain.FeedbackRushed, Reason: domain.ReasonOK},
			Delivered: true,
		},
	}, nil
}

func (m *mockCoach) SendFeedback(_ context.Context, uid string, ft domain.FeedbackType, force bool) (services.FeedbackOutcome, error) {
	m.gotUID, m.gotType, m.gotForce = uid, ft, force
	if m.err != nil {
		return services.FeedbackOutcome{}, m.err
	}
	return services.FeedbackOutcome{Decision: domain.FeedbackDecision{ShouldSend: true, Type: ft, Reason: domain.ReasonForced}, Delivered: true}, nil
}

func (m *mockCoach) WeeklyInsights(_ context.Context, uid string, weekStart time.Time) (domain.WeeklyInsights, error) {
	m.gotUID, m.gotWeek = uid, weekStart
	if m.err != nil {
		return domain.WeeklyInsights{}, m.err
	}
	return domain.WeeklyInsights{UID: uid, WeekStart: weekStart, TotalMeals: 3, SentimentBreakdown: map[string]int{"calm": 1}}, nil
}

type mockQueue struct {
	jobs []worker.Job
	err  error
}

func (m *mockQueue) Submit(job worker.Job) error {
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func newTestHandler(coach *mockCoach, queue *mockQueue, opts ...Option) *Handler {
	return NewHandler(coach, queue, zerolog.Nop(), opts...)
}

func do(h http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// --- Tests ---

func TestHandler_HealthCheck(t *testing.T) {
	healthy := newTestHandler(&mockCoach{}, &mockQueue{}, WithHealthChecks(HealthCheck{Name: "sqlite", Check: func(context.Context) error { return nil }}))
	rec := do(healthy, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	broken := newTestHandler(&mockCoach{}, &mockQueue{}, WithHealthChecks(HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }}))
	rec = do(broken, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "redis", body["failed_check"])
}

func TestHandler_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("mend_audio_chunks_total 1\n"))
	})
	rec := do(newTestHandler(&mockCoach{}, &mockQueue{}, WithMetrics(metrics)), http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mend_audio_chunks_total")

	rec = do(newTestHandler(&mockCoach{}, &mockQueue{}), http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
}

func TestHandler_AudioWebhook(t *testing.T) {
	pcm := string(audio.EncodePCM16([]int16{1, 2, 3, 4}))

	tests := []struct {
		name        string
		target      string
		contentType string
		body        string
		queueErr    error
		wantStatus  int
		wantFormat  worker.Format
		wantRate    int
	}{
		{name: "queued pcm", target: "/webhooks/audio?uid=u1&sample_rate=8000", contentType: "application/octet-stream", body: pcm, wantStatus: http.StatusAccepted, wantFormat: worker.FormatPCM, wantRate: 8000},
		{name: "default sample rate", target: "/webhooks/audio?uid=u1", contentType: "application/octet-stream", body: pcm, wantStatus: http.StatusAccepted, wantFormat: worker.FormatPCM, wantRate: 16000},
		{name: "mp3 by content type", target: "/webhooks/audio?uid=u1", contentType: "audio/mpeg", body: "ID3...", wantStatus: http.StatusAccepted, wantFormat: worker.FormatMP3, wantRate: 16000},
		{name: "format query wins", target: "/webhooks/audio?uid=u1&format=mp3", contentType: "application/octet-stream", body: "ID3...", wantStatus: http.StatusAccepted, wantFormat: worker.FormatMP3, wantRate: 16000},
		{name: "missing uid", target: "/webhooks/audio", contentType: "application/octet-stream", body: pcm, wantStatus: http.StatusBadRequest},
		{name: "empty body", target: "/webhooks/audio?uid=u1", contentType: "application/octet-stream", wantStatus: http.StatusBadRequest},
		{name: "bad sample rate", target: "/webhooks/audio?uid=u1&sample_rate=-4", contentType: "application/octet-stream", body: pcm, wantStatus: http.StatusBadRequest},
		{name: "unsupported format", target: "/webhooks/audio?uid=u1", contentType: "audio/ogg", body: pcm, wantStatus: http.StatusUnsupportedMediaType},
		{name: "queue full", target: "/webhooks/audio?uid=u1", contentType: "application/octet-stream", body: pcm, queueErr: worker.ErrQueueFull, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &mockQueue{err: tt.queueErr}
			rec := do(newTestHandler(&mockCoach{}, queue), http.MethodPost, tt.target, tt.contentType, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusAccepted {
				assert.Empty(t, queue.jobs)
				return
			}
			require.Len(t, queue.jobs, 1)
			job := queue.jobs[0]
			assert.Equal(t, "u1", job.UID)
			assert.Equal(t, tt.wantFormat, job.Format)
			assert.Equal(t, tt.wantRate, job.SampleRate)
			assert.Equal(t, []byte(tt.body), job.Payload)
		})
	}
}

func TestHandler_AnalyzeAudio(t *testing.T) {
	coach := &mockCoach{}
	h := newTestHandler(coach, &mockQueue{})

	rec := do(h, http.MethodPost, "/audio/analyze?sample_rate=22050", "application/octet-stream", string(audio.EncodePCM16([]int16{7, -7})))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []int16{7, -7}, coach.detectBuf.Samples)
	assert.Equal(t, 22050, coach.detectBuf.SampleRate)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["eating_detected"])
	assert.Equal(t, 0.8, body["confidence"])

	rec = do(h, http.MethodPost, "/audio/analyze", "application/octet-stream", "\x01\x02\x03")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_TranscriptWebhook(t *testing.T) {
	reflective := domain.ReflectionAnalysis{
		Text:           "I felt rushed",
		Sentiment:      domain.SentimentRushed,
		IsReflective:   true,
		Keywords:       []string{"felt", "rushed"},
		ToneIndicators: map[string]float64{domain.ToneRushed: 0.9},
	}
	outcome := &services.FeedbackOutcome{Decision: domain.FeedbackDecision{ShouldSend: true, Type: domain.FeedbackRushed, Reason: domain.ReasonOK}, Delivered: true}

	tests := []struct {
		name        string
		coach       *mockCoach
		target      string
		contentType string
		body        string
		wantStatus  int
		check       func(t *testing.T, body map[string]any)
	}{
		{
			name:        "reflection with feedback",
			coach:       &mockCoach{analysis: reflective, outcome: outcome},
			target:      "/webhooks/transcript?uid=u1",
			contentType: "application/json",
			body:        `{"session_id":"s1","segments":[{"text":"I felt"},{"text":"rushed","speaker":"SPEAKER_0"}]}`,
			wantStatus:  http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, true, body["is_reflection"])
				refl := body["reflection"].(map[string]any)
				assert.Equal(t, "rushed", refl["sentiment"])
				fb := body["feedback"].(map[string]any)
				assert.Equal(t, true, fb["delivered"])
			},
		},
		{
			name:        "not a reflection",
			coach:       &mockCoach{analysis: domain.NonReflective("pass the salt")},
			target:      "/webhooks/transcript?uid=u1",
			contentType: "application/json",
			body:        `{"segments":[{"text":"pass the salt"}]}`,
			wantStatus:  http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, false, body["is_reflection"])
				assert.Nil(t, body["reflection"])
				_, hasFeedback := body["feedback"]
				assert.False(t, hasFeedback)
			},
		},
		{name: "missing uid", coach: &mockCoach{}, target: "/webhooks/transcript", contentType: "application/json", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "wrong content type", coach: &mockCoach{}, target: "/webhooks/transcript?uid=u1", contentType: "text/plain", body: `{}`, wantStatus: http.StatusUnsupportedMediaType},
		{name: "malformed json", coach: &mockCoach{}, target: "/webhooks/transcript?uid=u1", contentType: "application/json", body: `{"segments":`, wantStatus: http.StatusBadRequest},
		{name: "store failure", coach: &mockCoach{err: errors.New("disk full")}, target: "/webhooks/transcript?uid=u1", contentType: "application/json", body: `{"segments":[]}`, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(newTestHandler(tt.coach, &mockQueue{}), http.MethodPost, tt.target, tt.contentType, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			body := decodeBody(t, rec)
			if tt.wantStatus != http.StatusOK {
				assert.NotEmpty(t, body["error"])
				return
			}
			tt.check(t, body)
		})
	}
}

func TestHandler_TranscriptWebhookPassesSegments(t *testing.T) {
	coach := &mockCoach{analysis: domain.NonReflective("")}
	rec := do(newTestHandler(coach, &mockQueue{}), http.MethodPost, "/webhooks/transcript?uid=u9", "application/json; charset=utf-8",
		`{"segments":[{"text":"I feel","speaker":"SPEAKER_1"},{"text":"calm"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u9", coach.gotUID)
	require.Len(t, coach.gotSegments, 2)
	assert.Equal(t, "SPEAKER_1", coach.gotSegments[0].Speaker)
	assert.Equal(t, "calm", coach.gotSegments[1].Text)
}

func TestHandler_EndMeal(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		body         string
		wantStatus   int
		wantDuration time.Duration
	}{
		{name: "explicit duration", body: `{"uid":"u1","duration_seconds":400.5}`, wantStatus: http.StatusOK, wantDuration: 400500 * time.Millisecond},
		{name: "derived duration", body: `{"uid":"u1"}`, wantStatus: http.StatusOK},
		{name: "missing uid", body: `{"duration_seconds":10}`, wantStatus: http.StatusBadRequest},
		{name: "negative duration", body: `{"uid":"u1","duration_seconds":-1}`, wantStatus: http.StatusBadRequest},
		{name: "no open meal", err: domain.ErrNoOpenMeal, body: `{"uid":"u1"}`, wantStatus: http.StatusConflict},
		{name: "too short", err: fmt.Errorf("service: meal lasted 3s: %w", domain.ErrMealTooShort), body: `{"uid":"u1","duration_seconds":3}`, wantStatus: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coach := &mockCoach{err: tt.err}
			rec := do(newTestHandler(coach, &mockQueue{}), http.MethodPost, "/meals/end", "application/json", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			assert.Equal(t, tt.wantDuration, coach.gotDuration)
			body := decodeBody(t, rec)
			assert.Equal(t, true, body["rushed"])
		})
	}
}

func TestHandler_SendFeedback(t *testing.T) {
	coach := &mockCoach{}
	h := newTestHandler(coach, &mockQueue{})

	rec := do(h, http.MethodPost, "/feedback", "application/json", `{"uid":"u1","feedback_type":"mindful","force":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.FeedbackMindful, coach.gotType)
	assert.True(t, coach.gotForce)
	assert.Equal(t, true, decodeBody(t, rec)["sent"])

	rec = do(h, http.MethodPost, "/feedback", "application/json", `{"uid":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.FeedbackSlowDown, coach.gotType)
	assert.False(t, coach.gotForce)

	rec = do(h, http.MethodPost, "/feedback", "application/json", `{"feedback_type":"mindful"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_WeeklyInsights(t *testing.T) {
	coach := &mockCoach{}
	h := newTestHandler(coach, &mockQueue{})

	rec := do(h, http.MethodGet, "/users/u1/insights?week_start=2026-03-02", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "u1", coach.gotUID)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), coach.gotWeek)
	assert.Equal(t, float64(3), decodeBody(t, rec)["total_meals"])

	rec = do(h, http.MethodGet, "/users/u1/insights?week_start=03/02/2026", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodGet, "/users/u1/insights", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Monday, coach.gotWeek.Weekday())
}

func TestStartOfWeek(t *testing.T) {
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{in: time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC), want: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		{in: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), want: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		{in: time.Date(2026, 3, 8, 23, 59, 0, 0, time.UTC), want: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, startOfWeek(tt.in), tt.in.String())
	}
}
