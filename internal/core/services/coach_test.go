package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewilliams-labs/mend/internal/core/audio"
	"github.com/ewilliams-labs/mend/internal/core/domain"
	"github.com/ewilliams-labs/mend/internal/core/feedback"
	"github.com/ewilliams-labs/mend/internal/core/reflection"
)

var testNow = time.Date(2026, 3, 4, 12, 30, 0, 0, time.UTC)

type harness struct {
	coach    *Coach
	clock    *clockwork.FakeClock
	events   *mockEvents
	history  *mockHistory
	notifier *mockNotifier
	memories *mockMemories
	model    *mockModel
	logs     bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    clockwork.NewFakeClockAt(testNow),
		events:   &mockEvents{},
		history:  &mockHistory{},
		notifier: &mockNotifier{},
		memories: &mockMemories{},
		model:    &mockModel{response: `{"sentiment":"stressed","tone_indicators":{"stressed_score":0.8,"mindful_score":0.1,"rushed_score":0.4}}`},
	}
	logger := zerolog.New(&h.logs).Level(zerolog.DebugLevel)
	h.coach = NewCoach(Deps{
		Extractor:  audio.NewFeatureExtractor(audio.DefaultExtractorConfig(), logger),
		Detector:   audio.NewDetector(audio.DefaultDetectorConfig()),
		Trigger:    reflection.NewTrigger(nil),
		Classifier: reflection.NewClassifier(h.model, reflection.ClassifierConfig{}, logger),
		Policy:     feedback.NewPolicy(feedback.DefaultConfig(), h.history, h.clock, logger),
		Events:     h.events,
		History:    h.history,
		Notifier:   h.notifier,
		Memories:   h.memories,
		Clock:      h.clock,
		Logger:     logger,
	}, CoachConfig{})
	return h
}

func chewing() domain.AudioBuffer {
	samples := make([]int16, 16000)
	for i := range samples {
		samples[i] = int16(0.5 * 32767 * math.Sin(2*math.Pi*1000*float64(i)/16000))
	}
	return domain.AudioBuffer{Samples: samples, SampleRate: 16000}
}

func TestCoach_AnalyzeAudio(t *testing.T) {
	t.Run("eating opens a meal once", func(t *testing.T) {
		h := newHarness(t)

		res, err := h.coach.AnalyzeAudio(context.Background(), "u1", chewing())
		require.NoError(t, err)
		assert.True(t, res.EatingDetected)
		assert.GreaterOrEqual(t, res.Confidence, 0.6)

		_, err = h.coach.AnalyzeAudio(context.Background(), "u1", chewing())
		require.NoError(t, err)

		starts := h.events.ofType(domain.EventMealStart)
		require.Len(t, starts, 1)
		assert.Equal(t, testNow, starts[0].Timestamp)
	})

	t.Run("logs chunk length in seconds", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.coach.AnalyzeAudio(context.Background(), "u1", chewing())
		require.NoError(t, err)
		assert.Contains(t, h.logs.String(), `"chunk_seconds":1`)
		assert.Contains(t, h.logs.String(), `"message":"audio analyzed"`)
	})

	t.Run("silence records nothing", func(t *testing.T) {
		h := newHarness(t)

		res, err := h.coach.AnalyzeAudio(context.Background(), "u1", domain.AudioBuffer{Samples: make([]int16, 4096), SampleRate: 16000})
		require.NoError(t, err)
		assert.False(t, res.EatingDetected)
		assert.Empty(t, h.events.all())
	})

	t.Run("empty chunk", func(t *testing.T) {
		h := newHarness(t)

		res, err := h.coach.AnalyzeAudio(context.Background(), "u1", domain.AudioBuffer{SampleRate: 16000})
		require.NoError(t, err)
		assert.False(t, res.EatingDetected)
		assert.Zero(t, res.Confidence)
	})

	t.Run("repository failure", func(t *testing.T) {
		h := newHarness(t)
		h.events.createErr = errors.New("disk full")

		res, err := h.coach.AnalyzeAudio(context.Background(), "u1", chewing())
		require.Error(t, err)
		assert.True(t, res.EatingDetected)
	})

	t.Run("missing uid", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.coach.AnalyzeAudio(context.Background(), "", chewing())
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
}

func TestCoach_ProcessTranscript(t *testing.T) {
	t.Run("non-reflective transcript skips the model", func(t *testing.T) {
		h := newHarness(t)

		analysis, outcome, err := h.coach.ProcessTranscript(context.Background(), "u1", []domain.TranscriptSegment{{Text: "pass the salt please"}})
		require.NoError(t, err)
		assert.False(t, analysis.IsReflective)
		assert.Nil(t, outcome)
		assert.Zero(t, h.model.callCount())
		assert.Empty(t, h.events.all())
	})

	t.Run("reflection stores event and sends feedback", func(t *testing.T) {
		h := newHarness(t)

		segments := []domain.TranscriptSegment{{Text: "I feel stressed"}, {Text: "about that meal"}}
		analysis, outcome, err := h.coach.ProcessTranscript(context.Background(), "u1", segments)
		require.NoError(t, err)

		assert.True(t, analysis.IsReflective)
		assert.Equal(t, domain.SentimentStressed, analysis.Sentiment)
		assert.Equal(t, "I feel stressed about that meal", analysis.Text)
		assert.Equal(t, 1, h.model.callCount())

		require.NotNil(t, outcome)
		assert.True(t, outcome.Delivered)
		assert.Equal(t, domain.FeedbackStressed, outcome.Decision.Type)
		assert.Equal(t, []string{feedback.DefaultMessages()[domain.FeedbackStressed]}, h.notifier.sent())

		refl := h.events.ofType(domain.EventReflection)
		require.Len(t, refl, 1)
		assert.True(t, refl[0].CueSent)
		assert.Equal(t, domain.SentimentStressed, refl[0].Sentiment)

		last, ok, err := h.history.LastFeedbackTime(context.Background(), "u1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, testNow, last)

		require.Len(t, h.memories.saved, 1)
		assert.Equal(t, "I feel stressed about that meal", h.memories.saved[0].Content)
	})

	t.Run("cooldown blocks second reflection", func(t *testing.T) {
		h := newHarness(t)
		segments := []domain.TranscriptSegment{{Text: "I felt stressed eating"}}

		_, first, err := h.coach.ProcessTranscript(context.Background(), "u1", segments)
		require.NoError(t, err)
		require.True(t, first.Delivered)

		h.clock.Advance(100 * time.Second)
		_, second, err := h.coach.ProcessTranscript(context.Background(), "u1", segments)
		require.NoError(t, err)
		assert.False(t, second.Decision.ShouldSend)
		assert.Equal(t, domain.ReasonCooldown, second.Decision.Reason)
		assert.Len(t, h.notifier.sent(), 1)
	})

	t.Run("model failure degrades to non-reflective", func(t *testing.T) {
		h := newHarness(t)
		h.model.err = errors.New("connection refused")

		analysis, outcome, err := h.coach.ProcessTranscript(context.Background(), "u1", []domain.TranscriptSegment{{Text: "I felt rushed"}})
		require.NoError(t, err)
		assert.False(t, analysis.IsReflective)
		assert.Nil(t, outcome)
		assert.Equal(t, 1, h.model.callCount())
	})

	t.Run("notifier failure is reported, not returned", func(t *testing.T) {
		h := newHarness(t)
		h.notifier.err = errors.New("503")

		_, outcome, err := h.coach.ProcessTranscript(context.Background(), "u1", []domain.TranscriptSegment{{Text: "I feel stressed"}})
		require.NoError(t, err)
		require.NotNil(t, outcome)
		assert.True(t, outcome.Decision.ShouldSend)
		assert.False(t, outcome.Delivered)

		_, ok, _ := h.history.LastFeedbackTime(context.Background(), "u1")
		assert.False(t, ok)
		assert.False(t, h.events.ofType(domain.EventReflection)[0].CueSent)
	})

	t.Run("memory failure is ignored", func(t *testing.T) {
		h := newHarness(t)
		h.memories.err = errors.New("timeout")

		_, outcome, err := h.coach.ProcessTranscript(context.Background(), "u1", []domain.TranscriptSegment{{Text: "I feel stressed"}})
		require.NoError(t, err)
		assert.True(t, outcome.Delivered)
	})
}

func TestCoach_EndMeal(t *testing.T) {
	tests := []struct {
		name        string
		startAgo    time.Duration // zero means no open meal
		duration    time.Duration
		wantErr     error
		wantRushed  bool
		wantSent    bool
		wantSeconds float64
	}{
		{name: "rushed from open meal", startAgo: 400 * time.Second, wantRushed: true, wantSent: true, wantSeconds: 400},
		{name: "unhurried from open meal", startAgo: 20 * time.Minute, wantSeconds: 1200},
		{name: "explicit duration", duration: 500 * time.Second, wantSeconds: 500},
		{name: "explicit rushed duration", duration: 60 * time.Second, wantRushed: true, wantSent: true, wantSeconds: 60},
		{name: "no open meal", wantErr: domain.ErrNoOpenMeal},
		{name: "too short", startAgo: 5 * time.Second, wantErr: domain.ErrMealTooShort},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			if tc.startAgo > 0 {
				_, err := h.events.CreateEvent(context.Background(), domain.MealEvent{
					UID: "u1", Type: domain.EventMealStart, Timestamp: testNow.Add(-tc.startAgo),
				})
				require.NoError(t, err)
			}

			summary, err := h.coach.EndMeal(context.Background(), "u1", tc.duration)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Empty(t, h.events.ofType(domain.EventMealEnd))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantRushed, summary.Rushed)
			assert.Equal(t, tc.wantSent, summary.Feedback.Delivered)
			assert.Equal(t, domain.EventMealEnd, summary.Event.Type)
			assert.InDelta(t, tc.wantSeconds, summary.Event.Duration.Seconds(), 1e-9)

			_, open, err := h.events.OpenMeal(context.Background(), "u1")
			require.NoError(t, err)
			assert.False(t, open)
		})
	}
}

func TestCoach_SendFeedback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.coach.SendFeedback(ctx, "u1", domain.FeedbackMindful, false)
	require.NoError(t, err)
	assert.True(t, first.Delivered)

	second, err := h.coach.SendFeedback(ctx, "u1", domain.FeedbackMindful, false)
	require.NoError(t, err)
	assert.False(t, second.Decision.ShouldSend)

	forced, err := h.coach.SendFeedback(ctx, "u1", "unknown", true)
	require.NoError(t, err)
	assert.True(t, forced.Delivered)
	assert.Equal(t, domain.FeedbackSlowDown, forced.Decision.Type)
	assert.Equal(t, domain.ReasonForced, forced.Decision.Reason)

	_, err = h.coach.SendFeedback(ctx, "", domain.FeedbackMindful, false)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCoach_WeeklyInsights(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	weekStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	add := func(ev domain.MealEvent) {
		ev.UID = "u1"
		_, err := h.events.CreateEvent(ctx, ev)
		require.NoError(t, err)
	}
	add(domain.MealEvent{Type: domain.EventMealStart, Timestamp: weekStart.Add(8 * time.Hour)})
	add(domain.MealEvent{Type: domain.EventMealEnd, Timestamp: weekStart.Add(8*time.Hour + 10*time.Minute), Duration: 600 * time.Second})
	add(domain.MealEvent{Type: domain.EventMealEnd, Timestamp: weekStart.Add(32 * time.Hour), Duration: 1200 * time.Second})
	add(domain.MealEvent{Type: domain.EventReflection, Timestamp: weekStart.Add(8 * time.Hour), Sentiment: domain.SentimentMindful})
	add(domain.MealEvent{Type: domain.EventReflection, Timestamp: weekStart.Add(9 * time.Hour), Sentiment: domain.SentimentCalm})
	add(domain.MealEvent{Type: domain.EventReflection, Timestamp: weekStart.Add(19 * time.Hour), Sentiment: domain.SentimentMindful})
	add(domain.MealEvent{Type: domain.EventReflection, Timestamp: weekStart.Add(20 * time.Hour), Sentiment: domain.SentimentStressed})
	// Outside the week.
	add(domain.MealEvent{Type: domain.EventMealEnd, Timestamp: weekStart.AddDate(0, 0, 7), Duration: time.Hour})

	got, err := h.coach.WeeklyInsights(ctx, "u1", weekStart)
	require.NoError(t, err)

	assert.Equal(t, 2, got.TotalMeals)
	assert.InDelta(t, 900, got.AvgMealDuration, 1e-9)
	assert.Equal(t, 4, got.ReflectionsCount)
	assert.Equal(t, map[string]int{"mindful": 2, "calm": 1, "stressed": 1}, got.SentimentBreakdown)
	assert.Equal(t, "morning", got.MostMindfulTime)
	assert.Equal(t, weekStart.AddDate(0, 0, 7), got.WeekEnd)
}

func TestCoach_WeeklyInsightsEmpty(t *testing.T) {
	h := newHarness(t)

	got, err := h.coach.WeeklyInsights(context.Background(), "u1", testNow)
	require.NoError(t, err)
	assert.Zero(t, got.TotalMeals)
	assert.Zero(t, got.AvgMealDuration)
	assert.Empty(t, got.MostMindfulTime)
	assert.NotNil(t, got.SentimentBreakdown)
}

// --- Mocks ---

// mockEvents is an in-memory EventRepository.
type mockEvents struct {
	mu        sync.Mutex
	events    []domain.MealEvent
	nextID    int
	createErr error
}

func (m *mockEvents) CreateEvent(_ context.Context, e domain.MealEvent) (domain.MealEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return domain.MealEvent{}, m.createErr
	}
	m.nextID++
	e.ID = fmt.Sprintf("ev-%d", m.nextID)
	m.events = append(m.events, e)
	return e, nil
}

func (m *mockEvents) ListEvents(_ context.Context, uid string, from, to time.Time) ([]domain.MealEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MealEvent
	for _, e := range m.events {
		if e.UID != uid {
			continue
		}
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *mockEvents) OpenMeal(ctx context.Context, uid string) (domain.MealEvent, bool, error) {
	events, _ := m.ListEvents(ctx, uid, time.Time{}, time.Time{})
	for _, e := range events {
		switch e.Type {
		case domain.EventMealEnd:
			return domain.MealEvent{}, false, nil
		case domain.EventMealStart:
			return e, true, nil
		}
	}
	return domain.MealEvent{}, false, nil
}

func (m *mockEvents) MarkFeedbackSent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].CueSent = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockEvents) all() []domain.MealEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.MealEvent(nil), m.events...)
}

func (m *mockEvents) ofType(t domain.EventType) []domain.MealEvent {
	var out []domain.MealEvent
	for _, e := range m.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type mockHistory struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func (m *mockHistory) LastFeedbackTime(_ context.Context, uid string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.last[uid]
	return t, ok, nil
}

func (m *mockHistory) RecordFeedback(_ context.Context, uid string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		m.last = map[string]time.Time{}
	}
	m.last[uid] = at
	return nil
}

type mockNotifier struct {
	mu       sync.Mutex
	err      error
	messages []string
}

func (m *mockNotifier) SendNotification(_ context.Context, _ string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, message)
	return nil
}

func (m *mockNotifier) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

type mockMemories struct {
	err   error
	saved []domain.Memory
}

func (m *mockMemories) CreateMemory(_ context.Context, _ string, memory domain.Memory) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, memory)
	return nil
}

type mockModel struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (m *mockModel) CompleteJSON(context.Context, string, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.response, m.err
}

func (m *mockModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
