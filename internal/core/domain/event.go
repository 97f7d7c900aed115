package domain

import "time"

// EventType classifies a stored meal event.
type EventType string

const (
	EventMealStart  EventType = "meal_start"
	EventMealEnd    EventType = "meal_end"
	EventReflection EventType = "reflection"
)

// MealEvent is a persisted meal-related event.
type MealEvent struct {
	ID             string        `json:"id"`
	UID            string        `json:"uid"`
	Timestamp      time.Time     `json:"timestamp"`
	Type           EventType     `json:"event_type"`
	Duration       time.Duration `json:"duration,omitempty"`
	ReflectionText string        `json:"reflection_text,omitempty"`
	Sentiment      Sentiment     `json:"sentiment,omitempty"`
	CueSent        bool          `json:"cue_sent"`
}

// WeeklyInsights summarizes one week of a user's meals.
type WeeklyInsights struct {
	UID                string         `json:"uid"`
	WeekStart          time.Time      `json:"week_start"`
	WeekEnd            time.Time      `json:"week_end"`
	AvgMealDuration    float64        `json:"avg_meal_duration"`
	TotalMeals         int            `json:"total_meals"`
	ReflectionsCount   int            `json:"reflections_count"`
	MostMindfulTime    string         `json:"most_mindful_time,omitempty"`
	SentimentBreakdown map[string]int `json:"sentiment_breakdown"`
}
