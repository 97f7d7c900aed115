package ports

import (
	"context"
	"time"

	"github.com/ewilliams-labs/mend/internal/core/domain"
)

type EventRepository interface {
	CreateEvent(ctx context.Context, e domain.MealEvent) (domain.MealEvent, error)
	// ListEvents returns events in [from, to], newest first. Zero bounds are open.
	ListEvents(ctx context.Context, uid string, from, to time.Time) ([]domain.MealEvent, error)
	// OpenMeal returns the latest meal_start not followed by a meal_end.
	OpenMeal(ctx context.Context, uid string) (domain.MealEvent, bool, error)
	MarkFeedbackSent(ctx context.Context, eventID string) error
}
