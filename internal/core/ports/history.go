package ports

import (
	"context"
	"time"
)

// FeedbackHistory tracks when each user last received coaching feedback.
type FeedbackHistory interface {
	// LastFeedbackTime returns ok=false when the user never received feedback.
	LastFeedbackTime(ctx context.Context, uid string) (t time.Time, ok bool, err error)
	RecordFeedback(ctx context.Context, uid string, at time.Time) error
}
