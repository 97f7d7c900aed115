package ports

import (
	"context"

	"github.com/ewilliams-labs/mend/internal/core/domain"
)

// Notifier delivers a push notification to a user's device.
type Notifier interface {
	SendNotification(ctx context.Context, uid, message string) error
}

// MemoryWriter stores an entry on the user's timeline.
type MemoryWriter interface {
	CreateMemory(ctx context.Context, uid string, memory domain.Memory) error
}
