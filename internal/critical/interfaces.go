package critical

import (
	"context"

	"radiology-workflow/internal/models"
)

// Message is what a Sender delivers: one notification record plus the
// event it is about.
type Message struct {
	Notification *models.NotificationRecord
	Event        *models.CriticalValueEvent
}

// Sender delivers a notification over its channel. Calls may block on
// external systems; the processor never holds its lock across them.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// RecipientResolver maps role-based recipient types (referring physician,
// department head, ...) to user ids for an event.
type RecipientResolver interface {
	Resolve(ctx context.Context, event *models.CriticalValueEvent, recipientType models.RecipientType) ([]string, error)
}
