package notify

import (
	"context"
	"log/slog"

	"radiology-workflow/internal/critical"
)

// LogSender records deliveries in the log and always succeeds.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg critical.Message) error {
	title, _ := render(msg)
	s.logger.Info("notification delivered",
		"notification_id", msg.Notification.ID,
		"event_id", msg.Notification.EventID,
		"recipient_id", msg.Notification.RecipientID,
		"channel", msg.Notification.Channel,
		"title", title,
	)
	return nil
}
