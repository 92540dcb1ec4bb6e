// Package events hands domain events drained from the workflow outbox to
// messaging collaborators.
package events

import (
	"context"
	"errors"
	"log/slog"

	"radiology-workflow/internal/models"
)

// Publisher accepts a batch of domain events in emission order.
type Publisher interface {
	Publish(ctx context.Context, batch []models.DomainEvent) error
}

// Fanout publishes every batch to each publisher in turn. A failing
// publisher does not stop the others; their errors are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, batch []models.DomainEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes one debug line per event.
type LogPublisher struct {
	Logger *slog.Logger
}

func (l LogPublisher) Publish(ctx context.Context, batch []models.DomainEvent) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, ev := range batch {
		logger.Debug("domain event",
			"id", ev.ID,
			"type", ev.Type,
			"study_id", ev.StudyID,
			"occurred_at", ev.OccurredAt,
		)
	}
	return nil
}
