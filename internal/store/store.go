// Package store persists workflow state for collaborators outside the
// process: the latest status of each study, a snapshot of every work item
// and the journal of domain events. It is fed by draining the workflow
// outbox and is never consulted by the in-memory engines.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"radiology-workflow/internal/db"
	"radiology-workflow/internal/models"
)

type Store struct {
	q      *db.Queries
	conn   *sql.DB
	logger *slog.Logger
}

func New(conn *sql.DB, dialect db.Dialect, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{q: db.New(conn, dialect), conn: conn, logger: logger}
}

// Open connects using driver (postgres or sqlite) and prepares the schema.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	dialect, err := db.ParseDialect(driver)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}
	conn, err := db.Open(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}
	return New(conn, dialect, logger), nil
}

func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Publish journals each event and applies it to the snapshot tables.
// Processing stops at the first failure; events already written stay.
func (s *Store) Publish(ctx context.Context, batch []models.DomainEvent) error {
	for _, ev := range batch {
		if err := s.q.InsertEvent(ctx, db.Event{
			ID:         ev.ID,
			Type:       string(ev.Type),
			StudyID:    ev.StudyID,
			OccurredAt: ev.OccurredAt,
			Payload:    ev.Payload,
		}); err != nil {
			return fmt.Errorf("journal event %s: %w", ev.ID, err)
		}
		if err := s.apply(ctx, ev); err != nil {
			return fmt.Errorf("apply event %s (%s): %w", ev.ID, ev.Type, err)
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, ev models.DomainEvent) error {
	switch ev.Type {
	case models.EventStudyRouted:
		var p models.StudyRoutedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		if err := s.q.InsertStudyStatus(ctx, db.StudyStatus{
			StudyID:   ev.StudyID,
			Status:    string(models.StudyScheduled),
			UpdatedAt: ev.OccurredAt,
		}); err != nil {
			return err
		}
		if p.Item.ID == "" {
			return nil
		}
		return s.q.UpsertWorkItem(ctx, workItemRow(p.Item, ev))

	case models.EventStatusTransitioned:
		var p models.StatusTransitionPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		return s.q.UpsertStudyStatus(ctx, db.StudyStatus{
			StudyID:   ev.StudyID,
			Status:    string(p.To),
			UpdatedAt: ev.OccurredAt,
		})

	case models.EventWorkItemAssigned, models.EventWorkItemStatusChanged, models.EventWorkItemPriorityRaised:
		var p models.WorkItemPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		return s.q.UpsertWorkItem(ctx, workItemRow(p.Item, ev))
	}
	return nil
}

func workItemRow(item models.WorkItem, ev models.DomainEvent) db.WorkItem {
	return db.WorkItem{
		ID:                item.ID,
		StudyID:           item.StudyID,
		ReviewerID:        item.ReviewerID,
		Status:            string(item.Status),
		Priority:          string(item.Priority),
		AssignedAt:        item.AssignedAt,
		DueAt:             item.DueAt,
		EstimatedDuration: item.EstimatedDuration,
		Tags:              item.Tags,
		UpdatedAt:         ev.OccurredAt,
	}
}

func (s *Store) StudyStatus(ctx context.Context, studyID string) (models.StudyStatus, error) {
	row, err := s.q.GetStudyStatus(ctx, studyID)
	if db.IsNoRows(err) {
		return "", fmt.Errorf("study %s: %w", studyID, models.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return models.StudyStatus(row.Status), nil
}

func (s *Store) WorkItem(ctx context.Context, id string) (*models.WorkItem, error) {
	row, err := s.q.GetWorkItem(ctx, id)
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("work item %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return toModel(row), nil
}

func (s *Store) ReviewerItems(ctx context.Context, reviewerID string) ([]*models.WorkItem, error) {
	rows, err := s.q.ListWorkItemsByReviewer(ctx, reviewerID)
	if err != nil {
		return nil, err
	}
	items := make([]*models.WorkItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, toModel(r))
	}
	return items, nil
}

// Events pages through the journal; pass the last seen cursor to continue.
func (s *Store) Events(ctx context.Context, studyID string, after int64, limit int) ([]models.DomainEvent, int64, error) {
	rows, err := s.q.ListEvents(ctx, studyID, after, limit)
	if err != nil {
		return nil, after, err
	}
	out := make([]models.DomainEvent, 0, len(rows))
	cursor := after
	for _, r := range rows {
		out = append(out, models.DomainEvent{
			ID:         r.ID,
			Type:       models.DomainEventType(r.Type),
			StudyID:    r.StudyID,
			OccurredAt: r.OccurredAt,
			Payload:    json.RawMessage(r.Payload),
		})
		cursor = r.Seq
	}
	return out, cursor, nil
}

func toModel(r db.WorkItem) *models.WorkItem {
	return &models.WorkItem{
		ID:                r.ID,
		StudyID:           r.StudyID,
		ReviewerID:        r.ReviewerID,
		Status:            models.WorkItemStatus(r.Status),
		Priority:          models.WorkItemPriority(r.Priority),
		AssignedAt:        r.AssignedAt,
		DueAt:             r.DueAt,
		EstimatedDuration: r.EstimatedDuration,
		Tags:              r.Tags,
	}
}
