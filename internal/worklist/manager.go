// Package worklist owns outstanding review work: the work items, a
// per-reviewer index of active items, and a per-study index.
package worklist

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"radiology-workflow/internal/models"
)

// CreateRequest describes a new work item. An empty ReviewerID leaves the
// item unassigned.
type CreateRequest struct {
	StudyID           string
	ReviewerID        string
	Priority          models.WorkItemPriority
	DueAt             *time.Time
	EstimatedDuration time.Duration
	Tags              []string
}

type Option func(*Manager)

// WithClock overrides time.Now for assignment timestamps and overdue checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides uuid-based work item ids.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

type Manager struct {
	mu         sync.RWMutex
	items      map[string]*models.WorkItem
	byReviewer map[string][]string
	byStudy    map[string][]string
	seq        uint64

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

func NewManager(logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &Manager{
		items:      make(map[string]*models.WorkItem),
		byReviewer: make(map[string][]string),
		byStudy:    make(map[string][]string),
		now:        time.Now,
		newID:      uuid.NewString,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Create(req CreateRequest) (*models.WorkItem, error) {
	if req.StudyID == "" {
		return nil, fmt.Errorf("work item needs a study id")
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	if _, err := models.ParseWorkItemPriority(string(req.Priority)); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	item := &models.WorkItem{
		ID:                m.newID(),
		StudyID:           req.StudyID,
		ReviewerID:        req.ReviewerID,
		Status:            models.WorkPending,
		Priority:          req.Priority,
		AssignedAt:        m.now(),
		EstimatedDuration: req.EstimatedDuration,
		Tags:              append([]string(nil), req.Tags...),
		Seq:               m.seq,
	}
	if req.DueAt != nil {
		due := *req.DueAt
		item.DueAt = &due
	}

	m.items[item.ID] = item
	m.byStudy[item.StudyID] = append(m.byStudy[item.StudyID], item.ID)
	if item.ReviewerID != "" {
		m.byReviewer[item.ReviewerID] = append(m.byReviewer[item.ReviewerID], item.ID)
	}

	m.logger.Info("work item created",
		"work_item_id", item.ID,
		"study_id", item.StudyID,
		"reviewer_id", item.ReviewerID,
		"priority", item.Priority,
	)
	return item.Clone(), nil
}

func (m *Manager) Get(id string) (*models.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("work item %s: %w", id, models.ErrNotFound)
	}
	return item.Clone(), nil
}

// UpdateStatus sets the item's status and returns the previous one.
// Completed and rejected items leave the reviewer's active index but stay
// queryable.
func (m *Manager) UpdateStatus(id string, status models.WorkItemStatus) (models.WorkItemStatus, error) {
	if _, err := models.ParseWorkItemStatus(string(status)); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return "", fmt.Errorf("work item %s: %w", id, models.ErrNotFound)
	}
	prev := item.Status
	item.Status = status

	if item.ReviewerID != "" {
		if status.Closed() {
			m.byReviewer[item.ReviewerID] = removeID(m.byReviewer[item.ReviewerID], id)
		} else if prev.Closed() {
			m.byReviewer[item.ReviewerID] = append(m.byReviewer[item.ReviewerID], id)
		}
	}

	m.logger.Info("work item status updated", "work_item_id", id, "from", prev, "to", status)
	return prev, nil
}

// Assign moves the item to reviewerID and returns the previous reviewer id.
// Both indexes change under one lock, so no reader sees the item in two
// worklists or in none.
func (m *Manager) Assign(id, reviewerID string) (string, error) {
	if reviewerID == "" {
		return "", fmt.Errorf("reviewer id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return "", fmt.Errorf("work item %s: %w", id, models.ErrNotFound)
	}
	prev := item.ReviewerID
	if prev != "" {
		m.byReviewer[prev] = removeID(m.byReviewer[prev], id)
	}

	m.seq++
	item.ReviewerID = reviewerID
	item.AssignedAt = m.now()
	item.Seq = m.seq
	if !item.Status.Closed() {
		m.byReviewer[reviewerID] = append(m.byReviewer[reviewerID], id)
	}

	m.logger.Info("work item assigned", "work_item_id", id, "from", prev, "to", reviewerID)
	return prev, nil
}

func (m *Manager) SetPriority(id string, priority models.WorkItemPriority) error {
	if _, err := models.ParseWorkItemPriority(string(priority)); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return fmt.Errorf("work item %s: %w", id, models.ErrNotFound)
	}
	item.Priority = priority
	return nil
}

// Remove deletes the item and drops it from both indexes.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return fmt.Errorf("work item %s: %w", id, models.ErrNotFound)
	}
	delete(m.items, id)
	if item.ReviewerID != "" {
		m.byReviewer[item.ReviewerID] = removeID(m.byReviewer[item.ReviewerID], id)
	}
	m.byStudy[item.StudyID] = removeID(m.byStudy[item.StudyID], id)
	if len(m.byStudy[item.StudyID]) == 0 {
		delete(m.byStudy, item.StudyID)
	}

	m.logger.Info("work item removed", "work_item_id", id)
	return nil
}

// Query returns one page of matching items ordered by priority (most urgent
// first), then assignment time, then creation order.
func (m *Manager) Query(filter models.WorklistFilter) []*models.WorkItem {
	m.mu.RLock()
	matched := m.match(filter)
	m.mu.RUnlock()

	sortItems(matched)

	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultWorklistLimit
	}
	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start > len(matched) {
		start = len(matched)
	}
	if limit > len(matched)-start {
		limit = len(matched) - start
	}
	return matched[start : start+limit]
}

// ReviewerWorklist returns the first page of everything assigned to the reviewer.
func (m *Manager) ReviewerWorklist(reviewerID string) []*models.WorkItem {
	return m.Query(models.WorklistFilter{ReviewerID: reviewerID})
}

// ActiveForReviewer returns the reviewer's active index in worklist order.
func (m *Manager) ActiveForReviewer(reviewerID string) []*models.WorkItem {
	m.mu.RLock()
	ids := m.byReviewer[reviewerID]
	out := make([]*models.WorkItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.items[id].Clone())
	}
	m.mu.RUnlock()

	sortItems(out)
	return out
}

func (m *Manager) StudyItems(studyID string) []*models.WorkItem {
	m.mu.RLock()
	ids := m.byStudy[studyID]
	out := make([]*models.WorkItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.items[id].Clone())
	}
	m.mu.RUnlock()

	sortItems(out)
	return out
}

// ActiveItems returns every pending or in-progress item.
func (m *Manager) ActiveItems() []*models.WorkItem {
	return m.Query(models.WorklistFilter{
		Statuses: []models.WorkItemStatus{models.WorkPending, models.WorkInProgress},
		Limit:    math.MaxInt,
	})
}

// Stats aggregates over every item of the reviewer, or of the whole system
// when reviewerID is empty.
func (m *Manager) Stats(reviewerID string) models.WorklistStats {
	m.mu.RLock()
	items := m.match(models.WorklistFilter{ReviewerID: reviewerID})
	m.mu.RUnlock()

	now := m.now()
	stats := models.WorklistStats{
		Total:      len(items),
		ByPriority: make(map[models.WorkItemPriority]int),
	}
	var completedMinutes float64
	for _, item := range items {
		switch item.Status {
		case models.WorkPending:
			stats.Pending++
		case models.WorkInProgress:
			stats.InProgress++
		case models.WorkCompleted:
			stats.Completed++
			completedMinutes += item.EstimatedDuration.Minutes()
		}
		if item.Overdue(now) {
			stats.Overdue++
		}
		stats.ByPriority[item.Priority]++
	}
	if stats.Completed > 0 {
		stats.AverageDurationMinutes = completedMinutes / float64(stats.Completed)
	}
	return stats
}

// match returns copies of the items passing filter. Callers hold m.mu.
func (m *Manager) match(filter models.WorklistFilter) []*models.WorkItem {
	var out []*models.WorkItem
	for _, item := range m.items {
		if filter.ReviewerID != "" && item.ReviewerID != filter.ReviewerID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, item.Status) {
			continue
		}
		if len(filter.Priorities) > 0 && !containsPriority(filter.Priorities, item.Priority) {
			continue
		}
		if len(filter.Tags) > 0 && !anyTag(filter.Tags, item.Tags) {
			continue
		}
		out = append(out, item.Clone())
	}
	return out
}

func sortItems(items []*models.WorkItem) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra > rb
		}
		if !a.AssignedAt.Equal(b.AssignedAt) {
			return a.AssignedAt.Before(b.AssignedAt)
		}
		return a.Seq < b.Seq
	})
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func containsStatus(set []models.WorkItemStatus, s models.WorkItemStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsPriority(set []models.WorkItemPriority, p models.WorkItemPriority) bool {
	for _, v := range set {
		if v == p {
			return true
		}
	}
	return false
}

func anyTag(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}
