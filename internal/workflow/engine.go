// Package workflow sequences the routing engine, worklist, state machine
// and critical-value processor. No leaf component calls another; every
// cross-component effect goes through Engine.
package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"radiology-workflow/internal/critical"
	"radiology-workflow/internal/models"
	"radiology-workflow/internal/routing"
	"radiology-workflow/internal/statemachine"
	"radiology-workflow/internal/worklist"
)

// DefaultEstimate is the review estimate given to new work items.
const DefaultEstimate = 30 * time.Minute

type Config struct {
	DefaultEstimate time.Duration
	// DueOffsets sets due = creation + offset for the given priority.
	DueOffsets map[models.WorkItemPriority]time.Duration
	// AdminRecipient receives notify-admin escalations without recipients.
	AdminRecipient string
	AdminChannels  []models.Channel
	OutboxCapacity int
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

type Engine struct {
	// mu serializes multi-component sequences (route, create, count) so
	// workload bookkeeping matches the worklist.
	mu       sync.Mutex
	studies  map[string]models.StudyStatus
	router   *routing.Engine
	worklist *worklist.Manager
	critical *critical.Processor
	outbox   *Outbox
	cfg      Config

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

func NewEngine(router *routing.Engine, wl *worklist.Manager, cp *critical.Processor, cfg Config, opts ...Option) *Engine {
	if cfg.DefaultEstimate <= 0 {
		cfg.DefaultEstimate = DefaultEstimate
	}
	if len(cfg.AdminChannels) == 0 {
		cfg.AdminChannels = []models.Channel{models.ChannelInApp, models.ChannelEmail}
	}
	e := &Engine{
		studies:  make(map[string]models.StudyStatus),
		router:   router,
		worklist: wl,
		critical: cp,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.outbox = NewOutbox(cfg.OutboxCapacity, e.logger)
	return e
}

// StudyOutcome is what ProcessNewStudy decided.
type StudyOutcome struct {
	Routing  *models.RoutingResult `json:"routing"`
	WorkItem *models.WorkItem      `json:"work_item"`
}

// ProcessNewStudy routes the study and creates its work item, assigned when
// a reviewer was chosen and queued otherwise. The chosen reviewer's workload
// goes up by one. A study id can be processed only once.
func (e *Engine) ProcessNewStudy(ctx context.Context, study *models.Study, priority models.RoutingPriority) (*StudyOutcome, error) {
	if study == nil || study.ID == "" {
		return nil, fmt.Errorf("study id is required")
	}
	if study.Status == "" {
		study.Status = models.StudyScheduled
	}
	if !study.Status.Valid() {
		return nil, fmt.Errorf("invalid study status %q", study.Status)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if recorded, ok := e.studies[study.ID]; ok {
		return nil, fmt.Errorf("study %s already processed (status %s): %w", study.ID, recorded, models.ErrConflict)
	}

	result, err := e.router.RouteStudy(study, priority)
	if err != nil {
		return nil, fmt.Errorf("route study %s: %w", study.ID, err)
	}

	wp := priority.WorkItemPriority()
	tags := []string{study.Modality}
	if result.QueueName != "" {
		tags = append(tags, result.QueueName)
	}
	req := worklist.CreateRequest{
		StudyID:           study.ID,
		ReviewerID:        result.ReviewerID,
		Priority:          wp,
		EstimatedDuration: e.cfg.DefaultEstimate,
		Tags:              tags,
	}
	if off, ok := e.cfg.DueOffsets[wp]; ok && off > 0 {
		due := e.now().Add(off)
		req.DueAt = &due
	}
	item, err := e.worklist.Create(req)
	if err != nil {
		return nil, fmt.Errorf("create work item for study %s: %w", study.ID, err)
	}
	if result.Assigned() {
		e.router.UpdateWorkload(result.ReviewerID, 1)
	}
	e.studies[study.ID] = study.Status

	e.emit(models.EventStudyRouted, study.ID, models.StudyRoutedPayload{Result: *result, WorkItemID: item.ID, Item: *item})
	if result.Assigned() {
		e.emit(models.EventWorkItemAssigned, study.ID, models.WorkItemPayload{Item: *item})
	}

	e.logger.Info("study processed",
		"study_id", study.ID,
		"work_item_id", item.ID,
		"reviewer_id", result.ReviewerID,
		"queue", result.QueueName,
		"priority", wp,
	)
	return &StudyOutcome{Routing: result, WorkItem: item}, nil
}

// StudyStatus returns the last status recorded for a study.
func (e *Engine) StudyStatus(studyID string) (models.StudyStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.studies[studyID]
	if !ok {
		return "", fmt.Errorf("study %s: %w", studyID, models.ErrNotFound)
	}
	return s, nil
}

// UpdateStudyStatus applies event to current and updates the study's open
// work items: Started moves them in progress, Completed and Canceled close
// them and release the reviewer's workload. current must match the status
// recorded for the study.
func (e *Engine) UpdateStudyStatus(ctx context.Context, studyID string, current models.StudyStatus, event models.StudyEvent) (models.StudyStatus, error) {
	next, err := statemachine.Transition(current, event)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	recorded, ok := e.studies[studyID]
	if !ok {
		return "", fmt.Errorf("study %s: %w", studyID, models.ErrNotFound)
	}
	if recorded != current {
		return "", fmt.Errorf("study %s is %s, not %s: %w", studyID, recorded, current,
			&models.TransitionError{From: recorded, Event: event})
	}

	var itemStatus models.WorkItemStatus
	switch event {
	case models.EventStarted:
		itemStatus = models.WorkInProgress
	case models.EventCompleted:
		itemStatus = models.WorkCompleted
	case models.EventCanceled:
		itemStatus = models.WorkRejected
	}

	if itemStatus != "" {
		for _, item := range e.worklist.StudyItems(studyID) {
			if item.Status.Closed() || item.Status == itemStatus {
				continue
			}
			prev, err := e.worklist.UpdateStatus(item.ID, itemStatus)
			if err != nil {
				return "", fmt.Errorf("update work item %s: %w", item.ID, err)
			}
			if itemStatus.Closed() && item.ReviewerID != "" {
				e.router.UpdateWorkload(item.ReviewerID, -1)
			}
			item.Status = itemStatus
			e.emit(models.EventWorkItemStatusChanged, studyID, models.WorkItemPayload{Item: *item, PreviousStatus: prev})
		}
	}
	e.studies[studyID] = next

	e.emit(models.EventStatusTransitioned, studyID, models.StatusTransitionPayload{From: current, Event: event, To: next})
	e.logger.Info("study status transitioned", "study_id", studyID, "from", current, "event", event, "to", next)
	return next, nil
}

// AssignWorkItem moves a work item to reviewerID, moving one unit of
// workload with it when the item is still open. An open item cannot be
// moved to a reviewer already at MaxWorkload.
func (e *Engine) AssignWorkItem(ctx context.Context, itemID, reviewerID string) (*models.WorkItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := e.router.Reviewer(reviewerID)
	if err != nil {
		return nil, fmt.Errorf("%w: reviewer %s not found", models.ErrRouting, reviewerID)
	}
	if !r.Available {
		return nil, fmt.Errorf("%w: reviewer %s is not available", models.ErrRouting, reviewerID)
	}

	item, err := e.worklist.Get(itemID)
	if err != nil {
		return nil, err
	}
	moving := !item.Status.Closed() && item.ReviewerID != reviewerID
	if moving && e.router.Workload(reviewerID) >= r.MaxWorkload {
		return nil, fmt.Errorf("%w: reviewer %s is at capacity (%d)", models.ErrRouting, reviewerID, r.MaxWorkload)
	}
	prev, err := e.worklist.Assign(itemID, reviewerID)
	if err != nil {
		return nil, err
	}
	if !item.Status.Closed() {
		if prev != "" {
			e.router.UpdateWorkload(prev, -1)
		}
		e.router.UpdateWorkload(reviewerID, 1)
	}

	updated, err := e.worklist.Get(itemID)
	if err != nil {
		return nil, err
	}
	e.emit(models.EventWorkItemAssigned, updated.StudyID, models.WorkItemPayload{Item: *updated, PreviousReviewer: prev})
	return updated, nil
}

// UpdateWorkItemStatus sets a work item's status. Closing an open item
// releases one unit of the reviewer's workload.
func (e *Engine) UpdateWorkItemStatus(ctx context.Context, itemID string, status models.WorkItemStatus) (*models.WorkItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, err := e.worklist.UpdateStatus(itemID, status)
	if err != nil {
		return nil, err
	}
	item, err := e.worklist.Get(itemID)
	if err != nil {
		return nil, err
	}
	if item.ReviewerID != "" && !prev.Closed() && status.Closed() {
		e.router.UpdateWorkload(item.ReviewerID, -1)
	}

	e.emit(models.EventWorkItemStatusChanged, item.StudyID, models.WorkItemPayload{Item: *item, PreviousStatus: prev})
	return item, nil
}

// CreateCriticalValue records the finding, drains the notification queue
// once and, for High or Critical severity, raises the study's open work
// to Critical priority.
func (e *Engine) CreateCriticalValue(ctx context.Context, in critical.NewEvent) (*models.CriticalValueEvent, error) {
	if in.StudyID == "" {
		return nil, fmt.Errorf("study id is required")
	}
	if _, err := models.ParseCriticalValueType(string(in.ValueType)); err != nil {
		return nil, err
	}
	if _, err := models.ParseSeverity(string(in.Severity)); err != nil {
		return nil, err
	}

	event := e.critical.CreateEvent(ctx, in)
	e.emit(models.EventCriticalValueCreated, event.StudyID, models.CriticalValuePayload{Event: *event})

	e.critical.ProcessNotificationQueue(ctx)

	if event.Severity.AtLeast(models.SeverityHigh) {
		e.raiseStudyPriority(event.StudyID)
	}
	return event, nil
}

func (e *Engine) raiseStudyPriority(studyID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, item := range e.worklist.StudyItems(studyID) {
		if item.Status.Closed() || item.Priority == models.PriorityCritical {
			continue
		}
		if err := e.worklist.SetPriority(item.ID, models.PriorityCritical); err != nil {
			e.logger.Error("raise work item priority", "work_item_id", item.ID, "error", err)
			continue
		}
		e.logger.Warn("work item raised to critical priority", "work_item_id", item.ID, "study_id", studyID)
		if raised, err := e.worklist.Get(item.ID); err == nil {
			e.emit(models.EventWorkItemPriorityRaised, studyID, models.WorkItemPayload{Item: *raised})
		}
	}
}

func (e *Engine) AcknowledgeCriticalValue(ctx context.Context, eventID, userID string) error {
	rec, err := e.critical.Acknowledge(eventID, userID)
	if err != nil {
		return err
	}
	studyID := ""
	if ev, err := e.critical.Event(rec.EventID); err == nil {
		studyID = ev.StudyID
	}
	e.emit(models.EventCriticalValueAcknowledged, studyID, models.AcknowledgmentPayload{EventID: eventID, UserID: userID})
	return nil
}

// ProcessNotifications drains the critical-value notification queue once.
func (e *Engine) ProcessNotifications(ctx context.Context) critical.DrainResult {
	return e.critical.ProcessNotificationQueue(ctx)
}

// ReviewerWorklist returns the reviewer's worklist, most urgent first.
func (e *Engine) ReviewerWorklist(reviewerID string) ([]*models.WorkItem, error) {
	if _, err := e.router.Reviewer(reviewerID); err != nil {
		return nil, err
	}
	return e.worklist.ReviewerWorklist(reviewerID), nil
}

func (e *Engine) QueryWorklist(filter models.WorklistFilter) []*models.WorkItem {
	return e.worklist.Query(filter)
}

func (e *Engine) WorklistStats(reviewerID string) models.WorklistStats {
	return e.worklist.Stats(reviewerID)
}

func (e *Engine) WorkItem(id string) (*models.WorkItem, error) {
	return e.worklist.Get(id)
}

func (e *Engine) AddReviewer(r *models.Reviewer) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = e.now()
	}
	return e.router.AddReviewer(r)
}

func (e *Engine) SetReviewerAvailability(id string, available bool) error {
	return e.router.SetAvailability(id, available)
}

func (e *Engine) Reviewers() []*models.Reviewer {
	return e.router.Reviewers()
}

func (e *Engine) Workload(reviewerID string) int {
	return e.router.Workload(reviewerID)
}

// DrainEvents hands buffered domain events to the caller.
func (e *Engine) DrainEvents() []models.DomainEvent {
	return e.outbox.Drain()
}

// Router, Worklist and Critical expose the components for catalog reloads
// and read-only queries.
func (e *Engine) Router() *routing.Engine       { return e.router }
func (e *Engine) Worklist() *worklist.Manager   { return e.worklist }
func (e *Engine) Critical() *critical.Processor { return e.critical }
