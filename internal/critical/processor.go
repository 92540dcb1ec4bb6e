// Package critical tracks critical-value findings: it derives notification
// obligations from policy, drives bounded delivery retries and reports
// escalations that are due.
package critical

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"radiology-workflow/internal/models"
)

// MaxAttempts bounds delivery attempts per notification record.
const MaxAttempts = 3

// NewEvent carries the fields of a finding as reported by its detector.
type NewEvent struct {
	StudyID         string
	PatientID       string
	ValueType       models.CriticalValueType
	Description     string
	DetectedBy      string
	Severity        models.Severity
	ClinicalContext string
	// DetectedAt defaults to the processor clock.
	DetectedAt time.Time
}

// DrainResult summarises one pass over the notification queue.
type DrainResult struct {
	Sent     int
	Retrying int
	Failed   int
	Deferred int
}

type Option func(*Processor)

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(p *Processor) { p.newID = gen }
}

// WithResolver enables role-based recipients. Without one, only
// specific-user rules produce notifications.
func WithResolver(r RecipientResolver) Option {
	return func(p *Processor) { p.resolver = r }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

type firedKey struct {
	eventID  string
	policyID string
	rule     int
}

type Processor struct {
	mu            sync.Mutex
	policies      []*models.CriticalValuePolicy
	events        map[string]*models.CriticalValueEvent
	eventOrder    []string
	notifications map[string][]*models.NotificationRecord
	records       map[string]*models.NotificationRecord
	queue         []string
	fired         map[firedKey]bool

	// drainMu serializes queue drains; mu is released while sending.
	drainMu sync.Mutex

	sender   Sender
	resolver RecipientResolver
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

func NewProcessor(sender Sender, opts ...Option) *Processor {
	p := &Processor{
		events:        make(map[string]*models.CriticalValueEvent),
		notifications: make(map[string][]*models.NotificationRecord),
		records:       make(map[string]*models.NotificationRecord),
		fired:         make(map[firedKey]bool),
		sender:        sender,
		now:           time.Now,
		newID:         uuid.NewString,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) AddPolicy(policy *models.CriticalValuePolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.policies {
		if existing.ID == policy.ID {
			return fmt.Errorf("%w: duplicate policy id %s", models.ErrConfiguration, policy.ID)
		}
	}
	p.policies = append(p.policies, policy.Clone())
	return nil
}

// ReplacePolicies swaps the policy set. Nothing changes if any policy is invalid.
func (p *Processor) ReplacePolicies(policies []*models.CriticalValuePolicy) error {
	next := make([]*models.CriticalValuePolicy, 0, len(policies))
	seen := make(map[string]bool, len(policies))
	for _, policy := range policies {
		if err := policy.Validate(); err != nil {
			return err
		}
		if seen[policy.ID] {
			return fmt.Errorf("%w: duplicate policy id %s", models.ErrConfiguration, policy.ID)
		}
		seen[policy.ID] = true
		next = append(next, policy.Clone())
	}

	p.mu.Lock()
	p.policies = next
	p.mu.Unlock()
	return nil
}

func (p *Processor) Policies() []*models.CriticalValuePolicy {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*models.CriticalValuePolicy, len(p.policies))
	for i, policy := range p.policies {
		out[i] = policy.Clone()
	}
	return out
}

// CreateEvent records a finding and queues one pending notification per
// (recipient, channel) pair of every active policy covering its type.
func (p *Processor) CreateEvent(ctx context.Context, in NewEvent) *models.CriticalValueEvent {
	now := p.now()
	event := &models.CriticalValueEvent{
		ID:              p.newID(),
		StudyID:         in.StudyID,
		PatientID:       in.PatientID,
		ValueType:       in.ValueType,
		Description:     in.Description,
		DetectedAt:      in.DetectedAt,
		DetectedBy:      in.DetectedBy,
		Severity:        in.Severity,
		ClinicalContext: in.ClinicalContext,
	}
	if event.DetectedAt.IsZero() {
		event.DetectedAt = now
	}

	p.logger.Warn("critical value event created",
		"event_id", event.ID,
		"study_id", event.StudyID,
		"value_type", event.ValueType,
		"severity", event.Severity,
	)

	p.mu.Lock()
	var rules []models.NotificationRule
	for _, policy := range p.policies {
		if policy.Applies(event.ValueType) {
			rules = append(rules, policy.Clone().NotificationRules...)
		}
	}
	p.mu.Unlock()

	if len(rules) == 0 {
		p.logger.Warn("no critical value policy matches event", "event_id", event.ID, "value_type", event.ValueType)
	}

	var records []*models.NotificationRecord
	for _, rule := range rules {
		for _, recipient := range p.recipients(ctx, event, rule) {
			for _, ch := range rule.Channels {
				records = append(records, &models.NotificationRecord{
					ID:          p.newID(),
					EventID:     event.ID,
					RecipientID: recipient,
					Channel:     ch,
					CreatedAt:   now,
					NotBefore:   event.DetectedAt.Add(rule.Delay),
					Status:      models.NotificationPending,
				})
			}
		}
	}

	p.mu.Lock()
	p.events[event.ID] = event
	p.eventOrder = append(p.eventOrder, event.ID)
	p.enqueueLocked(event.ID, records)
	p.mu.Unlock()

	out := *event
	return &out
}

func (p *Processor) recipients(ctx context.Context, event *models.CriticalValueEvent, rule models.NotificationRule) []string {
	if rule.RecipientType == models.RecipientSpecificUser {
		return []string{rule.RecipientID}
	}
	if p.resolver == nil {
		p.logger.Warn("recipient type not supported without a resolver",
			"event_id", event.ID,
			"recipient_type", rule.RecipientType,
		)
		return nil
	}
	ids, err := p.resolver.Resolve(ctx, event, rule.RecipientType)
	if err != nil {
		p.logger.Error("resolve recipients",
			"event_id", event.ID,
			"recipient_type", rule.RecipientType,
			"error", err,
		)
		return nil
	}
	return ids
}

// Notify queues additional pending records for an existing event, one per
// (recipient, channel) pair, due immediately.
func (p *Processor) Notify(eventID string, recipients []string, channels []models.Channel) ([]*models.NotificationRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.events[eventID]; !ok {
		return nil, fmt.Errorf("critical value event %s: %w", eventID, models.ErrNotFound)
	}
	now := p.now()
	var records []*models.NotificationRecord
	for _, r := range recipients {
		for _, ch := range channels {
			records = append(records, &models.NotificationRecord{
				ID:          p.newID(),
				EventID:     eventID,
				RecipientID: r,
				Channel:     ch,
				CreatedAt:   now,
				NotBefore:   now,
				Status:      models.NotificationPending,
			})
		}
	}
	p.enqueueLocked(eventID, records)

	out := make([]*models.NotificationRecord, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out, nil
}

func (p *Processor) enqueueLocked(eventID string, records []*models.NotificationRecord) {
	if _, ok := p.notifications[eventID]; !ok {
		p.notifications[eventID] = nil
	}
	for _, rec := range records {
		p.notifications[eventID] = append(p.notifications[eventID], rec)
		p.records[rec.ID] = rec
		p.queue = append(p.queue, rec.ID)
	}
}

type dispatch struct {
	record *models.NotificationRecord
	event  *models.CriticalValueEvent
	err    error
}

// ProcessNotificationQueue makes one delivery attempt for every queued
// record that is due. Failures are retried on later drains until
// MaxAttempts, then the record is marked Failed and dropped. Delivery
// errors are logged, never returned.
func (p *Processor) ProcessNotificationQueue(ctx context.Context) DrainResult {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()

	var result DrainResult

	p.mu.Lock()
	batch := p.queue
	p.queue = nil
	now := p.now()
	var due []*dispatch
	var deferred []string
	for _, id := range batch {
		rec, ok := p.records[id]
		if !ok || rec.Status != models.NotificationPending {
			continue
		}
		if now.Before(rec.NotBefore) {
			deferred = append(deferred, id)
			continue
		}
		ev := *p.events[rec.EventID]
		due = append(due, &dispatch{record: rec.Clone(), event: &ev})
	}
	p.mu.Unlock()

	sent := 0
	for _, d := range due {
		if ctx.Err() != nil {
			break
		}
		d.err = p.sender.Send(ctx, Message{Notification: d.record, Event: d.event})
		sent++
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Attempts cut short by cancellation go back untouched.
	for _, d := range due[sent:] {
		deferred = append(deferred, d.record.ID)
	}
	p.queue = append(deferred, p.queue...)
	result.Deferred = len(deferred)

	doneAt := p.now()
	for _, d := range due[:sent] {
		rec := p.records[d.record.ID]
		if rec.Status != models.NotificationPending {
			// Acknowledged while the send was in flight.
			continue
		}
		if d.err == nil {
			rec.Status = models.NotificationSent
			rec.SentAt = &doneAt
			rec.Error = ""
			result.Sent++
			p.logger.Info("notification sent",
				"notification_id", rec.ID,
				"event_id", rec.EventID,
				"recipient_id", rec.RecipientID,
				"channel", rec.Channel,
			)
			continue
		}

		rec.RetryCount++
		rec.Error = d.err.Error()
		p.logger.Error("notification delivery failed",
			"notification_id", rec.ID,
			"event_id", rec.EventID,
			"channel", rec.Channel,
			"attempt", rec.RetryCount,
			"error", d.err,
		)
		if rec.RetryCount < MaxAttempts {
			p.queue = append(p.queue, rec.ID)
			result.Retrying++
			continue
		}
		rec.Status = models.NotificationFailed
		result.Failed++
	}
	return result
}

// Acknowledge marks the first open notification of userID for the event as
// acknowledged. Acknowledged and failed records never match, so repeating
// an acknowledgment fails with ErrNotFound.
func (p *Processor) Acknowledge(eventID, userID string) (*models.NotificationRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, rec := range p.notifications[eventID] {
		if rec.RecipientID != userID {
			continue
		}
		switch rec.Status {
		case models.NotificationPending, models.NotificationSent, models.NotificationDelivered, models.NotificationRead:
			rec.Status = models.NotificationAcknowledged
			p.logger.Info("critical value acknowledged", "event_id", eventID, "user_id", userID, "notification_id", rec.ID)
			return rec.Clone(), nil
		}
	}
	return nil, fmt.Errorf("open notification for user %s on event %s: %w", userID, eventID, models.ErrNotFound)
}

// UpdateDeliveryStatus records a receipt from a delivery channel. Status
// only moves forward along Sent, Delivered, Read.
func (p *Processor) UpdateDeliveryStatus(notificationID string, status models.NotificationStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[notificationID]
	if !ok {
		return fmt.Errorf("notification %s: %w", notificationID, models.ErrNotFound)
	}
	order := map[models.NotificationStatus]int{
		models.NotificationSent:      1,
		models.NotificationDelivered: 2,
		models.NotificationRead:      3,
	}
	next, ok := order[status]
	if !ok {
		return fmt.Errorf("delivery status %q is not a receipt", status)
	}
	if cur, ok := order[rec.Status]; !ok || next <= cur {
		return fmt.Errorf("notification %s is %s, cannot move to %s", notificationID, rec.Status, status)
	}
	rec.Status = status
	return nil
}

// CheckEscalations reports escalation rules whose threshold has passed and
// whose condition holds. Each (event, policy, rule) fires once.
func (p *Processor) CheckEscalations() []models.Escalation {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var out []models.Escalation
	for _, eventID := range p.eventOrder {
		event := p.events[eventID]
		records := p.notifications[eventID]
		for _, policy := range p.policies {
			if !policy.Applies(event.ValueType) {
				continue
			}
			for i, rule := range policy.EscalationRules {
				key := firedKey{eventID: eventID, policyID: policy.ID, rule: i}
				if p.fired[key] {
					continue
				}
				if now.Sub(event.DetectedAt) < rule.TriggerAfter {
					continue
				}
				if !p.conditionHolds(rule.Condition, records) {
					continue
				}
				p.fired[key] = true
				esc := models.Escalation{
					EventID:     eventID,
					StudyID:     event.StudyID,
					PolicyID:    policy.ID,
					RuleIndex:   i,
					Rule:        rule,
					TriggeredAt: now,
				}
				esc.Rule.Recipients = append([]string(nil), rule.Recipients...)
				esc.Rule.Channels = append([]models.Channel(nil), rule.Channels...)
				out = append(out, esc)
				p.logger.Warn("escalation triggered",
					"event_id", eventID,
					"policy_id", policy.ID,
					"condition", rule.Condition,
					"action", rule.Action,
				)
			}
		}
	}
	return out
}

func (p *Processor) conditionHolds(cond models.EscalationCondition, records []*models.NotificationRecord) bool {
	switch cond {
	case models.EscalateNotAcknowledged:
		for _, r := range records {
			if r.Status == models.NotificationAcknowledged {
				return false
			}
		}
		return true
	case models.EscalateNotDelivered:
		for _, r := range records {
			if r.Status.Delivered() {
				return false
			}
		}
		return true
	default:
		// NoResponse and RecipientUnavailable need response tracking and
		// presence data that is not modelled yet.
		p.logger.Debug("escalation condition not evaluated", "condition", cond)
		return false
	}
}

func (p *Processor) Event(id string) (*models.CriticalValueEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ev, ok := p.events[id]
	if !ok {
		return nil, fmt.Errorf("critical value event %s: %w", id, models.ErrNotFound)
	}
	out := *ev
	return &out, nil
}

func (p *Processor) EventNotifications(eventID string) ([]*models.NotificationRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	records, ok := p.notifications[eventID]
	if !ok {
		return nil, fmt.Errorf("critical value event %s: %w", eventID, models.ErrNotFound)
	}
	return cloneRecords(records), nil
}

// UnacknowledgedEvents returns events without any acknowledged
// notification, in creation order.
func (p *Processor) UnacknowledgedEvents() []*models.CriticalValueEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*models.CriticalValueEvent
	for _, id := range p.eventOrder {
		acked := false
		for _, r := range p.notifications[id] {
			if r.Status == models.NotificationAcknowledged {
				acked = true
				break
			}
		}
		if !acked {
			ev := *p.events[id]
			out = append(out, &ev)
		}
	}
	return out
}

// RecipientNotifications lists every notification addressed to userID,
// oldest first.
func (p *Processor) RecipientNotifications(userID string) []*models.NotificationRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*models.NotificationRecord
	for _, rec := range p.records {
		if rec.RecipientID == userID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// QueueLength counts records awaiting a delivery attempt.
func (p *Processor) QueueLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func cloneRecords(in []*models.NotificationRecord) []*models.NotificationRecord {
	out := make([]*models.NotificationRecord, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
