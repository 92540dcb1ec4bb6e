package workflow

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"radiology-workflow/internal/models"
)

// DefaultOutboxCapacity bounds undrained domain events.
const DefaultOutboxCapacity = 10000

// Outbox buffers domain events until a collaborator drains them. When full
// the oldest event is dropped.
type Outbox struct {
	mu       sync.Mutex
	events   []models.DomainEvent
	capacity int
	dropped  int
	logger   *slog.Logger
}

func NewOutbox(capacity int, logger *slog.Logger) *Outbox {
	if capacity <= 0 {
		capacity = DefaultOutboxCapacity
	}
	return &Outbox{capacity: capacity, logger: logger}
}

func (o *Outbox) Append(ev models.DomainEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.events) >= o.capacity {
		o.events = o.events[1:]
		o.dropped++
		o.logger.Warn("outbox full, dropping oldest domain event", "dropped_total", o.dropped)
	}
	o.events = append(o.events, ev)
}

// Drain returns buffered events in emission order and empties the outbox.
func (o *Outbox) Drain() []models.DomainEvent {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := o.events
	o.events = nil
	return out
}

func (e *Engine) emit(typ models.DomainEventType, studyID string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("encode domain event", "type", typ, "error", err)
		return
	}
	e.outbox.Append(models.DomainEvent{
		ID:         e.newID(),
		Type:       typ,
		StudyID:    studyID,
		OccurredAt: e.now().UTC().Truncate(time.Millisecond),
		Payload:    body,
	})
}
