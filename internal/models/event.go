package models

import (
	"encoding/json"
	"time"
)

// DomainEventType names a state delta surfaced to messaging collaborators.
type DomainEventType string

const (
	EventStudyRouted               DomainEventType = "study.routed"
	EventStatusTransitioned        DomainEventType = "study.status_transitioned"
	EventWorkItemAssigned          DomainEventType = "workitem.assigned"
	EventWorkItemStatusChanged     DomainEventType = "workitem.status_changed"
	EventWorkItemPriorityRaised    DomainEventType = "workitem.priority_raised"
	EventCriticalValueCreated      DomainEventType = "critical_value.created"
	EventCriticalValueAcknowledged DomainEventType = "critical_value.acknowledged"
	EventEscalationTriggered       DomainEventType = "escalation.triggered"
)

// DomainEvent is an immutable record of something the workflow core decided.
// Payload holds the JSON encoding of the type-specific body.
type DomainEvent struct {
	ID         string          `json:"id"`
	Type       DomainEventType `json:"type"`
	StudyID    string          `json:"study_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type StudyRoutedPayload struct {
	Result     RoutingResult `json:"result"`
	WorkItemID string        `json:"work_item_id"`
	Item       WorkItem      `json:"item"`
}

type StatusTransitionPayload struct {
	From  StudyStatus `json:"from"`
	Event StudyEvent  `json:"event"`
	To    StudyStatus `json:"to"`
}

type WorkItemPayload struct {
	Item             WorkItem       `json:"item"`
	PreviousReviewer string         `json:"previous_reviewer,omitempty"`
	PreviousStatus   WorkItemStatus `json:"previous_status,omitempty"`
}

type CriticalValuePayload struct {
	Event CriticalValueEvent `json:"event"`
}

type AcknowledgmentPayload struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
}

type EscalationPayload struct {
	Escalation Escalation `json:"escalation"`
}
