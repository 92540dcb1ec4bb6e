package models

import "fmt"

// RoutingPriority is the clinical urgency supplied with a new study.
type RoutingPriority string

const (
	RoutingEmergency RoutingPriority = "emergency"
	RoutingUrgent    RoutingPriority = "urgent"
	RoutingRoutine   RoutingPriority = "routine"
	RoutingLow       RoutingPriority = "low"
)

func ParseRoutingPriority(s string) (RoutingPriority, error) {
	switch p := RoutingPriority(normalizeEnum(s)); p {
	case RoutingEmergency, RoutingUrgent, RoutingRoutine, RoutingLow:
		return p, nil
	}
	return "", fmt.Errorf("invalid routing priority %q", s)
}

// WorkItemPriority maps the routing urgency onto the worklist priority bands.
func (p RoutingPriority) WorkItemPriority() WorkItemPriority {
	switch p {
	case RoutingEmergency:
		return PriorityCritical
	case RoutingUrgent:
		return PriorityHigh
	case RoutingLow:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// RoutingResult is the outcome of one routing decision. At most one of
// ReviewerID and QueueName is set; neither means the study is unrouted.
type RoutingResult struct {
	StudyID    string          `json:"study_id"`
	ReviewerID string          `json:"reviewer_id,omitempty"`
	QueueName  string          `json:"queue_name,omitempty"`
	Priority   RoutingPriority `json:"priority"`
	RuleID     string          `json:"rule_id,omitempty"`
	Reason     string          `json:"reason"`
}

func (r *RoutingResult) Assigned() bool {
	return r.ReviewerID != ""
}
