package models

import (
	"fmt"
	"time"
)

// ConditionKind names one of the fixed routing condition checks.
type ConditionKind string

const (
	ConditionModalityEquals      ConditionKind = "modality_equals"
	ConditionModalityIn          ConditionKind = "modality_in"
	ConditionDescriptionContains ConditionKind = "description_contains"
	ConditionEmergency           ConditionKind = "emergency"
	ConditionRoutine             ConditionKind = "routine"
	ConditionTimeRange           ConditionKind = "time_range"
)

// ActionKind names what a matching rule does with the study.
type ActionKind string

const (
	ActionAssignToReviewer  ActionKind = "assign_to_reviewer"
	ActionAssignToSpecialty ActionKind = "assign_to_specialty"
	ActionQueue             ActionKind = "queue"
	ActionNotifyAdmin       ActionKind = "notify_admin"
)

// AdminReviewQueue receives studies flagged for administrative review.
const AdminReviewQueue = "admin_review"

// GeneralPoolQueue receives studies no General reviewer could take.
const GeneralPoolQueue = "general_pool"

type RuleCondition struct {
	Kind   ConditionKind `json:"kind" yaml:"kind"`
	Value  string        `json:"value,omitempty" yaml:"value,omitempty"`
	Values []string      `json:"values,omitempty" yaml:"values,omitempty"`
	// Start and End bound a time_range condition (HH:MM). Not evaluated yet.
	Start string `json:"start,omitempty" yaml:"start,omitempty"`
	End   string `json:"end,omitempty" yaml:"end,omitempty"`
}

type RuleAction struct {
	Kind ActionKind `json:"kind" yaml:"kind"`
	// Target is a reviewer id, a specialty or a queue name depending on Kind.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
}

// RoutingRule is a declarative assignment policy. All conditions must match.
type RoutingRule struct {
	ID         string          `json:"id" yaml:"id"`
	Name       string          `json:"name" yaml:"name"`
	Priority   int             `json:"priority" yaml:"priority"`
	Conditions []RuleCondition `json:"conditions" yaml:"conditions"`
	Action     RuleAction      `json:"action" yaml:"action"`
	Active     bool            `json:"active" yaml:"active"`
	CreatedAt  time.Time       `json:"created_at" yaml:"-"`
}

// Validate checks the rule uses the known condition and action vocabulary.
func (r *RoutingRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: rule %q has no id", ErrConfiguration, r.Name)
	}
	for _, c := range r.Conditions {
		switch c.Kind {
		case ConditionModalityEquals, ConditionDescriptionContains:
			if c.Value == "" {
				return fmt.Errorf("%w: rule %s condition %s needs a value", ErrConfiguration, r.ID, c.Kind)
			}
		case ConditionModalityIn:
			if len(c.Values) == 0 {
				return fmt.Errorf("%w: rule %s condition %s needs values", ErrConfiguration, r.ID, c.Kind)
			}
		case ConditionEmergency, ConditionRoutine, ConditionTimeRange:
		default:
			return fmt.Errorf("%w: rule %s has unknown condition %q", ErrConfiguration, r.ID, c.Kind)
		}
	}
	switch r.Action.Kind {
	case ActionAssignToReviewer, ActionAssignToSpecialty, ActionQueue:
		if r.Action.Target == "" {
			return fmt.Errorf("%w: rule %s action %s needs a target", ErrConfiguration, r.ID, r.Action.Kind)
		}
	case ActionNotifyAdmin:
	default:
		return fmt.Errorf("%w: rule %s has unknown action %q", ErrConfiguration, r.ID, r.Action.Kind)
	}
	return nil
}

func (r *RoutingRule) Clone() *RoutingRule {
	if r == nil {
		return nil
	}
	c := *r
	c.Conditions = make([]RuleCondition, len(r.Conditions))
	for i, cond := range r.Conditions {
		cond.Values = append([]string(nil), cond.Values...)
		c.Conditions[i] = cond
	}
	return &c
}
