package models

import (
	"fmt"
	"time"
)

type CriticalValueType string

const (
	ValueLifeThreatening CriticalValueType = "life_threatening"
	ValueEmergency       CriticalValueType = "emergency"
	ValueUrgent          CriticalValueType = "urgent"
	ValueCritical        CriticalValueType = "critical"
)

func ParseCriticalValueType(s string) (CriticalValueType, error) {
	switch v := CriticalValueType(normalizeEnum(s)); v {
	case ValueLifeThreatening, ValueEmergency, ValueUrgent, ValueCritical:
		return v, nil
	}
	return "", fmt.Errorf("invalid critical value type %q", s)
}

// Severity is ordered Low < Medium < High < Critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func ParseSeverity(s string) (Severity, error) {
	switch v := Severity(normalizeEnum(s)); v {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return v, nil
	}
	return "", fmt.Errorf("invalid severity %q", s)
}

func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

type Channel string

const (
	ChannelInApp     Channel = "in_app"
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
	ChannelPhoneCall Channel = "phone_call"
	ChannelPager     Channel = "pager"
)

func ParseChannel(s string) (Channel, error) {
	switch v := Channel(normalizeEnum(s)); v {
	case ChannelInApp, ChannelEmail, ChannelSMS, ChannelPhoneCall, ChannelPager:
		return v, nil
	}
	return "", fmt.Errorf("invalid channel %q", s)
}

type NotificationStatus string

const (
	NotificationPending      NotificationStatus = "pending"
	NotificationSent         NotificationStatus = "sent"
	NotificationDelivered    NotificationStatus = "delivered"
	NotificationRead         NotificationStatus = "read"
	NotificationAcknowledged NotificationStatus = "acknowledged"
	NotificationFailed       NotificationStatus = "failed"
)

// Delivered reports whether the recipient is known to have received it.
func (s NotificationStatus) Delivered() bool {
	return s == NotificationDelivered || s == NotificationRead || s == NotificationAcknowledged
}

// CriticalValueEvent is an urgent finding. It is never mutated after creation.
type CriticalValueEvent struct {
	ID              string            `json:"id"`
	StudyID         string            `json:"study_id"`
	PatientID       string            `json:"patient_id"`
	ValueType       CriticalValueType `json:"value_type"`
	Description     string            `json:"description"`
	DetectedAt      time.Time         `json:"detected_at"`
	DetectedBy      string            `json:"detected_by"`
	Severity        Severity          `json:"severity"`
	ClinicalContext string            `json:"clinical_context,omitempty"`
}

// NotificationRecord is one obligation to notify one recipient over one channel.
type NotificationRecord struct {
	ID          string             `json:"id"`
	EventID     string             `json:"event_id"`
	RecipientID string             `json:"recipient_id"`
	Channel     Channel            `json:"channel"`
	CreatedAt   time.Time          `json:"created_at"`
	NotBefore   time.Time          `json:"not_before"`
	SentAt      *time.Time         `json:"sent_at,omitempty"`
	Status      NotificationStatus `json:"status"`
	RetryCount  int                `json:"retry_count"`
	Error       string             `json:"error,omitempty"`
}

func (n *NotificationRecord) Clone() *NotificationRecord {
	if n == nil {
		return nil
	}
	c := *n
	if n.SentAt != nil {
		t := *n.SentAt
		c.SentAt = &t
	}
	return &c
}

type RecipientType string

const (
	RecipientReferringPhysician RecipientType = "referring_physician"
	RecipientPrimaryRadiologist RecipientType = "primary_radiologist"
	RecipientDepartmentHead     RecipientType = "department_head"
	RecipientEmergencyRoom      RecipientType = "emergency_room"
	RecipientBackupRadiologist  RecipientType = "backup_radiologist"
	RecipientSystemAdmin        RecipientType = "system_admin"
	RecipientSpecificUser       RecipientType = "specific_user"
)

func ParseRecipientType(s string) (RecipientType, error) {
	switch v := RecipientType(normalizeEnum(s)); v {
	case RecipientReferringPhysician, RecipientPrimaryRadiologist, RecipientDepartmentHead,
		RecipientEmergencyRoom, RecipientBackupRadiologist, RecipientSystemAdmin, RecipientSpecificUser:
		return v, nil
	}
	return "", fmt.Errorf("invalid recipient type %q", s)
}

type NotificationRule struct {
	RecipientType       RecipientType `json:"recipient_type" yaml:"recipient_type"`
	RecipientID         string        `json:"recipient_id,omitempty" yaml:"recipient_id,omitempty"`
	Channels            []Channel     `json:"channels" yaml:"channels"`
	Delay               time.Duration `json:"delay" yaml:"-"`
	RequireAcknowledged bool          `json:"require_acknowledgment" yaml:"require_acknowledgment"`
}

type EscalationCondition string

const (
	EscalateNotAcknowledged      EscalationCondition = "not_acknowledged"
	EscalateNotDelivered         EscalationCondition = "not_delivered"
	EscalateNoResponse           EscalationCondition = "no_response"
	EscalateRecipientUnavailable EscalationCondition = "recipient_unavailable"
)

type EscalationAction string

const (
	EscalationNotifyBackup  EscalationAction = "notify_backup_recipient"
	EscalationRaiseSeverity EscalationAction = "increase_severity"
	EscalationAddChannel    EscalationAction = "add_notification_method"
	EscalationNotifyAdmin   EscalationAction = "notify_admin"
)

type EscalationRule struct {
	Condition    EscalationCondition `json:"condition" yaml:"condition"`
	Action       EscalationAction    `json:"action" yaml:"action"`
	TriggerAfter time.Duration       `json:"trigger_after" yaml:"-"`
	Recipients   []string            `json:"recipients,omitempty" yaml:"recipients,omitempty"`
	Channels     []Channel           `json:"channels,omitempty" yaml:"channels,omitempty"`
}

// CriticalValuePolicy maps value types to notification and escalation rules.
type CriticalValuePolicy struct {
	ID                string              `json:"id"`
	Name              string              `json:"name"`
	ValueTypes        []CriticalValueType `json:"value_types"`
	NotificationRules []NotificationRule  `json:"notification_rules"`
	EscalationRules   []EscalationRule    `json:"escalation_rules"`
	Active            bool                `json:"active"`
}

func (p *CriticalValuePolicy) Applies(t CriticalValueType) bool {
	if !p.Active {
		return false
	}
	for _, v := range p.ValueTypes {
		if v == t {
			return true
		}
	}
	return false
}

func (p *CriticalValuePolicy) Clone() *CriticalValuePolicy {
	if p == nil {
		return nil
	}
	c := *p
	c.ValueTypes = append([]CriticalValueType(nil), p.ValueTypes...)
	c.NotificationRules = make([]NotificationRule, len(p.NotificationRules))
	for i, r := range p.NotificationRules {
		r.Channels = append([]Channel(nil), r.Channels...)
		c.NotificationRules[i] = r
	}
	c.EscalationRules = make([]EscalationRule, len(p.EscalationRules))
	for i, r := range p.EscalationRules {
		r.Recipients = append([]string(nil), r.Recipients...)
		r.Channels = append([]Channel(nil), r.Channels...)
		c.EscalationRules[i] = r
	}
	return &c
}

// Validate rejects policies the processor could not act on.
func (p *CriticalValuePolicy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: policy %q has no id", ErrConfiguration, p.Name)
	}
	if len(p.ValueTypes) == 0 {
		return fmt.Errorf("%w: policy %s has no value types", ErrConfiguration, p.ID)
	}
	for _, t := range p.ValueTypes {
		if _, err := ParseCriticalValueType(string(t)); err != nil {
			return fmt.Errorf("%w: policy %s: %v", ErrConfiguration, p.ID, err)
		}
	}
	for i, r := range p.NotificationRules {
		if len(r.Channels) == 0 {
			return fmt.Errorf("%w: policy %s notification rule %d has no channels", ErrConfiguration, p.ID, i)
		}
		if r.RecipientType == RecipientSpecificUser && r.RecipientID == "" {
			return fmt.Errorf("%w: policy %s notification rule %d needs a recipient id", ErrConfiguration, p.ID, i)
		}
		for _, ch := range r.Channels {
			if _, err := ParseChannel(string(ch)); err != nil {
				return fmt.Errorf("%w: policy %s: %v", ErrConfiguration, p.ID, err)
			}
		}
	}
	for i, r := range p.EscalationRules {
		switch r.Condition {
		case EscalateNotAcknowledged, EscalateNotDelivered, EscalateNoResponse, EscalateRecipientUnavailable:
		default:
			return fmt.Errorf("%w: policy %s escalation rule %d has unknown condition %q", ErrConfiguration, p.ID, i, r.Condition)
		}
		switch r.Action {
		case EscalationNotifyBackup:
			if len(r.Recipients) == 0 {
				return fmt.Errorf("%w: policy %s escalation rule %d notifies a backup but names no recipients", ErrConfiguration, p.ID, i)
			}
		case EscalationRaiseSeverity, EscalationAddChannel, EscalationNotifyAdmin:
		default:
			return fmt.Errorf("%w: policy %s escalation rule %d has unknown action %q", ErrConfiguration, p.ID, i, r.Action)
		}
		if r.Action == EscalationAddChannel && len(r.Channels) == 0 {
			return fmt.Errorf("%w: policy %s escalation rule %d adds a channel but names none", ErrConfiguration, p.ID, i)
		}
		if r.TriggerAfter < 0 {
			return fmt.Errorf("%w: policy %s escalation rule %d has a negative trigger", ErrConfiguration, p.ID, i)
		}
	}
	return nil
}

// Escalation is one escalation rule that fired for one event.
type Escalation struct {
	EventID     string         `json:"event_id"`
	StudyID     string         `json:"study_id"`
	PolicyID    string         `json:"policy_id"`
	RuleIndex   int            `json:"rule_index"`
	Rule        EscalationRule `json:"rule"`
	TriggeredAt time.Time      `json:"triggered_at"`
}
