package models

import (
	"fmt"
	"time"
)

type WorkItemStatus string

const (
	WorkPending    WorkItemStatus = "pending"
	WorkInProgress WorkItemStatus = "in_progress"
	WorkCompleted  WorkItemStatus = "completed"
	WorkRejected   WorkItemStatus = "rejected"
	WorkOnHold     WorkItemStatus = "on_hold"
)

func ParseWorkItemStatus(s string) (WorkItemStatus, error) {
	switch v := WorkItemStatus(normalizeEnum(s)); v {
	case WorkPending, WorkInProgress, WorkCompleted, WorkRejected, WorkOnHold:
		return v, nil
	}
	return "", fmt.Errorf("invalid work item status %q", s)
}

// Closed reports whether the item has left the reviewer's active worklist.
func (s WorkItemStatus) Closed() bool {
	return s == WorkCompleted || s == WorkRejected
}

type WorkItemPriority string

const (
	PriorityCritical WorkItemPriority = "critical"
	PriorityHigh     WorkItemPriority = "high"
	PriorityNormal   WorkItemPriority = "normal"
	PriorityLow      WorkItemPriority = "low"
)

// WorkItemPriorities lists the bands from most to least urgent.
var WorkItemPriorities = []WorkItemPriority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

func ParseWorkItemPriority(s string) (WorkItemPriority, error) {
	switch v := WorkItemPriority(normalizeEnum(s)); v {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return v, nil
	}
	return "", fmt.Errorf("invalid work item priority %q", s)
}

// Rank orders priorities; higher is more urgent.
func (p WorkItemPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// WorkItem is one unit of outstanding review work tied to a study.
type WorkItem struct {
	ID                string           `json:"id"`
	StudyID           string           `json:"study_id"`
	ReviewerID        string           `json:"reviewer_id,omitempty"`
	Status            WorkItemStatus   `json:"status"`
	Priority          WorkItemPriority `json:"priority"`
	AssignedAt        time.Time        `json:"assigned_at"`
	DueAt             *time.Time       `json:"due_at,omitempty"`
	EstimatedDuration time.Duration    `json:"estimated_duration"`
	Tags              []string         `json:"tags"`
	// Seq preserves insertion order between items assigned at the same instant.
	Seq uint64 `json:"-"`
}

func (w *WorkItem) Clone() *WorkItem {
	if w == nil {
		return nil
	}
	c := *w
	c.Tags = append([]string(nil), w.Tags...)
	if w.DueAt != nil {
		due := *w.DueAt
		c.DueAt = &due
	}
	return &c
}

// Overdue reports whether the due time has passed and the item is not completed.
func (w *WorkItem) Overdue(now time.Time) bool {
	return w.DueAt != nil && now.After(*w.DueAt) && w.Status != WorkCompleted
}

// WorklistFilter selects and pages work items. Empty slices match everything.
type WorklistFilter struct {
	ReviewerID string             `json:"reviewer_id,omitempty"`
	Statuses   []WorkItemStatus   `json:"statuses,omitempty"`
	Priorities []WorkItemPriority `json:"priorities,omitempty"`
	Tags       []string           `json:"tags,omitempty"`
	Offset     int                `json:"offset,omitempty"`
	Limit      int                `json:"limit,omitempty"`
}

// DefaultWorklistLimit is the page size used when a filter leaves Limit unset.
const DefaultWorklistLimit = 50

type WorklistStats struct {
	Total                  int                      `json:"total"`
	Pending                int                      `json:"pending"`
	InProgress             int                      `json:"in_progress"`
	Completed              int                      `json:"completed"`
	Overdue                int                      `json:"overdue"`
	AverageDurationMinutes float64                  `json:"average_duration_minutes"`
	ByPriority             map[WorkItemPriority]int `json:"by_priority"`
}
