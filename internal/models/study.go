package models

import (
	"fmt"
	"strings"
)

// StudyStatus is the lifecycle state of an imaging study.
type StudyStatus string

const (
	StudyScheduled   StudyStatus = "scheduled"
	StudyInProgress  StudyStatus = "in_progress"
	StudyCompleted   StudyStatus = "completed"
	StudyPreliminary StudyStatus = "preliminary"
	StudyFinal       StudyStatus = "final"
	StudyCanceled    StudyStatus = "canceled"
)

// StudyEvent drives a lifecycle transition.
type StudyEvent string

const (
	EventScheduled         StudyEvent = "scheduled"
	EventStarted           StudyEvent = "started"
	EventCompleted         StudyEvent = "completed"
	EventPreliminaryReport StudyEvent = "preliminary_report"
	EventFinalReport       StudyEvent = "final_report"
	EventCanceled          StudyEvent = "canceled"
)

var studyStatuses = []StudyStatus{
	StudyScheduled, StudyInProgress, StudyCompleted, StudyPreliminary, StudyFinal, StudyCanceled,
}

var studyEvents = []StudyEvent{
	EventScheduled, EventStarted, EventCompleted, EventPreliminaryReport, EventFinalReport, EventCanceled,
}

// Study is the already-extracted examination record handed over by the ingest path.
type Study struct {
	ID              string      `json:"id"`
	PatientID       string      `json:"patient_id"`
	AccessionNumber string      `json:"accession_number,omitempty"`
	Modality        string      `json:"modality"`
	Description     string      `json:"description,omitempty"`
	Status          StudyStatus `json:"status"`
}

func (s StudyStatus) Valid() bool {
	for _, v := range studyStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (e StudyEvent) Valid() bool {
	for _, v := range studyEvents {
		if v == e {
			return true
		}
	}
	return false
}

// ParseStudyStatus accepts the canonical value in any case.
func ParseStudyStatus(s string) (StudyStatus, error) {
	v := StudyStatus(normalizeEnum(s))
	if !v.Valid() {
		return "", fmt.Errorf("invalid study status %q", s)
	}
	return v, nil
}

func ParseStudyEvent(s string) (StudyEvent, error) {
	v := StudyEvent(normalizeEnum(s))
	if !v.Valid() {
		return "", fmt.Errorf("invalid study event %q", s)
	}
	return v, nil
}

// AllStudyStatuses returns every lifecycle state in declaration order.
func AllStudyStatuses() []StudyStatus {
	out := make([]StudyStatus, len(studyStatuses))
	copy(out, studyStatuses)
	return out
}

// AllStudyEvents returns every lifecycle event in declaration order.
func AllStudyEvents() []StudyEvent {
	out := make([]StudyEvent, len(studyEvents))
	copy(out, studyEvents)
	return out
}

func normalizeEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}
