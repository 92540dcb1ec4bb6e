// Package statemachine validates and computes study lifecycle transitions.
//
// The transition table is fixed. Final and Canceled have no outgoing
// transitions, so a study can never leave them.
package statemachine

import (
	"sort"

	"radiology-workflow/internal/models"
)

type transitionKey struct {
	from  models.StudyStatus
	event models.StudyEvent
}

var transitions = map[transitionKey]models.StudyStatus{
	{models.StudyScheduled, models.EventStarted}:           models.StudyInProgress,
	{models.StudyInProgress, models.EventCompleted}:        models.StudyCompleted,
	{models.StudyCompleted, models.EventPreliminaryReport}: models.StudyPreliminary,
	{models.StudyPreliminary, models.EventFinalReport}:     models.StudyFinal,
	{models.StudyScheduled, models.EventCanceled}:          models.StudyCanceled,
	{models.StudyInProgress, models.EventCanceled}:         models.StudyCanceled,
}

// CanTransition reports whether event is defined for the current state.
func CanTransition(from models.StudyStatus, event models.StudyEvent) bool {
	_, ok := transitions[transitionKey{from, event}]
	return ok
}

// Transition returns the state reached by applying event to from. Pairs
// missing from the table fail with a *models.TransitionError.
func Transition(from models.StudyStatus, event models.StudyEvent) (models.StudyStatus, error) {
	to, ok := transitions[transitionKey{from, event}]
	if !ok {
		return "", &models.TransitionError{From: from, Event: event}
	}
	return to, nil
}

// PossibleEvents lists the events accepted in state, sorted by name.
func PossibleEvents(state models.StudyStatus) []models.StudyEvent {
	var events []models.StudyEvent
	for k := range transitions {
		if k.from == state {
			events = append(events, k.event)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}

// IsTerminal reports whether no event leads out of state.
func IsTerminal(state models.StudyStatus) bool {
	return len(PossibleEvents(state)) == 0
}

// States returns every lifecycle state.
func States() []models.StudyStatus {
	return models.AllStudyStatuses()
}

// Entry is one row of the transition table.
type Entry struct {
	From  models.StudyStatus `json:"from"`
	Event models.StudyEvent  `json:"event"`
	To    models.StudyStatus `json:"to"`
}

// Table returns the transition table ordered by state then event.
func Table() []Entry {
	order := make(map[models.StudyStatus]int)
	for i, s := range models.AllStudyStatuses() {
		order[s] = i
	}
	entries := make([]Entry, 0, len(transitions))
	for k, to := range transitions {
		entries = append(entries, Entry{From: k.from, Event: k.event, To: to})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].From != entries[j].From {
			return order[entries[i].From] < order[entries[j].From]
		}
		return entries[i].Event < entries[j].Event
	})
	return entries
}
