package statemachine

import (
	"errors"
	"testing"

	"radiology-workflow/internal/models"
)

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		from  models.StudyStatus
		event models.StudyEvent
		want  models.StudyStatus
	}{
		{models.StudyScheduled, models.EventStarted, models.StudyInProgress},
		{models.StudyInProgress, models.EventCompleted, models.StudyCompleted},
		{models.StudyCompleted, models.EventPreliminaryReport, models.StudyPreliminary},
		{models.StudyPreliminary, models.EventFinalReport, models.StudyFinal},
		{models.StudyScheduled, models.EventCanceled, models.StudyCanceled},
		{models.StudyInProgress, models.EventCanceled, models.StudyCanceled},
	}

	for _, tt := range tests {
		got, err := Transition(tt.from, tt.event)
		if err != nil {
			t.Fatalf("%s+%s: unexpected error %v", tt.from, tt.event, err)
		}
		if got != tt.want {
			t.Errorf("%s+%s: expected %s, got %s", tt.from, tt.event, tt.want, got)
		}
		if !CanTransition(tt.from, tt.event) {
			t.Errorf("%s+%s: expected CanTransition true", tt.from, tt.event)
		}
	}
}

func TestTransition_UnmappedPairsFail(t *testing.T) {
	valid := 0
	for _, from := range models.AllStudyStatuses() {
		for _, ev := range models.AllStudyEvents() {
			to, err := Transition(from, ev)
			if CanTransition(from, ev) {
				valid++
				if err != nil {
					t.Errorf("%s+%s: unexpected error %v", from, ev, err)
				}
				continue
			}
			if err == nil {
				t.Errorf("%s+%s: expected error, got %s", from, ev, to)
				continue
			}
			if !errors.Is(err, models.ErrInvalidTransition) {
				t.Errorf("%s+%s: expected ErrInvalidTransition, got %v", from, ev, err)
			}
			var te *models.TransitionError
			if !errors.As(err, &te) || te.From != from || te.Event != ev {
				t.Errorf("%s+%s: expected TransitionError naming the pair, got %v", from, ev, err)
			}
		}
	}
	if valid != 6 {
		t.Errorf("Expected 6 defined transitions, got %d", valid)
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []models.StudyStatus{models.StudyFinal, models.StudyCanceled} {
		if !IsTerminal(s) {
			t.Errorf("Expected %s to be terminal", s)
		}
		for _, ev := range models.AllStudyEvents() {
			if CanTransition(s, ev) {
				t.Errorf("Expected no transition out of %s on %s", s, ev)
			}
		}
	}
	if IsTerminal(models.StudyScheduled) {
		t.Errorf("Scheduled must not be terminal")
	}
}

func TestPossibleEvents(t *testing.T) {
	got := PossibleEvents(models.StudyScheduled)
	want := []models.StudyEvent{models.EventCanceled, models.EventStarted}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
		}
	}
}

func TestTable_Ordered(t *testing.T) {
	table := Table()
	if len(table) != 6 {
		t.Fatalf("Expected 6 entries, got %d", len(table))
	}
	if table[0].From != models.StudyScheduled {
		t.Errorf("Expected first entry from scheduled, got %s", table[0].From)
	}
	for _, e := range table {
		to, err := Transition(e.From, e.Event)
		if err != nil || to != e.To {
			t.Errorf("Table entry %+v disagrees with Transition (%s, %v)", e, to, err)
		}
	}
}
