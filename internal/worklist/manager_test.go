package worklist

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"radiology-workflow/internal/models"
)

var baseTime = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// fakeClock hands out the configured time; tests move it explicitly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestManager() (*Manager, *fakeClock) {
	clock := &fakeClock{now: baseTime}
	n := 0
	m := NewManager(nil, WithClock(clock.Now), WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("wi-%03d", n)
	}))
	return m, clock
}

func mustCreate(t *testing.T, m *Manager, req CreateRequest) *models.WorkItem {
	t.Helper()
	item, err := m.Create(req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return item
}

func ids(items []*models.WorkItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestQuery_OrderedByPriorityThenAssignedAt(t *testing.T) {
	m, clock := newTestManager()

	plan := []struct {
		offset   time.Duration
		priority models.WorkItemPriority
	}{
		{0, models.PriorityLow},                    // wi-001
		{1 * time.Minute, models.PriorityCritical}, // wi-002
		{2 * time.Minute, models.PriorityNormal},   // wi-003
		{3 * time.Minute, models.PriorityCritical}, // wi-004
		{4 * time.Minute, models.PriorityHigh},     // wi-005
		{-1 * time.Minute, models.PriorityNormal},  // wi-006
	}
	for i, p := range plan {
		clock.Set(baseTime.Add(p.offset))
		mustCreate(t, m, CreateRequest{StudyID: fmt.Sprintf("s%d", i), ReviewerID: "r1", Priority: p.priority})
	}

	got := ids(m.Query(models.WorklistFilter{ReviewerID: "r1"}))
	want := []string{"wi-002", "wi-004", "wi-005", "wi-006", "wi-003", "wi-001"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestQuery_EqualTimestampsKeepInsertionOrder(t *testing.T) {
	m, _ := newTestManager()
	for i := 0; i < 10; i++ {
		mustCreate(t, m, CreateRequest{StudyID: "s", ReviewerID: "r1", Priority: models.PriorityHigh})
	}

	items := m.ActiveForReviewer("r1")
	for i, it := range items {
		if want := fmt.Sprintf("wi-%03d", i+1); it.ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, it.ID)
		}
	}
}

func TestQuery_FiltersAndPagination(t *testing.T) {
	m, _ := newTestManager()
	mustCreate(t, m, CreateRequest{StudyID: "a", ReviewerID: "r1", Priority: models.PriorityHigh, Tags: []string{"CT"}})
	mustCreate(t, m, CreateRequest{StudyID: "b", ReviewerID: "r2", Priority: models.PriorityNormal, Tags: []string{"MR"}})
	c := mustCreate(t, m, CreateRequest{StudyID: "c", ReviewerID: "r1", Priority: models.PriorityLow, Tags: []string{"MR", "neuro_pool"}})
	if _, err := m.UpdateStatus(c.ID, models.WorkInProgress); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	tests := []struct {
		name   string
		filter models.WorklistFilter
		want   []string
	}{
		{"all", models.WorklistFilter{}, []string{"wi-001", "wi-002", "wi-003"}},
		{"reviewer", models.WorklistFilter{ReviewerID: "r1"}, []string{"wi-001", "wi-003"}},
		{"status", models.WorklistFilter{Statuses: []models.WorkItemStatus{models.WorkInProgress}}, []string{"wi-003"}},
		{"priority", models.WorklistFilter{Priorities: []models.WorkItemPriority{models.PriorityNormal, models.PriorityLow}}, []string{"wi-002", "wi-003"}},
		{"tags", models.WorklistFilter{Tags: []string{"MR"}}, []string{"wi-002", "wi-003"}},
		{"offset", models.WorklistFilter{Offset: 1}, []string{"wi-002", "wi-003"}},
		{"limit", models.WorklistFilter{Limit: 1}, []string{"wi-001"}},
		{"offset past end", models.WorklistFilter{Offset: 10}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(m.Query(tt.filter))
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestQuery_DefaultLimit(t *testing.T) {
	m, _ := newTestManager()
	for i := 0; i < 60; i++ {
		mustCreate(t, m, CreateRequest{StudyID: fmt.Sprintf("s%d", i)})
	}
	if n := len(m.Query(models.WorklistFilter{})); n != models.DefaultWorklistLimit {
		t.Errorf("Expected %d items, got %d", models.DefaultWorklistLimit, n)
	}
	if n := len(m.ActiveItems()); n != 60 {
		t.Errorf("Expected all 60 active items, got %d", n)
	}
}

func TestAssign_MovesBetweenReviewers(t *testing.T) {
	m, _ := newTestManager()
	item := mustCreate(t, m, CreateRequest{StudyID: "s1", ReviewerID: "old"})

	prev, err := m.Assign(item.ID, "new")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if prev != "old" {
		t.Errorf("Expected previous reviewer old, got %q", prev)
	}

	newList := m.ReviewerWorklist("new")
	if len(newList) != 1 || newList[0].ID != item.ID {
		t.Errorf("Expected item exactly once in new worklist, got %v", ids(newList))
	}
	if n := len(m.ReviewerWorklist("old")); n != 0 {
		t.Errorf("Expected old worklist empty, got %d", n)
	}
	if n := len(m.ActiveForReviewer("old")); n != 0 {
		t.Errorf("Expected old active index empty, got %d", n)
	}
	if n := len(m.ActiveForReviewer("new")); n != 1 {
		t.Errorf("Expected new active index to hold 1, got %d", n)
	}

	if _, err := m.Assign("missing", "new"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAssign_ClosedItemStaysOutOfActiveIndex(t *testing.T) {
	m, _ := newTestManager()
	item := mustCreate(t, m, CreateRequest{StudyID: "s1", ReviewerID: "r1"})
	if _, err := m.UpdateStatus(item.ID, models.WorkCompleted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := m.Assign(item.ID, "r2"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if n := len(m.ActiveForReviewer("r2")); n != 0 {
		t.Errorf("Expected completed item outside active index, got %d", n)
	}
	if n := len(m.ReviewerWorklist("r2")); n != 1 {
		t.Errorf("Expected completed item in historical worklist, got %d", n)
	}
}

func TestUpdateStatus_CompletionKeepsItem(t *testing.T) {
	m, _ := newTestManager()
	item := mustCreate(t, m, CreateRequest{StudyID: "s1", ReviewerID: "r1"})

	prev, err := m.UpdateStatus(item.ID, models.WorkRejected)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if prev != models.WorkPending {
		t.Errorf("Expected previous pending, got %s", prev)
	}
	if n := len(m.ActiveForReviewer("r1")); n != 0 {
		t.Errorf("Expected item removed from active index, got %d", n)
	}
	got, err := m.Get(item.ID)
	if err != nil {
		t.Fatalf("Expected item retained, got %v", err)
	}
	if got.Status != models.WorkRejected {
		t.Errorf("Expected rejected, got %s", got.Status)
	}

	// Reopening puts it back.
	if _, err := m.UpdateStatus(item.ID, models.WorkOnHold); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if n := len(m.ActiveForReviewer("r1")); n != 1 {
		t.Errorf("Expected reopened item in active index, got %d", n)
	}

	if _, err := m.UpdateStatus("missing", models.WorkCompleted); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := m.UpdateStatus(item.ID, "archived"); err == nil {
		t.Error("Expected invalid status to fail")
	}
}

func TestRemove(t *testing.T) {
	m, _ := newTestManager()
	item := mustCreate(t, m, CreateRequest{StudyID: "s1", ReviewerID: "r1"})

	if err := m.Remove(item.ID); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := m.Get(item.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after remove, got %v", err)
	}
	if n := len(m.StudyItems("s1")); n != 0 {
		t.Errorf("Expected study index empty, got %d", n)
	}
	if n := len(m.ActiveForReviewer("r1")); n != 0 {
		t.Errorf("Expected reviewer index empty, got %d", n)
	}
	if err := m.Remove(item.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second remove, got %v", err)
	}
}

func TestStats(t *testing.T) {
	m, clock := newTestManager()
	due := baseTime.Add(30 * time.Minute)

	a := mustCreate(t, m, CreateRequest{StudyID: "a", ReviewerID: "r1", Priority: models.PriorityHigh, DueAt: &due, EstimatedDuration: 20 * time.Minute})
	b := mustCreate(t, m, CreateRequest{StudyID: "b", ReviewerID: "r1", Priority: models.PriorityHigh, DueAt: &due, EstimatedDuration: 40 * time.Minute})
	c := mustCreate(t, m, CreateRequest{StudyID: "c", ReviewerID: "r1", Priority: models.PriorityLow, DueAt: &due})
	mustCreate(t, m, CreateRequest{StudyID: "d", ReviewerID: "r2", Priority: models.PriorityLow})

	for _, upd := range []struct {
		id     string
		status models.WorkItemStatus
	}{
		{a.ID, models.WorkCompleted},
		{b.ID, models.WorkCompleted},
		{c.ID, models.WorkInProgress},
	} {
		if _, err := m.UpdateStatus(upd.id, upd.status); err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
	}

	clock.Set(due.Add(time.Minute))

	stats := m.Stats("r1")
	if stats.Total != 3 || stats.Completed != 2 || stats.InProgress != 1 || stats.Pending != 0 {
		t.Errorf("Unexpected counts %+v", stats)
	}
	if stats.Overdue != 1 {
		t.Errorf("Expected 1 overdue (completed items excluded), got %d", stats.Overdue)
	}
	if stats.AverageDurationMinutes != 30 {
		t.Errorf("Expected mean 30 minutes, got %v", stats.AverageDurationMinutes)
	}
	if stats.ByPriority[models.PriorityHigh] != 2 || stats.ByPriority[models.PriorityLow] != 1 {
		t.Errorf("Unexpected priority breakdown %v", stats.ByPriority)
	}

	all := m.Stats("")
	if all.Total != 4 || all.Pending != 1 {
		t.Errorf("Unexpected system stats %+v", all)
	}
}

func TestStats_CountsBeyondPageSize(t *testing.T) {
	m, _ := newTestManager()
	for i := 0; i < 75; i++ {
		mustCreate(t, m, CreateRequest{StudyID: fmt.Sprintf("s%d", i), ReviewerID: "r1"})
	}
	if got := m.Stats("r1").Total; got != 75 {
		t.Errorf("Expected 75, got %d", got)
	}
}

func TestCreate_Validation(t *testing.T) {
	m, _ := newTestManager()
	if _, err := m.Create(CreateRequest{}); err == nil {
		t.Error("Expected error without study id")
	}
	if _, err := m.Create(CreateRequest{StudyID: "s", Priority: "whenever"}); err == nil {
		t.Error("Expected error for invalid priority")
	}
	item := mustCreate(t, m, CreateRequest{StudyID: "s"})
	if item.Priority != models.PriorityNormal {
		t.Errorf("Expected default normal priority, got %s", item.Priority)
	}
	if item.ReviewerID != "" {
		t.Errorf("Expected unassigned item, got %s", item.ReviewerID)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	m, _ := newTestManager()
	item := mustCreate(t, m, CreateRequest{StudyID: "s", Tags: []string{"CT"}})
	item.Tags[0] = "MR"
	item.Status = models.WorkCompleted

	got, _ := m.Get(item.ID)
	if got.Tags[0] != "CT" || got.Status != models.WorkPending {
		t.Errorf("Expected stored item untouched, got %+v", got)
	}
}

func TestConcurrentReassignment(t *testing.T) {
	m, _ := newTestManager()
	var items []*models.WorkItem
	for i := 0; i < 20; i++ {
		items = append(items, mustCreate(t, m, CreateRequest{StudyID: fmt.Sprintf("s%d", i), ReviewerID: "r0"}))
	}

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := m.Assign(id, fmt.Sprintf("r%d", (i+j)%3)); err != nil {
					t.Errorf("Assign: %v", err)
				}
			}
		}(i, item.ID)
	}
	wg.Wait()

	seen := make(map[string]int)
	for _, r := range []string{"r0", "r1", "r2"} {
		for _, it := range m.ActiveForReviewer(r) {
			seen[it.ID]++
			if it.ReviewerID != r {
				t.Errorf("Item %s indexed under %s but owned by %s", it.ID, r, it.ReviewerID)
			}
		}
	}
	for _, item := range items {
		if seen[item.ID] != 1 {
			t.Errorf("Expected %s in exactly one active index, got %d", item.ID, seen[item.ID])
		}
	}
}
