package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Queries {
	t.Helper()
	conn, err := Open(context.Background(), SQLite, filepath.Join(t.TempDir(), "workflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return New(conn, SQLite)
}

func TestRebind(t *testing.T) {
	pg := New(nil, Postgres)
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := New(nil, SQLite)
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"postgres": Postgres, "PostgreSQL": Postgres, "sqlite3": SQLite, " sqlite ": SQLite} {
		got, err := ParseDialect(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseDialect("mysql")
	assert.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.db")
	for i := 0; i < 2; i++ {
		conn, err := Open(context.Background(), SQLite, path)
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	}
}

func TestStudyStatus(t *testing.T) {
	q := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, q.InsertStudyStatus(ctx, StudyStatus{StudyID: "S1", Status: "scheduled", UpdatedAt: at}))
	require.NoError(t, q.UpsertStudyStatus(ctx, StudyStatus{StudyID: "S1", Status: "in_progress", UpdatedAt: at.Add(time.Minute)}))
	// Insert never overwrites.
	require.NoError(t, q.InsertStudyStatus(ctx, StudyStatus{StudyID: "S1", Status: "scheduled", UpdatedAt: at}))

	got, err := q.GetStudyStatus(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "in_progress", got.Status)
	assert.Equal(t, at.Add(time.Minute), got.UpdatedAt)

	_, err = q.GetStudyStatus(ctx, "missing")
	assert.True(t, IsNoRows(err))
}

func TestWorkItemUpsert(t *testing.T) {
	q := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	due := at.Add(time.Hour)

	item := WorkItem{
		ID:                "w1",
		StudyID:           "S1",
		ReviewerID:        "r1",
		Status:            "pending",
		Priority:          "critical",
		AssignedAt:        at,
		DueAt:             &due,
		EstimatedDuration: 30 * time.Minute,
		Tags:              []string{"CT", "ct_queue"},
		UpdatedAt:         at,
	}
	require.NoError(t, q.UpsertWorkItem(ctx, item))

	item.Status = "in_progress"
	item.DueAt = nil
	require.NoError(t, q.UpsertWorkItem(ctx, item))
	require.NoError(t, q.UpsertWorkItem(ctx, WorkItem{ID: "w2", StudyID: "S2", ReviewerID: "r1", Status: "pending", Priority: "low", AssignedAt: at.Add(time.Second), UpdatedAt: at}))

	got, err := q.GetWorkItem(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "in_progress", got.Status)
	assert.Nil(t, got.DueAt)
	assert.Equal(t, 30*time.Minute, got.EstimatedDuration)
	assert.Equal(t, []string{"CT", "ct_queue"}, got.Tags)

	items, err := q.ListWorkItemsByReviewer(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "w1", items[0].ID)
	assert.Empty(t, items[1].Tags)
}

func TestEventJournal(t *testing.T) {
	q := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"e1", "e2", "e3"} {
		study := "S1"
		if i == 1 {
			study = "S2"
		}
		require.NoError(t, q.InsertEvent(ctx, Event{ID: id, Type: "study.routed", StudyID: study, OccurredAt: at, Payload: []byte(`{}`)}))
	}
	require.NoError(t, q.InsertEvent(ctx, Event{ID: "e1", Type: "study.routed", OccurredAt: at, Payload: []byte(`{}`)}))

	all, err := q.ListEvents(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	s1, err := q.ListEvents(ctx, "S1", 0, 10)
	require.NoError(t, err)
	require.Len(t, s1, 2)
	assert.Equal(t, "e3", s1[1].ID)

	after, err := q.ListEvents(ctx, "", all[0].Seq, 1)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "e2", after[0].ID)
}
