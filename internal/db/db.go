package db

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour of a connection.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

//go:embed schema_postgres.sql
var postgresSchema string

//go:embed schema_sqlite.sql
var sqliteSchema string

// StudyStatus is a row of study_status.
type StudyStatus struct {
	StudyID   string
	Status    string
	UpdatedAt time.Time
}

// WorkItem is a row of work_items.
type WorkItem struct {
	ID                string
	StudyID           string
	ReviewerID        string
	Status            string
	Priority          string
	AssignedAt        time.Time
	DueAt             *time.Time
	EstimatedDuration time.Duration
	Tags              []string
	UpdatedAt         time.Time
}

// Event is a row of workflow_events.
type Event struct {
	Seq        int64
	ID         string
	Type       string
	StudyID    string
	OccurredAt time.Time
	Payload    []byte
}

// Queries wraps the hand-written statements for both dialects.
type Queries struct {
	db      *sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *Queries {
	return &Queries{db: db, dialect: dialect}
}

// Open connects to the database and creates the schema when missing.
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	driver := string(dialect)
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", dialect, err)
	}

	if dialect == SQLite {
		// One writer; WAL lets readers proceed.
		conn.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, err := conn.ExecContext(ctx, pragma); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
			}
		}
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect, err)
	}
	if err := New(conn, dialect).Migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (q *Queries) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if q.dialect == Postgres {
		schema = postgresSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := q.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (q *Queries) rebind(query string) string {
	if q.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (q *Queries) tagsArg(tags []string) (any, error) {
	if tags == nil {
		tags = []string{}
	}
	if q.dialect == Postgres {
		return pq.Array(tags), nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (q *Queries) UpsertStudyStatus(ctx context.Context, arg StudyStatus) error {
	_, err := q.db.ExecContext(ctx, q.rebind(
		`INSERT INTO study_status (study_id, status, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (study_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`),
		arg.StudyID, arg.Status, toMillis(arg.UpdatedAt),
	)
	return err
}

// InsertStudyStatus records a study unless it is already known.
func (q *Queries) InsertStudyStatus(ctx context.Context, arg StudyStatus) error {
	_, err := q.db.ExecContext(ctx, q.rebind(
		`INSERT INTO study_status (study_id, status, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (study_id) DO NOTHING`),
		arg.StudyID, arg.Status, toMillis(arg.UpdatedAt),
	)
	return err
}

func (q *Queries) GetStudyStatus(ctx context.Context, studyID string) (StudyStatus, error) {
	var (
		s       StudyStatus
		updated int64
	)
	err := q.db.QueryRowContext(ctx, q.rebind(
		`SELECT study_id, status, updated_at FROM study_status WHERE study_id = ?`), studyID,
	).Scan(&s.StudyID, &s.Status, &updated)
	if err != nil {
		return StudyStatus{}, err
	}
	s.UpdatedAt = fromMillis(updated)
	return s, nil
}

func (q *Queries) UpsertWorkItem(ctx context.Context, arg WorkItem) error {
	tags, err := q.tagsArg(arg.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	var due any
	if arg.DueAt != nil {
		due = toMillis(*arg.DueAt)
	}
	_, err = q.db.ExecContext(ctx, q.rebind(
		`INSERT INTO work_items (id, study_id, reviewer_id, status, priority, assigned_at, due_at, estimated_seconds, tags, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   reviewer_id = excluded.reviewer_id,
		   status = excluded.status,
		   priority = excluded.priority,
		   assigned_at = excluded.assigned_at,
		   due_at = excluded.due_at,
		   estimated_seconds = excluded.estimated_seconds,
		   tags = excluded.tags,
		   updated_at = excluded.updated_at`),
		arg.ID, arg.StudyID, arg.ReviewerID, arg.Status, arg.Priority,
		toMillis(arg.AssignedAt), due, int64(arg.EstimatedDuration/time.Second), tags, toMillis(arg.UpdatedAt),
	)
	return err
}

const workItemColumns = `id, study_id, reviewer_id, status, priority, assigned_at, due_at, estimated_seconds, tags, updated_at`

func (q *Queries) GetWorkItem(ctx context.Context, id string) (WorkItem, error) {
	row := q.db.QueryRowContext(ctx, q.rebind(`SELECT `+workItemColumns+` FROM work_items WHERE id = ?`), id)
	return q.scanWorkItem(row)
}

func (q *Queries) ListWorkItemsByReviewer(ctx context.Context, reviewerID string) ([]WorkItem, error) {
	rows, err := q.db.QueryContext(ctx, q.rebind(
		`SELECT `+workItemColumns+` FROM work_items WHERE reviewer_id = ? ORDER BY assigned_at, id`), reviewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		item, err := q.scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (q *Queries) scanWorkItem(row scanner) (WorkItem, error) {
	var (
		w                            WorkItem
		assigned, updated, estimated int64
		due                          sql.NullInt64
		tags                         []string
		tagsJSON                     string
	)
	var tagsDest any = &tagsJSON
	if q.dialect == Postgres {
		tagsDest = pq.Array(&tags)
	}
	if err := row.Scan(&w.ID, &w.StudyID, &w.ReviewerID, &w.Status, &w.Priority,
		&assigned, &due, &estimated, tagsDest, &updated); err != nil {
		return WorkItem{}, err
	}
	if q.dialect != Postgres && tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
			return WorkItem{}, fmt.Errorf("decode tags of %s: %w", w.ID, err)
		}
	}
	w.Tags = tags
	w.AssignedAt = fromMillis(assigned)
	w.UpdatedAt = fromMillis(updated)
	w.EstimatedDuration = time.Duration(estimated) * time.Second
	if due.Valid {
		t := fromMillis(due.Int64)
		w.DueAt = &t
	}
	return w, nil
}

// InsertEvent appends to the journal. Re-inserting a known id is a no-op.
func (q *Queries) InsertEvent(ctx context.Context, arg Event) error {
	_, err := q.db.ExecContext(ctx, q.rebind(
		`INSERT INTO workflow_events (id, type, study_id, occurred_at, payload) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`),
		arg.ID, arg.Type, arg.StudyID, toMillis(arg.OccurredAt), string(arg.Payload),
	)
	return err
}

// ListEvents returns journal entries for a study (all studies when empty)
// after seq, oldest first.
func (q *Queries) ListEvents(ctx context.Context, studyID string, afterSeq int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT seq, id, type, study_id, occurred_at, payload FROM workflow_events WHERE seq > ?`
	args := []any{afterSeq}
	if studyID != "" {
		query += ` AND study_id = ?`
		args = append(args, studyID)
	}
	query += ` ORDER BY seq LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, q.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e        Event
			occurred int64
			payload  string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.Type, &e.StudyID, &occurred, &payload); err != nil {
			return nil, err
		}
		e.OccurredAt = fromMillis(occurred)
		e.Payload = []byte(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// IsNoRows reports whether err means the row does not exist.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
