package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/TTT3216/ic2/internal/model"

	_ "modernc.org/sqlite"
)

const createJournalTable = `
CREATE TABLE IF NOT EXISTS task_journal (
    id           TEXT PRIMARY KEY,
    kind         TEXT NOT NULL,
    status       TEXT NOT NULL,
    reason       TEXT NOT NULL DEFAULT '',
    timed_out    INTEGER NOT NULL DEFAULT 0,
    artifacts    INTEGER NOT NULL DEFAULT 0,
    duration_ms  INTEGER NOT NULL DEFAULT 0,
    submitted_at DATETIME NOT NULL,
    finished_at  DATETIME NOT NULL
)`

const createJournalStatusIndex = `
CREATE INDEX IF NOT EXISTS idx_task_journal_finished_at ON task_journal (finished_at)`

const selectSummaryColumns = `id, kind, status, reason, timed_out, artifacts,
	duration_ms, submitted_at, finished_at`

// ErrNotFound is returned when a journaled task is not found.
var ErrNotFound = errors.New("task not found in journal")

// ErrDuplicate is returned when a task summary has already been recorded.
var ErrDuplicate = errors.New("task already journaled")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory database is private to its connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createJournalTable, createJournalStatusIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate task journal: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordTask inserts the summary of a finished task. Each task is recorded
// at most once; a second insert for the same id returns ErrDuplicate.
func (s *SQLiteStore) RecordTask(ctx context.Context, t model.TaskSummary) error {
	if !model.IsTerminal(t.Status) {
		return fmt.Errorf("record task %s: status %q is not terminal", t.ID, t.Status)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO task_journal (
			id, kind, status, reason, timed_out, artifacts,
			duration_ms, submitted_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		t.ID, t.Kind, t.Status, t.Reason, t.TimedOut, t.Artifacts,
		t.DurationMS, t.SubmittedAt.UTC(), t.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert task summary: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// GetTask retrieves a journaled task summary by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.TaskSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectSummaryColumns+` FROM task_journal WHERE id = ?`, id)
	t, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task summary: %w", err)
	}
	return t, nil
}

// ListTasks returns a page of task summaries ordered by finished_at DESC,
// along with the total number of journaled tasks.
func (s *SQLiteStore) ListTasks(ctx context.Context, limit, offset int) ([]*model.TaskSummary, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM task_journal").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+selectSummaryColumns+`
		FROM task_journal ORDER BY finished_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.TaskSummary
	for rows.Next() {
		t, err := scanSummary(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan task summary: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, total, nil
}

// GetTaskStats aggregates counts by status and kind plus the mean duration.
func (s *SQLiteStore) GetTaskStats(ctx context.Context) (*TaskStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &TaskStats{
		CountByStatus: make(map[string]int),
		CountByKind:   make(map[string]int),
	}

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(timed_out), 0), AVG(duration_ms) FROM task_journal`,
	).Scan(&stats.Total, &stats.TimedOut, &avg); err != nil {
		return nil, fmt.Errorf("aggregate tasks: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	if err := countBy(ctx, tx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := countBy(ctx, tx, "kind", stats.CountByKind); err != nil {
		return nil, err
	}

	return stats, nil
}

// countBy fills dst with row counts grouped by column. column is always a
// constant supplied by this package.
func countBy(ctx context.Context, tx *sql.Tx, column string, dst map[string]int) error {
	rows, err := tx.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM task_journal GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan count by %s: %w", column, err)
		}
		dst[key] = n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate count by %s: %w", column, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(r rowScanner) (*model.TaskSummary, error) {
	t := &model.TaskSummary{}
	if err := r.Scan(
		&t.ID, &t.Kind, &t.Status, &t.Reason, &t.TimedOut, &t.Artifacts,
		&t.DurationMS, &t.SubmittedAt, &t.FinishedAt,
	); err != nil {
		return nil, err
	}
	return t, nil
}
