package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VoxDroid/rarscan/internal/scanner"
)

const timeLayout = "2006-01-02 15:04:05"

// Repository reads and writes runs and events.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new Repository using db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) stamp() string {
	return r.now().UTC().Format(timeLayout)
}

// StartRun inserts a new run in the running state.
func (r *Repository) StartRun(root string, dryRun bool) (*Run, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("invalid root: cannot be empty")
	}
	run := &Run{
		ID:        uuid.NewString(),
		Root:      root,
		DryRun:    dryRun,
		StartedAt: r.stamp(),
		Status:    StatusRunning,
	}
	_, err := r.db.Exec("INSERT INTO runs (id, root, dry_run, started_at, status) VALUES (?, ?, ?, ?, ?)",
		run.ID, run.Root, boolToInt(dryRun), run.StartedAt, run.Status)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// RecordEvent appends an event to a run.
func (r *Repository) RecordEvent(ctx context.Context, runID string, ev scanner.Event) error {
	var detail interface{}
	if ev.Detail != "" {
		detail = ev.Detail
	}
	_, err := r.db.ExecContext(ctx, "INSERT INTO events (run_id, path, action, detail, created_at) VALUES (?, ?, ?, ?, ?)",
		runID, ev.Path, string(ev.Action), detail, r.stamp())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// FinishRun stores the final status and counters of a run. runErr may be nil.
func (r *Repository) FinishRun(runID, status string, sum scanner.Summary, runErr error) error {
	var errText interface{}
	if runErr != nil {
		errText = runErr.Error()
	}
	res, err := r.db.Exec(`UPDATE runs SET finished_at = ?, status = ?, error = ?,
		discovered = ?, analyzed = ?, extracted = ?, already_extracted = ?, nested = ?, removed = ?, failed = ?
		WHERE id = ?`,
		r.stamp(), status, errText,
		sum.Discovered, sum.Analyzed, sum.Extracted, sum.AlreadyExtracted, sum.Nested, sum.Removed, sum.Failed,
		runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `id, root, dry_run, started_at, finished_at, status, error,
	discovered, analyzed, extracted, already_extracted, nested, removed, failed`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var dry int
	err := row.Scan(&run.ID, &run.Root, &dry, &run.StartedAt, &run.FinishedAt, &run.Status, &run.Error,
		&run.Summary.Discovered, &run.Summary.Analyzed, &run.Summary.Extracted, &run.Summary.AlreadyExtracted,
		&run.Summary.Nested, &run.Summary.Removed, &run.Summary.Failed)
	run.DryRun = dry != 0
	return run, err
}

// ListRuns returns runs newest first. A limit of 0 or less returns all runs.
func (r *Repository) ListRuns(limit int) ([]Run, error) {
	q := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, rowid DESC"
	var args []interface{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetRun finds a run by full id or unique id prefix.
func (r *Repository) GetRun(idPrefix string) (*Run, error) {
	idPrefix = strings.TrimSpace(idPrefix)
	if idPrefix == "" {
		return nil, fmt.Errorf("%w: empty id", ErrRunNotFound)
	}
	rows, err := r.db.Query("SELECT "+runColumns+" FROM runs WHERE id LIKE ? ESCAPE '\\' LIMIT 2", escapeLike(idPrefix)+"%")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var found []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, idPrefix)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousRun, idPrefix)
	}
}

// ListEvents returns a run's events in insertion order.
func (r *Repository) ListEvents(runID string) ([]Event, error) {
	rows, err := r.db.Query("SELECT id, run_id, path, action, detail, created_at FROM events WHERE run_id = ? ORDER BY id ASC", runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Event
	for rows.Next() {
		var e Event
		var action string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Path, &action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = scanner.Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneRuns deletes runs started before olderThan together with their events.
func (r *Repository) PruneRuns(olderThan time.Time) (int64, error) {
	cutoff := olderThan.UTC().Format(timeLayout)
	trx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = trx.Rollback() }()
	if _, err := trx.Exec("DELETE FROM events WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)", cutoff); err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	res, err := trx.Exec("DELETE FROM runs WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, trx.Commit()
}

// Recorder returns a scanner.Recorder that writes events to runID.
func (r *Repository) Recorder(runID string) scanner.Recorder {
	return &runRecorder{repo: r, runID: runID}
}

type runRecorder struct {
	repo  *Repository
	runID string
}

// Record writes ev even when ctx is already cancelled, so the tail of an
// interrupted scan still lands in the journal.
func (rr *runRecorder) Record(ctx context.Context, ev scanner.Event) error {
	return rr.repo.RecordEvent(context.WithoutCancel(ctx), rr.runID, ev)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
