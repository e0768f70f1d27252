// Package journal records scan runs and their events in SQLite.
package journal

import (
	"database/sql"
	"errors"

	"github.com/VoxDroid/rarscan/internal/scanner"
)

// Status of a run.
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

var (
	// ErrRunNotFound is returned when no run matches an id or prefix.
	ErrRunNotFound = errors.New("run not found")
	// ErrAmbiguousRun is returned when an id prefix matches several runs.
	ErrAmbiguousRun = errors.New("run id prefix is ambiguous")
)

// Run is one invocation of the scanner.
type Run struct {
	ID         string
	Root       string
	DryRun     bool
	StartedAt  string
	FinishedAt sql.NullString
	Status     string
	Error      sql.NullString
	Summary    scanner.Summary
}

// Event is one persisted scanner decision.
type Event struct {
	ID        int64
	RunID     string
	Path      string
	Action    scanner.Action
	Detail    sql.NullString
	CreatedAt string
}
