// Package scanner finds RAR archives under a directory and works through
// them one at a time: extract, follow nested archives, expire old volumes.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/VoxDroid/rarscan/internal/archive"
	"github.com/VoxDroid/rarscan/internal/rarname"
)

// Archive is what the queue needs from an opened archive.
type Archive interface {
	Location() string
	Entries() []archive.Header
	IsAlreadyExtracted(dest string) (bool, error)
	ExtractInto(ctx context.Context, dest string) error
	ListParts() ([]string, error)
}

// OpenFunc opens the archive at path.
type OpenFunc func(path string) (Archive, error)

// Options controls a Queue.
type Options struct {
	DryRun bool
	// RemoveAfter deletes volumes whose mtime is older than this. Zero
	// disables removal.
	RemoveAfter time.Duration
	// KeepGoing logs a failing archive and moves on instead of stopping.
	KeepGoing bool
	Open      OpenFunc
	Recorder  Recorder
	Logger    *zap.Logger
	Now       func() time.Time
}

// Summary counts what a run did.
type Summary struct {
	Discovered       int
	Analyzed         int
	Extracted        int
	AlreadyExtracted int
	Nested           int
	Removed          int
	Failed           int
}

// Queue is a FIFO of archive paths. It is not safe for concurrent use.
type Queue struct {
	opts    Options
	log     *zap.Logger
	queue   []string
	seen    map[string]bool
	summary Summary
}

// OpenArchive returns an OpenFunc backed by the RAR decoder.
func OpenArchive(opts ...archive.Option) OpenFunc {
	return func(path string) (Archive, error) {
		return archive.Open(path, opts...)
	}
}

// New creates an empty queue.
func New(opts Options) *Queue {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Open == nil {
		opts.Open = OpenArchive(archive.WithLogger(opts.Logger))
	}
	return &Queue{opts: opts, log: opts.Logger, seen: map[string]bool{}}
}

// Len returns the number of queued archives.
func (q *Queue) Len() int { return len(q.queue) }

// Summary returns the counters accumulated so far.
func (q *Queue) Summary() Summary { return q.summary }

// push enqueues path unless it was already queued during this run.
func (q *Queue) push(path string) bool {
	key := filepath.Clean(path)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}
	if q.seen[key] {
		return false
	}
	q.seen[key] = true
	q.queue = append(q.queue, path)
	return true
}

// FindRarFiles enqueues every root archive found under rootDir.
func (q *Queue) FindRarFiles(ctx context.Context, rootDir string) error {
	q.log.Info(fmt.Sprintf("Scanning for .rar files in '%s'", rootDir))
	fi, err := os.Stat(rootDir)
	if err != nil {
		return fmt.Errorf("scan root: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("scan root %s: not a directory", rootDir)
	}
	matches, err := doublestar.Glob(os.DirFS(rootDir), "**/*.rar")
	if err != nil {
		return fmt.Errorf("glob %s: %w", rootDir, err)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry := filepath.Join(rootDir, filepath.FromSlash(m))
		if !rarname.IsRootRarFile(entry) {
			continue
		}
		if st, err := os.Stat(entry); err != nil || st.IsDir() {
			continue
		}
		if q.push(entry) {
			q.summary.Discovered++
			q.log.Debug(fmt.Sprintf("'%s' enqueued.", entry))
			q.record(ctx, Event{Path: entry, Action: ActionEnqueued})
		}
	}
	return nil
}

// ProcessNext handles the archive at the head of the queue. It returns false
// once the queue is empty.
func (q *Queue) ProcessNext(ctx context.Context) (bool, error) {
	if len(q.queue) == 0 {
		return false, nil
	}
	entry := q.queue[0]
	q.queue = q.queue[1:]
	if err := ctx.Err(); err != nil {
		return true, err
	}
	if err := q.processEntry(ctx, entry); err != nil {
		q.summary.Failed++
		q.record(ctx, Event{Path: entry, Action: ActionFailed, Detail: err.Error()})
		if q.opts.KeepGoing && ctx.Err() == nil {
			q.log.Error(fmt.Sprintf("-> Failed to process '%s'.", entry), zap.Error(err))
			return true, nil
		}
		return true, fmt.Errorf("process %s: %w", entry, err)
	}
	return true, nil
}

// Run drains the queue.
func (q *Queue) Run(ctx context.Context) (Summary, error) {
	for {
		more, err := q.ProcessNext(ctx)
		if err != nil {
			return q.summary, err
		}
		if !more {
			return q.summary, nil
		}
	}
}

func (q *Queue) dryDetail() string {
	if q.opts.DryRun {
		return "dry-run"
	}
	return ""
}

func (q *Queue) processEntry(ctx context.Context, entry string) error {
	q.log.Info(fmt.Sprintf("Analyzing '%s'.", entry))
	q.summary.Analyzed++
	a, err := q.opts.Open(entry)
	if err != nil {
		return err
	}
	dest := filepath.Dir(entry)

	done, err := a.IsAlreadyExtracted(dest)
	if err != nil {
		return err
	}
	if done {
		q.log.Info("-> Archive already extracted.")
		q.summary.AlreadyExtracted++
		q.record(ctx, Event{Path: entry, Action: ActionAlreadyExtracted})
	} else {
		q.log.Info(fmt.Sprintf("-> Extracting into '%s'.", dest))
		if !q.opts.DryRun {
			if err := a.ExtractInto(ctx, dest); err != nil {
				return err
			}
		}
		q.summary.Extracted++
		q.record(ctx, Event{Path: entry, Action: ActionExtracted, Detail: q.dryDetail()})
	}

	for _, h := range a.Entries() {
		if !h.IsRegular() || !rarname.IsRootRarFile(h.Name) {
			continue
		}
		nested := filepath.Join(dest, h.Name)
		if q.opts.DryRun {
			if _, err := os.Stat(nested); err != nil {
				q.log.Info(fmt.Sprintf("-> Archive contains archive '%s', not on disk yet (dry-run)", h.Name))
				continue
			}
		}
		q.log.Info(fmt.Sprintf("-> Archive contains archive '%s', enqueuing", h.Name))
		if q.push(nested) {
			q.summary.Nested++
			q.record(ctx, Event{Path: nested, Action: ActionNested, Detail: entry})
		} else {
			q.log.Debug(fmt.Sprintf("'%s' already queued in this run", nested))
		}
	}

	if q.opts.RemoveAfter > 0 {
		return q.removeExpiredParts(ctx, a)
	}
	return nil
}

func (q *Queue) removeExpiredParts(ctx context.Context, a Archive) error {
	parts, err := a.ListParts()
	if err != nil {
		return err
	}
	now := q.opts.Now()
	for _, p := range parts {
		fi, err := os.Stat(p)
		if err != nil {
			return err
		}
		mtime := fi.ModTime()
		elapsed := now.Sub(mtime)
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed <= q.opts.RemoveAfter {
			continue
		}
		q.log.Info(fmt.Sprintf("-> Removing archive/part '%s' last modified on '%s'.", p, mtime.UTC().Format(time.DateOnly)))
		if !q.opts.DryRun {
			if err := os.Remove(p); err != nil {
				return err
			}
		}
		q.summary.Removed++
		q.record(ctx, Event{Path: p, Action: ActionRemoved, Detail: q.dryDetail()})
	}
	return nil
}
