package scanner

import (
	"context"

	"go.uber.org/zap"
)

// Action names what happened to a path.
type Action string

// Actions reported to a Recorder.
const (
	ActionEnqueued         Action = "enqueued"
	ActionExtracted        Action = "extracted"
	ActionAlreadyExtracted Action = "already_extracted"
	ActionNested           Action = "nested"
	ActionRemoved          Action = "removed"
	ActionFailed           Action = "failed"
)

// Event is one decision taken by the queue.
type Event struct {
	Path   string
	Action Action
	Detail string
}

// Recorder receives queue events, e.g. to persist them in the journal.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Event) error { return nil }

// record forwards ev to the recorder. A recorder failure is logged but never
// stops the scan.
func (q *Queue) record(ctx context.Context, ev Event) {
	if err := q.opts.Recorder.Record(ctx, ev); err != nil {
		q.log.Warn("failed to record event", zap.String("path", ev.Path), zap.String("action", string(ev.Action)), zap.Error(err))
	}
}
