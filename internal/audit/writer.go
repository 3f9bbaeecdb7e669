// Package audit appends status transition log rows. The log is advisory:
// the primary mutation must never be rolled back by an audit-write failure,
// so callers use BestEffortAppend and may ignore its Result.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

type Writer struct {
	DB     *sql.DB
	Now    func() time.Time
	Logger *log.Logger
}

type Payload map[string]any

// Result reports the outcome of a non-transactional side effect. Callers
// are permitted to discard it.
type Result struct {
	Err error
}

func (r Result) Ok() bool { return r.Err == nil }

type Entry struct {
	ManuscriptID string
	FromStatus   string
	ToStatus     string
	ActorID      string
	Comment      string
	Payload      Payload
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w Writer) logger() *log.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return log.Default()
}

// Append writes one transition log row.
func (w Writer) Append(ctx context.Context, e Entry) error {
	ts := w.now().UTC().Format(time.RFC3339)
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	var comment any
	if e.Comment != "" {
		comment = e.Comment
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO status_transition_logs(manuscript_id,from_status,to_status,actor_id,comment,payload_json,ts) VALUES (?,?,?,?,?,?,?)`,
		e.ManuscriptID, e.FromStatus, e.ToStatus, e.ActorID, comment, string(data), ts)
	return err
}

// BestEffortAppend writes the row outside the caller's transaction and
// swallows any failure after logging it.
func (w Writer) BestEffortAppend(ctx context.Context, e Entry) Result {
	if err := w.Append(ctx, e); err != nil {
		w.logger().Printf("audit append failed for manuscript %s (%s -> %s): %v",
			e.ManuscriptID, e.FromStatus, e.ToStatus, err)
		return Result{Err: err}
	}
	return Result{}
}
