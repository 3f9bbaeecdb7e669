// Package notify is the fire-and-forget notification sink. Delivery beyond
// the row insert (email, push) is an external concern; failures here are
// logged and returned as a Result the caller may ignore.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"scholarflow/internal/domain"
	"scholarflow/internal/repo"
)

type Notification struct {
	UserID       string
	ManuscriptID string
	Type         string
	Title        string
	Content      string
	ActionURL    string
}

// Result reports the outcome of a best-effort send.
type Result struct {
	Err error
}

func (r Result) Ok() bool { return r.Err == nil }

type Sink interface {
	Create(ctx context.Context, n Notification) Result
}

// RowSink persists notifications as store rows.
type RowSink struct {
	Repo   repo.Repo
	Now    func() time.Time
	Logger *log.Logger
}

func (s RowSink) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s RowSink) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s RowSink) Create(ctx context.Context, n Notification) Result {
	row := domain.Notification{
		ID:        uuid.New().String(),
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Content:   n.Content,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}
	if n.ManuscriptID != "" {
		row.ManuscriptID = &n.ManuscriptID
	}
	if n.ActionURL != "" {
		row.ActionURL = &n.ActionURL
	}
	if err := s.Repo.InsertNotification(ctx, row); err != nil {
		s.logger().Printf("notification insert failed for user %s: %v", n.UserID, err)
		return Result{Err: err}
	}
	return Result{}
}
