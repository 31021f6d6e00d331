// Package usage keeps best-effort bookkeeping of template use.
//
// Recording never blocks or fails the operation that triggered it.
package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a single detached recording.
const DefaultTimeout = 5 * time.Second

// Recorder counts uses of a template.
type Recorder interface {
	Touch(ctx context.Context, templateID string) error
}

// Stats is the bookkeeping kept for one template.
type Stats struct {
	TemplateID string
	UseCount   int64
	LastUsedAt time.Time
}

// SQLRecorder stores usage in the template_usage table.
type SQLRecorder struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time check to ensure SQLRecorder implements Recorder
var _ Recorder = (*SQLRecorder)(nil)

// NewSQLRecorder creates a SQLRecorder over an opened database.
func NewSQLRecorder(db *sql.DB) (*SQLRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	return &SQLRecorder{db: db, now: time.Now}, nil
}

// Touch increments the use count of templateID and sets its last-used time.
func (r *SQLRecorder) Touch(ctx context.Context, templateID string) error {
	if templateID == "" {
		return fmt.Errorf("template id cannot be empty")
	}

	now := r.now().UTC().Format(time.RFC3339Nano)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO template_usage (template_id, use_count, last_used_at)
		VALUES (?, 1, ?)
		ON CONFLICT(template_id) DO UPDATE SET
			use_count = use_count + 1,
			last_used_at = excluded.last_used_at`,
		templateID, now)
	if err != nil {
		return fmt.Errorf("recording usage of %s: %w", templateID, err)
	}
	return nil
}

// Get returns the usage of templateID. A template never used has zero stats.
func (r *SQLRecorder) Get(ctx context.Context, templateID string) (Stats, error) {
	stats := Stats{TemplateID: templateID}

	var lastUsed sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT use_count, last_used_at FROM template_usage WHERE template_id = ?`,
		templateID).Scan(&stats.UseCount, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return Stats{}, fmt.Errorf("reading usage of %s: %w", templateID, err)
	}

	if lastUsed.Valid {
		stats.LastUsedAt, err = time.Parse(time.RFC3339Nano, lastUsed.String)
		if err != nil {
			return Stats{}, fmt.Errorf("parsing last_used_at: %w", err)
		}
	}
	return stats, nil
}

// Go records a use of templateID in a detached goroutine. The caller's
// cancellation does not stop it; errors are logged and dropped. The returned
// channel is closed when the recording finishes and may be ignored.
func Go(ctx context.Context, rec Recorder, templateID string, timeout time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if rec == nil || templateID == "" {
		close(done)
		return done
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	go func() {
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				slog.ErrorContext(ctx, "usage recording panicked", "template", templateID, "panic", p)
			}
		}()

		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		if err := rec.Touch(bgCtx, templateID); err != nil {
			slog.WarnContext(bgCtx, "usage recording failed", "template", templateID, "error", err)
		}
	}()
	return done
}
