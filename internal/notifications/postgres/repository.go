// Package postgres provides PostgreSQL implementation of the notification queue
// and of the tracker state reader.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/issue-notifier/internal/notifications"
)

// enqueueAttempts bounds retries when the pending row is claimed by the
// processor between our insert attempt and the locking read.
const enqueueAttempts = 5

var errPendingVanished = errors.New("pending notification vanished")

const notificationColumns = `
	id, issue_id, user_id, event_type, payload, scheduled_at, first_queued_at, status,
	attempt_count, processing_started_at, sent_at, COALESCE(error_message, ''), created_at, updated_at
`

// Repository implements notifications.Store using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Enqueue creates the pending batch of an (issue, user) pair or merges the
// event into the existing one.
func (r *Repository) Enqueue(ctx context.Context, in notifications.EnqueueInput) (notifications.EnqueueResult, error) {
	if in.UserID == "" {
		return "", notifications.ErrMissingUser
	}

	for attempt := 1; attempt <= enqueueAttempts; attempt++ {
		result, err := r.enqueueOnce(ctx, in)
		if errors.Is(err, errPendingVanished) {
			slog.Debug("pending notification claimed during merge, retrying",
				"issue_id", in.IssueID,
				"attempt", attempt,
			)
			continue
		}
		return result, err
	}
	return "", fmt.Errorf("enqueue notification: %w", errPendingVanished)
}

func (r *Repository) enqueueOnce(ctx context.Context, in notifications.EnqueueInput) (notifications.EnqueueResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	if !in.MergeOnly {
		insertQuery := `
			INSERT INTO notification_queue (issue_id, user_id, event_type, payload, scheduled_at, first_queued_at, status)
			VALUES ($1, $2, $3, $4, $5, $6, 'pending')
			ON CONFLICT (issue_id, user_id) WHERE status = 'pending' DO NOTHING
			RETURNING id
		`
		var id string
		err := tx.QueryRow(ctx, insertQuery,
			in.IssueID,
			in.UserID,
			in.EventType,
			notifications.Payload{}.Merge(in.Payload),
			notifications.ScheduleAt(in.Now, in.Now, in.Window, in.MaxWait),
			in.Now,
		).Scan(&id)
		if err == nil {
			if err := tx.Commit(ctx); err != nil {
				return "", fmt.Errorf("commit transaction: %w", err)
			}
			return notifications.EnqueueCreated, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("insert notification: %w", err)
		}
	}

	selectQuery := `
		SELECT id, payload, first_queued_at
		FROM notification_queue
		WHERE issue_id = $1 AND user_id = $2 AND status = 'pending'
		FOR UPDATE
	`
	var (
		id            string
		existing      notifications.Payload
		firstQueuedAt time.Time
	)
	err = tx.QueryRow(ctx, selectQuery, in.IssueID, in.UserID).Scan(&id, &existing, &firstQueuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if in.MergeOnly {
				return notifications.EnqueueSkipped, nil
			}
			return "", errPendingVanished
		}
		return "", fmt.Errorf("lock pending notification: %w", err)
	}

	updateQuery := `
		UPDATE notification_queue
		SET payload = $2, scheduled_at = $3, event_type = $4, updated_at = NOW()
		WHERE id = $1
	`
	_, err = tx.Exec(ctx, updateQuery,
		id,
		existing.Merge(in.Payload),
		notifications.ScheduleAt(in.Now, firstQueuedAt, in.Window, in.MaxWait),
		in.EventType,
	)
	if err != nil {
		return "", fmt.Errorf("update pending notification: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}
	return notifications.EnqueueMerged, nil
}

// FetchDue returns pending notifications scheduled at or before now, oldest first.
func (r *Repository) FetchDue(ctx context.Context, now time.Time, limit int) ([]*notifications.QueuedNotification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notification_queue
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2
	`
	return r.queryNotifications(ctx, query, now, limit)
}

// MarkProcessing claims a pending notification.
func (r *Repository) MarkProcessing(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = 'processing', processing_started_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("mark as processing: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrNotPending
	}
	return nil
}

// MarkSent marks a notification as delivered.
func (r *Repository) MarkSent(ctx context.Context, id string, attempts int, now time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = 'sent', attempt_count = $2, sent_at = $3, error_message = NULL, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id, attempts, now)
	if err != nil {
		return fmt.Errorf("mark as sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrQueueItemNotFound
	}
	return nil
}

// MarkFailed marks a notification as terminally failed.
func (r *Repository) MarkFailed(ctx context.Context, id string, attempts int, cause error) error {
	query := `
		UPDATE notification_queue
		SET status = 'failed', attempt_count = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id, attempts, cause.Error())
	if err != nil {
		return fmt.Errorf("mark as failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrQueueItemNotFound
	}
	return nil
}

type stuckNotification struct {
	id            string
	issueID       string
	userID        string
	payload       notifications.Payload
	firstQueuedAt time.Time
}

// RecoverStuckProcessing returns notifications left in processing by a crash
// to pending. When the pair already has a new pending batch, the stuck
// changes are merged into it instead, since only one pending row may exist.
func (r *Repository) RecoverStuckProcessing(ctx context.Context) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, issue_id, user_id, payload, first_queued_at
		FROM notification_queue
		WHERE status = 'processing'
		ORDER BY first_queued_at
		FOR UPDATE
	`)
	if err != nil {
		return 0, fmt.Errorf("select stuck notifications: %w", err)
	}
	stuck, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (stuckNotification, error) {
		var s stuckNotification
		err := row.Scan(&s.id, &s.issueID, &s.userID, &s.payload, &s.firstQueuedAt)
		return s, err
	})
	if err != nil {
		return 0, fmt.Errorf("scan stuck notifications: %w", err)
	}

	for _, s := range stuck {
		var (
			pendingID     string
			pending       notifications.Payload
			pendingQueued time.Time
		)
		err := tx.QueryRow(ctx, `
			SELECT id, payload, first_queued_at
			FROM notification_queue
			WHERE issue_id = $1 AND user_id = $2 AND status = 'pending'
			FOR UPDATE
		`, s.issueID, s.userID).Scan(&pendingID, &pending, &pendingQueued)

		if errors.Is(err, pgx.ErrNoRows) {
			_, err = tx.Exec(ctx, `
				UPDATE notification_queue
				SET status = 'pending', processing_started_at = NULL, updated_at = NOW()
				WHERE id = $1
			`, s.id)
			if err != nil {
				return 0, fmt.Errorf("reset stuck notification %s: %w", s.id, err)
			}
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("lock pending sibling of %s: %w", s.id, err)
		}

		firstQueuedAt := pendingQueued
		if s.firstQueuedAt.Before(firstQueuedAt) {
			firstQueuedAt = s.firstQueuedAt
		}
		_, err = tx.Exec(ctx, `
			UPDATE notification_queue
			SET payload = $2, first_queued_at = $3, updated_at = NOW()
			WHERE id = $1
		`, pendingID, s.payload.Merge(pending), firstQueuedAt)
		if err != nil {
			return 0, fmt.Errorf("merge stuck notification %s: %w", s.id, err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE notification_queue
			SET status = 'failed', error_message = $2, updated_at = NOW()
			WHERE id = $1
		`, s.id, fmt.Sprintf("merged into %s during recovery", pendingID))
		if err != nil {
			return 0, fmt.Errorf("close stuck notification %s: %w", s.id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return int64(len(stuck)), nil
}

// GetNotification retrieves a queued notification by ID.
func (r *Repository) GetNotification(ctx context.Context, id string) (*notifications.QueuedNotification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notifications.ErrQueueItemNotFound
	}

	query := `SELECT ` + notificationColumns + ` FROM notification_queue WHERE id = $1`
	n, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrQueueItemNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// ListNotifications lists queued notifications, newest first.
func (r *Repository) ListNotifications(ctx context.Context, filter notifications.ListFilter) ([]*notifications.QueuedNotification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notification_queue
		WHERE ($1::text = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.queryNotifications(ctx, query, string(filter.Status), filter.Limit)
}

// GetQueueStats returns row counts per status.
func (r *Repository) GetQueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM notification_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	defer rows.Close()

	stats := &notifications.QueueStats{}
	for rows.Next() {
		var status notifications.QueueStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		stats.Add(status, count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue stats: %w", err)
	}
	return stats, nil
}

// DeleteTerminalBefore deletes sent and failed notifications last updated before cutoff.
func (r *Repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM notification_queue
		WHERE status IN ('sent', 'failed') AND updated_at < $1
	`
	result, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old notifications: %w", err)
	}
	return result.RowsAffected(), nil
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *Repository) queryNotifications(ctx context.Context, query string, args ...any) ([]*notifications.QueuedNotification, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	items := make([]*notifications.QueuedNotification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func scanNotification(row pgx.Row) (*notifications.QueuedNotification, error) {
	var n notifications.QueuedNotification
	err := row.Scan(
		&n.ID,
		&n.IssueID,
		&n.UserID,
		&n.EventType,
		&n.Payload,
		&n.ScheduledAt,
		&n.FirstQueuedAt,
		&n.Status,
		&n.AttemptCount,
		&n.ProcessingStartedAt,
		&n.SentAt,
		&n.ErrorMessage,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.ScheduledAt = n.ScheduledAt.UTC()
	n.FirstQueuedAt = n.FirstQueuedAt.UTC()
	return &n, nil
}
