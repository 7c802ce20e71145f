package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bissquit/issue-notifier/internal/notifications"
	"github.com/bissquit/issue-notifier/internal/pkg/timeutil"
)

const notificationColumns = `
	id, issue_id, user_id, event_type, payload, scheduled_at, first_queued_at, status,
	attempt_count, processing_started_at, sent_at, error_message, created_at, updated_at
`

// Store implements notifications.Store using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new SQLite queue store on a database returned by Open.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue creates the pending batch of an (issue, user) pair or merges the
// event into the existing one.
func (s *Store) Enqueue(ctx context.Context, in notifications.EnqueueInput) (notifications.EnqueueResult, error) {
	if in.UserID == "" {
		return "", notifications.ErrMissingUser
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	stamp := timeutil.FormatUTC(s.now())

	if !in.MergeOnly {
		payload, err := json.Marshal(notifications.Payload{}.Merge(in.Payload))
		if err != nil {
			return "", fmt.Errorf("marshal payload: %w", err)
		}

		var id string
		err = tx.QueryRowContext(ctx, `
			INSERT INTO notification_queue
				(id, issue_id, user_id, event_type, payload, scheduled_at, first_queued_at, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)
			ON CONFLICT (issue_id, user_id) WHERE status = 'pending' DO NOTHING
			RETURNING id
		`,
			uuid.NewString(),
			in.IssueID,
			in.UserID,
			string(in.EventType),
			string(payload),
			timeutil.FormatUTC(notifications.ScheduleAt(in.Now, in.Now, in.Window, in.MaxWait)),
			timeutil.FormatUTC(in.Now),
			stamp,
			stamp,
		).Scan(&id)
		if err == nil {
			if err := tx.Commit(); err != nil {
				return "", fmt.Errorf("commit transaction: %w", err)
			}
			return notifications.EnqueueCreated, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("insert notification: %w", err)
		}
	}

	var id, rawPayload, rawFirst string
	err = tx.QueryRowContext(ctx, `
		SELECT id, payload, first_queued_at
		FROM notification_queue
		WHERE issue_id = ? AND user_id = ? AND status = 'pending'
	`, in.IssueID, in.UserID).Scan(&id, &rawPayload, &rawFirst)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) && in.MergeOnly {
			return notifications.EnqueueSkipped, nil
		}
		return "", fmt.Errorf("select pending notification: %w", err)
	}

	var existing notifications.Payload
	if err := json.Unmarshal([]byte(rawPayload), &existing); err != nil {
		return "", fmt.Errorf("unmarshal payload of %s: %w", id, err)
	}
	firstQueuedAt, err := timeutil.ParseUTC(rawFirst)
	if err != nil {
		return "", fmt.Errorf("parse first_queued_at of %s: %w", id, err)
	}

	merged, err := json.Marshal(existing.Merge(in.Payload))
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE notification_queue
		SET payload = ?, scheduled_at = ?, event_type = ?, updated_at = ?
		WHERE id = ?
	`,
		string(merged),
		timeutil.FormatUTC(notifications.ScheduleAt(in.Now, firstQueuedAt, in.Window, in.MaxWait)),
		string(in.EventType),
		stamp,
		id,
	)
	if err != nil {
		return "", fmt.Errorf("update pending notification: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}
	return notifications.EnqueueMerged, nil
}

// FetchDue returns pending notifications scheduled at or before now, oldest first.
func (s *Store) FetchDue(ctx context.Context, now time.Time, limit int) ([]*notifications.QueuedNotification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notification_queue
		WHERE status = 'pending' AND scheduled_at <= ?
		ORDER BY scheduled_at
		LIMIT ?
	`
	return s.queryNotifications(ctx, query, timeutil.FormatUTC(now), limit)
}

// MarkProcessing claims a pending notification.
func (s *Store) MarkProcessing(ctx context.Context, id string, now time.Time) error {
	stamp := timeutil.FormatUTC(now)
	result, err := s.db.ExecContext(ctx, `
		UPDATE notification_queue
		SET status = 'processing', processing_started_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, stamp, stamp, id)
	if err != nil {
		return fmt.Errorf("mark as processing: %w", err)
	}
	return requireAffected(result, notifications.ErrNotPending)
}

// MarkSent marks a notification as delivered.
func (s *Store) MarkSent(ctx context.Context, id string, attempts int, now time.Time) error {
	stamp := timeutil.FormatUTC(now)
	result, err := s.db.ExecContext(ctx, `
		UPDATE notification_queue
		SET status = 'sent', attempt_count = ?, sent_at = ?, error_message = NULL, updated_at = ?
		WHERE id = ?
	`, attempts, stamp, stamp, id)
	if err != nil {
		return fmt.Errorf("mark as sent: %w", err)
	}
	return requireAffected(result, notifications.ErrQueueItemNotFound)
}

// MarkFailed marks a notification as terminally failed.
func (s *Store) MarkFailed(ctx context.Context, id string, attempts int, cause error) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notification_queue
		SET status = 'failed', attempt_count = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`, attempts, cause.Error(), timeutil.FormatUTC(s.now()), id)
	if err != nil {
		return fmt.Errorf("mark as failed: %w", err)
	}
	return requireAffected(result, notifications.ErrQueueItemNotFound)
}

type stuckNotification struct {
	id            string
	issueID       string
	userID        string
	payload       string
	firstQueuedAt string
}

// RecoverStuckProcessing returns notifications left in processing by a crash
// to pending. When the pair already has a new pending batch, the stuck
// changes are merged into it instead, since only one pending row may exist.
func (s *Store) RecoverStuckProcessing(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	stuck, err := selectStuck(ctx, tx)
	if err != nil {
		return 0, err
	}

	stamp := timeutil.FormatUTC(s.now())
	for _, st := range stuck {
		var pendingID, pendingPayload, pendingFirst string
		err := tx.QueryRowContext(ctx, `
			SELECT id, payload, first_queued_at
			FROM notification_queue
			WHERE issue_id = ? AND user_id = ? AND status = 'pending'
		`, st.issueID, st.userID).Scan(&pendingID, &pendingPayload, &pendingFirst)

		if errors.Is(err, sql.ErrNoRows) {
			_, err = tx.ExecContext(ctx, `
				UPDATE notification_queue
				SET status = 'pending', processing_started_at = NULL, updated_at = ?
				WHERE id = ?
			`, stamp, st.id)
			if err != nil {
				return 0, fmt.Errorf("reset stuck notification %s: %w", st.id, err)
			}
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("select pending sibling of %s: %w", st.id, err)
		}

		merged, first, err := mergeStuck(st, pendingPayload, pendingFirst)
		if err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE notification_queue
			SET payload = ?, first_queued_at = ?, updated_at = ?
			WHERE id = ?
		`, merged, first, stamp, pendingID)
		if err != nil {
			return 0, fmt.Errorf("merge stuck notification %s: %w", st.id, err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE notification_queue
			SET status = 'failed', error_message = ?, updated_at = ?
			WHERE id = ?
		`, fmt.Sprintf("merged into %s during recovery", pendingID), stamp, st.id)
		if err != nil {
			return 0, fmt.Errorf("close stuck notification %s: %w", st.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return int64(len(stuck)), nil
}

func selectStuck(ctx context.Context, tx *sql.Tx) ([]stuckNotification, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, issue_id, user_id, payload, first_queued_at
		FROM notification_queue
		WHERE status = 'processing'
		ORDER BY first_queued_at
	`)
	if err != nil {
		return nil, fmt.Errorf("select stuck notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stuck []stuckNotification
	for rows.Next() {
		var st stuckNotification
		if err := rows.Scan(&st.id, &st.issueID, &st.userID, &st.payload, &st.firstQueuedAt); err != nil {
			return nil, fmt.Errorf("scan stuck notification: %w", err)
		}
		stuck = append(stuck, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stuck notifications: %w", err)
	}
	return stuck, nil
}

// mergeStuck folds the newer pending payload over the stuck one and keeps
// the earlier of the two first-queued times.
func mergeStuck(st stuckNotification, pendingPayload, pendingFirst string) (string, string, error) {
	var older, newer notifications.Payload
	if err := json.Unmarshal([]byte(st.payload), &older); err != nil {
		return "", "", fmt.Errorf("unmarshal payload of %s: %w", st.id, err)
	}
	if err := json.Unmarshal([]byte(pendingPayload), &newer); err != nil {
		return "", "", fmt.Errorf("unmarshal pending payload: %w", err)
	}
	merged, err := json.Marshal(older.Merge(newer))
	if err != nil {
		return "", "", fmt.Errorf("marshal payload: %w", err)
	}

	stuckFirst, err := timeutil.ParseUTC(st.firstQueuedAt)
	if err != nil {
		return "", "", fmt.Errorf("parse first_queued_at of %s: %w", st.id, err)
	}
	first, err := timeutil.ParseUTC(pendingFirst)
	if err != nil {
		return "", "", fmt.Errorf("parse pending first_queued_at: %w", err)
	}
	if stuckFirst.Before(first) {
		first = stuckFirst
	}
	return string(merged), timeutil.FormatUTC(first), nil
}

// GetNotification retrieves a queued notification by ID.
func (s *Store) GetNotification(ctx context.Context, id string) (*notifications.QueuedNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_queue WHERE id = ?`
	n, err := scanNotification(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notifications.ErrQueueItemNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// ListNotifications lists queued notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, filter notifications.ListFilter) ([]*notifications.QueuedNotification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notification_queue
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	status := string(filter.Status)
	return s.queryNotifications(ctx, query, status, status, filter.Limit)
}

// GetQueueStats returns row counts per status.
func (s *Store) GetQueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM notification_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &notifications.QueueStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		stats.Add(notifications.QueueStatus(status), count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue stats: %w", err)
	}
	return stats, nil
}

// DeleteTerminalBefore deletes sent and failed notifications last updated before cutoff.
func (s *Store) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM notification_queue
		WHERE status IN ('sent', 'failed') AND updated_at < ?
	`, timeutil.FormatUTC(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete old notifications: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return deleted, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) queryNotifications(ctx context.Context, query string, args ...any) ([]*notifications.QueuedNotification, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*notifications.QueuedNotification, error) {
	var n notifications.QueuedNotification
	var eventType, status, payload string
	var scheduledAt, firstQueuedAt, createdAt, updatedAt string
	var processingStartedAt, sentAt, errorMessage sql.NullString

	err := row.Scan(
		&n.ID,
		&n.IssueID,
		&n.UserID,
		&eventType,
		&payload,
		&scheduledAt,
		&firstQueuedAt,
		&status,
		&n.AttemptCount,
		&processingStartedAt,
		&sentAt,
		&errorMessage,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.EventType = notifications.EventType(eventType)
	n.Status = notifications.QueueStatus(status)
	n.ErrorMessage = errorMessage.String
	if err := json.Unmarshal([]byte(payload), &n.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload of %s: %w", n.ID, err)
	}

	for _, f := range []struct {
		raw string
		dst *time.Time
	}{
		{scheduledAt, &n.ScheduledAt},
		{firstQueuedAt, &n.FirstQueuedAt},
		{createdAt, &n.CreatedAt},
		{updatedAt, &n.UpdatedAt},
	} {
		t, err := timeutil.ParseUTC(f.raw)
		if err != nil {
			return nil, err
		}
		*f.dst = t
	}

	if n.ProcessingStartedAt, err = parseNullTime(processingStartedAt); err != nil {
		return nil, err
	}
	if n.SentAt, err = parseNullTime(sentAt); err != nil {
		return nil, err
	}
	return &n, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := timeutil.ParseUTC(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func requireAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Error("failed to rollback transaction", "error", err)
	}
}
