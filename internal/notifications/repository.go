// Package notifications turns issue mutations into debounced, batched
// webhook notifications.
package notifications

import (
	"context"
	"time"

	"github.com/bissquit/issue-notifier/internal/domain"
)

// Store persists the notification queue.
//
// Enqueue must be atomic per (issue, user) pair: concurrent calls for the
// same pair end up in a single pending row containing every merged change.
type Store interface {
	Enqueue(ctx context.Context, in EnqueueInput) (EnqueueResult, error)
	FetchDue(ctx context.Context, now time.Time, limit int) ([]*QueuedNotification, error)
	MarkProcessing(ctx context.Context, id string, now time.Time) error
	MarkSent(ctx context.Context, id string, attempts int, now time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, cause error) error
	RecoverStuckProcessing(ctx context.Context) (int64, error)

	GetNotification(ctx context.Context, id string) (*QueuedNotification, error)
	ListNotifications(ctx context.Context, filter ListFilter) ([]*QueuedNotification, error)
	GetQueueStats(ctx context.Context) (*QueueStats, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// IssueReader reads the tracker's current state.
type IssueReader interface {
	// GetIssue returns ErrIssueNotFound when the issue no longer exists.
	GetIssue(ctx context.Context, id string) (*domain.Issue, error)
	GetIssues(ctx context.Context, ids []string) (map[string]*domain.Issue, error)
	GetSubtaskCounts(ctx context.Context, parentID string) (domain.SubtaskCounts, error)
	GetUserNames(ctx context.Context, ids []string) (map[string]string, error)
}
