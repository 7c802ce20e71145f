package notifications

import "time"

// QueueStatus represents the status of a queued notification.
type QueueStatus string

// Queue statuses. A row moves pending -> processing -> sent | failed.
const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
)

// Valid reports whether s is a known queue status.
func (s QueueStatus) Valid() bool {
	switch s {
	case QueueStatusPending, QueueStatusProcessing, QueueStatusSent, QueueStatusFailed:
		return true
	}
	return false
}

// QueuedNotification is one debounced batch of changes for an (issue, user) pair.
type QueuedNotification struct {
	ID                  string      `json:"id"`
	IssueID             string      `json:"issue_id"`
	UserID              string      `json:"user_id"`
	EventType           EventType   `json:"event_type"`
	Payload             Payload     `json:"payload"`
	ScheduledAt         time.Time   `json:"scheduled_at"`
	FirstQueuedAt       time.Time   `json:"first_queued_at"`
	Status              QueueStatus `json:"status"`
	AttemptCount        int         `json:"attempt_count"`
	ProcessingStartedAt *time.Time  `json:"processing_started_at,omitempty"`
	SentAt              *time.Time  `json:"sent_at,omitempty"`
	ErrorMessage        string      `json:"error_message,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// EnqueueInput describes one event to insert into or merge with the pending
// batch of its (issue, user) pair.
type EnqueueInput struct {
	IssueID   string
	UserID    string
	EventType EventType
	Payload   Payload
	Now       time.Time
	Window    time.Duration
	MaxWait   time.Duration
	// MergeOnly merges into an existing pending batch but never creates one.
	MergeOnly bool
}

// EnqueueResult tells what Enqueue did with an event.
type EnqueueResult string

// Enqueue results.
const (
	EnqueueCreated EnqueueResult = "created"
	EnqueueMerged  EnqueueResult = "merged"
	EnqueueSkipped EnqueueResult = "skipped"
)

// QueueStats contains row counts per status.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
}

// Add increments the counter matching status.
func (s *QueueStats) Add(status QueueStatus, n int64) {
	switch status {
	case QueueStatusPending:
		s.Pending += n
	case QueueStatusProcessing:
		s.Processing += n
	case QueueStatusSent:
		s.Sent += n
	case QueueStatusFailed:
		s.Failed += n
	}
}

// ListFilter narrows ListNotifications.
type ListFilter struct {
	Status QueueStatus
	Limit  int
}
