package notifications

import "errors"

// Repository errors.
var (
	ErrQueueItemNotFound = errors.New("queued notification not found")
	ErrNotPending        = errors.New("queued notification is not pending")
	ErrIssueNotFound     = errors.New("issue not found")
)

// Enqueue errors.
var (
	ErrMissingUser = errors.New("notification has no acting user")
)
