package notifications

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// NotifierConfig contains debounce configuration.
type NotifierConfig struct {
	Enabled        bool
	DebounceWindow time.Duration
	MaxWait        time.Duration
}

// DefaultNotifierConfig returns default notifier configuration.
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		Enabled:        true,
		DebounceWindow: 60 * time.Second,
		MaxWait:        3 * time.Minute,
	}
}

// Notifier is the entry point the CRUD layer calls after every mutation.
// It never fails the caller: problems are logged and the event is dropped.
type Notifier struct {
	config NotifierConfig
	store  Store
	now    func() time.Time
}

// NewNotifier creates a new Notifier.
func NewNotifier(config NotifierConfig, store Store) *Notifier {
	defaults := DefaultNotifierConfig()
	if config.DebounceWindow <= 0 {
		config.DebounceWindow = defaults.DebounceWindow
	}
	if config.MaxWait <= 0 {
		config.MaxWait = defaults.MaxWait
	}

	return &Notifier{
		config: config,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether events are being queued.
func (n *Notifier) Enabled() bool {
	return n.config.Enabled
}

// Notify queues one mutation of an issue made by userID.
//
// Status and assignee changes always open a batch so the value before the
// window is kept. Other changes that would not produce a notification on
// their own are only merged into an already pending batch.
func (n *Notifier) Notify(ctx context.Context, issueID, userID string, eventType EventType, activity Activity) {
	if !n.config.Enabled {
		return
	}

	n.enqueue(ctx, EnqueueInput{
		IssueID:   issueID,
		UserID:    userID,
		EventType: eventType,
		Payload:   Payload{Changes: []Activity{activity}},
		MergeOnly: !opensBatch(ExtractChanges(activity)),
	})
}

// NotifyGroup queues mutations of several issues made in one operation
// (for example a parent and its subtasks) as a single batch under anchorIssueID.
func (n *Notifier) NotifyGroup(ctx context.Context, anchorIssueID, userID string, eventType EventType, issues []IssueActivities) {
	if !n.config.Enabled || len(issues) == 0 {
		return
	}

	opens := false
	for _, ia := range issues {
		if opensBatch(ExtractActivities(ia.Changes)) {
			opens = true
			break
		}
	}

	n.enqueue(ctx, EnqueueInput{
		IssueID:   anchorIssueID,
		UserID:    userID,
		EventType: eventType,
		Payload:   Payload{Issues: issues},
		MergeOnly: !opens,
	})
}

// opensBatch reports whether changes may create a pending batch. Status and
// assignee changes may qualify once later changes are merged onto them.
func opensBatch(changes []Change) bool {
	for _, c := range changes {
		if Qualifies(c) || c.Type == ChangeStatus || c.Type == ChangeAssignee {
			return true
		}
	}
	return false
}

func (n *Notifier) enqueue(ctx context.Context, in EnqueueInput) {
	if in.UserID == "" {
		slog.Warn("dropping notification without acting user", "issue_id", in.IssueID)
		recordEnqueue(EnqueueSkipped)
		return
	}

	in.Now = n.now()
	in.Window = n.config.DebounceWindow
	in.MaxWait = n.config.MaxWait

	result, err := n.store.Enqueue(ctx, in)
	if err != nil {
		if errors.Is(err, ErrMissingUser) {
			slog.Warn("dropping notification without acting user", "issue_id", in.IssueID)
		} else {
			slog.Error("failed to queue notification",
				"issue_id", in.IssueID,
				"user_id", in.UserID,
				"error", err,
			)
		}
		return
	}

	recordEnqueue(result)
	slog.Debug("notification queued",
		"issue_id", in.IssueID,
		"user_id", in.UserID,
		"event_type", in.EventType,
		"result", result,
	)
}
