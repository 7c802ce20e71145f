package notifications

// ChangeType identifies which aspect of an issue a change touches.
type ChangeType string

// Change types.
const (
	ChangeStatus   ChangeType = "status"
	ChangePriority ChangeType = "priority"
	ChangeAssignee ChangeType = "assignee"
	ChangeComment  ChangeType = "comment"
	ChangeCreated  ChangeType = "created"
	ChangeDeleted  ChangeType = "deleted"
)

// Action types emitted by the tracker's CRUD layer.
const (
	ActionCommentAdded    = "comment_added"
	ActionIssueCreated    = "issue_created"
	ActionSubtaskCreated  = "subtask_created"
	ActionIssueDeleted    = "issue_deleted"
	ActionSubtaskDeleted  = "subtask_deleted"
	ActionSubtaskUpdated  = "subtask_updated"
	ActionStatusChanged   = "status_changed"
	ActionPriorityChanged = "priority_changed"
	ActionAssigneeChanged = "assignee_changed"
)

// EventType is the coarse category of the latest event merged into a batch.
type EventType string

// Event types.
const (
	EventTypeCreate  EventType = "create"
	EventTypeUpdate  EventType = "update"
	EventTypeDelete  EventType = "delete"
	EventTypeComment EventType = "comment"
)

// Activity is a raw mutation record as produced by the tracker.
// Nil value pointers mean "no value" (for example an unassigned issue).
type Activity struct {
	ActionType         string     `json:"action_type" validate:"required"`
	OldValue           *string    `json:"old_value,omitempty"`
	NewValue           *string    `json:"new_value,omitempty"`
	FirstOldValue      *string    `json:"first_old_value,omitempty"`
	CommentBody        string     `json:"comment_body,omitempty"`
	IssueKey           string     `json:"issue_key,omitempty"`
	IssueTitle         string     `json:"issue_title,omitempty"`
	Assignees          string     `json:"assignees,omitempty"`
	SubtaskKey         string     `json:"subtask_key,omitempty"`
	DescriptionChanged bool       `json:"description_changed,omitempty"`
	Changes            []Activity `json:"changes,omitempty" validate:"omitempty,dive"`
}

// IssueActivities holds the queued activities of one issue inside a grouped batch.
type IssueActivities struct {
	IssueID string     `json:"issue_id" validate:"required"`
	Changes []Activity `json:"changes" validate:"required,min=1,dive"`
}

// Payload is the document stored in a queue row. Single-issue batches use
// Changes, grouped multi-issue batches use Issues.
type Payload struct {
	Changes []Activity        `json:"changes,omitempty"`
	Issues  []IssueActivities `json:"issues,omitempty"`
}

// IsGrouped reports whether the payload spans several issues.
func (p Payload) IsGrouped() bool {
	return len(p.Issues) > 0
}

// Change is a normalized, display-ready description of one change.
type Change struct {
	Type       ChangeType `json:"type"`
	Old        *string    `json:"old,omitempty"`
	New        *string    `json:"new,omitempty"`
	Value      string     `json:"value,omitempty"`
	IsSubtask  bool       `json:"is_subtask,omitempty"`
	SubtaskKey string     `json:"subtask_key,omitempty"`
	Title      string     `json:"title,omitempty"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
