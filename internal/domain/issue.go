package domain

// IssueStatus represents the board column an issue sits in.
type IssueStatus string

// Issue statuses.
const (
	IssueStatusTodo       IssueStatus = "todo"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusReview     IssueStatus = "review"
	IssueStatusDone       IssueStatus = "done"
)

// IssuePriority represents the priority of an issue.
type IssuePriority string

// Issue priorities.
const (
	PriorityLow    IssuePriority = "low"
	PriorityMedium IssuePriority = "medium"
	PriorityHigh   IssuePriority = "high"
	PriorityUrgent IssuePriority = "urgent"
)

// Issue is the current state of an issue or subtask as stored by the tracker.
// Subtasks are issues with a non-empty ParentID.
type Issue struct {
	ID          string        `json:"id"`
	Key         string        `json:"key"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Status      IssueStatus   `json:"status"`
	Priority    IssuePriority `json:"priority"`
	ParentID    string        `json:"parent_id,omitempty"`
}

// IsSubtask reports whether the issue belongs to a parent issue.
func (i *Issue) IsSubtask() bool {
	return i.ParentID != ""
}

// SubtaskCounts summarizes the completion of an issue's subtasks.
type SubtaskCounts struct {
	Done  int
	Total int
}
