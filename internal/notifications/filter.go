package notifications

import "github.com/bissquit/issue-notifier/internal/domain"

func isReviewOrDone(s domain.IssueStatus) bool {
	return s == domain.IssueStatusReview || s == domain.IssueStatusDone
}

// Qualifies reports whether a change is worth an outbound notification.
//
// Assignee changes and subtask creation always qualify. Status changes qualify
// only when the issue enters review or done from a column before review.
func Qualifies(c Change) bool {
	switch c.Type {
	case ChangeAssignee:
		return true
	case ChangeCreated:
		return c.IsSubtask
	case ChangeStatus:
		to := domain.IssueStatus(derefString(c.New))
		from := domain.IssueStatus(derefString(c.Old))
		return isReviewOrDone(to) && !isReviewOrDone(from)
	default:
		return false
	}
}

// AnyQualifies reports whether at least one change qualifies.
func AnyQualifies(changes []Change) bool {
	for _, c := range changes {
		if Qualifies(c) {
			return true
		}
	}
	return false
}

// FilterForDisplay keeps only qualifying changes so unrelated noise from the
// same window never reaches the message.
func FilterForDisplay(changes []Change) []Change {
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if Qualifies(c) {
			out = append(out, c)
		}
	}
	return out
}
