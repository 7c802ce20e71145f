package notifications

// fieldChangeType maps a field-change action to the change type it produces.
func fieldChangeType(action string) (ChangeType, bool) {
	switch action {
	case ActionStatusChanged, string(ChangeStatus):
		return ChangeStatus, true
	case ActionPriorityChanged, string(ChangePriority):
		return ChangePriority, true
	case ActionAssigneeChanged, string(ChangeAssignee):
		return ChangeAssignee, true
	default:
		return "", false
	}
}

// ExtractActivities flattens a list of activities into changes, preserving order.
// Assignee changes of one issue collapse into a single change from the first
// old value to the latest new value.
func ExtractActivities(activities []Activity) []Change {
	changes := make([]Change, 0, len(activities))
	for _, a := range activities {
		changes = append(changes, ExtractChanges(a)...)
	}
	return collapseAssignees(changes)
}

func collapseAssignees(changes []Change) []Change {
	first := make(map[string]int)
	collapsed := make(map[int]bool)
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if c.Type != ChangeAssignee {
			out = append(out, c)
			continue
		}
		if i, ok := first[c.SubtaskKey]; ok {
			out[i].New = c.New
			collapsed[i] = true
			continue
		}
		first[c.SubtaskKey] = len(out)
		out = append(out, c)
	}
	if len(collapsed) == 0 {
		return out
	}

	kept := out[:0]
	for i, c := range out {
		if collapsed[i] && derefString(c.Old) == derefString(c.New) {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// ExtractChanges converts one raw activity into normalized changes.
// Field changes whose value returned to the value it had before the
// batching window opened are dropped.
func ExtractChanges(a Activity) []Change {
	switch a.ActionType {
	case ActionCommentAdded, string(ChangeComment):
		return []Change{{Type: ChangeComment, Value: a.CommentBody}}

	case ActionIssueCreated, ActionSubtaskCreated, string(ChangeCreated):
		isSubtask := a.ActionType == ActionSubtaskCreated || a.SubtaskKey != ""
		changes := []Change{{
			Type:       ChangeCreated,
			IsSubtask:  isSubtask,
			SubtaskKey: a.SubtaskKey,
			Title:      a.IssueTitle,
		}}
		if a.Assignees != "" {
			changes = append(changes, Change{
				Type:       ChangeAssignee,
				New:        StringPtr(a.Assignees),
				IsSubtask:  isSubtask,
				SubtaskKey: a.SubtaskKey,
			})
		}
		return changes

	case ActionIssueDeleted, ActionSubtaskDeleted, string(ChangeDeleted):
		return []Change{{
			Type:       ChangeDeleted,
			IsSubtask:  a.ActionType == ActionSubtaskDeleted || a.SubtaskKey != "",
			SubtaskKey: a.SubtaskKey,
			Title:      a.IssueTitle,
		}}

	case ActionSubtaskUpdated:
		inner := ExtractActivities(a.Changes)
		for i := range inner {
			inner[i].IsSubtask = true
			if inner[i].SubtaskKey == "" {
				inner[i].SubtaskKey = a.SubtaskKey
			}
		}
		return inner
	}

	if t, ok := fieldChangeType(a.ActionType); ok {
		if a.FirstOldValue != nil && *a.FirstOldValue == derefString(a.NewValue) {
			return nil
		}
		old := a.OldValue
		if a.FirstOldValue != nil {
			old = a.FirstOldValue
		}
		return []Change{{
			Type:       t,
			Old:        old,
			New:        a.NewValue,
			IsSubtask:  a.SubtaskKey != "",
			SubtaskKey: a.SubtaskKey,
		}}
	}

	if len(a.Changes) > 0 {
		return ExtractActivities(a.Changes)
	}
	return nil
}
