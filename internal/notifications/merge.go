package notifications

import "time"

// activitySet is an insertion-ordered map of activities keyed by what they change.
type activitySet struct {
	keys  []string
	items map[string]Activity
}

func newActivitySet(capacity int) *activitySet {
	return &activitySet{
		keys:  make([]string, 0, capacity),
		items: make(map[string]Activity, capacity),
	}
}

// mergeKey returns the replacement key of an activity. Changes scoped to a
// subtask never replace changes of the parent or of another subtask.
func mergeKey(a Activity) string {
	scope := ""
	if a.SubtaskKey != "" {
		scope = "@" + a.SubtaskKey
	}

	if t, ok := fieldChangeType(a.ActionType); ok {
		return string(t) + scope
	}

	switch a.ActionType {
	case ActionSubtaskUpdated:
		return "subtask" + scope
	case ActionCommentAdded, string(ChangeComment):
		return string(ChangeComment) + scope
	case ActionIssueCreated, ActionSubtaskCreated, string(ChangeCreated):
		return string(ChangeCreated) + scope
	case ActionIssueDeleted, ActionSubtaskDeleted, string(ChangeDeleted):
		return string(ChangeDeleted) + scope
	default:
		return a.ActionType + scope
	}
}

func (s *activitySet) put(a Activity) {
	key := mergeKey(a)
	prev, ok := s.items[key]
	if !ok {
		s.keys = append(s.keys, key)
		s.items[key] = a
		return
	}

	if a.ActionType == ActionSubtaskUpdated && prev.ActionType == ActionSubtaskUpdated {
		a.Changes = MergeActivities(prev.Changes, a.Changes...)
		if a.IssueTitle == "" {
			a.IssueTitle = prev.IssueTitle
		}
	} else if _, isField := fieldChangeType(a.ActionType); isField {
		// The value before the window opened survives every replacement so
		// the extractor can still detect a net-zero change.
		first := prev.FirstOldValue
		if first == nil {
			first = prev.OldValue
		}
		if first == nil {
			first = StringPtr("")
		}
		a.FirstOldValue = StringPtr(*first)
		a.OldValue = StringPtr(*first)
	}
	a.DescriptionChanged = a.DescriptionChanged || prev.DescriptionChanged

	s.items[key] = a
}

func (s *activitySet) list() []Activity {
	out := make([]Activity, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.items[k])
	}
	return out
}

// MergeActivities merges incoming activities into existing ones by
// type-keyed replacement: an activity of an already present kind replaces it
// in place, anything else is appended. Inputs are not modified.
func MergeActivities(existing []Activity, incoming ...Activity) []Activity {
	set := newActivitySet(len(existing) + len(incoming))
	for _, a := range existing {
		set.put(a)
	}
	for _, a := range incoming {
		set.put(a)
	}
	return set.list()
}

// Merge folds an incoming payload into p and returns the result.
func (p Payload) Merge(in Payload) Payload {
	out := Payload{}
	if len(p.Changes) > 0 || len(in.Changes) > 0 {
		out.Changes = MergeActivities(p.Changes, in.Changes...)
	}
	if len(p.Issues) == 0 && len(in.Issues) == 0 {
		return out
	}

	index := make(map[string]int, len(p.Issues)+len(in.Issues))
	issues := make([]IssueActivities, 0, len(p.Issues)+len(in.Issues))
	for _, group := range [][]IssueActivities{p.Issues, in.Issues} {
		for _, ia := range group {
			if i, ok := index[ia.IssueID]; ok {
				issues[i].Changes = MergeActivities(issues[i].Changes, ia.Changes...)
				continue
			}
			index[ia.IssueID] = len(issues)
			issues = append(issues, IssueActivities{
				IssueID: ia.IssueID,
				Changes: MergeActivities(nil, ia.Changes...),
			})
		}
	}
	out.Issues = issues
	return out
}

// ScheduleAt returns when a batch becomes due: one debounce window after the
// latest event, but never later than maxWait after the first one.
func ScheduleAt(now, firstQueuedAt time.Time, window, maxWait time.Duration) time.Time {
	debounced := now.Add(window)
	deadline := firstQueuedAt.Add(maxWait)
	if deadline.Before(debounced) {
		return deadline
	}
	return debounced
}
