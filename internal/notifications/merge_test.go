package notifications

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusActivity(from, to string) Activity {
	return Activity{ActionType: ActionStatusChanged, OldValue: StringPtr(from), NewValue: StringPtr(to)}
}

func TestMergeActivities_KeepsValueBeforeWindow(t *testing.T) {
	merged := MergeActivities(nil, statusActivity("todo", "in_progress"))
	merged = MergeActivities(merged, statusActivity("in_progress", "done"))

	require.Len(t, merged, 1)
	assert.Equal(t, "todo", *merged[0].FirstOldValue)
	assert.Equal(t, "done", *merged[0].NewValue)

	changes := ExtractActivities(merged)
	require.Len(t, changes, 1)
	assert.Equal(t, "todo", *changes[0].Old)
	assert.Equal(t, "done", *changes[0].New)
}

func TestMergeActivities_NetZeroDisappears(t *testing.T) {
	merged := MergeActivities(
		[]Activity{statusActivity("todo", "in_progress")},
		statusActivity("in_progress", "todo"),
	)

	require.Len(t, merged, 1)
	assert.Empty(t, ExtractActivities(merged))
}

func TestMergeActivities_AssignFromNobodyAndBack(t *testing.T) {
	merged := MergeActivities(
		[]Activity{{ActionType: ActionAssigneeChanged, NewValue: StringPtr("3")}},
		Activity{ActionType: ActionAssigneeChanged, OldValue: StringPtr("3")},
	)

	assert.Empty(t, ExtractActivities(merged))
}

func TestMergeActivities_AssigneeAfterCreation(t *testing.T) {
	created := Activity{ActionType: ActionIssueCreated, IssueTitle: "Login page", Assignees: "3"}

	tests := []struct {
		name    string
		then    Activity
		wantNew *string
	}{
		{name: "reassigned", then: Activity{ActionType: ActionAssigneeChanged, OldValue: StringPtr("3"), NewValue: StringPtr("5")}, wantNew: StringPtr("5")},
		{name: "unassigned", then: Activity{ActionType: ActionAssigneeChanged, OldValue: StringPtr("3")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes := ExtractActivities(MergeActivities(nil, created, tt.then))

			var assignees []Change
			for _, c := range changes {
				if c.Type == ChangeAssignee {
					assignees = append(assignees, c)
				}
			}
			if tt.wantNew == nil {
				assert.Empty(t, assignees)
				return
			}
			require.Len(t, assignees, 1)
			assert.Nil(t, assignees[0].Old)
			assert.Equal(t, tt.wantNew, assignees[0].New)
		})
	}
}

func TestMergeActivities_AssigneeScopesStaySeparate(t *testing.T) {
	changes := ExtractActivities([]Activity{
		{ActionType: ActionSubtaskCreated, IssueTitle: "Write tests", SubtaskKey: "ENG-2", Assignees: "3"},
		{ActionType: ActionAssigneeChanged, OldValue: StringPtr("1"), NewValue: StringPtr("2")},
		{ActionType: ActionSubtaskUpdated, SubtaskKey: "ENG-2", Changes: []Activity{
			{ActionType: ActionAssigneeChanged, OldValue: StringPtr("3"), NewValue: StringPtr("4")},
		}},
	})

	require.Len(t, changes, 3)
	assert.Equal(t, "4", *changes[1].New)
	assert.Equal(t, "ENG-2", changes[1].SubtaskKey)
	assert.Equal(t, "1", *changes[2].Old)
	assert.Equal(t, "2", *changes[2].New)
}

func TestMergeActivities_Idempotent(t *testing.T) {
	a := statusActivity("todo", "review")
	once := MergeActivities(nil, a)
	twice := MergeActivities(once, a)

	assert.Equal(t, ExtractActivities(once), ExtractActivities(twice))
}

func TestMergeActivities_ReplacesByTypeAndKeepsOrder(t *testing.T) {
	existing := []Activity{
		{ActionType: ActionCommentAdded, CommentBody: "first"},
		statusActivity("todo", "in_progress"),
	}
	merged := MergeActivities(existing,
		Activity{ActionType: ActionCommentAdded, CommentBody: "second"},
		Activity{ActionType: ActionAssigneeChanged, NewValue: StringPtr("5")},
	)

	require.Len(t, merged, 3)
	assert.Equal(t, "second", merged[0].CommentBody)
	assert.Equal(t, ActionStatusChanged, merged[1].ActionType)
	assert.Equal(t, ActionAssigneeChanged, merged[2].ActionType)

	// Inputs are left alone.
	assert.Equal(t, "first", existing[0].CommentBody)
	assert.Nil(t, existing[1].FirstOldValue)
}

func TestMergeActivities_SubtaskScopes(t *testing.T) {
	parent := statusActivity("todo", "review")
	sub := statusActivity("todo", "done")
	sub.SubtaskKey = "ENG-2"
	other := statusActivity("todo", "in_progress")
	other.SubtaskKey = "ENG-3"

	merged := MergeActivities([]Activity{parent}, sub, other)

	assert.Len(t, merged, 3)
}

func TestMergeActivities_SubtaskWrappersMergeInside(t *testing.T) {
	first := Activity{
		ActionType: ActionSubtaskUpdated,
		SubtaskKey: "ENG-2",
		IssueTitle: "Write tests",
		Changes:    []Activity{statusActivity("todo", "in_progress")},
	}
	second := Activity{
		ActionType: ActionSubtaskUpdated,
		SubtaskKey: "ENG-2",
		Changes: []Activity{
			statusActivity("in_progress", "done"),
			{ActionType: ActionCommentAdded, CommentBody: "ok"},
		},
	}

	merged := MergeActivities([]Activity{first}, second)

	require.Len(t, merged, 1)
	assert.Equal(t, "Write tests", merged[0].IssueTitle)
	require.Len(t, merged[0].Changes, 2)
	assert.Equal(t, "todo", *merged[0].Changes[0].FirstOldValue)
	assert.Equal(t, "done", *merged[0].Changes[0].NewValue)
}

func TestMergeActivities_DescriptionFlagSticks(t *testing.T) {
	merged := MergeActivities(
		[]Activity{{ActionType: ActionPriorityChanged, OldValue: StringPtr("low"), NewValue: StringPtr("high"), DescriptionChanged: true}},
		Activity{ActionType: ActionPriorityChanged, OldValue: StringPtr("high"), NewValue: StringPtr("urgent")},
	)

	require.Len(t, merged, 1)
	assert.True(t, merged[0].DescriptionChanged)
}

func TestPayloadMerge_Grouped(t *testing.T) {
	p := Payload{Issues: []IssueActivities{
		{IssueID: "a", Changes: []Activity{statusActivity("todo", "in_progress")}},
	}}
	in := Payload{Issues: []IssueActivities{
		{IssueID: "b", Changes: []Activity{{ActionType: ActionAssigneeChanged, NewValue: StringPtr("3")}}},
		{IssueID: "a", Changes: []Activity{statusActivity("in_progress", "done")}},
	}}

	out := p.Merge(in)

	require.True(t, out.IsGrouped())
	require.Len(t, out.Issues, 2)
	assert.Equal(t, "a", out.Issues[0].IssueID)
	assert.Equal(t, "b", out.Issues[1].IssueID)
	require.Len(t, out.Issues[0].Changes, 1)
	assert.Equal(t, "todo", *out.Issues[0].Changes[0].FirstOldValue)
	assert.Empty(t, out.Changes)
}

func TestPayloadMerge_Flat(t *testing.T) {
	out := Payload{}.Merge(Payload{Changes: []Activity{{ActionType: ActionCommentAdded, CommentBody: "x"}}})

	assert.False(t, out.IsGrouped())
	assert.Len(t, out.Changes, 1)
}

func TestScheduleAt(t *testing.T) {
	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	window := time.Minute
	maxWait := 3 * time.Minute

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{name: "first event", now: first, want: first.Add(time.Minute)},
		{name: "debounced", now: first.Add(90 * time.Second), want: first.Add(150 * time.Second)},
		{name: "exactly at cap", now: first.Add(2 * time.Minute), want: first.Add(3 * time.Minute)},
		{name: "capped by max wait", now: first.Add(150 * time.Second), want: first.Add(3 * time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScheduleAt(tt.now, first, window, maxWait))
		})
	}
}
