package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractChanges(t *testing.T) {
	tests := []struct {
		name     string
		activity Activity
		want     []Change
	}{
		{
			name:     "comment keeps full body",
			activity: Activity{ActionType: ActionCommentAdded, CommentBody: "a long comment body"},
			want:     []Change{{Type: ChangeComment, Value: "a long comment body"}},
		},
		{
			name:     "issue created without assignee",
			activity: Activity{ActionType: ActionIssueCreated, IssueTitle: "Login page"},
			want:     []Change{{Type: ChangeCreated, Title: "Login page"}},
		},
		{
			name:     "subtask created with assignee",
			activity: Activity{ActionType: ActionSubtaskCreated, IssueTitle: "Write tests", SubtaskKey: "ENG-2", Assignees: "3,5"},
			want: []Change{
				{Type: ChangeCreated, IsSubtask: true, SubtaskKey: "ENG-2", Title: "Write tests"},
				{Type: ChangeAssignee, New: StringPtr("3,5"), IsSubtask: true, SubtaskKey: "ENG-2"},
			},
		},
		{
			name:     "deleted carries title",
			activity: Activity{ActionType: ActionIssueDeleted, IssueTitle: "Old bug"},
			want:     []Change{{Type: ChangeDeleted, Title: "Old bug"}},
		},
		{
			name:     "subtask deleted",
			activity: Activity{ActionType: ActionSubtaskDeleted, IssueTitle: "Spike", SubtaskKey: "ENG-9"},
			want:     []Change{{Type: ChangeDeleted, IsSubtask: true, SubtaskKey: "ENG-9", Title: "Spike"}},
		},
		{
			name: "field change",
			activity: Activity{
				ActionType: ActionStatusChanged,
				OldValue:   StringPtr("todo"),
				NewValue:   StringPtr("review"),
			},
			want: []Change{{Type: ChangeStatus, Old: StringPtr("todo"), New: StringPtr("review")}},
		},
		{
			name: "bare type is accepted",
			activity: Activity{
				ActionType: "priority",
				OldValue:   StringPtr("low"),
				NewValue:   StringPtr("high"),
			},
			want: []Change{{Type: ChangePriority, Old: StringPtr("low"), New: StringPtr("high")}},
		},
		{
			name: "first old value wins over intermediate old value",
			activity: Activity{
				ActionType:    ActionStatusChanged,
				OldValue:      StringPtr("in_progress"),
				NewValue:      StringPtr("done"),
				FirstOldValue: StringPtr("todo"),
			},
			want: []Change{{Type: ChangeStatus, Old: StringPtr("todo"), New: StringPtr("done")}},
		},
		{
			name: "net zero is dropped",
			activity: Activity{
				ActionType:    ActionStatusChanged,
				OldValue:      StringPtr("in_progress"),
				NewValue:      StringPtr("todo"),
				FirstOldValue: StringPtr("todo"),
			},
			want: []Change{},
		},
		{
			name: "unassign then reassign to nobody nets to zero",
			activity: Activity{
				ActionType:    ActionAssigneeChanged,
				OldValue:      StringPtr("3"),
				FirstOldValue: StringPtr(""),
			},
			want: []Change{},
		},
		{
			name: "subtask wrapper is unwrapped and stamped",
			activity: Activity{
				ActionType: ActionSubtaskUpdated,
				SubtaskKey: "ENG-2",
				Changes: []Activity{
					{ActionType: ActionStatusChanged, OldValue: StringPtr("todo"), NewValue: StringPtr("done")},
					{ActionType: ActionCommentAdded, CommentBody: "done"},
				},
			},
			want: []Change{
				{Type: ChangeStatus, Old: StringPtr("todo"), New: StringPtr("done"), IsSubtask: true, SubtaskKey: "ENG-2"},
				{Type: ChangeComment, Value: "done", IsSubtask: true, SubtaskKey: "ENG-2"},
			},
		},
		{
			name: "unknown wrapper with nested changes is flattened",
			activity: Activity{
				ActionType: "bulk_update",
				Changes: []Activity{
					{ActionType: ActionPriorityChanged, OldValue: StringPtr("low"), NewValue: StringPtr("urgent")},
				},
			},
			want: []Change{{Type: ChangePriority, Old: StringPtr("low"), New: StringPtr("urgent")}},
		},
		{
			name:     "unknown action without changes",
			activity: Activity{ActionType: "attachment_added"},
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractChanges(tt.activity)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractActivities_PreservesOrder(t *testing.T) {
	got := ExtractActivities([]Activity{
		{ActionType: ActionCommentAdded, CommentBody: "first"},
		{ActionType: ActionAssigneeChanged, NewValue: StringPtr("7")},
		{ActionType: ActionCommentAdded, CommentBody: "second"},
	})

	require.Len(t, got, 3)
	assert.Equal(t, ChangeComment, got[0].Type)
	assert.Equal(t, ChangeAssignee, got[1].Type)
	assert.Equal(t, "second", got[2].Value)
}
