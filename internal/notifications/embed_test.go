package notifications

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/issue-notifier/internal/domain"
)

func TestBuildEmbed_StatusChange(t *testing.T) {
	scheduled := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	embed := BuildEmbed(EmbedInput{
		Issue:       domain.Issue{ID: "i1", Key: "ENG-1", Title: "Login page", Status: domain.IssueStatusReview},
		Changes:     []Change{statusChange("todo", "review")},
		ScheduledAt: scheduled,
		URL:         "https://board.example.com/issues/ENG-1",
		ActorName:   "Dana",
	})

	assert.Equal(t, "[ENG-1] Login page", embed.Title)
	assert.Equal(t, "https://board.example.com/issues/ENG-1", embed.URL)
	assert.Equal(t, ColorReview, embed.Color)
	assert.Equal(t, "<t:1714564800:R>", embed.Description)
	require.NotNil(t, embed.Footer)
	assert.Equal(t, "by Dana", embed.Footer.Text)
	require.Len(t, embed.Fields, 1)
	assert.Equal(t, EmbedField{Name: "Status", Value: "~~To Do~~ → **Review**"}, embed.Fields[0])
}

func TestBuildEmbed_Colors(t *testing.T) {
	tests := []struct {
		name string
		in   EmbedInput
		want int
	}{
		{
			name: "todo",
			in:   EmbedInput{Issue: domain.Issue{Status: domain.IssueStatusTodo}, Changes: []Change{{Type: ChangeAssignee, New: StringPtr("Ann")}}},
			want: ColorTodo,
		},
		{
			name: "in progress",
			in:   EmbedInput{Issue: domain.Issue{Status: domain.IssueStatusInProgress}, Changes: []Change{{Type: ChangeAssignee, New: StringPtr("Ann")}}},
			want: ColorInProgress,
		},
		{
			name: "done",
			in:   EmbedInput{Issue: domain.Issue{Status: domain.IssueStatusDone}, Changes: []Change{statusChange("in_progress", "done")}},
			want: ColorDone,
		},
		{
			name: "deleted wins over status",
			in:   EmbedInput{Issue: domain.Issue{Status: domain.IssueStatusDone}, Deleted: true, Changes: []Change{{Type: ChangeDeleted, Title: "x"}}},
			want: ColorDeleted,
		},
		{
			name: "comments only",
			in:   EmbedInput{Issue: domain.Issue{Status: domain.IssueStatusDone}, Changes: []Change{{Type: ChangeComment, Value: "hi"}}},
			want: ColorInfo,
		},
		{
			name: "unknown status",
			in:   EmbedInput{Issue: domain.Issue{Status: "archived"}, Changes: []Change{{Type: ChangeAssignee, New: StringPtr("Ann")}}},
			want: ColorInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildEmbed(tt.in).Color)
		})
	}
}

func TestBuildEmbed_FieldOrder(t *testing.T) {
	embed := BuildEmbed(EmbedInput{
		Issue: domain.Issue{Key: "ENG-1", Title: "t", Status: domain.IssueStatusDone},
		Changes: []Change{
			{Type: ChangeComment, Value: "note"},
			{Type: ChangePriority, Old: StringPtr("low"), New: StringPtr("high")},
			statusChange("in_progress", "done"),
			{Type: ChangeAssignee, New: StringPtr("Ann")},
			{Type: ChangeCreated, Title: "t"},
		},
	})

	names := make([]string, 0, len(embed.Fields))
	for _, f := range embed.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Issue Created", "Assignee", "Status", "Priority", "Comment"}, names)
}

func TestRenderField(t *testing.T) {
	tests := []struct {
		name   string
		change Change
		want   EmbedField
	}{
		{
			name:   "assigned from nobody",
			change: Change{Type: ChangeAssignee, New: StringPtr("Ann and Bo")},
			want:   EmbedField{Name: "Assignee", Value: "Assigned to **Ann and Bo**"},
		},
		{
			name:   "unassigned",
			change: Change{Type: ChangeAssignee, Old: StringPtr("Ann")},
			want:   EmbedField{Name: "Assignee", Value: "~~Ann~~ → Unassigned"},
		},
		{
			name:   "reassigned",
			change: Change{Type: ChangeAssignee, Old: StringPtr("Ann"), New: StringPtr("Bo")},
			want:   EmbedField{Name: "Assignee", Value: "~~Ann~~ → **Bo**"},
		},
		{
			name:   "status without old value",
			change: statusChange("", "done"),
			want:   EmbedField{Name: "Status", Value: "**Done**"},
		},
		{
			name:   "priority cleared",
			change: Change{Type: ChangePriority, Old: StringPtr("urgent")},
			want:   EmbedField{Name: "Priority", Value: "~~Urgent~~ → *None*"},
		},
		{
			name:   "subtask created",
			change: Change{Type: ChangeCreated, IsSubtask: true, SubtaskKey: "ENG-2", Title: "Write tests"},
			want:   EmbedField{Name: "└─ [ENG-2] Subtask Created", Value: `"Write tests"`},
		},
		{
			name:   "issue deleted",
			change: Change{Type: ChangeDeleted, Title: "Old bug"},
			want:   EmbedField{Name: "Issue Deleted", Value: `"Old bug"`},
		},
		{
			name:   "subtask status",
			change: Change{Type: ChangeStatus, Old: StringPtr("in_progress"), New: StringPtr("done"), IsSubtask: true, SubtaskKey: "ENG-2"},
			want:   EmbedField{Name: "└─ [ENG-2] Status", Value: "~~In Progress~~ → **Done**"},
		},
		{
			name:   "own subtask changes are not prefixed",
			change: Change{Type: ChangeStatus, New: StringPtr("done"), IsSubtask: true, SubtaskKey: "ENG-1"},
			want:   EmbedField{Name: "Status", Value: "**Done**"},
		},
		{
			name:   "empty comment",
			change: Change{Type: ChangeComment},
			want:   EmbedField{Name: "Comment", Value: "None"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderField(tt.change, "ENG-1"))
		})
	}
}

func TestBuildEmbed_Truncation(t *testing.T) {
	long := strings.Repeat("a", 600)
	embed := BuildEmbed(EmbedInput{
		Issue: domain.Issue{Key: "ENG-1", Title: long, Description: long},
		Changes: []Change{
			{Type: ChangeComment, Value: long},
			{Type: ChangeCreated, Title: long},
		},
		ShowDescription: true,
	})

	assert.Equal(t, "[ENG-1] "+strings.Repeat("a", 200)+"...", embed.Title)
	require.Len(t, embed.Fields, 3)
	assert.Equal(t, `"`+strings.Repeat("a", 100)+`..."`, embed.Fields[0].Value)
	assert.Equal(t, strings.Repeat("a", 200)+"...", embed.Fields[1].Value)
	assert.Equal(t, "Description", embed.Fields[2].Name)
	assert.Equal(t, strings.Repeat("a", 500)+"...", embed.Fields[2].Value)
}

func TestBuildEmbed_SubtaskAndCounts(t *testing.T) {
	sub := BuildEmbed(EmbedInput{
		Issue:   domain.Issue{Key: "ENG-2", Title: "Write tests", ParentID: "i1", Status: domain.IssueStatusDone},
		Changes: []Change{statusChange("in_progress", "done")},
	})
	assert.Equal(t, "[ENG-2] Write tests (Subtask)", sub.Title)
	assert.Nil(t, sub.Footer)

	parent := BuildEmbed(EmbedInput{
		Issue:    domain.Issue{Key: "ENG-1", Title: "Login page", Status: domain.IssueStatusReview},
		Changes:  []Change{statusChange("in_progress", "review")},
		Subtasks: domain.SubtaskCounts{Done: 2, Total: 3},
	})
	require.Len(t, parent.Fields, 2)
	assert.Equal(t, EmbedField{Name: "Subtasks", Value: "2/3 subtasks done"}, parent.Fields[1])
}

func TestBuildEmbed_DescriptionHiddenByDefault(t *testing.T) {
	embed := BuildEmbed(EmbedInput{
		Issue:   domain.Issue{Key: "ENG-1", Title: "t", Description: "details"},
		Changes: []Change{{Type: ChangeAssignee, New: StringPtr("Ann")}},
	})

	require.Len(t, embed.Fields, 1)
	assert.Empty(t, embed.Description)
}
