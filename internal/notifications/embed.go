package notifications

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bissquit/issue-notifier/internal/domain"
)

// Embed colors.
const (
	ColorDeleted    = 0xED4245
	ColorInfo       = 0x5865F2
	ColorTodo       = 0x95A5A6
	ColorInProgress = 0x3498DB
	ColorReview     = 0xF39C12
	ColorDone       = 0x57F287
)

const (
	commentMaxLen     = 200
	entityTitleMaxLen = 100
	descriptionMaxLen = 500
	embedTitleMaxLen  = 200

	subtaskMarker = "└─"
)

var statusColors = map[domain.IssueStatus]int{
	domain.IssueStatusTodo:       ColorTodo,
	domain.IssueStatusInProgress: ColorInProgress,
	domain.IssueStatusReview:     ColorReview,
	domain.IssueStatusDone:       ColorDone,
}

// fieldOrder puts lifecycle changes first, then assignee, status, priority.
var fieldOrder = map[ChangeType]int{
	ChangeCreated:  0,
	ChangeDeleted:  0,
	ChangeAssignee: 1,
	ChangeStatus:   2,
	ChangePriority: 3,
}

// EmbedInput contains everything needed to render one issue's embed.
// Assignee values in Changes must already be resolved to names.
type EmbedInput struct {
	Issue           domain.Issue
	Changes         []Change
	ScheduledAt     time.Time
	URL             string
	ActorName       string
	Deleted         bool
	Subtasks        domain.SubtaskCounts
	ShowDescription bool
}

// BuildEmbed renders an issue's merged changes as an embed.
func BuildEmbed(in EmbedInput) Embed {
	changes := sortChanges(in.Changes)

	fields := make([]EmbedField, 0, len(changes)+2)
	for _, c := range changes {
		fields = append(fields, renderField(c, in.Issue.Key))
	}

	if in.Subtasks.Total > 0 {
		fields = append(fields, EmbedField{
			Name:  "Subtasks",
			Value: fmt.Sprintf("%d/%d subtasks done", in.Subtasks.Done, in.Subtasks.Total),
		})
	}

	if in.ShowDescription && strings.TrimSpace(in.Issue.Description) != "" {
		fields = append(fields, EmbedField{
			Name:  "Description",
			Value: truncate(in.Issue.Description, descriptionMaxLen),
		})
	}

	embed := Embed{
		Title:       embedTitle(in.Issue),
		URL:         in.URL,
		Description: relativeTime(in.ScheduledAt),
		Color:       embedColor(in),
		Fields:      fields,
	}
	if in.ActorName != "" {
		embed.Footer = &EmbedFooter{Text: "by " + in.ActorName}
	}
	return embed
}

func sortChanges(changes []Change) []Change {
	sorted := make([]Change, len(changes))
	copy(sorted, changes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return changeOrder(sorted[i].Type) < changeOrder(sorted[j].Type)
	})
	return sorted
}

func changeOrder(t ChangeType) int {
	if o, ok := fieldOrder[t]; ok {
		return o
	}
	return len(fieldOrder)
}

func embedColor(in EmbedInput) int {
	if in.Deleted {
		return ColorDeleted
	}
	if len(in.Changes) > 0 && onlyComments(in.Changes) {
		return ColorInfo
	}
	if c, ok := statusColors[in.Issue.Status]; ok {
		return c
	}
	return ColorInfo
}

func onlyComments(changes []Change) bool {
	for _, c := range changes {
		if c.Type != ChangeComment {
			return false
		}
	}
	return true
}

func embedTitle(issue domain.Issue) string {
	title := truncate(issue.Title, embedTitleMaxLen)
	if issue.Key != "" {
		title = fmt.Sprintf("[%s] %s", issue.Key, title)
	}
	if issue.IsSubtask() {
		title += " (Subtask)"
	}
	return title
}

// relativeTime renders a token the chat client shows as "2 minutes ago".
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("<t:%d:R>", t.UTC().Unix())
}

// subtaskPrefix marks changes that belong to a subtask folded into another
// issue's embed. A subtask's own embed does not mark its own changes.
func subtaskPrefix(c Change, ownKey string) string {
	if !c.IsSubtask || c.SubtaskKey == "" || c.SubtaskKey == ownKey {
		return ""
	}
	return fmt.Sprintf("%s [%s] ", subtaskMarker, c.SubtaskKey)
}

func renderField(c Change, ownKey string) EmbedField {
	prefix := subtaskPrefix(c, ownKey)

	switch c.Type {
	case ChangeComment:
		return EmbedField{Name: prefix + "Comment", Value: orNone(truncate(c.Value, commentMaxLen))}

	case ChangeCreated, ChangeDeleted:
		entity := "Issue"
		if c.IsSubtask {
			entity = "Subtask"
		}
		verb := "Created"
		if c.Type == ChangeDeleted {
			verb = "Deleted"
		}
		return EmbedField{
			Name:  fmt.Sprintf("%s%s %s", prefix, entity, verb),
			Value: `"` + truncate(c.Title, entityTitleMaxLen) + `"`,
		}

	case ChangeAssignee:
		return EmbedField{Name: prefix + "Assignee", Value: formatAssignee(derefString(c.Old), derefString(c.New))}

	case ChangeStatus, ChangePriority:
		return EmbedField{
			Name:  prefix + humanLabel(string(c.Type)),
			Value: formatTransition(humanLabel(derefString(c.Old)), humanLabel(derefString(c.New))),
		}

	default:
		return EmbedField{
			Name:  prefix + humanLabel(string(c.Type)),
			Value: formatTransition(derefString(c.Old), orNone(derefString(c.New))),
		}
	}
}

func formatTransition(from, to string) string {
	switch {
	case from == "":
		return "**" + orNone(to) + "**"
	case to == "":
		return "~~" + from + "~~ → *None*"
	default:
		return "~~" + from + "~~ → **" + to + "**"
	}
}

func formatAssignee(from, to string) string {
	switch {
	case from == "" && to == "":
		return "Unassigned"
	case from == "":
		return "Assigned to **" + to + "**"
	case to == "":
		return "~~" + from + "~~ → Unassigned"
	default:
		return "~~" + from + "~~ → **" + to + "**"
	}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None"
	}
	return s
}
