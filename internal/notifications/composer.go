package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bissquit/issue-notifier/internal/domain"
	"github.com/bissquit/issue-notifier/internal/pkg/ctxlog"
)

// MaxEmbedsPerMessage is the webhook provider's limit of embeds per message.
const MaxEmbedsPerMessage = 10

// ComposerConfig contains composer configuration.
type ComposerConfig struct {
	BaseURL   string
	MaxEmbeds int
}

// Composer turns a queued batch into a webhook message, reading the current
// state of every issue involved so the message reflects where things ended up.
type Composer struct {
	reader IssueReader
	config ComposerConfig
}

// NewComposer creates a new Composer.
func NewComposer(reader IssueReader, config ComposerConfig) *Composer {
	if config.MaxEmbeds <= 0 || config.MaxEmbeds > MaxEmbedsPerMessage {
		config.MaxEmbeds = MaxEmbedsPerMessage
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Composer{reader: reader, config: config}
}

// Compose builds the message for a queued batch. A nil message with a nil
// error means there is nothing worth sending and the batch is consumed.
func (c *Composer) Compose(ctx context.Context, item *QueuedNotification) (*WebhookMessage, error) {
	groups := []IssueActivities{{IssueID: item.IssueID, Changes: item.Payload.Changes}}
	if item.Payload.IsGrouped() {
		groups = c.groups(item)
	}

	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.IssueID)
	}

	issues, err := c.loadIssues(ctx, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]*composeEntry, 0, len(groups))
	byID := make(map[string]*composeEntry, len(groups))
	for _, g := range groups {
		all := ExtractActivities(g.Changes)
		e := &composeEntry{
			issueID:    g.IssueID,
			issue:      issues[g.IssueID],
			activities: g.Changes,
			all:        all,
			display:    FilterForDisplay(all),
		}
		entries = append(entries, e)
		byID[e.issueID] = e
	}

	foldSubtasks(entries, byID)

	names, err := c.userNames(ctx, item.UserID, entries)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("failed to resolve user names", "error", err)
		names = map[string]string{}
	}

	embeds := make([]Embed, 0, len(entries))
	for _, e := range entries {
		if e.folded {
			continue
		}
		embed, ok, err := c.render(ctx, item, e, names)
		if err != nil {
			return nil, err
		}
		if ok {
			embeds = append(embeds, embed)
		}
	}

	if len(embeds) == 0 {
		return nil, nil
	}

	if len(embeds) > c.config.MaxEmbeds {
		ctxlog.FromContext(ctx).Warn("notification batch exceeds embed limit, truncating",
			"embeds", len(embeds),
			"limit", c.config.MaxEmbeds,
		)
		embeds = embeds[:c.config.MaxEmbeds]
	}

	return &WebhookMessage{Embeds: embeds}, nil
}

type composeEntry struct {
	issueID    string
	issue      *domain.Issue
	activities []Activity
	all        []Change
	display    []Change
	folded     bool
}

// groups returns the issues of a grouped batch, with changes queued directly
// on the anchor issue merged in as its own group.
func (c *Composer) groups(item *QueuedNotification) []IssueActivities {
	var anchor Payload
	if len(item.Payload.Changes) > 0 {
		anchor.Issues = []IssueActivities{{IssueID: item.IssueID, Changes: item.Payload.Changes}}
	}
	return anchor.Merge(Payload{Issues: item.Payload.Issues}).Issues
}

func (c *Composer) loadIssues(ctx context.Context, ids []string) (map[string]*domain.Issue, error) {
	if len(ids) == 1 {
		issue, err := c.reader.GetIssue(ctx, ids[0])
		if errors.Is(err, ErrIssueNotFound) {
			return map[string]*domain.Issue{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("get issue %s: %w", ids[0], err)
		}
		return map[string]*domain.Issue{ids[0]: issue}, nil
	}

	issues, err := c.reader.GetIssues(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get issues: %w", err)
	}
	return issues, nil
}

// foldSubtasks moves the changes of subtasks whose parent is part of the same
// batch into the parent's entry. Orphan subtasks keep their own entry.
func foldSubtasks(entries []*composeEntry, byID map[string]*composeEntry) {
	for _, e := range entries {
		if e.issue == nil || !e.issue.IsSubtask() {
			continue
		}
		parent, ok := byID[e.issue.ParentID]
		if !ok || parent.issue == nil {
			continue
		}
		for _, ch := range e.display {
			ch.IsSubtask = true
			if ch.SubtaskKey == "" {
				ch.SubtaskKey = e.issue.Key
			}
			parent.display = append(parent.display, ch)
		}
		e.folded = true
	}
}

func (c *Composer) userNames(ctx context.Context, actorID string, entries []*composeEntry) (map[string]string, error) {
	ids := []string{actorID}
	for _, e := range entries {
		for _, id := range AssigneeIDs(e.display) {
			if id != actorID {
				ids = append(ids, id)
			}
		}
	}
	return c.reader.GetUserNames(ctx, ids)
}

func (c *Composer) render(ctx context.Context, item *QueuedNotification, e *composeEntry, names map[string]string) (Embed, bool, error) {
	if len(e.display) == 0 {
		return Embed{}, false, nil
	}

	// Lifecycle changes of the issue itself give the qualifying changes context.
	display := append(ownLifecycle(e.all), e.display...)

	issue := e.issue
	deleted := false
	if issue == nil {
		fallback, ok := deletedIssue(e.issueID, e.activities)
		if !ok {
			ctxlog.FromContext(ctx).Info("issue no longer exists, skipping", "entity_id", e.issueID)
			return Embed{}, false, nil
		}
		issue = fallback
		deleted = true
	}

	var subtasks domain.SubtaskCounts
	if !deleted && !issue.IsSubtask() {
		counts, err := c.reader.GetSubtaskCounts(ctx, issue.ID)
		if err != nil {
			return Embed{}, false, fmt.Errorf("get subtask counts for %s: %w", issue.ID, err)
		}
		subtasks = counts
	}

	embed := BuildEmbed(EmbedInput{
		Issue:           *issue,
		Changes:         ResolveAssignees(display, names),
		ScheduledAt:     item.ScheduledAt,
		URL:             c.issueURL(issue.Key),
		ActorName:       actorName(item.UserID, names),
		Deleted:         deleted,
		Subtasks:        subtasks,
		ShowDescription: !deleted && (hasOwnCreation(e.all) || descriptionChanged(e.activities)),
	})
	return embed, true, nil
}

func (c *Composer) issueURL(key string) string {
	if c.config.BaseURL == "" || key == "" {
		return ""
	}
	return fmt.Sprintf("%s/issues/%s", c.config.BaseURL, key)
}

func actorName(userID string, names map[string]string) string {
	if name, ok := names[userID]; ok && name != "" {
		return name
	}
	return ""
}

func ownLifecycle(changes []Change) []Change {
	out := make([]Change, 0)
	for _, c := range changes {
		if (c.Type == ChangeCreated || c.Type == ChangeDeleted) && !c.IsSubtask {
			out = append(out, c)
		}
	}
	return out
}

func hasOwnCreation(changes []Change) bool {
	for _, c := range changes {
		if c.Type == ChangeCreated && !c.IsSubtask {
			return true
		}
	}
	return false
}

func descriptionChanged(activities []Activity) bool {
	for _, a := range activities {
		if a.DescriptionChanged {
			return true
		}
	}
	return false
}

// deletedIssue rebuilds what is known about a deleted issue from its
// deletion activity, since the row itself is gone from storage.
func deletedIssue(issueID string, activities []Activity) (*domain.Issue, bool) {
	var found bool
	issue := &domain.Issue{ID: issueID}
	for _, a := range activities {
		if a.IssueKey != "" {
			issue.Key = a.IssueKey
		}
		switch a.ActionType {
		case ActionIssueDeleted, ActionSubtaskDeleted, string(ChangeDeleted):
			if a.SubtaskKey == "" {
				found = true
				issue.Title = a.IssueTitle
			}
		}
	}
	return issue, found
}
