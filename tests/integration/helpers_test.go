//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/issue-notifier/internal/domain"
	"github.com/bissquit/issue-notifier/internal/notifications"
)

const (
	testTimeout = 10 * time.Second
	testTick    = 50 * time.Millisecond
)

// trackerSchema mirrors the tables owned by the tracker's CRUD layer.
const trackerSchema = `
CREATE TABLE IF NOT EXISTS issues (
    id TEXT PRIMARY KEY,
    "key" TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    description TEXT,
    status VARCHAR(20) NOT NULL,
    priority VARCHAR(20) NOT NULL,
    parent_id TEXT REFERENCES issues(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL
);
`

// createIssue inserts an issue with a unique key and returns it.
func createIssue(t *testing.T, title string, status domain.IssueStatus, parentID string) *domain.Issue {
	t.Helper()

	issue := &domain.Issue{
		ID:       uuid.NewString(),
		Key:      "ENG-" + strings.ToUpper(uuid.NewString()[:8]),
		Title:    title,
		Status:   status,
		Priority: domain.PriorityMedium,
		ParentID: parentID,
	}

	var parent *string
	if parentID != "" {
		parent = &parentID
	}
	_, err := testDB.Exec(context.Background(),
		`INSERT INTO issues (id, "key", title, description, status, priority, parent_id) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		issue.ID, issue.Key, issue.Title, "", issue.Status, issue.Priority, parent,
	)
	require.NoError(t, err)
	return issue
}

// createUser inserts a user and returns its id.
func createUser(t *testing.T, name string) string {
	t.Helper()

	id := uuid.NewString()
	_, err := testDB.Exec(context.Background(), `INSERT INTO users (id, name) VALUES ($1, $2)`, id, name)
	require.NoError(t, err)
	return id
}

func deleteIssue(t *testing.T, id string) {
	t.Helper()
	_, err := testDB.Exec(context.Background(), `DELETE FROM issues WHERE id = $1`, id)
	require.NoError(t, err)
}

func statusActivity(from, to string) notifications.Activity {
	return notifications.Activity{
		ActionType: notifications.ActionStatusChanged,
		OldValue:   notifications.StringPtr(from),
		NewValue:   notifications.StringPtr(to),
	}
}

func enqueueInput(issueID, userID string, now time.Time, activities ...notifications.Activity) notifications.EnqueueInput {
	return notifications.EnqueueInput{
		IssueID:   issueID,
		UserID:    userID,
		EventType: notifications.EventTypeUpdate,
		Payload:   notifications.Payload{Changes: activities},
		Now:       now,
		Window:    time.Minute,
		MaxWait:   3 * time.Minute,
	}
}

// queueRows returns every row of the pair, oldest first.
func queueRows(t *testing.T, issueID, userID string) []queueRow {
	t.Helper()

	rows, err := testDB.Query(context.Background(), `
		SELECT id::text, status, attempt_count, COALESCE(error_message, '')
		FROM notification_queue
		WHERE issue_id = $1 AND user_id = $2
		ORDER BY created_at, id
	`, issueID, userID)
	require.NoError(t, err)
	defer rows.Close()

	var out []queueRow
	for rows.Next() {
		var r queueRow
		require.NoError(t, rows.Scan(&r.ID, &r.Status, &r.Attempts, &r.Error))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

type queueRow struct {
	ID       string
	Status   notifications.QueueStatus
	Attempts int
	Error    string
}

// webhookRecorder is the chat webhook endpoint. It answers with the next
// scripted status or 204 when the script is exhausted.
type webhookRecorder struct {
	mu       sync.Mutex
	messages []notifications.WebhookMessage
	statuses []int
}

func (w *webhookRecorder) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var msg notifications.WebhookMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msg)

	status := http.StatusNoContent
	if len(w.statuses) > 0 {
		status = w.statuses[0]
		w.statuses = w.statuses[1:]
	}
	if status == http.StatusTooManyRequests {
		rw.Header().Set("Retry-After", "0")
	}
	rw.WriteHeader(status)
}

func (w *webhookRecorder) script(statuses ...int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.statuses = append(w.statuses, statuses...)
}

// embedsFor returns every delivered embed whose title mentions key.
func (w *webhookRecorder) embedsFor(key string) []notifications.Embed {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []notifications.Embed
	for _, m := range w.messages {
		for _, e := range m.Embeds {
			if strings.Contains(e.Title, "["+key+"]") {
				out = append(out, e)
			}
		}
	}
	return out
}

// resetPending drops pending batches left behind by earlier tests so scripted
// webhook responses reach the batch under test.
func resetPending(t *testing.T) {
	t.Helper()
	_, err := testDB.Exec(context.Background(), `DELETE FROM notification_queue WHERE status = 'pending'`)
	require.NoError(t, err)
}

// runUntilDelivered drives processing cycles until an embed for key arrives.
func runUntilDelivered(t *testing.T, key string) []notifications.Embed {
	t.Helper()

	var embeds []notifications.Embed
	require.Eventually(t, func() bool {
		testApp.Processor().RunOnce(context.Background())
		embeds = webhookCalls.embedsFor(key)
		return len(embeds) > 0
	}, testTimeout, testTick)
	return embeds
}
