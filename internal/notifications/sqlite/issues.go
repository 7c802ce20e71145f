package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bissquit/issue-notifier/internal/domain"
	"github.com/bissquit/issue-notifier/internal/notifications"
)

const issueColumns = `id, "key", title, COALESCE(description, ''), status, priority, COALESCE(parent_id, '')`

// IssueReader implements notifications.IssueReader over the tracker tables.
type IssueReader struct {
	db *sql.DB
}

// NewIssueReader creates a new SQLite issue reader.
func NewIssueReader(db *sql.DB) *IssueReader {
	return &IssueReader{db: db}
}

// GetIssue retrieves an issue by ID.
func (r *IssueReader) GetIssue(ctx context.Context, id string) (*domain.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE id = ?`
	issue, err := scanIssue(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notifications.ErrIssueNotFound
		}
		return nil, fmt.Errorf("get issue: %w", err)
	}
	return issue, nil
}

// GetIssues retrieves the issues that still exist among ids.
func (r *IssueReader) GetIssues(ctx context.Context, ids []string) (map[string]*domain.Issue, error) {
	issues := make(map[string]*domain.Issue, len(ids))
	if len(ids) == 0 {
		return issues, nil
	}

	query := `SELECT ` + issueColumns + ` FROM issues WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := r.db.QueryContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("get issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues[issue.ID] = issue
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return issues, nil
}

// GetSubtaskCounts counts the subtasks of a parent issue.
func (r *IssueReader) GetSubtaskCounts(ctx context.Context, parentID string) (domain.SubtaskCounts, error) {
	query := `
		SELECT COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0), COUNT(*)
		FROM issues
		WHERE parent_id = ?
	`
	var counts domain.SubtaskCounts
	if err := r.db.QueryRowContext(ctx, query, parentID).Scan(&counts.Done, &counts.Total); err != nil {
		return domain.SubtaskCounts{}, fmt.Errorf("count subtasks: %w", err)
	}
	return counts, nil
}

// GetUserNames maps user IDs to display names. Unknown IDs are omitted.
func (r *IssueReader) GetUserNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	query := `SELECT id, name FROM users WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := r.db.QueryContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("get user names: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		names[u.ID] = u.Name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return names, nil
}

func scanIssue(row rowScanner) (*domain.Issue, error) {
	var issue domain.Issue
	var status, priority string
	err := row.Scan(
		&issue.ID,
		&issue.Key,
		&issue.Title,
		&issue.Description,
		&status,
		&priority,
		&issue.ParentID,
	)
	if err != nil {
		return nil, err
	}
	issue.Status = domain.IssueStatus(status)
	issue.Priority = domain.IssuePriority(priority)
	return &issue, nil
}
