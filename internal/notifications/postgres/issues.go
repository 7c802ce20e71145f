package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/issue-notifier/internal/domain"
	"github.com/bissquit/issue-notifier/internal/notifications"
)

const issueColumns = `id, "key", title, COALESCE(description, ''), status, priority, COALESCE(parent_id, '')`

// IssueReader implements notifications.IssueReader over the tracker tables.
type IssueReader struct {
	db *pgxpool.Pool
}

// NewIssueReader creates a new PostgreSQL issue reader.
func NewIssueReader(db *pgxpool.Pool) *IssueReader {
	return &IssueReader{db: db}
}

// GetIssue retrieves an issue by ID.
func (r *IssueReader) GetIssue(ctx context.Context, id string) (*domain.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE id = $1`
	issue, err := scanIssue(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

	query := `SELECT ` + issueColumns + ` FROM issues WHERE id = ANY($1)`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get issues: %w", err)
	}
	defer rows.Close()

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
		SELECT COUNT(*) FILTER (WHERE status = 'done'), COUNT(*)
		FROM issues
		WHERE parent_id = $1
	`
	var counts domain.SubtaskCounts
	if err := r.db.QueryRow(ctx, query, parentID).Scan(&counts.Done, &counts.Total); err != nil {
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

	rows, err := r.db.Query(ctx, `SELECT id, name FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get user names: %w", err)
	}
	defer rows.Close()

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

func scanIssue(row pgx.Row) (*domain.Issue, error) {
	var issue domain.Issue
	err := row.Scan(
		&issue.ID,
		&issue.Key,
		&issue.Title,
		&issue.Description,
		&issue.Status,
		&issue.Priority,
		&issue.ParentID,
	)
	if err != nil {
		return nil, err
	}
	return &issue, nil
}
