package notifications

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/issue-notifier/internal/domain"
)

// memStore is an in-memory Store with the same pending-row semantics as the
// SQL implementations.
type memStore struct {
	mu     sync.Mutex
	items  map[string]*QueuedNotification
	nextID int

	enqueueErr error
	fetchErr   error
	recovered  int
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]*QueuedNotification)}
}

func (s *memStore) add(n QueuedNotification) *QueuedNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		s.nextID++
		n.ID = fmt.Sprintf("q%d", s.nextID)
	}
	if n.Status == "" {
		n.Status = QueueStatusPending
	}
	s.items[n.ID] = &n
	return &n
}

func (s *memStore) get(id string) QueuedNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.items[id]
}

func (s *memStore) pending(issueID, userID string) *QueuedNotification {
	for _, n := range s.items {
		if n.IssueID == issueID && n.UserID == userID && n.Status == QueueStatusPending {
			return n
		}
	}
	return nil
}

func (s *memStore) Enqueue(_ context.Context, in EnqueueInput) (EnqueueResult, error) {
	if s.enqueueErr != nil {
		return "", s.enqueueErr
	}
	if in.UserID == "" {
		return "", ErrMissingUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.pending(in.IssueID, in.UserID); p != nil {
		p.Payload = p.Payload.Merge(in.Payload)
		p.ScheduledAt = ScheduleAt(in.Now, p.FirstQueuedAt, in.Window, in.MaxWait)
		p.EventType = in.EventType
		return EnqueueMerged, nil
	}
	if in.MergeOnly {
		return EnqueueSkipped, nil
	}

	s.nextID++
	id := fmt.Sprintf("q%d", s.nextID)
	s.items[id] = &QueuedNotification{
		ID:            id,
		IssueID:       in.IssueID,
		UserID:        in.UserID,
		EventType:     in.EventType,
		Payload:       Payload{}.Merge(in.Payload),
		ScheduledAt:   ScheduleAt(in.Now, in.Now, in.Window, in.MaxWait),
		FirstQueuedAt: in.Now,
		Status:        QueueStatusPending,
	}
	return EnqueueCreated, nil
}

func (s *memStore) FetchDue(_ context.Context, now time.Time, limit int) ([]*QueuedNotification, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*QueuedNotification, 0)
	for _, n := range s.items {
		if n.Status == QueueStatusPending && !n.ScheduledAt.After(now) {
			c := *n
			due = append(due, &c)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memStore) MarkProcessing(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok || n.Status != QueueStatusPending {
		return ErrNotPending
	}
	n.Status = QueueStatusProcessing
	n.ProcessingStartedAt = &now
	return nil
}

func (s *memStore) MarkSent(_ context.Context, id string, attempts int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return ErrQueueItemNotFound
	}
	n.Status = QueueStatusSent
	n.AttemptCount = attempts
	n.SentAt = &now
	n.ErrorMessage = ""
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id string, attempts int, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return ErrQueueItemNotFound
	}
	n.Status = QueueStatusFailed
	n.AttemptCount = attempts
	n.ErrorMessage = cause.Error()
	return nil
}

func (s *memStore) RecoverStuckProcessing(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.items {
		if n.Status == QueueStatusProcessing {
			n.Status = QueueStatusPending
			n.ProcessingStartedAt = nil
			count++
		}
	}
	s.recovered += int(count)
	return count, nil
}

func (s *memStore) GetNotification(_ context.Context, id string) (*QueuedNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return nil, ErrQueueItemNotFound
	}
	c := *n
	return &c, nil
}

func (s *memStore) ListNotifications(_ context.Context, filter ListFilter) ([]*QueuedNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*QueuedNotification, 0)
	for _, n := range s.items {
		if filter.Status == "" || n.Status == filter.Status {
			c := *n
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memStore) GetQueueStats(_ context.Context) (*QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &QueueStats{}
	for _, n := range s.items {
		stats.Add(n.Status, 1)
	}
	return stats, nil
}

func (s *memStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, n := range s.items {
		if (n.Status == QueueStatusSent || n.Status == QueueStatusFailed) && n.UpdatedAt.Before(cutoff) {
			delete(s.items, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memStore) Ping(_ context.Context) error { return nil }

// fakeReader serves tracker state from maps.
type fakeReader struct {
	issues   map[string]*domain.Issue
	users    map[string]string
	err      error
	getCalls int
	inCalls  int
}

func newFakeReader(issues ...*domain.Issue) *fakeReader {
	r := &fakeReader{
		issues: make(map[string]*domain.Issue),
		users:  map[string]string{"u1": "Dana", "3": "Ann", "5": "Bo", "7": "Cy"},
	}
	for _, i := range issues {
		r.issues[i.ID] = i
	}
	return r
}

func (r *fakeReader) GetIssue(_ context.Context, id string) (*domain.Issue, error) {
	r.getCalls++
	if r.err != nil {
		return nil, r.err
	}
	issue, ok := r.issues[id]
	if !ok {
		return nil, ErrIssueNotFound
	}
	return issue, nil
}

func (r *fakeReader) GetIssues(_ context.Context, ids []string) (map[string]*domain.Issue, error) {
	r.inCalls++
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[string]*domain.Issue)
	for _, id := range ids {
		if issue, ok := r.issues[id]; ok {
			out[id] = issue
		}
	}
	return out, nil
}

func (r *fakeReader) GetSubtaskCounts(_ context.Context, parentID string) (domain.SubtaskCounts, error) {
	var counts domain.SubtaskCounts
	for _, i := range r.issues {
		if i.ParentID == parentID {
			counts.Total++
			if i.Status == domain.IssueStatusDone {
				counts.Done++
			}
		}
	}
	return counts, nil
}

func (r *fakeReader) GetUserNames(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		if name, ok := r.users[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

// fakeSender records messages and answers with scripted results.
type fakeSender struct {
	mu       sync.Mutex
	messages []WebhookMessage
	urls     []string
	attempts int
	err      error
	failFor  map[string]error // keyed by first embed title
	block    chan struct{}
	started  chan struct{}
}

func (s *fakeSender) Send(_ context.Context, url string, msg WebhookMessage) (int, error) {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.urls = append(s.urls, url)

	attempts := s.attempts
	if attempts == 0 {
		attempts = 1
	}
	if len(msg.Embeds) > 0 {
		if err, ok := s.failFor[msg.Embeds[0].Title]; ok {
			return attempts, err
		}
	}
	return attempts, s.err
}

func (s *fakeSender) sent() []WebhookMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WebhookMessage(nil), s.messages...)
}

var errBoom = errors.New("boom")
