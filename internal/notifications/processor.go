package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bissquit/issue-notifier/internal/pkg/ctxlog"
)

const (
	drainPollInterval      = 50 * time.Millisecond
	retentionSweepInterval = time.Hour
)

// Sender delivers a message to a webhook and reports how many HTTP attempts it made.
type Sender interface {
	Send(ctx context.Context, webhookURL string, msg WebhookMessage) (int, error)
}

// ProcessorConfig contains processor configuration.
type ProcessorConfig struct {
	WebhookURL   string
	PollInterval time.Duration
	BatchSize    int
	// Retention is how long sent and failed rows are kept. Zero keeps them forever.
	Retention time.Duration
}

// DefaultProcessorConfig returns default processor configuration.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    10,
	}
}

// Processor periodically delivers due batches from the queue.
type Processor struct {
	config   ProcessorConfig
	store    Store
	composer *Composer
	sender   Sender
	now      func() time.Time

	inFlight atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewProcessor creates a new queue processor.
func NewProcessor(config ProcessorConfig, store Store, composer *Composer, sender Sender) *Processor {
	defaults := DefaultProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}

	return &Processor{
		config:   config,
		store:    store,
		composer: composer,
		sender:   sender,
		now:      func() time.Time { return time.Now().UTC() },
		stopCh:   make(chan struct{}),
	}
}

// Start recovers batches left in processing by a previous run and then
// launches the polling loop. Recovery completes before Start returns.
func (p *Processor) Start(ctx context.Context) {
	p.Recover(ctx)

	if p.config.WebhookURL == "" {
		slog.Info("webhook URL not configured, queue processor idle")
		return
	}

	slog.Info("starting queue processor",
		"batch_size", p.config.BatchSize,
		"poll_interval", p.config.PollInterval,
		"retention", p.config.Retention,
	)

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop stops polling and waits up to drainTimeout for an in-flight cycle.
// It reports whether the processor drained in time.
func (p *Processor) Stop(drainTimeout time.Duration) bool {
	p.stopOnce.Do(func() { close(p.stopCh) })

	if !p.AwaitInFlight(drainTimeout) {
		slog.Warn("queue processor did not drain before timeout", "timeout", drainTimeout)
		return false
	}
	p.wg.Wait()
	slog.Info("queue processor stopped")
	return true
}

// Recover returns batches stuck in processing to the queue.
func (p *Processor) Recover(ctx context.Context) {
	recovered, err := p.store.RecoverStuckProcessing(ctx)
	if err != nil {
		slog.Error("failed to recover stuck notifications", "error", err)
		return
	}
	if recovered > 0 {
		slog.Warn("recovered notifications stuck in processing", "count", recovered)
		recordRecovered(recovered)
	}
}

// AwaitInFlight polls until no cycle is running or timeout elapses.
// It reports whether the processor became idle.
func (p *Processor) AwaitInFlight(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for p.inFlight.Load() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(drainPollInterval)
	}
	return true
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	var sweepC <-chan time.Time
	if p.config.Retention > 0 {
		sweep := time.NewTicker(retentionSweepInterval)
		defer sweep.Stop()
		sweepC = sweep.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		case <-sweepC:
			p.purge(ctx)
		}
	}
}

// RunOnce processes one batch of due notifications. It returns false without
// doing anything when another cycle is already running or no webhook is set.
func (p *Processor) RunOnce(ctx context.Context) bool {
	if p.config.WebhookURL == "" {
		return false
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		slog.Debug("queue processing already in flight, skipping cycle")
		return false
	}
	defer p.inFlight.Store(false)

	items, err := p.store.FetchDue(ctx, p.now(), p.config.BatchSize)
	if err != nil {
		slog.Error("failed to fetch due notifications", "error", err)
		return true
	}
	if len(items) == 0 {
		return true
	}

	slog.Debug("processing notifications", "count", len(items))
	for _, item := range items {
		p.processItem(ctx, item)
	}
	return true
}

func (p *Processor) processItem(ctx context.Context, item *QueuedNotification) {
	ctx, logger := ctxlog.With(ctx, "queue_id", item.ID, "issue_id", item.IssueID)

	defer func() {
		if r := recover(); r != nil {
			p.fail(ctx, item, item.AttemptCount+1, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := p.store.MarkProcessing(ctx, item.ID, p.now()); err != nil {
		if errors.Is(err, ErrNotPending) {
			logger.Debug("notification already claimed")
			return
		}
		logger.Error("failed to mark as processing", "error", err)
		return
	}

	msg, err := p.composer.Compose(ctx, item)
	if err != nil {
		p.fail(ctx, item, item.AttemptCount+1, fmt.Errorf("build message: %w", err))
		return
	}

	if msg == nil {
		if err := p.store.MarkSent(ctx, item.ID, item.AttemptCount, p.now()); err != nil {
			logger.Error("failed to mark as sent", "error", err)
		}
		recordProcessed(outcomeSkipped)
		logger.Debug("nothing to notify, batch consumed")
		return
	}

	start := time.Now()
	attempts, err := p.sender.Send(ctx, p.config.WebhookURL, *msg)
	duration := time.Since(start)
	recordSend(attempts, duration, err)

	total := item.AttemptCount + attempts
	if err != nil {
		p.fail(ctx, item, total, err)
		return
	}

	if err := p.store.MarkSent(ctx, item.ID, total, p.now()); err != nil {
		logger.Error("failed to mark as sent", "error", err)
	}
	recordProcessed(outcomeSent)

	logger.Info("notification sent",
		"embeds", len(msg.Embeds),
		"attempts", attempts,
		"duration", duration,
	)
}

func (p *Processor) fail(ctx context.Context, item *QueuedNotification, attempts int, cause error) {
	logger := ctxlog.FromContext(ctx)
	logger.Error("notification failed", "attempts", attempts, "error", cause)
	if err := p.store.MarkFailed(ctx, item.ID, attempts, cause); err != nil {
		logger.Error("failed to mark as failed", "error", err)
	}
	recordProcessed(outcomeFailed)
}

func (p *Processor) purge(ctx context.Context) {
	cutoff := p.now().Add(-p.config.Retention)
	deleted, err := p.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		slog.Error("failed to purge old notifications", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("purged old notifications", "count", deleted, "cutoff", cutoff)
	}
}
