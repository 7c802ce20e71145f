// Package discord provides delivery of notification embeds to Discord-style
// incoming webhooks.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bissquit/issue-notifier/internal/notifications"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
	maxJitter          = time.Second
	maxErrorBodyLen    = 512
)

// Config holds webhook sender configuration.
type Config struct {
	Username    string        // display name override, optional
	AvatarURL   string        // avatar override, optional
	Timeout     time.Duration // per-request timeout
	MaxAttempts int
	RateLimit   float64 // requests per second, 0 disables pacing
}

// Sender posts webhook messages, retrying transient failures.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewSender creates a new webhook sender.
func NewSender(config Config) *Sender {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}

	s := &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		sleep:  sleepContext,
		jitter: randomJitter,
	}
	if config.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return s
}

// Send delivers msg to webhookURL and returns the number of attempts made.
// An empty URL means delivery is not configured and is a no-op.
func (s *Sender) Send(ctx context.Context, webhookURL string, msg notifications.WebhookMessage) (int, error) {
	if webhookURL == "" {
		return 0, nil
	}

	if msg.Username == "" {
		msg.Username = s.config.Username
	}
	if msg.AvatarURL == "" {
		msg.AvatarURL = s.config.AvatarURL
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return 0, &PermanentError{Message: fmt.Sprintf("marshal payload: %v", err)}
	}

	var lastErr error
	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return attempt - 1, fmt.Errorf("wait for rate limiter: %w", err)
			}
		}

		wait, err := s.post(ctx, webhookURL, body, attempt)
		if err == nil {
			slog.Debug("webhook message sent",
				"webhook", maskWebhookURL(webhookURL),
				"attempt", attempt,
			)
			return attempt, nil
		}
		if !err.IsRetryable() {
			return attempt, err
		}
		lastErr = err

		if attempt == s.config.MaxAttempts {
			break
		}

		slog.Warn("webhook send failed, retrying",
			"webhook", maskWebhookURL(webhookURL),
			"attempt", attempt,
			"max_attempts", s.config.MaxAttempts,
			"wait", wait,
			"error", err,
		)
		if err := s.sleep(ctx, wait); err != nil {
			return attempt, fmt.Errorf("wait before retry: %w", err)
		}
	}

	return s.config.MaxAttempts, fmt.Errorf("max attempts exceeded: %w", lastErr)
}

type classifiedError interface {
	error
	IsRetryable() bool
}

// post makes one attempt. On a retryable failure it also returns how long
// to wait before the next attempt.
func (s *Sender) post(ctx context.Context, webhookURL string, body []byte, attempt int) (time.Duration, classifiedError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, &PermanentError{Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return s.backoff(attempt), &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return 0, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		wait, ok := parseRetryAfter(resp.Header.Get("Retry-After"))
		if !ok {
			wait = s.backoff(attempt)
		}
		return wait, &RetryableError{Code: resp.StatusCode, Message: "rate limited"}

	case resp.StatusCode >= 500:
		return s.backoff(attempt), &RetryableError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("server error: %s", strings.TrimSpace(string(respBody))),
		}

	default:
		return 0, &PermanentError{
			Code:    resp.StatusCode,
			Message: strings.TrimSpace(string(respBody)),
		}
	}
}

// backoff returns 2^attempt seconds plus up to a second of jitter.
func (s *Sender) backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt)*time.Second + s.jitter()
}

// parseRetryAfter reads a Retry-After value in seconds. Discord sends
// fractional seconds, so floats are accepted.
func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

func randomJitter() time.Duration {
	return time.Duration(rand.Int64N(int64(maxJitter)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// maskWebhookURL hides the webhook token for logging.
func maskWebhookURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-4:]
	}
	return url
}

// PermanentError indicates a failure that must not be retried.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("webhook error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("webhook error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary failure.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("webhook error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("webhook error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }
