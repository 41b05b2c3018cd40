package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/phrazzld/gradeflow/internal/config"
	"github.com/phrazzld/gradeflow/internal/platform/logger"
	"github.com/phrazzld/gradeflow/internal/platform/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// statusPattern finds an HTTP error status embedded in an error text.
var statusPattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// RetryPolicy describes how failed calls are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseWait    time.Duration
	Multiplier  float64
	MaxWait     time.Duration
	Retryable   map[int]bool
}

// DefaultRetryPolicy returns 3 attempts with 2s, 4s... waits capped at 60s,
// retrying 429 and 5xx gateway errors.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseWait:    2 * time.Second,
		Multiplier:  2,
		MaxWait:     60 * time.Second,
		Retryable:   statusSet([]int{429, 500, 502, 503, 504}),
	}
}

// PolicyFromConfig converts the retry configuration section into a policy.
func PolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseWait:    cfg.BaseWait,
		Multiplier:  cfg.Multiplier,
		MaxWait:     cfg.MaxWait,
		Retryable:   statusSet(cfg.RetryableStatus),
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

func statusSet(codes []int) map[int]bool {
	set := make(map[int]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}

// Wait returns the pause before retrying after the given 0-based attempt.
// A positive retryAfter overrides the exponential wait; both are capped at MaxWait.
func (p RetryPolicy) Wait(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, p.MaxWait)
	}
	wait := float64(p.BaseWait) * math.Pow(p.Multiplier, float64(attempt))
	if wait >= float64(p.MaxWait) {
		return p.MaxWait
	}
	return time.Duration(wait)
}

// IsRetryable reports whether status is in the retryable set.
func (p RetryPolicy) IsRetryable(status int) bool {
	return p.Retryable[status]
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result is the final outcome of a retried call.
type Result struct {
	// Completion is the last completion received, possibly a failed one.
	Completion *Completion
	Attempts   int
	Waits      []time.Duration
}

// Retries returns the number of attempts beyond the first.
func (r *Result) Retries() int {
	if r == nil || r.Attempts == 0 {
		return 0
	}
	return r.Attempts - 1
}

// Caller is the call surface of RetryingClient used by the pipeline.
type Caller interface {
	Call(ctx context.Context, req Request) (*Result, error)
}

// RetryingClient wraps a Provider with retry and exponential backoff.
type RetryingClient struct {
	provider Provider
	policy   RetryPolicy
	timeout  time.Duration
	sleep    SleepFunc
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

var _ Caller = (*RetryingClient)(nil)

// ClientOption customizes a RetryingClient.
type ClientOption func(*RetryingClient)

// WithSleep replaces the wait function, letting tests record waits
// instead of sleeping.
func WithSleep(fn SleepFunc) ClientOption {
	return func(c *RetryingClient) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// WithRequestTimeout bounds every single attempt.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *RetryingClient) {
		c.timeout = d
	}
}

// WithMetrics records attempts, retries and tokens on m.
func WithMetrics(m *telemetry.Metrics) ClientOption {
	return func(c *RetryingClient) {
		c.metrics = m
	}
}

// NewRetryingClient creates a client around provider.
func NewRetryingClient(
	provider Provider,
	policy RetryPolicy,
	logger *slog.Logger,
	opts ...ClientOption,
) (*RetryingClient, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	if policy.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &RetryingClient{
		provider: provider,
		policy:   policy,
		sleep:    sleepContext,
		logger:   logger.With("component", "retrying_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = telemetry.NoopMetrics()
	}
	return c, nil
}

// Call sends req, retrying retryable failures. Failures may arrive either as
// a returned error or as a failed Completion value; both follow the same
// policy. When attempts are exhausted the last failed outcome is returned
// as-is. The returned Result is never nil.
func (c *RetryingClient) Call(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return &Result{}, err
	}

	log := logger.FromContextOrDefault(ctx, c.logger)
	ctx, span := telemetry.StartLLMSpan(ctx, req.Model, req.PromptID)

	result := &Result{}
	var lastErr error

	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		result.Attempts = attempt + 1
		c.metrics.LLMAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("prompt_id", req.PromptID)))
		if attempt > 0 {
			c.metrics.LLMRetries.Add(ctx, 1)
		}

		completion, err := c.attempt(ctx, req)
		if err == nil && completion == nil {
			err = ErrEmptyCompletion
		}
		result.Completion = completion
		lastErr = err

		status, retryAfter := classify(completion, err)
		if err == nil && !completion.Failed() {
			c.metrics.LLMTokens.Add(ctx, int64(completion.InputTokens+completion.OutputTokens))
			if attempt > 0 {
				log.InfoContext(ctx, "call succeeded after retry", "attempt", attempt+1)
			}
			telemetry.EndSpan(span, nil)
			return result, nil
		}

		if !c.policy.IsRetryable(status) {
			log.WarnContext(ctx, "non-retryable failure",
				"attempt", attempt+1,
				"status", status,
				"error", failureText(completion, err))
			break
		}

		if attempt == c.policy.MaxAttempts-1 {
			log.ErrorContext(ctx, "retryable failure after all attempts",
				"attempts", c.policy.MaxAttempts,
				"status", status)
			break
		}

		wait := c.policy.Wait(attempt, retryAfter)
		result.Waits = append(result.Waits, wait)
		log.WarnContext(ctx, "retryable failure, backing off",
			"attempt", attempt+1,
			"max_attempts", c.policy.MaxAttempts,
			"status", status,
			"wait", wait)

		if err := c.sleep(ctx, wait); err != nil {
			telemetry.EndSpan(span, err)
			return result, err
		}
	}

	telemetry.EndSpan(span, lastErr)
	return result, lastErr
}

func (c *RetryingClient) attempt(ctx context.Context, req Request) (*Completion, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.provider.Complete(ctx, req)
}

// classify extracts the HTTP status and retry-after hint of a failed outcome.
func classify(completion *Completion, err error) (int, time.Duration) {
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) && perr.Status > 0 {
			return perr.Status, perr.RetryAfter
		}
		return StatusFromText(err.Error()), 0
	}
	if completion == nil {
		return 0, 0
	}
	if completion.Status >= 400 {
		return completion.Status, completion.RetryAfter
	}
	if completion.Error != "" {
		return StatusFromText(completion.Error), completion.RetryAfter
	}
	return 0, 0
}

// StatusFromText returns the first 4xx or 5xx code found in s, or 0.
func StatusFromText(s string) int {
	m := statusPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return code
}

// FailureMessage describes the failed outcome of a retried call, or "" when
// the call succeeded.
func FailureMessage(res *Result, err error) string {
	var completion *Completion
	if res != nil {
		completion = res.Completion
	}
	return failureText(completion, err)
}

func failureText(completion *Completion, err error) string {
	if err != nil {
		return err.Error()
	}
	if completion == nil {
		return ""
	}
	if completion.Error != "" {
		return completion.Error
	}
	if completion.Status >= 400 {
		return fmt.Sprintf("provider returned status %d", completion.Status)
	}
	return ""
}
