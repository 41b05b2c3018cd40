package resilience

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phrazzld/gradeflow/internal/generation"
)

// errUnhealthy marks a failed completion value so Execute counts it.
var errUnhealthy = errors.New("unhealthy completion")

// BreakerProvider guards a generation.Provider with a Breaker. Server-side
// failures (5xx, 429, or errors without a status) count against the
// circuit; client errors and safety blocks do not. While open, calls fail fast with
// ErrCircuitOpen, which carries no status and is therefore never retried.
type BreakerProvider struct {
	next    generation.Provider
	breaker *Breaker
	logger  *slog.Logger
}

var _ generation.Provider = (*BreakerProvider)(nil)

// NewBreakerProvider wraps next. A nil breaker returns next unchanged.
func NewBreakerProvider(next generation.Provider, breaker *Breaker, logger *slog.Logger) generation.Provider {
	if breaker == nil {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerProvider{
		next:    next,
		breaker: breaker,
		logger:  logger.With("component", "provider_breaker"),
	}
}

// Complete implements generation.Provider.
func (p *BreakerProvider) Complete(ctx context.Context, req generation.Request) (*generation.Completion, error) {
	var completion *generation.Completion
	var callErr error

	err := p.breaker.Execute(func() error {
		completion, callErr = p.next.Complete(ctx, req)
		if countsAgainstCircuit(completion, callErr) {
			if callErr != nil {
				return callErr
			}
			return errUnhealthy
		}
		return nil
	})

	if errors.Is(err, ErrCircuitOpen) {
		p.logger.WarnContext(ctx, "provider call rejected by open circuit", "model", req.Model)
		return nil, err
	}
	return completion, callErr
}

func countsAgainstCircuit(completion *generation.Completion, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, generation.ErrContentBlocked) {
		return false
	}
	var status int
	switch {
	case err != nil:
		var perr *generation.ProviderError
		if errors.As(err, &perr) && perr.Status > 0 {
			status = perr.Status
		} else {
			status = generation.StatusFromText(err.Error())
		}
		if status == 0 {
			return true
		}
	case completion.Failed():
		status = completion.Status
		if status == 0 {
			status = generation.StatusFromText(completion.Error)
		}
	default:
		return false
	}
	return status == 429 || status >= 500
}
