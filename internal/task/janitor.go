package task

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Janitor periodically prunes finished tasks from a Registry.
type Janitor struct {
	registry  *Registry
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor creates a janitor that removes tasks finished longer than
// retention ago, checking every interval. A non-positive interval defaults
// to a tenth of the retention, and never less than a second.
func NewJanitor(registry *Registry, retention, interval time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = retention / 10
		if interval < time.Second {
			interval = time.Second
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Janitor{
		registry:  registry,
		retention: retention,
		interval:  interval,
		logger:    logger.With("component", "task_janitor"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background sweep loop.
func (j *Janitor) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Info("task janitor started",
		"retention", j.retention.String(),
		"interval", j.interval.String())
}

// Stop ends the sweep loop and waits for it to exit.
func (j *Janitor) Stop() {
	j.cancel()
	j.wg.Wait()
	j.logger.Info("task janitor stopped")
}

func (j *Janitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep prunes expired tasks once and returns how many were removed.
func (j *Janitor) Sweep() int {
	removed := j.registry.Prune(j.retention)
	if removed > 0 {
		j.logger.Info("pruned finished tasks", "count", removed)
	}
	return removed
}
