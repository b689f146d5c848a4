// Package checkpoint periodically persists changed processes.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 30s"

// Flusher writes every changed process and reports how many were saved.
type Flusher interface {
	Flush(ctx context.Context) (int, error)
}

// Checkpointer runs Flush on a cron schedule. Runs never overlap.
type Checkpointer struct {
	flusher  Flusher
	schedule string
	logger   *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New validates the schedule. Both standard five field expressions and
// descriptors such as "@every 1m" are accepted.
func New(flusher Flusher, schedule string, logger *slog.Logger) (*Checkpointer, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid checkpoint schedule '%s': %w", schedule, err)
	}

	return &Checkpointer{
		flusher:  flusher,
		schedule: schedule,
		logger:   logger.With("module", "checkpoint"),
	}, nil
}

func (c *Checkpointer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cron != nil {
		return nil
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	cronLogger := logger{c.logger}
	c.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	entryID, err := c.cron.AddFunc(c.schedule, func() { c.Run(c.ctx) })
	if err != nil {
		c.cron = nil
		c.cancel()

		return fmt.Errorf("failed to add checkpoint job: %w", err)
	}

	c.cron.Start()
	c.logger.Info("Checkpointer started", "schedule", c.schedule, "entry_id", entryID)

	return nil
}

// Run flushes once. Errors are logged; failed processes stay dirty and are
// retried on the next run.
func (c *Checkpointer) Run(ctx context.Context) {
	saved, err := c.flusher.Flush(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "Checkpoint failed", "saved", saved, "error", err)

		return
	}

	if saved > 0 {
		c.logger.DebugContext(ctx, "Checkpoint written", "saved", saved)
	}
}

// Stop waits for a running job, then flushes one last time with ctx.
func (c *Checkpointer) Stop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cron == nil {
		return
	}

	<-c.cron.Stop().Done()
	c.cancel()
	c.cron = nil

	c.Run(ctx)
	c.logger.Info("Checkpointer stopped")
}

// logger adapts slog to cron.Logger.
type logger struct {
	*slog.Logger
}

func (l logger) Info(msg string, keysAndValues ...any) {
	l.Debug(msg, keysAndValues...)
}

func (l logger) Error(err error, msg string, keysAndValues ...any) {
	l.Logger.Error(msg, append(keysAndValues, "error", err)...)
}
