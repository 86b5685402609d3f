// Package cron runs recurring maintenance jobs
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc is one unit of scheduled work.
type JobFunc func(ctx context.Context) error

// Config holds cron runner configuration
type Config struct {
	JobTimeout time.Duration // Upper bound on a single execution
}

// Runner manages scheduled job execution
type Runner struct {
	config  Config
	cron    *cron.Cron
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
	running bool
	mu      sync.RWMutex
}

// NewRunner creates a new cron runner
func NewRunner(config Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 5 * time.Minute
	}

	// overlapping runs of the same job are skipped, not queued
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		config:  config,
		cron:    c,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// AddJob registers fn under name on a standard cron spec or a descriptor
// such as "@every 1h". Re-adding a name replaces the previous schedule.
func (r *Runner) AddJob(name, spec string, fn JobFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.cron.AddFunc(spec, func() { r.execute(name, fn) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}
	if old, ok := r.entries[name]; ok {
		r.cron.Remove(old)
	}
	r.entries[name] = id

	r.logger.Info("Scheduled job added",
		zap.String("name", name),
		zap.String("schedule", spec),
	)
	return nil
}

// RemoveJob removes a scheduled job
func (r *Runner) RemoveJob(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.entries[name]; ok {
		r.cron.Remove(id)
		delete(r.entries, name)
	}
}

// Jobs returns the registered job names with their next run time.
func (r *Runner) Jobs() map[string]time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]time.Time, len(r.entries))
	for name, id := range r.entries {
		out[name] = r.cron.Entry(id).Next
	}
	return out
}

// RunNow executes a registered job synchronously.
func (r *Runner) RunNow(name string) error {
	r.mu.RLock()
	id, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	r.cron.Entry(id).WrappedJob.Run()
	return nil
}

// Start starts the cron runner
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("cron runner already running")
	}
	r.running = true
	r.cron.Start()
	return nil
}

// Stop stops the cron runner and waits for in-flight jobs
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("Cron runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *Runner) execute(name string, fn JobFunc) {
	ctx, cancel := context.WithTimeout(r.ctx, r.config.JobTimeout)
	defer cancel()

	start := time.Now()
	if err := fn(ctx); err != nil {
		r.logger.Error("Job execution failed",
			zap.String("name", name),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("Job completed",
		zap.String("name", name),
		zap.Duration("took", time.Since(start)),
	)
}
