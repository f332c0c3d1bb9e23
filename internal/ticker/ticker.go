// Package ticker runs scheduled jobs. Each due job sends a Tick event
// through the pipeline; the application's reply must name a channel.
package ticker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"repp/internal/domain"

	"github.com/adhocore/gronx"
)

// Processor runs one event through the pipeline.
type Processor interface {
	Process(ctx context.Context, ev domain.Event) error
}

// Job is a named schedule: a fixed interval or a cron expression.
type Job struct {
	Name  string
	Every time.Duration
	Cron  string
}

func (j Job) validate() error {
	if j.Name == "" {
		return errors.New("job name is required")
	}
	switch {
	case j.Every > 0 && j.Cron != "":
		return fmt.Errorf("job %s: set either every or cron, not both", j.Name)
	case j.Every > 0:
		return nil
	case j.Cron != "":
		if !gronx.New().IsValid(j.Cron) {
			return fmt.Errorf("job %s: invalid cron expression %q", j.Name, j.Cron)
		}
		return nil
	default:
		return fmt.Errorf("job %s: every or cron is required", j.Name)
	}
}

// next returns the first run strictly after ref.
func (j Job) next(ref time.Time) (time.Time, error) {
	if j.Every > 0 {
		return ref.Add(j.Every), nil
	}
	return gronx.NextTickAfter(j.Cron, ref, false)
}

type entry struct {
	job     Job
	lastRun time.Time
	nextRun time.Time
}

// Ticker fires jobs on schedule.
type Ticker struct {
	processor  Processor
	resolution time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Config configures a Ticker. Resolution is the polling interval (default 1s).
type Config struct {
	Processor  Processor
	Jobs       []Job
	Resolution time.Duration
	Logger     *slog.Logger
}

func New(cfg Config) (*Ticker, error) {
	if cfg.Resolution <= 0 {
		cfg.Resolution = time.Second
	}
	t := &Ticker{
		processor:  cfg.Processor,
		resolution: cfg.Resolution,
		logger:     cfg.Logger,
		entries:    make(map[string]*entry),
		stopCh:     make(chan struct{}),
	}
	now := time.Now()
	for _, j := range cfg.Jobs {
		if err := t.add(j, now); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Add schedules a job; its first run is computed from now.
func (t *Ticker) Add(j Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.add(j, time.Now())
}

func (t *Ticker) add(j Job, now time.Time) error {
	if err := j.validate(); err != nil {
		return err
	}
	if _, dup := t.entries[j.Name]; dup {
		return fmt.Errorf("job %s already scheduled", j.Name)
	}
	next, err := j.next(now)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	t.entries[j.Name] = &entry{job: j, nextRun: next}
	t.logger.Info("ticker job added", "job", j.Name, "next", next)
	return nil
}

// Remove unschedules a job.
func (t *Ticker) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, name)
}

// JobStatus describes a scheduled job.
type JobStatus struct {
	Job     Job
	LastRun time.Time
	NextRun time.Time
}

// Jobs lists scheduled jobs by name.
func (t *Ticker) Jobs() []JobStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JobStatus, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, JobStatus{Job: e.job, LastRun: e.lastRun, NextRun: e.nextRun})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Job.Name < out[k].Job.Name })
	return out
}

// Start polls for due jobs until ctx is done or Stop is called.
func (t *Ticker) Start(ctx context.Context) {
	t.logger.Info("ticker started", "jobs", len(t.Jobs()))
	tick := time.NewTicker(t.resolution)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("ticker stopping")
			return
		case <-t.stopCh:
			return
		case now := <-tick.C:
			t.RunDue(ctx, now)
		}
	}
}

// Stop halts the ticker. Safe to call multiple times.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
}

// RunDue fires every job due at now, in name order, and returns how many ran.
// A job is never fired twice for the same slot; missed slots are skipped.
func (t *Ticker) RunDue(ctx context.Context, now time.Time) int {
	due := t.collectDue(now)
	for _, name := range due {
		tick := &domain.Tick{Job: name, Time: now}
		if err := t.processor.Process(ctx, tick); err != nil {
			t.logger.Error("ticker job failed", "job", name, "err", err)
		}
	}
	return len(due)
}

func (t *Ticker) collectDue(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var due []string
	for name, e := range t.entries {
		if now.Before(e.nextRun) {
			continue
		}
		next, err := e.job.next(now)
		if err != nil {
			t.logger.Error("ticker schedule failed, removing job", "job", name, "err", err)
			delete(t.entries, name)
			continue
		}
		e.lastRun = now
		e.nextRun = next
		due = append(due, name)
	}
	sort.Strings(due)
	return due
}
