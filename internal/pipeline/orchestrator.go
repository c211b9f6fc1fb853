// Package pipeline runs the bot's scheduled background jobs: execution-log
// archival, meta-strategy rebalancing, the daily risk reset and the periodic
// latency and broker health sweeps.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one scheduled task. Exactly one of Cron or Every must be set.
type Job struct {
	Name string
	// Cron is a 5-field "minute hour day-of-month month day-of-week" schedule
	// evaluated in UTC.
	Cron string
	// Every runs the job on a fixed interval.
	Every time.Duration
	// RunAtStart runs an interval job once before the first tick.
	RunAtStart bool
	Run        func(ctx context.Context) error
}

func (j Job) validate() error {
	switch {
	case j.Name == "":
		return errors.New("job name is required")
	case j.Run == nil:
		return fmt.Errorf("job %s: run func is required", j.Name)
	case (j.Cron == "") == (j.Every <= 0):
		return fmt.Errorf("job %s: exactly one of cron or every must be set", j.Name)
	case j.Cron != "":
		if _, err := parseCron(j.Cron); err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
	}
	return nil
}

// ErrUnknownJob is returned by Trigger for a name no job carries.
var ErrUnknownJob = errors.New("pipeline: unknown job")

// Orchestrator manages all job goroutines. A failing run is logged and the
// job keeps its schedule; only cancellation stops the loops.
type Orchestrator struct {
	jobs     []Job
	triggers map[string]chan struct{}
	now      func() time.Time
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator for jobs. Each job is validated up
// front so a bad schedule fails at startup.
func NewOrchestrator(logger *slog.Logger, jobs ...Job) (*Orchestrator, error) {
	triggers := make(map[string]chan struct{}, len(jobs))
	for _, j := range jobs {
		if err := j.validate(); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		if _, dup := triggers[j.Name]; dup {
			return nil, fmt.Errorf("pipeline: duplicate job %s", j.Name)
		}
		triggers[j.Name] = make(chan struct{}, 1)
	}
	return &Orchestrator{
		jobs:     jobs,
		triggers: triggers,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "pipeline")),
	}, nil
}

// Jobs returns the configured job names in registration order.
func (o *Orchestrator) Jobs() []string {
	names := make([]string, 0, len(o.jobs))
	for _, j := range o.jobs {
		names = append(names, j.Name)
	}
	return names
}

// Trigger asks the named job to run once outside its schedule. Requests made
// while one is already pending collapse into it.
func (o *Orchestrator) Trigger(name string) error {
	ch, ok := o.triggers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}

// Run starts every job as a concurrent goroutine using an errgroup and blocks
// until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline orchestrator starting", slog.Int("jobs", len(o.jobs)))

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range o.jobs {
		g.Go(func() error {
			var err error
			if job.Cron != "" {
				err = o.runCron(ctx, job)
			} else {
				err = o.runEvery(ctx, job)
			}
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("%s: %w", job.Name, err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}

func (o *Orchestrator) runEvery(ctx context.Context, job Job) error {
	if job.RunAtStart {
		o.execute(ctx, job)
	}

	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.execute(ctx, job)
		case <-o.triggers[job.Name]:
			o.execute(ctx, job)
		}
	}
}

func (o *Orchestrator) runCron(ctx context.Context, job Job) error {
	for {
		next, err := nextCronTime(job.Cron, o.now().UTC())
		if err != nil {
			return fmt.Errorf("parsing cron expression %q: %w", job.Cron, err)
		}

		wait := time.Until(next)
		o.logger.DebugContext(ctx, "job waiting for next cron trigger",
			slog.String("job", job.Name),
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			o.execute(ctx, job)
		case <-o.triggers[job.Name]:
			timer.Stop()
			o.execute(ctx, job)
		}
	}
}

func (o *Orchestrator) execute(ctx context.Context, job Job) {
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		o.logger.ErrorContext(ctx, "job run failed",
			slog.String("job", job.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	o.logger.DebugContext(ctx, "job run complete",
		slog.String("job", job.Name),
		slog.Duration("took", time.Since(start)),
	)
}

// DailyAt converts a local "HH:MM" wall-clock time in loc to a daily cron
// expression in UTC.
func DailyAt(hhmm string, loc *time.Location) (string, error) {
	t, err := time.ParseInLocation("15:04", hhmm, loc)
	if err != nil {
		return "", fmt.Errorf("pipeline: parse daily time %q: %w", hhmm, err)
	}
	// Anchor on a real date so the zone offset is resolved.
	now := time.Now().In(loc)
	local := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, loc).UTC()
	return fmt.Sprintf("%d %d * * *", local.Minute(), local.Hour()), nil
}
