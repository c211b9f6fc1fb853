package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/alanyoungcy/optionsbot/internal/notify"
	"github.com/alanyoungcy/optionsbot/internal/pipeline"
)

// jobs returns the scheduled jobs for the trading modes. Full mode adds the
// rebalance and archive jobs.
func (a *App) jobs(c *core, deps *Dependencies, full bool) []pipeline.Job {
	resetCron, err := pipeline.DailyAt(a.cfg.Risk.ResetAt, time.Local)
	if err != nil {
		// Validate already rejected a malformed reset_at; fall back to midnight UTC.
		a.logger.Warn("risk reset time invalid, using midnight UTC", slog.String("error", err.Error()))
		resetCron = "0 0 * * *"
	}

	jobs := []pipeline.Job{
		{
			Name: "risk_reset",
			Cron: resetCron,
			Run:  c.risk.ResetDaily,
		},
		a.latencyAlertsJob(c, deps),
		a.brokerHealthJob(c, deps),
	}
	if full {
		jobs = append(jobs, a.rebalanceJob(c))
		if deps.Archiver != nil {
			jobs = append(jobs, a.archiveJob(deps))
		}
	}
	return jobs
}

// monitorJobs returns the jobs that only observe: alert sweeps, broker
// probes and archival.
func (a *App) monitorJobs(c *core, deps *Dependencies) []pipeline.Job {
	jobs := []pipeline.Job{
		a.latencyAlertsJob(c, deps),
		a.brokerHealthJob(c, deps),
	}
	if deps.Archiver != nil {
		jobs = append(jobs, a.archiveJob(deps))
	}
	return jobs
}

func (a *App) latencyAlertsJob(c *core, deps *Dependencies) pipeline.Job {
	return pipeline.Job{
		Name:  "latency_alerts",
		Every: a.cfg.Monitor.AlertInterval.Duration,
		Run: func(ctx context.Context) error {
			for _, alert := range c.latency.CheckAlerts() {
				a.logger.WarnContext(ctx, alert)
				payload, err := json.Marshal(alert)
				if err != nil {
					return fmt.Errorf("encode alert: %w", err)
				}
				if err := deps.SignalBus.Publish(ctx, domain.ChannelAlert, payload); err != nil {
					return fmt.Errorf("publish alert: %w", err)
				}
			}
			return nil
		},
	}
}

// brokerHealthJob probes every broker and notifies once per transition from
// healthy to unhealthy.
func (a *App) brokerHealthJob(c *core, deps *Dependencies) pipeline.Job {
	var (
		mu  sync.Mutex
		was = make(map[string]bool)
	)
	for _, ep := range c.router.Endpoints() {
		was[ep.ID] = c.router.Healthy(ep.ID)
	}

	return pipeline.Job{
		Name:       "broker_health",
		Every:      a.cfg.Router.HealthInterval.Duration,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			c.router.CheckHealth(ctx, c.broker)

			mu.Lock()
			defer mu.Unlock()
			var down []string
			for _, ep := range c.router.Endpoints() {
				healthy := c.router.Healthy(ep.ID)
				if was[ep.ID] && !healthy {
					down = append(down, ep.ID)
				}
				was[ep.ID] = healthy
			}
			if len(down) == 0 {
				return nil
			}
			msg := "Unhealthy: " + strings.Join(down, ", ")
			a.logger.WarnContext(ctx, "brokers went unhealthy", slog.Any("broker_ids", down))
			return deps.Notifier.Notify(ctx, notify.EventBrokerDown, "Broker down", msg)
		},
	}
}

func (a *App) rebalanceJob(c *core) pipeline.Job {
	return pipeline.Job{
		Name:  "rebalance",
		Every: a.cfg.Meta.CheckInterval.Duration,
		Run: func(ctx context.Context) error {
			if !c.allocator.ShouldRebalance() {
				return nil
			}
			weights, err := c.allocator.Rebalance(ctx)
			if err != nil {
				return err
			}
			a.logger.InfoContext(ctx, "allocation rebalanced", slog.Int("strategies", len(weights)))
			if ids := c.allocator.Underperforming(a.cfg.Meta.MinSharpe, a.cfg.Meta.MaxDrawdown); len(ids) > 0 {
				a.logger.WarnContext(ctx, "strategies underperforming", slog.Any("strategy_ids", ids))
			}
			return nil
		},
	}
}

func (a *App) archiveJob(deps *Dependencies) pipeline.Job {
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.S3.ArchiveRetentionDays, a.logger)
	return pipeline.Job{
		Name: "archive",
		Cron: a.cfg.S3.ArchiveCron,
		Run:  archiver.Run,
	}
}
