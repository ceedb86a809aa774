package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
	"github.com/sentra-lab/project-sentra/internal/core/storage"
	"github.com/sentra-lab/project-sentra/internal/notify"
)

// Deliverer executes one resolved channel delivery. Satisfied by
// notify.Dispatcher.
type Deliverer interface {
	Deliver(ctx context.Context, d notify.Delivery) error
}

// Config tunes the delayed delivery poller.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Minute
	}
}

// Poller drains the durable delivery job table on a fixed schedule. Jobs are
// claimed with their status flipped in one statement, so several poller
// instances can share a table without double delivery.
type Poller struct {
	jobs      storage.JobStore
	deliverer Deliverer
	cfg       Config
	cron      *cron.Cron
}

func NewPoller(jobs storage.JobStore, deliverer Deliverer, cfg Config) (*Poller, error) {
	cfg.applyDefaults()
	p := &Poller{
		jobs:      jobs,
		deliverer: deliverer,
		cfg:       cfg,
		cron:      cron.New(cron.WithSeconds()),
	}

	schedule := fmt.Sprintf("@every %ds", int(cfg.PollInterval.Seconds()))
	_, err := p.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.PollInterval)
		defer cancel()
		if err := p.Drain(ctx); err != nil {
			slog.Error("[Queue] Drain failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule poll every %s: %w", cfg.PollInterval, err)
	}

	return p, nil
}

// Start launches the polling schedule.
func (p *Poller) Start() {
	if p == nil || p.cron == nil {
		return
	}
	p.cron.Start()
	slog.Info("[Queue] Delivery poller started",
		"poll_interval", p.cfg.PollInterval,
		"batch_size", p.cfg.BatchSize,
	)
}

// Stop halts the schedule and waits for a running drain pass to finish, or
// for ctx to expire.
func (p *Poller) Stop(ctx context.Context) {
	if p == nil || p.cron == nil {
		return
	}
	stopCtx := p.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	slog.Info("[Queue] Delivery poller stopped")
}

// Drain claims one batch of due jobs and attempts delivery for each. A failed
// job is rescheduled with backoff until its attempt budget runs out, then
// marked failed permanently. Failures never stop the rest of the batch.
func (p *Poller) Drain(ctx context.Context) error {
	jobs, err := p.jobs.ClaimDueJobs(ctx, time.Now().UTC(), p.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to claim due jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	var delivered, failed int
	for _, job := range jobs {
		if err := p.process(ctx, job); err != nil {
			failed++
			continue
		}
		delivered++
	}

	slog.Info("[Queue] Batch drained",
		"claimed", len(jobs),
		"delivered", delivered,
		"failed", failed,
	)
	return nil
}

func (p *Poller) process(ctx context.Context, job *v1.DeliveryJob) error {
	err := p.deliverer.Deliver(ctx, notify.Delivery{
		Channel:         job.Channel,
		RecipientUserID: job.RecipientUserID,
		Destination:     job.Destination,
		TemplateID:      job.TemplateID,
		Subject:         job.Subject,
		Content:         job.Content,
		Variables:       job.Variables,
		EventID:         job.EventID,
	})
	if err == nil {
		if err := p.jobs.CompleteJob(ctx, job.ID); err != nil {
			slog.Error("[Queue] Failed to mark job done", "job_id", job.ID, "error", err)
			return err
		}
		return nil
	}

	// Claiming already incremented attempts, so the count here includes the
	// attempt that just failed.
	if job.Attempts >= p.cfg.MaxAttempts {
		slog.Error("[Queue] Job failed permanently",
			"job_id", job.ID,
			"channel", job.Channel,
			"attempts", job.Attempts,
			"error", err,
		)
		if failErr := p.jobs.FailJob(ctx, job.ID, err.Error(), nil); failErr != nil {
			slog.Error("[Queue] Failed to mark job failed", "job_id", job.ID, "error", failErr)
		}
		return err
	}

	retryAt := time.Now().UTC().Add(p.cfg.RetryBackoff)
	slog.Warn("[Queue] Job delivery failed, rescheduling",
		"job_id", job.ID,
		"channel", job.Channel,
		"attempts", job.Attempts,
		"retry_at", retryAt,
		"error", err,
	)
	if failErr := p.jobs.FailJob(ctx, job.ID, err.Error(), &retryAt); failErr != nil {
		slog.Error("[Queue] Failed to reschedule job", "job_id", job.ID, "error", failErr)
	}
	return err
}
