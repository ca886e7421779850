// Package retention prunes ledger and delivery rows older than their max age.
// It runs beside the dispatch core, never inside a dispatch.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"promocast/internal/storage"
	logx "promocast/pkg/logx"
)

type Config struct {
	// Schedule is a five-field cron spec or a descriptor such as "@daily".
	Schedule       string
	LedgerMaxAge   time.Duration
	DeliveryMaxAge time.Duration
	Location       *time.Location
}

// Report is the outcome of one pruning pass.
type Report struct {
	Ledger     int64
	Deliveries int64
}

type Job struct {
	cfg    Config
	pruner storage.Pruner
	log    logx.Logger
	now    func() time.Time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func New(cfg Config, pruner storage.Pruner, log logx.Logger) (*Job, error) {
	if _, err := parser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Job{cfg: cfg, pruner: pruner, log: log, now: time.Now}, nil
}

// RunOnce prunes both tables. A zero max age keeps that table forever; the
// store keeps coupon code markers regardless of age.
func (j *Job) RunOnce(ctx context.Context) (Report, error) {
	var (
		rep  Report
		errs []error
		now  = j.now()
	)
	if j.cfg.LedgerMaxAge > 0 {
		n, err := j.pruner.PruneLedger(ctx, now.Add(-j.cfg.LedgerMaxAge))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune ledger: %w", err))
		}
		rep.Ledger = n
	}
	if j.cfg.DeliveryMaxAge > 0 {
		n, err := j.pruner.PruneDeliveries(ctx, now.Add(-j.cfg.DeliveryMaxAge))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune deliveries: %w", err))
		}
		rep.Deliveries = n
	}
	return rep, errors.Join(errs...)
}

// Run schedules RunOnce until ctx ends. Overlapping runs are skipped.
func (j *Job) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(j.cfg.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(j.cfg.Schedule, func() { j.tick(ctx) }); err != nil {
		return err
	}
	c.Start()
	j.log.Info("retention scheduled", logx.String("schedule", j.cfg.Schedule),
		logx.Duration("ledger_max_age", j.cfg.LedgerMaxAge), logx.Duration("delivery_max_age", j.cfg.DeliveryMaxAge))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (j *Job) tick(ctx context.Context) {
	start := j.now()
	rep, err := j.RunOnce(ctx)
	fields := []logx.Field{logx.Int64("ledger", rep.Ledger), logx.Int64("deliveries", rep.Deliveries), logx.Duration("took", j.now().Sub(start))}
	if err != nil {
		j.log.Warn("retention pass failed", append(fields, logx.Err(err))...)
		return
	}
	j.log.Info("retention pass done", fields...)
}
