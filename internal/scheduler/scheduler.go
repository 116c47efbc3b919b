package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tillpoint/internal/clock"
	obsmetrics "github.com/smallbiznis/tillpoint/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	"github.com/smallbiznis/tillpoint/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	PaymentSvc paymentdomain.Service

	WebhookSvc paymentdomain.WebhookService `optional:"true"`
	Locker     *ratelimit.Locker            `optional:"true"`
	Config     Config                       `optional:"true"`
}

// Scheduler runs the payment sweeps on a fixed interval.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	paymentSvc paymentdomain.Service
	webhookSvc paymentdomain.WebhookService
	locker     *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.PaymentSvc == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	if cfg.LockEnabled && p.Locker == nil {
		return nil, fmt.Errorf("%w: lock enabled without redis", ErrInvalidConfig)
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg,
		genID:      p.GenID,
		clock:      p.Clock,
		paymentSvc: p.PaymentSvc,
		webhookSvc: p.WebhookSvc,
		locker:     p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := s.withLock(ctx, name, fn)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 && !errors.Is(err, obsmetrics.ErrLockUnavailable) {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, obsmetrics.ErrLockUnavailable) {
		log.Debug("job skipped; lock held elsewhere")
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// withLock runs fn while holding the job's redis lock when locking is on.
func (s *Scheduler) withLock(ctx context.Context, name string, fn func(context.Context) error) error {
	if !s.cfg.LockEnabled || s.locker == nil {
		return fn(ctx)
	}
	lease, err := s.locker.Acquire(ctx, "scheduler:"+name, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if lease == nil {
		return obsmetrics.ErrLockUnavailable
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			s.logger(ctx).Warn("release scheduler lock failed", zap.String("job", name), zap.Error(err))
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobPendingPaymentTimeout, s.isJobEnabled(JobPendingPaymentTimeout), func(ctx context.Context) error {
			return s.runJob(ctx, JobPendingPaymentTimeout, s.cfg.BatchSize, s.cfg.JobTimeout, s.PendingPaymentTimeoutJob)
		}},
		{JobPaymentSaleRepair, s.webhookSvc != nil && s.isJobEnabled(JobPaymentSaleRepair), func(ctx context.Context) error {
			return s.runJob(ctx, JobPaymentSaleRepair, s.cfg.BatchSize, s.cfg.JobTimeout, s.PaymentSaleRepairJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// PendingPaymentTimeoutJob times out pending payments the gateway never
// answered, one batch at a time until a batch comes back short.
func (s *Scheduler) PendingPaymentTimeoutJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobPendingPaymentTimeout, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := s.paymentSvc.ExpireStale(ctx, s.cfg.BatchSize)
		if res != nil {
			run.AddProcessed(res.Updated)
			run.AddSkipped(res.Skipped)
			obsmetrics.Scheduler().AddBatchProcessed(JobPendingPaymentTimeout, "pending_payments", res.Updated)
		}
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.payment_timeout.failed", JobPendingPaymentTimeout, err)
			return err
		}
		if res.Scanned < s.cfg.BatchSize || res.Updated == 0 {
			return nil
		}
	}
}

// PaymentSaleRepairJob commits sales for confirmed payments left unlinked.
func (s *Scheduler) PaymentSaleRepairJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobPaymentSaleRepair, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	res, err := s.webhookSvc.RepairUnlinked(ctx, s.cfg.BatchSize)
	if res != nil {
		run.AddProcessed(res.Updated)
		run.AddSkipped(res.Skipped)
		obsmetrics.Scheduler().AddBatchProcessed(JobPaymentSaleRepair, "pending_payments", res.Updated)
	}
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.sale_repair.failed", JobPaymentSaleRepair, err)
		return err
	}
	return nil
}
