package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	billingcycledomain "github.com/stratusbill/walletd/internal/billingcycle/domain"
	"github.com/stratusbill/walletd/internal/clock"
	obsmetrics "github.com/stratusbill/walletd/internal/observability/metrics"
	reconciliationdomain "github.com/stratusbill/walletd/internal/reconciliation/domain"
	walletdomain "github.com/stratusbill/walletd/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

const sweepLeaseKey = "walletd:scheduler:sweep"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	BillingSvc billingcycledomain.Service
	ReconSvc   reconciliationdomain.Service
	WalletSvc  walletdomain.Service
	WalletRepo walletdomain.Repository
	Lease      *Lease `optional:"true"`
	Config     Config `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	billingSvc billingcycledomain.Service
	reconSvc   reconciliationdomain.Service
	walletSvc  walletdomain.Service
	walletRepo walletdomain.Repository
	lease      *Lease

	nextBilling time.Time
	nextMonitor time.Time
	lastMonth   string
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.BillingSvc == nil || p.ReconSvc == nil || p.WalletSvc == nil || p.WalletRepo == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	now := p.Clock.Now()
	// Seeding one month back makes the first tick run a catch-up month_end,
	// so a restart straddling a month boundary cannot skip a month.
	// Reconciliation is idempotent per (org, month), so the catch-up is a
	// no-op whenever the month is already settled.
	prevMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         cfg,
		clock:       p.Clock,
		billingSvc:  p.BillingSvc,
		reconSvc:    p.ReconSvc,
		walletSvc:   p.WalletSvc,
		walletRepo:  p.WalletRepo,
		lease:       p.Lease,
		nextBilling: now,
		nextMonitor: now,
		lastMonth:   reconciliationdomain.MonthKey(prevMonth),
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	m := obsmetrics.Billing()
	m.IncJobRun(name)

	err := fn(ctx)
	m.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		m.IncJobTimeout(name)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	m.IncJobError(name)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce evaluates the per-job cadences against the clock and runs whatever
// is due. Interrupted sweeps are safe to re-run: hourly billing advances
// per-record accumulators and reconciliation is idempotent per (org, month).
func (s *Scheduler) RunOnce(parent context.Context) error {
	now := s.clock.Now()

	token, acquired, err := s.lease.TryAcquire(parent, sweepLeaseKey, s.cfg.LeaseTTL)
	if err != nil {
		s.log.Warn("sweep lease unavailable, proceeding unguarded", zap.Error(err))
	} else if !acquired {
		return nil
	}
	defer func() {
		if releaseErr := s.lease.Release(parent, sweepLeaseKey, token); releaseErr != nil {
			s.log.Warn("sweep lease release failed", zap.Error(releaseErr))
		}
	}()

	var runErr error

	if !now.Before(s.nextBilling) {
		runErr = errors.Join(runErr, s.runJob(parent, "hourly_billing", s.cfg.JobTimeout, s.HourlyBillingJob))
		s.nextBilling = now.Add(s.cfg.BillingInterval)
	}

	if month := reconciliationdomain.MonthKey(now); month != s.lastMonth {
		runErr = errors.Join(runErr, s.runJob(parent, "month_end", s.cfg.JobTimeout, s.MonthEndJob))
		s.lastMonth = month
	}

	if !now.Before(s.nextMonitor) {
		runErr = errors.Join(runErr, s.runJob(parent, "balance_monitor", s.cfg.JobTimeout, s.BalanceMonitorJob))
		s.nextMonitor = now.Add(s.cfg.MonitorInterval)
	}

	return runErr
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

func (s *Scheduler) HourlyBillingJob(ctx context.Context) error {
	reports, err := s.billingSvc.RunHourly(ctx)
	if err != nil {
		return err
	}

	var billed, failed int
	var charged int64
	for _, report := range reports {
		billed += report.VMsBilled
		failed += report.Failed
		charged += report.ChargedCents
	}
	s.log.Info("hourly billing sweep finished",
		zap.Int("orgs", len(reports)),
		zap.Int("vms_billed", billed),
		zap.Int("failed", failed),
		zap.Int64("charged_cents", charged),
	)
	return nil
}

func (s *Scheduler) MonthEndJob(ctx context.Context) error {
	results, err := s.reconSvc.RunMonthEnd(ctx, time.Time{})
	if err != nil {
		return err
	}

	var settled, skipped, failed int
	for _, result := range results {
		switch {
		case result.Error != "":
			failed++
		case result.AlreadyExisted:
			skipped++
		case result.Reconciliation != nil:
			settled++
		}
	}
	s.log.Info("month-end sweep finished",
		zap.Int("settled", settled),
		zap.Int("already_reconciled", skipped),
		zap.Int("failed", failed),
	)
	if failed > 0 {
		return fmt.Errorf("month_end: %d organizations failed", failed)
	}
	return nil
}

func (s *Scheduler) BalanceMonitorJob(ctx context.Context) error {
	orgs, err := s.walletRepo.ListOrgIDs(ctx, s.db)
	if err != nil {
		return err
	}

	var jobErr error
	for _, orgID := range orgs {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}

		alerts, err := s.walletSvc.MonitorBalance(ctx, orgID)
		if err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("org %s: %w", orgID, err))
			continue
		}
		for _, alert := range alerts {
			s.log.Warn("balance alert",
				zap.String("org_id", orgID.String()),
				zap.String("type", string(alert.Type)),
				zap.String("severity", string(alert.Severity)),
				zap.String("message", alert.Message),
			)
		}
	}
	return jobErr
}
