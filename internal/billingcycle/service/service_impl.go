package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stratusbill/walletd/internal/billingcycle/domain"
	billingrecorddomain "github.com/stratusbill/walletd/internal/billingrecord/domain"
	"github.com/stratusbill/walletd/internal/clock"
	"github.com/stratusbill/walletd/internal/config"
	"github.com/stratusbill/walletd/internal/observability/metrics"
	pricingdomain "github.com/stratusbill/walletd/internal/pricing/domain"
	"github.com/stratusbill/walletd/internal/telemetry"
	walletdomain "github.com/stratusbill/walletd/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config     config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Telemetry  telemetry.Provider
	WalletSvc  walletdomain.Service
	RecordRepo billingrecorddomain.Repository
}

type Service struct {
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	telemetry  telemetry.Provider
	walletSvc  walletdomain.Service
	recordRepo billingrecorddomain.Repository
	metrics    *metrics.BillingMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		cfg:        p.Config,
		db:         p.DB,
		log:        p.Log.Named("billingcycle.service"),
		clock:      p.Clock,
		telemetry:  p.Telemetry,
		walletSvc:  p.WalletSvc,
		recordRepo: p.RecordRepo,
		metrics:    metrics.Billing(),
	}
}

func (s *Service) RunHourly(ctx context.Context) ([]domain.OrgReport, error) {
	orgs, err := s.recordRepo.OrgsWithActive(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("list orgs with active records: %w", err)
	}

	reports := make([]domain.OrgReport, 0, len(orgs))
	for _, orgID := range orgs {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		reports = append(reports, s.RunHourlyForOrg(ctx, orgID))
	}
	return reports, nil
}

func (s *Service) RunHourlyForOrg(ctx context.Context, orgID snowflake.ID) domain.OrgReport {
	report := domain.OrgReport{OrgID: orgID}

	records, err := s.recordRepo.ListActiveByOrg(ctx, s.db, orgID)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("list active records: %v", err))
		return report
	}

	for _, record := range records {
		s.billRecord(ctx, record, &report)
	}

	if report.Failed > 0 || len(report.Errors) > 0 {
		s.log.Warn("hourly sweep finished with failures",
			zap.String("org_id", orgID.String()),
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed),
			zap.Int("suspended", report.Suspended),
		)
	}
	return report
}

func (s *Service) billRecord(ctx context.Context, record *billingrecorddomain.VMBillingRecord, report *domain.OrgReport) {
	state, err := s.powerState(ctx, record.InstanceID)
	if err != nil {
		report.Failed++
		report.Errors = append(report.Errors, fmt.Sprintf("vm %s: power state: %v", record.InstanceID, err))
		return
	}
	if state != telemetry.PoweredOn {
		return
	}

	hourCents := pricingdomain.HourlyDebit(record.ReservedMonthlyCents, record.HoursBilledMonth)
	if record.HoursBilledMonth >= pricingdomain.HoursPerMonth {
		// Fully billed for the proration base; the hour still counts toward
		// utilization at reconciliation but no more money moves.
		return
	}

	now := s.clock.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if hourCents > 0 {
			if _, err := s.walletSvc.Post(ctx, tx, walletdomain.PostRequest{
				OrgID:       record.OrgID,
				AmountCents: -hourCents,
				Type:        walletdomain.TransactionTypeDebit,
				Description: fmt.Sprintf("hourly usage for %s (hour %d)", record.Name, record.HoursBilledMonth+1),
			}); err != nil {
				return err
			}
		}
		return s.recordRepo.RecordHourlyCharge(ctx, tx, record.ID, hourCents, now)
	})
	if err != nil {
		report.Failed++
		report.Errors = append(report.Errors, fmt.Sprintf("vm %s: %v", record.InstanceID, err))
		s.metrics.IncChargeFailure()
		if errors.Is(err, walletdomain.ErrInsufficientBalance) {
			s.handleFailedHour(ctx, record, report)
		}
		return
	}

	record.HoursBilledMonth++
	record.UsageMonthCents += hourCents
	report.VMsBilled++
	report.Succeeded++
	report.ChargedCents += hourCents
	s.metrics.IncVMBilled()
}

// handleFailedHour tracks consecutive unpayable hours and suspends the VM
// once the configured grace window is exhausted.
func (s *Service) handleFailedHour(ctx context.Context, record *billingrecorddomain.VMBillingRecord, report *domain.OrgReport) {
	streak, err := s.recordRepo.RecordFailedHour(ctx, s.db, record.ID)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("vm %s: record failed hour: %v", record.InstanceID, err))
		return
	}
	if s.cfg.SuspendAfterHours <= 0 || streak < s.cfg.SuspendAfterHours {
		return
	}

	if err := s.recordRepo.SetStatus(ctx, s.db, record.ID, billingrecorddomain.StatusSuspended); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("vm %s: suspend: %v", record.InstanceID, err))
		return
	}
	report.Suspended++
	s.log.Warn("vm suspended after unpaid hours",
		zap.String("org_id", record.OrgID.String()),
		zap.String("instance_id", record.InstanceID),
		zap.Int("failed_hours", streak),
	)
}

func (s *Service) powerState(ctx context.Context, instanceID string) (telemetry.PowerState, error) {
	timeout := s.cfg.TelemetryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.telemetry.PowerState(ctx, instanceID)
}
