package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	billingrecorddomain "github.com/stratusbill/walletd/internal/billingrecord/domain"
	"github.com/stratusbill/walletd/internal/clock"
	"github.com/stratusbill/walletd/internal/config"
	"github.com/stratusbill/walletd/internal/observability/metrics"
	pricingdomain "github.com/stratusbill/walletd/internal/pricing/domain"
	"github.com/stratusbill/walletd/internal/reconciliation/domain"
	"github.com/stratusbill/walletd/internal/telemetry"
	walletdomain "github.com/stratusbill/walletd/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config     config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Telemetry  telemetry.Provider
	WalletSvc  walletdomain.Service
	RecordRepo billingrecorddomain.Repository
	ReconRepo  domain.Repository
}

type Service struct {
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	telemetry  telemetry.Provider
	walletSvc  walletdomain.Service
	recordRepo billingrecorddomain.Repository
	reconRepo  domain.Repository
	metrics    *metrics.BillingMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		cfg:        p.Config,
		db:         p.DB,
		log:        p.Log.Named("reconciliation.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		telemetry:  p.Telemetry,
		walletSvc:  p.WalletSvc,
		recordRepo: p.RecordRepo,
		reconRepo:  p.ReconRepo,
		metrics:    metrics.Billing(),
	}
}

func (s *Service) RunMonthEnd(ctx context.Context, month time.Time) ([]domain.Result, error) {
	month = s.resolveMonth(month)

	orgs, err := s.recordRepo.OrgsWithRecords(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("list orgs with records: %w", err)
	}

	results := make([]domain.Result, 0, len(orgs))
	for _, orgID := range orgs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, s.RunMonthEndForOrg(ctx, orgID, month))
	}
	return results, nil
}

func (s *Service) RunMonthEndForOrg(ctx context.Context, orgID snowflake.ID, month time.Time) domain.Result {
	month = s.resolveMonth(month)
	monthKey := domain.MonthKey(month)
	result := domain.Result{OrgID: orgID}

	existing, err := s.reconRepo.FindByOrgMonth(ctx, s.db, orgID, monthKey)
	if err != nil {
		result.Error = fmt.Sprintf("lookup reconciliation: %v", err)
		return result
	}
	if existing != nil {
		result.Reconciliation = existing
		result.AlreadyExisted = true
		return result
	}

	records, err := s.recordRepo.ListByOrg(ctx, s.db, orgID)
	if err != nil {
		result.Error = fmt.Sprintf("list records: %v", err)
		return result
	}

	baseHours := telemetry.HoursInMonth(month.Year(), month.Month())
	rec := &domain.Reconciliation{
		ID:    s.genID.Generate(),
		OrgID: orgID,
		Month: monthKey,
	}

	var lines []domain.VMLine
	for _, record := range records {
		if record.Status == billingrecorddomain.StatusTerminated && record.UsageMonthCents == 0 {
			continue
		}
		hours, err := s.hoursPoweredOn(ctx, month, record.InstanceID)
		if err != nil {
			// Crediting from partial telemetry would under- or over-refund.
			// Leave no marker so the whole org reconciles on the next run.
			result.Error = fmt.Sprintf("vm %s: hours powered on: %v", record.InstanceID, err)
			return result
		}

		actual := pricingdomain.ProrateOverBase(record.ReservedMonthlyCents, hours, baseHours)
		line := domain.VMLine{
			InstanceID:     record.InstanceID,
			Name:           record.Name,
			ReservedCents:  record.ReservedMonthlyCents,
			HoursPoweredOn: hours,
			Utilization:    float64(hours) / float64(baseHours),
			ActualCents:    actual,
			RolloverCents:  record.ReservedMonthlyCents - actual,
		}
		lines = append(lines, line)

		rec.VMCount++
		rec.ReservedCents += line.ReservedCents
		rec.ActualCents += line.ActualCents
		rec.RolloverCents += line.RolloverCents
	}

	if rec.VMCount == 0 {
		return result
	}

	detail, err := json.Marshal(lines)
	if err != nil {
		result.Error = fmt.Sprintf("encode details: %v", err)
		return result
	}
	rec.Details = datatypes.JSON(detail)
	rec.CreatedAt = s.clock.Now()

	// Negative rollover means usage exceeded the reservation. The overage is
	// absorbed, never charged back.
	if rec.RolloverCents > 0 {
		rec.CreditedCents = rec.RolloverCents
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		inserted, err := s.reconRepo.Insert(ctx, tx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			stored, err := s.reconRepo.FindByOrgMonth(ctx, tx, orgID, monthKey)
			if err != nil {
				return err
			}
			result.Reconciliation = stored
			result.AlreadyExisted = true
			return nil
		}
		if rec.CreditedCents > 0 {
			if _, err := s.walletSvc.Post(ctx, tx, walletdomain.PostRequest{
				OrgID:       orgID,
				AmountCents: rec.CreditedCents,
				Type:        walletdomain.TransactionTypeCredit,
				Description: fmt.Sprintf("rollover credit for %s (%d VMs)", monthKey, rec.VMCount),
			}); err != nil {
				return err
			}
		}
		result.Reconciliation = rec
		return nil
	})
	if err != nil {
		result.Error = fmt.Sprintf("settle month: %v", err)
		result.Reconciliation = nil
		return result
	}
	if result.AlreadyExisted {
		return result
	}

	if err := s.recordRepo.ResetMonthlyCounters(ctx, s.db, orgID); err != nil {
		// The month is settled; a failed reset only delays the counter wipe
		// until the next successful sweep.
		s.log.Error("reset monthly counters failed",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
	}

	if rec.CreditedCents > 0 {
		s.metrics.IncRolloverCredit()
	}
	s.log.Info("month reconciled",
		zap.String("org_id", orgID.String()),
		zap.String("month", monthKey),
		zap.Int("vms", rec.VMCount),
		zap.Int64("rollover_cents", rec.RolloverCents),
		zap.Int64("credited_cents", rec.CreditedCents),
	)
	return result
}

// resolveMonth normalizes to the first instant of the target month, defaulting
// to the month before now.
func (s *Service) resolveMonth(month time.Time) time.Time {
	if month.IsZero() {
		now := s.clock.Now()
		month = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	}
	return time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (s *Service) hoursPoweredOn(ctx context.Context, month time.Time, instanceID string) (int, error) {
	timeout := s.cfg.TelemetryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.telemetry.HoursPoweredOn(ctx, month.Month(), month.Year(), instanceID)
}
