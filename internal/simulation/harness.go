package simulation

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	billingcycledomain "github.com/stratusbill/walletd/internal/billingcycle/domain"
	billingcycleservice "github.com/stratusbill/walletd/internal/billingcycle/service"
	billingrecordrepo "github.com/stratusbill/walletd/internal/billingrecord/repository"
	"github.com/stratusbill/walletd/internal/clock"
	appconfig "github.com/stratusbill/walletd/internal/config"
	pricingdomain "github.com/stratusbill/walletd/internal/pricing/domain"
	provisioningdomain "github.com/stratusbill/walletd/internal/provisioning/domain"
	provisioningservice "github.com/stratusbill/walletd/internal/provisioning/service"
	reconciliationdomain "github.com/stratusbill/walletd/internal/reconciliation/domain"
	reconciliationrepo "github.com/stratusbill/walletd/internal/reconciliation/repository"
	reconciliationservice "github.com/stratusbill/walletd/internal/reconciliation/service"
	"github.com/stratusbill/walletd/internal/telemetry"
	walletdomain "github.com/stratusbill/walletd/internal/wallet/domain"
	walletrepo "github.com/stratusbill/walletd/internal/wallet/repository"
	walletservice "github.com/stratusbill/walletd/internal/wallet/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config sizes one synthetic run. The zero value is usable; defaults match the
// stress profile (100 organizations over 6 months).
type Config struct {
	Orgs   int   `json:"orgs"`
	Months int   `json:"months"`
	Seed   int64 `json:"seed"`

	MinVMsPerOrg int `json:"min_vms_per_org"`
	MaxVMsPerOrg int `json:"max_vms_per_org"`

	InitialBalanceCents int64     `json:"initial_balance_cents"`
	OnRatio             float64   `json:"on_ratio"`
	Start               time.Time `json:"start"`
}

func (c Config) withDefaults() Config {
	if c.Orgs <= 0 {
		c.Orgs = 100
	}
	if c.Months <= 0 {
		c.Months = 6
	}
	if c.MinVMsPerOrg <= 0 {
		c.MinVMsPerOrg = 1
	}
	if c.MaxVMsPerOrg < c.MinVMsPerOrg {
		c.MaxVMsPerOrg = c.MinVMsPerOrg + 3
	}
	if c.InitialBalanceCents <= 0 {
		c.InitialBalanceCents = 1_000_000
	}
	if c.OnRatio <= 0 || c.OnRatio > 1 {
		c.OnRatio = 0.85
	}
	if c.Start.IsZero() {
		c.Start = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return c
}

// MonthSummary aggregates one simulated calendar month.
type MonthSummary struct {
	Month           string `json:"month"`
	ChargedCents    int64  `json:"charged_cents"`
	ChargeFailures  int    `json:"charge_failures"`
	SuspendedVMs    int    `json:"suspended_vms"`
	ReconciledOrgs  int    `json:"reconciled_orgs"`
	CreditedCents   int64  `json:"credited_cents"`
	ReconcileErrors int    `json:"reconcile_errors"`
}

// Report is the outcome of a full run, with enough totals to verify money
// conservation: initial + topups + credits - debits == final.
type Report struct {
	Orgs           int   `json:"orgs"`
	VMs            int   `json:"vms"`
	SkippedOrgs    int   `json:"skipped_orgs"`
	InitialCents   int64 `json:"initial_cents"`
	TopupCents     int64 `json:"topup_cents"`
	DebitCents     int64 `json:"debit_cents"`
	CreditCents    int64 `json:"credit_cents"`
	FinalCents     int64 `json:"final_cents"`
	ChargeFailures int   `json:"charge_failures"`
	SuspendedVMs   int   `json:"suspended_vms"`

	Months  []MonthSummary `json:"months"`
	Elapsed time.Duration  `json:"elapsed"`
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Config     appconfig.Config
	PricingSvc pricingdomain.Service
}

// Harness drives the full billing pipeline against a fake clock: provision
// synthetic fleets, sweep every hour of every month, reconcile at each month
// boundary. It builds its own service stack so the clock and telemetry it
// injects stay under its control.
type Harness struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	cfg        appconfig.Config
	pricingSvc pricingdomain.Service
}

func New(p Params) *Harness {
	return &Harness{
		db:         p.DB,
		log:        p.Log.Named("simulation"),
		genID:      p.GenID,
		cfg:        p.Config,
		pricingSvc: p.PricingSvc,
	}
}

type stack struct {
	clock     *clock.FakeClock
	walletSvc walletdomain.Service
	provSvc   provisioningdomain.Service
	cycleSvc  billingcycledomain.Service
	reconSvc  reconciliationdomain.Service
}

func (h *Harness) buildStack(simCfg Config) *stack {
	fake := clock.NewFakeClock(simCfg.Start)
	provider := telemetry.NewSimulator(simCfg.OnRatio, fake, h.log)

	appCfg := h.cfg
	appCfg.TelemetryTimeout = time.Minute

	wRepo := walletrepo.Provide()
	rRepo := billingrecordrepo.Provide()

	walletSvc := walletservice.NewService(walletservice.Params{
		DB:         h.db,
		Log:        h.log,
		GenID:      h.genID,
		Clock:      fake,
		Repo:       wRepo,
		PricingSvc: h.pricingSvc,
		Payments:   walletservice.NewPaymentExecutor(appCfg, h.log),
		Config:     appCfg,
	})
	provSvc := provisioningservice.NewService(provisioningservice.Params{
		DB:         h.db,
		Log:        h.log,
		GenID:      h.genID,
		Clock:      fake,
		PricingSvc: h.pricingSvc,
		WalletSvc:  walletSvc,
		WalletRepo: wRepo,
		RecordRepo: rRepo,
	})
	cycleSvc := billingcycleservice.NewService(billingcycleservice.Params{
		Config:     appCfg,
		DB:         h.db,
		Log:        h.log,
		Clock:      fake,
		Telemetry:  provider,
		WalletSvc:  walletSvc,
		RecordRepo: rRepo,
	})
	reconSvc := reconciliationservice.NewService(reconciliationservice.Params{
		Config:     appCfg,
		DB:         h.db,
		Log:        h.log,
		GenID:      h.genID,
		Clock:      fake,
		Telemetry:  provider,
		WalletSvc:  walletSvc,
		RecordRepo: rRepo,
		ReconRepo:  reconciliationrepo.Provide(),
	})

	return &stack{
		clock:     fake,
		walletSvc: walletSvc,
		provSvc:   provSvc,
		cycleSvc:  cycleSvc,
		reconSvc:  reconSvc,
	}
}

func (h *Harness) Run(ctx context.Context, simCfg Config) (*Report, error) {
	simCfg = simCfg.withDefaults()
	started := time.Now()

	st := h.buildStack(simCfg)
	rng := rand.New(rand.NewSource(simCfg.Seed))

	report := &Report{}
	orgs := make([]snowflake.ID, 0, simCfg.Orgs)

	for i := 0; i < simCfg.Orgs; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		orgID := h.genID.Generate()
		orgName := slug.Make(fmt.Sprintf("sim org %04d", i+1))

		mode := walletdomain.BillingModePrepaid
		if rng.Float64() < 0.2 {
			mode = walletdomain.BillingModeCreditLimit
		}
		if _, err := st.walletSvc.CreateWallet(ctx, walletdomain.CreateWalletRequest{
			OrgID:               orgID,
			BillingMode:         mode,
			InitialBalanceCents: simCfg.InitialBalanceCents,
		}); err != nil {
			return nil, fmt.Errorf("create wallet for %s: %w", orgName, err)
		}
		report.InitialCents += simCfg.InitialBalanceCents

		if mode == walletdomain.BillingModePrepaid && rng.Float64() < 0.5 {
			st.walletSvc.ConfigureAutoTopup(ctx, orgID, true, simCfg.InitialBalanceCents/10, simCfg.InitialBalanceCents/2)
		}

		vms := h.randomFleet(rng, orgName, simCfg)
		steps := st.provSvc.Run(ctx, orgID, vms)
		last := steps[len(steps)-1]
		if last.Step != provisioningdomain.StepCompletion || last.Status != provisioningdomain.StepStatusSuccess {
			// Undersized wallets are part of the stress profile; the org
			// simply sits out the billing phase.
			report.SkippedOrgs++
			continue
		}

		report.Orgs++
		report.VMs += len(vms)
		orgs = append(orgs, orgID)
	}

	for m := 0; m < simCfg.Months; m++ {
		monthStart := st.clock.Now()
		summary, err := h.runMonth(ctx, st, orgs, monthStart)
		if err != nil {
			return nil, err
		}
		report.Months = append(report.Months, *summary)
		report.ChargeFailures += summary.ChargeFailures
		report.SuspendedVMs += summary.SuspendedVMs
	}

	if err := h.tallyLedger(ctx, report); err != nil {
		return nil, err
	}
	report.Elapsed = time.Since(started)

	h.log.Info("simulation finished",
		zap.Int("orgs", report.Orgs),
		zap.Int("vms", report.VMs),
		zap.Int64("debit_cents", report.DebitCents),
		zap.Int64("credit_cents", report.CreditCents),
		zap.Int("charge_failures", report.ChargeFailures),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func (h *Harness) runMonth(ctx context.Context, st *stack, orgs []snowflake.ID, monthStart time.Time) (*MonthSummary, error) {
	summary := &MonthSummary{Month: reconciliationdomain.MonthKey(monthStart)}
	hours := telemetry.HoursInMonth(monthStart.Year(), monthStart.Month())

	for hour := 0; hour < hours; hour++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reports, err := st.cycleSvc.RunHourly(ctx)
		if err != nil {
			return nil, fmt.Errorf("hourly sweep %s hour %d: %w", summary.Month, hour, err)
		}
		for _, r := range reports {
			summary.ChargedCents += r.ChargedCents
			summary.ChargeFailures += r.Failed
			summary.SuspendedVMs += r.Suspended
		}

		// The monitor cadence approximates the production 15-minute sweep
		// without a per-minute loop.
		if hour%6 == 0 {
			for _, orgID := range orgs {
				if _, err := st.walletSvc.MonitorBalance(ctx, orgID); err != nil {
					return nil, fmt.Errorf("monitor %s: %w", orgID, err)
				}
			}
		}

		st.clock.Advance(time.Hour)
	}

	results, err := st.reconSvc.RunMonthEnd(ctx, monthStart)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", summary.Month, err)
	}
	for _, result := range results {
		switch {
		case result.Error != "":
			summary.ReconcileErrors++
		case result.Reconciliation != nil && !result.AlreadyExisted:
			summary.ReconciledOrgs++
			summary.CreditedCents += result.Reconciliation.CreditedCents
		}
	}
	return summary, nil
}

func (h *Harness) randomFleet(rng *rand.Rand, orgName string, simCfg Config) []provisioningdomain.VMRequest {
	count := simCfg.MinVMsPerOrg + rng.Intn(simCfg.MaxVMsPerOrg-simCfg.MinVMsPerOrg+1)
	vms := make([]provisioningdomain.VMRequest, 0, count)
	for i := 0; i < count; i++ {
		spec := pricingdomain.VMSpecification{
			CPUCores:    1 + rng.Intn(8),
			CPUTier:     pricingdomain.CPUTierStandard,
			MemoryGB:    2 << rng.Intn(4),
			StorageGB:   50 + rng.Intn(450),
			StorageTier: pricingdomain.StorageTierStandard,
			OS:          pricingdomain.OSLinux,
			Backup:      rng.Float64() < 0.4,
			Monitoring:  rng.Float64() < 0.3,
		}
		if rng.Float64() < 0.2 {
			spec.CPUTier = pricingdomain.CPUTierHigh
		}
		if rng.Float64() < 0.25 {
			spec.StorageTier = pricingdomain.StorageTierPremium
		}
		if rng.Float64() < 0.3 {
			spec.OS = pricingdomain.OSWindows
			if spec.MemoryGB < 4 {
				spec.MemoryGB = 4
			}
		}
		vms = append(vms, provisioningdomain.VMRequest{
			Name: fmt.Sprintf("%s-vm-%02d", orgName, i+1),
			Spec: spec,
		})
	}
	return vms
}

// tallyLedger sums the transaction log and final balances so callers can
// assert conservation without replaying the run.
func (h *Harness) tallyLedger(ctx context.Context, report *Report) error {
	rows := []struct {
		Type  string
		Total int64
	}{}
	err := h.db.WithContext(ctx).Raw(
		`SELECT type, SUM(amount_cents) AS total
		 FROM wallet_transactions
		 GROUP BY type`,
	).Scan(&rows).Error
	if err != nil {
		return err
	}
	for _, row := range rows {
		switch walletdomain.TransactionType(row.Type) {
		case walletdomain.TransactionTypeTopup:
			report.TopupCents += row.Total
		case walletdomain.TransactionTypeDebit:
			report.DebitCents += -row.Total
		case walletdomain.TransactionTypeCredit, walletdomain.TransactionTypeAdjustment:
			report.CreditCents += row.Total
		}
	}

	var final *int64
	if err := h.db.WithContext(ctx).Raw(
		`SELECT SUM(balance_cents) FROM wallets`,
	).Scan(&final).Error; err != nil {
		return err
	}
	if final != nil {
		report.FinalCents = *final
	}
	return nil
}
