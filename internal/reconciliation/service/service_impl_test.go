package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	billingrecorddomain "github.com/stratusbill/walletd/internal/billingrecord/domain"
	billingrecordrepo "github.com/stratusbill/walletd/internal/billingrecord/repository"
	"github.com/stratusbill/walletd/internal/clock"
	"github.com/stratusbill/walletd/internal/config"
	pricingdomain "github.com/stratusbill/walletd/internal/pricing/domain"
	pricingservice "github.com/stratusbill/walletd/internal/pricing/service"
	"github.com/stratusbill/walletd/internal/reconciliation/domain"
	reconciliationrepo "github.com/stratusbill/walletd/internal/reconciliation/repository"
	"github.com/stratusbill/walletd/internal/telemetry"
	walletdomain "github.com/stratusbill/walletd/internal/wallet/domain"
	walletrepo "github.com/stratusbill/walletd/internal/wallet/repository"
	walletservice "github.com/stratusbill/walletd/internal/wallet/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// hoursStub serves fixed powered-on hours per instance.
type hoursStub struct {
	hours   map[string]int
	failFor map[string]error
}

func (s *hoursStub) PowerState(ctx context.Context, instanceID string) (telemetry.PowerState, error) {
	return telemetry.PoweredOn, nil
}

func (s *hoursStub) HoursPoweredOn(ctx context.Context, month time.Month, year int, instanceID string) (int, error) {
	if err, ok := s.failFor[instanceID]; ok {
		return 0, err
	}
	return s.hours[instanceID], nil
}

type reconFixture struct {
	svc        domain.Service
	walletSvc  walletdomain.Service
	recordRepo billingrecorddomain.Repository
	reconRepo  domain.Repository
	db         *gorm.DB
	node       *snowflake.Node
	telemetry  *hoursStub
}

func setupRecon(t *testing.T) *reconFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	require.NoError(t, db.AutoMigrate(
		&walletdomain.Wallet{},
		&walletdomain.Transaction{},
		&billingrecorddomain.VMBillingRecord{},
		&domain.Reconciliation{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC))
	cfg := config.Config{
		Environment:      "test",
		DefaultCurrency:  "ZAR",
		TelemetryTimeout: time.Minute,
	}

	stub := &hoursStub{hours: map[string]int{}}
	wRepo := walletrepo.Provide()
	rRepo := billingrecordrepo.Provide()
	reconRepo := reconciliationrepo.Provide()
	walletSvc := walletservice.NewService(walletservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  wRepo,
		PricingSvc: pricingservice.NewService(pricingservice.Params{
			Pricing: config.NewStaticPricingHolder(config.DefaultPricingTable()),
		}),
		Payments: walletservice.NewPaymentExecutor(cfg, zap.NewNop()),
		Config:   cfg,
	})
	svc := NewService(Params{
		Config:     cfg,
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fake,
		Telemetry:  stub,
		WalletSvc:  walletSvc,
		RecordRepo: rRepo,
		ReconRepo:  reconRepo,
	})

	return &reconFixture{
		svc:        svc,
		walletSvc:  walletSvc,
		recordRepo: rRepo,
		reconRepo:  reconRepo,
		db:         db,
		node:       node,
		telemetry:  stub,
	}
}

func (f *reconFixture) createWallet(t *testing.T, orgID snowflake.ID, balanceCents int64) {
	t.Helper()
	_, err := f.walletSvc.CreateWallet(context.Background(), walletdomain.CreateWalletRequest{
		OrgID:               orgID,
		InitialBalanceCents: balanceCents,
	})
	require.NoError(t, err)
}

func (f *reconFixture) insertRecord(t *testing.T, orgID snowflake.ID, instanceID string, reservedCents int64, hoursBilled int) snowflake.ID {
	t.Helper()
	record := &billingrecorddomain.VMBillingRecord{
		ID:                   f.node.Generate(),
		OrgID:                orgID,
		Name:                 instanceID,
		InstanceID:           instanceID,
		CPUCores:             2,
		CPUTier:              string(pricingdomain.CPUTierStandard),
		MemoryGB:             4,
		StorageGB:            100,
		StorageTier:          string(pricingdomain.StorageTierStandard),
		OS:                   string(pricingdomain.OSLinux),
		ReservedMonthlyCents: reservedCents,
		ImmediateCents:       18_000,
		Status:               billingrecorddomain.StatusActive,
		UsageMonthCents:      pricingdomain.ProrateHours(reservedCents, hoursBilled),
		HoursBilledMonth:     hoursBilled,
	}
	require.NoError(t, f.recordRepo.Insert(context.Background(), f.db, record))
	return record.ID
}

func (f *reconFixture) balance(t *testing.T, orgID snowflake.ID) int64 {
	t.Helper()
	var balance int64
	require.NoError(t, f.db.Raw(`SELECT balance_cents FROM wallets WHERE org_id = ?`, orgID).Scan(&balance).Error)
	return balance
}

var january = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestMonthEndCreditsRollover(t *testing.T) {
	f := setupRecon(t)
	orgID := snowflake.ID(4001)
	f.createWallet(t, orgID, 100_000)
	recordID := f.insertRecord(t, orgID, "vm-half", 74_400, 400)
	f.telemetry.hours["vm-half"] = 372 // of 744 hours in January

	result := f.svc.RunMonthEndForOrg(context.Background(), orgID, january)

	require.Empty(t, result.Error)
	require.NotNil(t, result.Reconciliation)
	assert.False(t, result.AlreadyExisted)

	rec := result.Reconciliation
	assert.Equal(t, "2025-01", rec.Month)
	assert.Equal(t, 1, rec.VMCount)
	assert.Equal(t, int64(74_400), rec.ReservedCents)
	assert.Equal(t, int64(37_200), rec.ActualCents)
	assert.Equal(t, int64(37_200), rec.RolloverCents)
	assert.Equal(t, int64(37_200), rec.CreditedCents)

	assert.Equal(t, int64(100_000+37_200), f.balance(t, orgID))

	// Monthly usage counters start over for the new month.
	record, err := f.recordRepo.FindByID(context.Background(), f.db, recordID)
	require.NoError(t, err)
	assert.Equal(t, 0, record.HoursBilledMonth)
	assert.Equal(t, int64(0), record.UsageMonthCents)
}

func TestMonthEndIsIdempotent(t *testing.T) {
	f := setupRecon(t)
	orgID := snowflake.ID(4002)
	f.createWallet(t, orgID, 100_000)
	f.insertRecord(t, orgID, "vm-once", 74_400, 400)
	f.telemetry.hours["vm-once"] = 372

	first := f.svc.RunMonthEndForOrg(context.Background(), orgID, january)
	require.Empty(t, first.Error)
	balanceAfterFirst := f.balance(t, orgID)

	second := f.svc.RunMonthEndForOrg(context.Background(), orgID, january)
	require.Empty(t, second.Error)
	assert.True(t, second.AlreadyExisted)
	assert.Equal(t, first.Reconciliation.ID, second.Reconciliation.ID)

	// No double credit on the re-run.
	assert.Equal(t, balanceAfterFirst, f.balance(t, orgID))

	var count int64
	require.NoError(t, f.db.Model(&domain.Reconciliation{}).Where("org_id = ?", orgID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestMonthEndFullUtilizationNoCredit(t *testing.T) {
	f := setupRecon(t)
	orgID := snowflake.ID(4003)
	f.createWallet(t, orgID, 100_000)
	f.insertRecord(t, orgID, "vm-busy", 50_000, 744)
	f.telemetry.hours["vm-busy"] = 744

	result := f.svc.RunMonthEndForOrg(context.Background(), orgID, january)

	require.Empty(t, result.Error)
	require.NotNil(t, result.Reconciliation)
	assert.Equal(t, int64(50_000), result.Reconciliation.ActualCents)
	assert.Equal(t, int64(0), result.Reconciliation.RolloverCents)
	assert.Equal(t, int64(0), result.Reconciliation.CreditedCents)
	assert.Equal(t, int64(100_000), f.balance(t, orgID))
}

func TestMonthEndOverageIsAbsorbed(t *testing.T) {
	f := setupRecon(t)
	orgID := snowflake.ID(4004)
	f.createWallet(t, orgID, 100_000)
	// Telemetry reports more hours than the flat base covers; actual clamps to
	// the reservation and nothing is charged back.
	f.insertRecord(t, orgID, "vm-hot", 50_000, 744)
	f.telemetry.hours["vm-hot"] = 800

	result := f.svc.RunMonthEndForOrg(context.Background(), orgID, january)

	require.Empty(t, result.Error)
	assert.Equal(t, int64(0), result.Reconciliation.RolloverCents)
	assert.Equal(t, int64(0), result.Reconciliation.CreditedCents)
	assert.Equal(t, int64(100_000), f.balance(t, orgID))
}

func TestMonthEndTelemetryFailureLeavesNoMarker(t *testing.T) {
	f := setupRecon(t)
	orgID := snowflake.ID(4005)
	f.createWallet(t, orgID, 100_000)
	f.insertRecord(t, orgID, "vm-a", 74_400, 372)
	f.insertRecord(t, orgID, "vm-b", 74_400, 372)
	f.telemetry.hours["vm-a"] = 372
	f.telemetry.failFor = map[string]error{"vm-b": errors.New("vcenter timeout")}

	result := f.svc.RunMonthEndForOrg(context.Background(), orgID, january)

	require.NotEmpty(t, result.Error)
	assert.Nil(t, result.Reconciliation)
	assert.Equal(t, int64(100_000), f.balance(t, orgID))

	// No stored row means the whole org settles cleanly on the next run.
	stored, err := f.reconRepo.FindByOrgMonth(context.Background(), f.db, orgID, "2025-01")
	require.NoError(t, err)
	assert.Nil(t, stored)

	f.telemetry.failFor = nil
	f.telemetry.hours["vm-b"] = 372
	retry := f.svc.RunMonthEndForOrg(context.Background(), orgID, january)
	require.Empty(t, retry.Error)
	assert.Equal(t, int64(74_400), retry.Reconciliation.CreditedCents)
}

func TestRunMonthEndSweepsAllOrgs(t *testing.T) {
	f := setupRecon(t)
	orgA := snowflake.ID(4006)
	orgB := snowflake.ID(4007)
	f.createWallet(t, orgA, 100_000)
	f.createWallet(t, orgB, 100_000)
	f.insertRecord(t, orgA, "vm-a1", 74_400, 372)
	f.insertRecord(t, orgB, "vm-b1", 74_400, 372)
	f.telemetry.hours["vm-a1"] = 372
	f.telemetry.hours["vm-b1"] = 744

	results, err := f.svc.RunMonthEnd(context.Background(), january)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byOrg := map[snowflake.ID]domain.Result{}
	for _, r := range results {
		byOrg[r.OrgID] = r
	}
	assert.Equal(t, int64(37_200), byOrg[orgA].Reconciliation.CreditedCents)
	assert.Equal(t, int64(0), byOrg[orgB].Reconciliation.CreditedCents)
}

func TestMonthEndDefaultsToPreviousMonth(t *testing.T) {
	f := setupRecon(t)
	orgID := snowflake.ID(4008)
	f.createWallet(t, orgID, 100_000)
	f.insertRecord(t, orgID, "vm-prev", 74_400, 372)
	f.telemetry.hours["vm-prev"] = 372

	// Clock sits at 2025-02-01; the zero month resolves to January.
	result := f.svc.RunMonthEndForOrg(context.Background(), orgID, time.Time{})
	require.Empty(t, result.Error)
	assert.Equal(t, "2025-01", result.Reconciliation.Month)
}
