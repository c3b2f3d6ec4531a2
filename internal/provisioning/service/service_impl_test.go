package service

import (
	"context"
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
	"github.com/stratusbill/walletd/internal/provisioning/domain"
	walletdomain "github.com/stratusbill/walletd/internal/wallet/domain"
	walletrepo "github.com/stratusbill/walletd/internal/wallet/repository"
	walletservice "github.com/stratusbill/walletd/internal/wallet/service"
	"github.com/stratusbill/walletd/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type provisioningFixture struct {
	svc       domain.Service
	walletSvc walletdomain.Service
	db        *gorm.DB
}

func setupProvisioning(t *testing.T) *provisioningFixture {
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
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC))
	cfg := config.Config{Environment: "test", DefaultCurrency: "ZAR"}

	wRepo := walletrepo.Provide()
	pricingSvc := pricingservice.NewService(pricingservice.Params{
		Pricing: config.NewStaticPricingHolder(config.DefaultPricingTable()),
	})
	walletSvc := walletservice.NewService(walletservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fake,
		Repo:       wRepo,
		PricingSvc: pricingSvc,
		Payments:   walletservice.NewPaymentExecutor(cfg, zap.NewNop()),
		Config:     cfg,
	})
	svc := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fake,
		PricingSvc: pricingSvc,
		WalletSvc:  walletSvc,
		WalletRepo: wRepo,
		RecordRepo: billingrecordrepo.Provide(),
	})

	return &provisioningFixture{svc: svc, walletSvc: walletSvc, db: db}
}

// baselineVM costs 32_300 recurring, 18_000 immediate, 50_300 total.
func baselineVM(name string) domain.VMRequest {
	return domain.VMRequest{
		Name: name,
		Spec: pricingdomain.VMSpecification{
			CPUCores:    2,
			CPUTier:     pricingdomain.CPUTierStandard,
			MemoryGB:    4,
			StorageGB:   100,
			StorageTier: pricingdomain.StorageTierStandard,
			OS:          pricingdomain.OSLinux,
		},
	}
}

func (f *provisioningFixture) createWallet(t *testing.T, orgID snowflake.ID, balanceCents int64) {
	t.Helper()
	_, err := f.walletSvc.CreateWallet(context.Background(), walletdomain.CreateWalletRequest{
		OrgID:               orgID,
		InitialBalanceCents: balanceCents,
	})
	require.NoError(t, err)
}

func TestValidateRejectsEmptyRequest(t *testing.T) {
	f := setupProvisioning(t)

	_, err := f.svc.Validate(context.Background(), snowflake.ID(2001), nil)
	assert.ErrorIs(t, err, domain.ErrNoVMsRequested)
}

func TestValidateInvalidSpec(t *testing.T) {
	f := setupProvisioning(t)
	orgID := snowflake.ID(2002)
	f.createWallet(t, orgID, 1_000_000)

	result, err := f.svc.Validate(context.Background(), orgID, []domain.VMRequest{
		{Spec: pricingdomain.VMSpecification{CPUCores: 0, CPUTier: "x", StorageTier: "y", OS: "z"}},
	})
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.Issues)
}

func TestValidateMissingWallet(t *testing.T) {
	f := setupProvisioning(t)

	result, err := f.svc.Validate(context.Background(), snowflake.ID(2003), []domain.VMRequest{baselineVM("vm-a")})
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Message, "no wallet")
}

func TestValidateShortfall(t *testing.T) {
	f := setupProvisioning(t)
	orgID := snowflake.ID(2004)
	f.createWallet(t, orgID, 10_000)

	result, err := f.svc.Validate(context.Background(), orgID, []domain.VMRequest{baselineVM("vm-a")})
	require.NoError(t, err)

	assert.False(t, result.IsValid)
	assert.Equal(t, int64(50_300), result.TotalMonthlyCents)
	assert.Equal(t, int64(40_300), result.ShortfallCents)
	assert.Equal(t, int64(44_400), result.RecommendedTopupCents)
}

func TestValidateSufficientBalance(t *testing.T) {
	f := setupProvisioning(t)
	orgID := snowflake.ID(2005)
	f.createWallet(t, orgID, 50_300)

	result, err := f.svc.Validate(context.Background(), orgID, []domain.VMRequest{baselineVM("vm-a")})
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, int64(0), result.ShortfallCents)
}

func TestChargeDebitsImmediateOnly(t *testing.T) {
	f := setupProvisioning(t)
	orgID := snowflake.ID(2006)
	f.createWallet(t, orgID, 120_000)

	result, err := f.svc.Charge(context.Background(), orgID, []domain.VMRequest{
		baselineVM("web-01"),
		baselineVM("web-02"),
	})
	require.NoError(t, err)

	// Only the disk charge moves at provisioning time.
	assert.Equal(t, int64(36_000), result.ChargedCents)
	assert.Equal(t, int64(64_600), result.ReservedCents)
	assert.Equal(t, int64(84_000), result.NewBalanceCents)
	assert.NotEmpty(t, result.Reference)
	require.Len(t, result.Records, 2)

	for _, record := range result.Records {
		assert.Equal(t, billingrecorddomain.StatusActive, record.Status)
		assert.Equal(t, int64(32_300), record.ReservedMonthlyCents)
		assert.Equal(t, int64(18_000), record.ImmediateCents)
		assert.NotEmpty(t, record.InstanceID)
	}

	var count int64
	require.NoError(t, f.db.Model(&billingrecorddomain.VMBillingRecord{}).Where("org_id = ?", orgID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestChargeInsufficientBalanceRollsBack(t *testing.T) {
	f := setupProvisioning(t)
	orgID := snowflake.ID(2007)
	f.createWallet(t, orgID, 10_000)

	_, err := f.svc.Charge(context.Background(), orgID, []domain.VMRequest{baselineVM("vm-a")})
	require.ErrorIs(t, err, domain.ErrValidationFailed)

	var count int64
	require.NoError(t, f.db.Model(&billingrecorddomain.VMBillingRecord{}).Where("org_id = ?", orgID).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	wallet, err := f.walletSvc.GetStatus(context.Background(), orgID, pagination.Pagination{PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), wallet.Wallet.BalanceCents)
}

func TestWorkflowHaltsOnShortfall(t *testing.T) {
	f := setupProvisioning(t)
	orgID := snowflake.ID(2008)
	f.createWallet(t, orgID, 10_000)

	steps := f.svc.Run(context.Background(), orgID, []domain.VMRequest{baselineVM("vm-a")})

	require.Len(t, steps, 2)
	assert.Equal(t, domain.StepWalletCheck, steps[0].Step)
	assert.Equal(t, domain.StepStatusSuccess, steps[0].Status)
	assert.Equal(t, domain.StepValidation, steps[1].Step)
	assert.Equal(t, domain.StepStatusRequiresTopup, steps[1].Status)
	assert.Equal(t, int64(40_300), steps[1].Data["shortfall_cents"])
	assert.Equal(t, int64(44_400), steps[1].Data["recommended_topup_cents"])
}

func TestWorkflowMissingWallet(t *testing.T) {
	f := setupProvisioning(t)

	steps := f.svc.Run(context.Background(), snowflake.ID(2009), []domain.VMRequest{baselineVM("vm-a")})

	require.Len(t, steps, 1)
	assert.Equal(t, domain.StepWalletCheck, steps[0].Step)
	assert.Equal(t, domain.StepStatusError, steps[0].Status)
}

func TestWorkflowCompletes(t *testing.T) {
	f := setupProvisioning(t)
	orgID := snowflake.ID(2010)
	f.createWallet(t, orgID, 120_000)

	steps := f.svc.Run(context.Background(), orgID, []domain.VMRequest{baselineVM("vm-a")})

	require.Len(t, steps, 5)
	last := steps[len(steps)-1]
	assert.Equal(t, domain.StepCompletion, last.Step)
	assert.Equal(t, domain.StepStatusSuccess, last.Status)
}
