package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stratusbill/walletd/internal/clock"
	"github.com/stratusbill/walletd/internal/config"
	pricingservice "github.com/stratusbill/walletd/internal/pricing/service"
	"github.com/stratusbill/walletd/internal/wallet/domain"
	walletrepo "github.com/stratusbill/walletd/internal/wallet/repository"
	"github.com/stratusbill/walletd/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupWalletService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Wallet{}, &domain.Transaction{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC))
	cfg := config.Config{Environment: "test", DefaultCurrency: "ZAR"}

	svc := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fake,
		Repo:       walletrepo.Provide(),
		PricingSvc: pricingservice.NewService(pricingservice.Params{Pricing: config.NewStaticPricingHolder(config.DefaultPricingTable())}),
		Payments:   NewPaymentExecutor(cfg, zap.NewNop()),
		Config:     cfg,
	})
	return svc, db, fake
}

func paginationPage() pagination.Pagination {
	return pagination.Pagination{PageSize: 10}
}

func mustCreateWallet(t *testing.T, svc domain.Service, orgID snowflake.ID, mode domain.BillingMode, initialCents int64) *domain.Wallet {
	t.Helper()
	wallet, err := svc.CreateWallet(context.Background(), domain.CreateWalletRequest{
		OrgID:               orgID,
		BillingMode:         mode,
		InitialBalanceCents: initialCents,
	})
	require.NoError(t, err)
	return wallet
}

func countTransactions(t *testing.T, db *gorm.DB, orgID snowflake.ID) int {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&domain.Transaction{}).Where("org_id = ?", orgID).Count(&count).Error)
	return int(count)
}

func TestCreateWalletWithInitialBalance(t *testing.T) {
	svc, db, _ := setupWalletService(t)
	orgID := snowflake.ID(1001)

	wallet := mustCreateWallet(t, svc, orgID, domain.BillingModePrepaid, 250_000)

	assert.Equal(t, int64(250_000), wallet.BalanceCents)
	assert.Equal(t, "ZAR", wallet.Currency)
	assert.Equal(t, domain.BillingModePrepaid, wallet.BillingMode)
	assert.Equal(t, 1, countTransactions(t, db, orgID))

	_, err := svc.CreateWallet(context.Background(), domain.CreateWalletRequest{OrgID: orgID})
	assert.ErrorIs(t, err, domain.ErrWalletExists)
}

func TestCreateWalletRejectsUnknownBillingMode(t *testing.T) {
	svc, _, _ := setupWalletService(t)

	_, err := svc.CreateWallet(context.Background(), domain.CreateWalletRequest{
		OrgID:       snowflake.ID(1002),
		BillingMode: "postpaid",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidBillingMode)
}

func TestManualTopupRejectsNonPositiveAmount(t *testing.T) {
	svc, _, _ := setupWalletService(t)
	orgID := snowflake.ID(1003)
	mustCreateWallet(t, svc, orgID, domain.BillingModePrepaid, 0)

	for _, amount := range []int64{0, -500} {
		result := svc.ManualTopup(context.Background(), orgID, amount)
		assert.False(t, result.Success, "amount=%d", amount)
	}

	result := svc.ManualTopup(context.Background(), orgID, 10_000)
	require.True(t, result.Success)
	assert.Equal(t, int64(10_000), result.NewBalanceCents)
	assert.NotEmpty(t, result.Reference)
}

func TestPrepaidDebitFloor(t *testing.T) {
	svc, db, _ := setupWalletService(t)
	orgID := snowflake.ID(1004)
	mustCreateWallet(t, svc, orgID, domain.BillingModePrepaid, 1_000)

	_, err := svc.Post(context.Background(), nil, domain.PostRequest{
		OrgID:       orgID,
		AmountCents: -1_500,
		Type:        domain.TransactionTypeDebit,
		Description: "over-limit debit",
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// The failed debit must leave no trace: balance intact, no ledger row.
	status, err := svc.GetStatus(context.Background(), orgID, paginationPage())
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), status.Wallet.BalanceCents)
	assert.Equal(t, 1, countTransactions(t, db, orgID))

	// An exact drain to zero is allowed.
	posted, err := svc.Post(context.Background(), nil, domain.PostRequest{
		OrgID:       orgID,
		AmountCents: -1_000,
		Type:        domain.TransactionTypeDebit,
		Description: "drain to zero",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), posted.Wallet.BalanceCents)
}

func TestCreditLimitWalletGoesNegative(t *testing.T) {
	svc, _, _ := setupWalletService(t)
	orgID := snowflake.ID(1005)
	mustCreateWallet(t, svc, orgID, domain.BillingModeCreditLimit, 500)

	posted, err := svc.Post(context.Background(), nil, domain.PostRequest{
		OrgID:       orgID,
		AmountCents: -800,
		Type:        domain.TransactionTypeDebit,
		Description: "usage past zero",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-300), posted.Wallet.BalanceCents)

	alerts, err := svc.MonitorBalance(context.Background(), orgID)
	require.NoError(t, err)
	require.NotEmpty(t, alerts)
	assert.Equal(t, domain.AlertNegativeBalance, alerts[0].Type)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
}

func TestPostRejectsMismatchedSign(t *testing.T) {
	svc, _, _ := setupWalletService(t)
	orgID := snowflake.ID(1006)
	mustCreateWallet(t, svc, orgID, domain.BillingModePrepaid, 1_000)

	_, err := svc.Post(context.Background(), nil, domain.PostRequest{
		OrgID:       orgID,
		AmountCents: -100,
		Type:        domain.TransactionTypeTopup,
	})
	assert.ErrorIs(t, err, domain.ErrAmountTypeMismatch)

	_, err = svc.Post(context.Background(), nil, domain.PostRequest{
		OrgID:       orgID,
		AmountCents: 100,
		Type:        domain.TransactionTypeDebit,
	})
	assert.ErrorIs(t, err, domain.ErrAmountTypeMismatch)

	_, err = svc.Post(context.Background(), nil, domain.PostRequest{
		OrgID:       orgID,
		AmountCents: 0,
		Type:        domain.TransactionTypeTopup,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestAutoTopupTriggersAtThreshold(t *testing.T) {
	svc, _, _ := setupWalletService(t)
	orgID := snowflake.ID(1007)
	mustCreateWallet(t, svc, orgID, domain.BillingModePrepaid, 5_000)

	cfgResult := svc.ConfigureAutoTopup(context.Background(), orgID, true, 5_000, 20_000)
	require.True(t, cfgResult.Success)

	// Balance exactly at the threshold triggers the top-up.
	alert, err := svc.CheckAndTriggerAutoTopup(context.Background(), orgID)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, domain.AlertAutoTopupDone, alert.Type)
	assert.Equal(t, int64(25_000), alert.BalanceCents)
}

func TestAutoTopupSkipsAboveThreshold(t *testing.T) {
	svc, _, _ := setupWalletService(t)
	orgID := snowflake.ID(1008)
	mustCreateWallet(t, svc, orgID, domain.BillingModePrepaid, 5_001)

	require.True(t, svc.ConfigureAutoTopup(context.Background(), orgID, true, 5_000, 20_000).Success)

	alert, err := svc.CheckAndTriggerAutoTopup(context.Background(), orgID)
	require.NoError(t, err)
	assert.Nil(t, alert)
}

// sideEffectExecutor runs an arbitrary callback in place of a payment,
// letting tests interleave work between the threshold check and the posting.
type sideEffectExecutor struct {
	fn func(ctx context.Context) error
}

func (e *sideEffectExecutor) Execute(ctx context.Context, orgID snowflake.ID, amountCents int64) error {
	return e.fn(ctx)
}

func TestAutoTopupSkipsWhenConcurrentTickWins(t *testing.T) {
	svc, db, fake := setupWalletService(t)
	orgID := snowflake.ID(1010)
	mustCreateWallet(t, svc, orgID, domain.BillingModePrepaid, 4_000)
	require.True(t, svc.ConfigureAutoTopup(context.Background(), orgID, true, 5_000, 20_000).Success)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	cfg := config.Config{Environment: "test", DefaultCurrency: "ZAR"}
	rival := &sideEffectExecutor{}
	racer := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fake,
		Repo:       walletrepo.Provide(),
		PricingSvc: pricingservice.NewService(pricingservice.Params{Pricing: config.NewStaticPricingHolder(config.DefaultPricingTable())}),
		Payments:   rival,
		Config:     cfg,
	})

	// While this tick is between its threshold check and its posting
	// transaction, another tick lands the same top-up first.
	rival.fn = func(ctx context.Context) error {
		result := svc.ManualTopup(ctx, orgID, 20_000)
		require.True(t, result.Success)
		return nil
	}

	alert, err := racer.CheckAndTriggerAutoTopup(context.Background(), orgID)
	require.NoError(t, err)
	assert.Nil(t, alert)

	// Only one top-up landed: the initial balance row plus the rival's.
	status, err := svc.GetStatus(context.Background(), orgID, paginationPage())
	require.NoError(t, err)
	assert.Equal(t, int64(24_000), status.Wallet.BalanceCents)
	assert.Equal(t, 2, countTransactions(t, db, orgID))
}

func TestConfigureAutoTopupValidation(t *testing.T) {
	svc, _, _ := setupWalletService(t)
	orgID := snowflake.ID(1009)
	mustCreateWallet(t, svc, orgID, domain.BillingModePrepaid, 0)

	assert.False(t, svc.ConfigureAutoTopup(context.Background(), orgID, true, 0, 10_000).Success)
	assert.False(t, svc.ConfigureAutoTopup(context.Background(), orgID, true, 10_000, 0).Success)

	// Disabling clears the stored threshold and amount.
	require.True(t, svc.ConfigureAutoTopup(context.Background(), orgID, true, 1_000, 10_000).Success)
	require.True(t, svc.ConfigureAutoTopup(context.Background(), orgID, false, 0, 0).Success)

	status, err := svc.GetStatus(context.Background(), orgID, paginationPage())
	require.NoError(t, err)
	assert.False(t, status.Wallet.AutoTopupEnabled)
	assert.Equal(t, int64(0), status.Wallet.AutoTopupThresholdCents)
	assert.Equal(t, int64(0), status.Wallet.AutoTopupAmountCents)
}

func TestOptimalTopupAppliesFloor(t *testing.T) {
	svc, _, _ := setupWalletService(t)
	orgID := snowflake.ID(1010)
	mustCreateWallet(t, svc, orgID, domain.BillingModePrepaid, 0)

	result, err := svc.OptimalTopup(context.Background(), orgID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(MinTopupFloorCents), result.RecommendedCents)
	assert.Equal(t, int64(0), result.PlannedVMCents)
	assert.Equal(t, int64(0), result.BufferCents)
}

func TestOptimalTopupIncludesSpendBuffer(t *testing.T) {
	svc, _, fake := setupWalletService(t)
	orgID := snowflake.ID(1011)
	mustCreateWallet(t, svc, orgID, domain.BillingModePrepaid, 300_000)

	// 200_000 cents of debits inside the trailing 30-day window.
	_, err := svc.Post(context.Background(), nil, domain.PostRequest{
		OrgID:       orgID,
		AmountCents: -200_000,
		Type:        domain.TransactionTypeDebit,
		Description: "recent usage",
	})
	require.NoError(t, err)
	fake.Advance(24 * time.Hour)

	result, err := svc.OptimalTopup(context.Background(), orgID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), result.BufferCents)
	assert.Equal(t, int64(100_000), result.RecommendedCents)
}

func TestPostWithoutHandleIsAtomic(t *testing.T) {
	svc, db, _ := setupWalletService(t)
	orgID := snowflake.ID(1011)
	mustCreateWallet(t, svc, orgID, domain.BillingModePrepaid, 100_000)

	// A failing ledger append must roll the balance update back with it.
	require.NoError(t, db.Exec(`CREATE TRIGGER wallet_txns_unavailable
		BEFORE INSERT ON wallet_transactions
		BEGIN SELECT RAISE(ABORT, 'ledger unavailable'); END`).Error)

	_, err := svc.Post(context.Background(), nil, domain.PostRequest{
		OrgID:       orgID,
		AmountCents: -10_000,
		Type:        domain.TransactionTypeDebit,
		Description: "hourly charge",
	})
	require.Error(t, err)

	require.NoError(t, db.Exec(`DROP TRIGGER wallet_txns_unavailable`).Error)

	status, err := svc.GetStatus(context.Background(), orgID, paginationPage())
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), status.Wallet.BalanceCents)
	assert.Equal(t, 1, countTransactions(t, db, orgID))
}

func TestGetStatusUnknownWallet(t *testing.T) {
	svc, _, _ := setupWalletService(t)

	_, err := svc.GetStatus(context.Background(), snowflake.ID(4242), paginationPage())
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)
}
