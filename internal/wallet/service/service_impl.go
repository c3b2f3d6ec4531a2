package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/stratusbill/walletd/internal/clock"
	"github.com/stratusbill/walletd/internal/config"
	obsmetrics "github.com/stratusbill/walletd/internal/observability/metrics"
	pricingdomain "github.com/stratusbill/walletd/internal/pricing/domain"
	"github.com/stratusbill/walletd/internal/wallet/domain"
	"github.com/stratusbill/walletd/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MinTopupFloorCents is the hard floor for the optimal top-up recommendation.
const MinTopupFloorCents = 50_000

var errAutoTopupSuperseded = errors.New("auto_topup_superseded")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	PricingSvc pricingdomain.Service
	Payments   domain.PaymentExecutor
	Config     config.Config
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	pricingSvc pricingdomain.Service
	payments   domain.PaymentExecutor
	cfg        config.Config
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("wallet.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		pricingSvc: p.PricingSvc,
		payments:   p.Payments,
		cfg:        p.Config,
	}
}

func (s *Service) CreateWallet(ctx context.Context, req domain.CreateWalletRequest) (*domain.Wallet, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrWalletNotFound
	}
	switch req.BillingMode {
	case domain.BillingModePrepaid, domain.BillingModeCreditLimit:
	case "":
		req.BillingMode = domain.BillingModePrepaid
	default:
		return nil, domain.ErrInvalidBillingMode
	}
	if req.InitialBalanceCents < 0 {
		return nil, domain.ErrInvalidAmount
	}
	currency := req.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	now := s.clock.Now()
	wallet := &domain.Wallet{
		ID:          s.genID.Generate(),
		OrgID:       req.OrgID,
		Currency:    currency,
		BillingMode: req.BillingMode,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByOrg(ctx, tx, req.OrgID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrWalletExists
		}
		if err := s.repo.Insert(ctx, tx, wallet); err != nil {
			return err
		}
		if req.InitialBalanceCents > 0 {
			result, err := s.post(ctx, tx, domain.PostRequest{
				OrgID:       req.OrgID,
				AmountCents: req.InitialBalanceCents,
				Type:        domain.TransactionTypeTopup,
				Description: "initial balance",
			})
			if err != nil {
				return err
			}
			wallet = result.Wallet
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *Service) GetStatus(ctx context.Context, orgID snowflake.ID, page pagination.Pagination) (*domain.Status, error) {
	wallet, err := s.repo.FindByOrg(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, domain.ErrWalletNotFound
	}

	txns, err := s.repo.ListTransactions(ctx, s.db, orgID, nil, page)
	if err != nil {
		return nil, err
	}

	status := &domain.Status{Wallet: wallet, Transactions: txns}
	size := page.PageSize
	if size <= 0 {
		size = 10
	}
	if len(txns) == size {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: txns[len(txns)-1].ID.String()})
		if err == nil {
			status.PageInfo = pagination.PageInfo{NextPageToken: token, HasMore: true}
		}
	}
	return status, nil
}

func (s *Service) Post(ctx context.Context, db *gorm.DB, req domain.PostRequest) (*domain.PostResult, error) {
	if db == nil {
		// The balance update and the ledger row must commit together.
		var result *domain.PostResult
		err := s.db.Transaction(func(tx *gorm.DB) error {
			var err error
			result, err = s.post(ctx, tx, req)
			return err
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return s.post(ctx, db, req)
}

// post is the only path that moves money: one conditional balance update plus
// exactly one transaction row, on the caller's handle.
func (s *Service) post(ctx context.Context, db *gorm.DB, req domain.PostRequest) (*domain.PostResult, error) {
	if req.AmountCents == 0 {
		return nil, domain.ErrInvalidAmount
	}
	switch req.Type {
	case domain.TransactionTypeTopup, domain.TransactionTypeCredit:
		if req.AmountCents < 0 {
			return nil, domain.ErrAmountTypeMismatch
		}
	case domain.TransactionTypeDebit:
		if req.AmountCents > 0 {
			return nil, domain.ErrAmountTypeMismatch
		}
	case domain.TransactionTypeAdjustment:
	default:
		return nil, domain.ErrAmountTypeMismatch
	}

	wallet, err := s.repo.FindByOrg(ctx, db, req.OrgID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, domain.ErrWalletNotFound
	}

	allowNegative := wallet.BillingMode == domain.BillingModeCreditLimit || req.AmountCents > 0
	updated, err := s.repo.AdjustBalance(ctx, db, req.OrgID, req.AmountCents, allowNegative)
	if err != nil {
		return nil, err
	}

	txn := &domain.Transaction{
		ID:          s.genID.Generate(),
		WalletID:    wallet.ID,
		OrgID:       req.OrgID,
		AmountCents: req.AmountCents,
		Type:        req.Type,
		Reference:   ulid.Make().String(),
		Description: req.Description,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.repo.AppendTransaction(ctx, db, txn); err != nil {
		return nil, err
	}

	obsmetrics.Billing().RecordTransaction(string(req.Type), req.AmountCents)
	return &domain.PostResult{Wallet: updated, Transaction: txn}, nil
}

func (s *Service) ManualTopup(ctx context.Context, orgID snowflake.ID, amountCents int64) domain.TopupResult {
	if amountCents <= 0 {
		return domain.TopupResult{
			Success: false,
			Message: "top-up amount must be positive",
		}
	}

	var result *domain.PostResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.post(ctx, tx, domain.PostRequest{
			OrgID:       orgID,
			AmountCents: amountCents,
			Type:        domain.TransactionTypeTopup,
			Description: fmt.Sprintf("manual top-up of %d cents", amountCents),
		})
		return err
	})
	if err != nil {
		s.log.Warn("manual top-up failed",
			zap.String("org_id", orgID.String()),
			zap.Int64("amount_cents", amountCents),
			zap.Error(err),
		)
		return domain.TopupResult{
			Success: false,
			Message: fmt.Sprintf("top-up failed: %v", err),
		}
	}

	return domain.TopupResult{
		Success:         true,
		Message:         "top-up applied",
		NewBalanceCents: result.Wallet.BalanceCents,
		Reference:       result.Transaction.Reference,
	}
}

func (s *Service) ConfigureAutoTopup(ctx context.Context, orgID snowflake.ID, enabled bool, thresholdCents, amountCents int64) domain.AutoTopupConfigResult {
	if enabled && (thresholdCents <= 0 || amountCents <= 0) {
		return domain.AutoTopupConfigResult{
			Success: false,
			Message: "auto top-up requires a positive threshold and amount",
		}
	}
	if !enabled {
		thresholdCents = 0
		amountCents = 0
	}

	if err := s.repo.UpdateAutoTopup(ctx, s.db, orgID, enabled, thresholdCents, amountCents); err != nil {
		s.log.Warn("auto top-up configuration failed",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
		return domain.AutoTopupConfigResult{
			Success: false,
			Message: fmt.Sprintf("configuration failed: %v", err),
		}
	}
	return domain.AutoTopupConfigResult{Success: true, Message: "auto top-up configuration saved"}
}

func (s *Service) CheckAndTriggerAutoTopup(ctx context.Context, orgID snowflake.ID) (*domain.Alert, error) {
	wallet, err := s.repo.FindByOrg(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, domain.ErrWalletNotFound
	}
	if !wallet.AutoTopupEnabled || wallet.BalanceCents > wallet.AutoTopupThresholdCents {
		return nil, nil
	}

	amount := wallet.AutoTopupAmountCents
	if err := s.payments.Execute(ctx, orgID, amount); err != nil {
		s.log.Warn("auto top-up payment failed",
			zap.String("org_id", orgID.String()),
			zap.Int64("amount_cents", amount),
			zap.Error(err),
		)
		obsmetrics.Billing().IncAlert(string(domain.AlertAutoTopupFailed))
		return &domain.Alert{
			Type:         domain.AlertAutoTopupFailed,
			Severity:     domain.SeverityError,
			Message:      fmt.Sprintf("auto top-up payment failed: %v", err),
			BalanceCents: wallet.BalanceCents,
			AmountCents:  amount,
		}, nil
	}

	var result *domain.PostResult
	err = s.db.Transaction(func(tx *gorm.DB) error {
		// A concurrent tick may have topped up between the check above and
		// this transaction; only one posting wins.
		current, err := s.repo.FindByOrg(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if current == nil || !current.AutoTopupEnabled || current.BalanceCents > current.AutoTopupThresholdCents {
			return errAutoTopupSuperseded
		}
		result, err = s.post(ctx, tx, domain.PostRequest{
			OrgID:       orgID,
			AmountCents: amount,
			Type:        domain.TransactionTypeTopup,
			Description: fmt.Sprintf("auto top-up of %d cents (balance %d at threshold %d)", amount, current.BalanceCents, current.AutoTopupThresholdCents),
		})
		return err
	})
	if errors.Is(err, errAutoTopupSuperseded) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	obsmetrics.Billing().IncAlert(string(domain.AlertAutoTopupDone))
	return &domain.Alert{
		Type:         domain.AlertAutoTopupDone,
		Severity:     domain.SeverityInfo,
		Message:      "auto top-up applied",
		BalanceCents: result.Wallet.BalanceCents,
		AmountCents:  amount,
	}, nil
}

func (s *Service) MonitorBalance(ctx context.Context, orgID snowflake.ID) ([]domain.Alert, error) {
	wallet, err := s.repo.FindByOrg(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, domain.ErrWalletNotFound
	}

	var alerts []domain.Alert
	if wallet.BalanceCents < 0 {
		obsmetrics.Billing().IncAlert(string(domain.AlertNegativeBalance))
		alerts = append(alerts, domain.Alert{
			Type:         domain.AlertNegativeBalance,
			Severity:     domain.SeverityCritical,
			Message:      fmt.Sprintf("balance is negative: %d cents", wallet.BalanceCents),
			BalanceCents: wallet.BalanceCents,
		})
	} else if wallet.AutoTopupEnabled && wallet.BalanceCents <= wallet.AutoTopupThresholdCents {
		obsmetrics.Billing().IncAlert(string(domain.AlertLowBalance))
		alerts = append(alerts, domain.Alert{
			Type:         domain.AlertLowBalance,
			Severity:     domain.SeverityWarning,
			Message:      fmt.Sprintf("balance %d cents is at or below the %d cents threshold", wallet.BalanceCents, wallet.AutoTopupThresholdCents),
			BalanceCents: wallet.BalanceCents,
		})
	}

	if alert, err := s.CheckAndTriggerAutoTopup(ctx, orgID); err == nil && alert != nil {
		alerts = append(alerts, *alert)
	} else if err != nil {
		s.log.Warn("auto top-up check failed during monitoring",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
	}

	return alerts, nil
}

func (s *Service) OptimalTopup(ctx context.Context, orgID snowflake.ID, planned []pricingdomain.VMSpecification) (*domain.OptimalTopupResult, error) {
	wallet, err := s.repo.FindByOrg(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, domain.ErrWalletNotFound
	}

	var plannedCents int64
	if len(planned) > 0 {
		plannedCents = s.pricingSvc.CalculateMulti(planned).TotalMonthlyCents
	}

	since := s.clock.Now().AddDate(0, 0, -30)
	debits, err := s.repo.SumDebitsSince(ctx, s.db, orgID, since)
	if err != nil {
		return nil, err
	}
	// 15 days of spend at the trailing 30-day average daily rate.
	bufferCents := debits / 2

	recommended := plannedCents + bufferCents
	if recommended < MinTopupFloorCents {
		recommended = MinTopupFloorCents
	}

	return &domain.OptimalTopupResult{
		RecommendedCents: recommended,
		PlannedVMCents:   plannedCents,
		BufferCents:      bufferCents,
		FloorCents:       MinTopupFloorCents,
	}, nil
}
