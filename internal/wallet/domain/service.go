package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/stratusbill/walletd/internal/pricing/domain"
	"github.com/stratusbill/walletd/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrWalletNotFound      = errors.New("wallet_not_found")
	ErrWalletExists        = errors.New("wallet_exists")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidBillingMode  = errors.New("invalid_billing_mode")
	ErrAmountTypeMismatch  = errors.New("amount_type_mismatch")
	ErrGatewayUnavailable  = errors.New("payment_gateway_unavailable")
)

type CreateWalletRequest struct {
	OrgID               snowflake.ID
	Currency            string
	BillingMode         BillingMode
	InitialBalanceCents int64
}

// PostRequest is the single ledger primitive: a signed balance mutation paired
// with exactly one transaction row. Positive amounts credit the wallet,
// negative amounts debit it.
type PostRequest struct {
	OrgID       snowflake.ID
	AmountCents int64
	Type        TransactionType
	Description string
}

type PostResult struct {
	Wallet      *Wallet
	Transaction *Transaction
}

type Status struct {
	Wallet       *Wallet             `json:"wallet"`
	Transactions []*Transaction      `json:"transactions"`
	PageInfo     pagination.PageInfo `json:"page_info"`
}

// TopupResult is a reported outcome, not an error: manual top-up is invoked
// from unattended flows that branch on it rather than recover from a panic.
type TopupResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	NewBalanceCents int64  `json:"new_balance_cents"`
	Reference       string `json:"reference,omitempty"`
}

type AutoTopupConfigResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type OptimalTopupResult struct {
	RecommendedCents int64 `json:"recommended_cents"`
	PlannedVMCents   int64 `json:"planned_vm_cents"`
	BufferCents      int64 `json:"buffer_cents"`
	FloorCents       int64 `json:"floor_cents"`
}

type Service interface {
	CreateWallet(ctx context.Context, req CreateWalletRequest) (*Wallet, error)
	GetStatus(ctx context.Context, orgID snowflake.ID, page pagination.Pagination) (*Status, error)

	// Post runs on the supplied db handle so billing components can fold the
	// ledger write into their own unit of work. Passing nil makes the post
	// its own transaction: the balance update and the ledger row commit
	// together or not at all.
	Post(ctx context.Context, db *gorm.DB, req PostRequest) (*PostResult, error)

	ManualTopup(ctx context.Context, orgID snowflake.ID, amountCents int64) TopupResult
	ConfigureAutoTopup(ctx context.Context, orgID snowflake.ID, enabled bool, thresholdCents, amountCents int64) AutoTopupConfigResult
	CheckAndTriggerAutoTopup(ctx context.Context, orgID snowflake.ID) (*Alert, error)
	MonitorBalance(ctx context.Context, orgID snowflake.ID) ([]Alert, error)
	OptimalTopup(ctx context.Context, orgID snowflake.ID, planned []pricingdomain.VMSpecification) (*OptimalTopupResult, error)
}

// PaymentExecutor collects real money for a top-up. The simulator stands in
// for a gateway outside production; the gap is explicit, not papered over.
type PaymentExecutor interface {
	Execute(ctx context.Context, orgID snowflake.ID, amountCents int64) error
}

// RecommendedTopup adds a 10% safety buffer to a shortfall and rounds up to a
// whole currency unit.
func RecommendedTopup(shortfallCents int64) int64 {
	if shortfallCents <= 0 {
		return 0
	}
	buffered := shortfallCents + (shortfallCents+9)/10
	if rem := buffered % 100; rem != 0 {
		buffered += 100 - rem
	}
	return buffered
}
