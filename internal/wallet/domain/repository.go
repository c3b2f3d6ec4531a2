package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stratusbill/walletd/pkg/db/pagination"
	"gorm.io/gorm"
)

// Repository primitives take the *gorm.DB they should run on so services can
// compose them inside a single transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, wallet *Wallet) error
	FindByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*Wallet, error)

	// ListOrgIDs enumerates every wallet-holding organization, the input to
	// the balance monitor sweep.
	ListOrgIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)

	// AdjustBalance applies a signed delta atomically. When allowNegative is
	// false the update refuses to take the balance below zero and returns
	// ErrInsufficientBalance without mutating anything.
	AdjustBalance(ctx context.Context, db *gorm.DB, orgID snowflake.ID, deltaCents int64, allowNegative bool) (*Wallet, error)

	UpdateAutoTopup(ctx context.Context, db *gorm.DB, orgID snowflake.ID, enabled bool, thresholdCents, amountCents int64) error

	AppendTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) error
	ListTransactions(ctx context.Context, db *gorm.DB, orgID snowflake.ID, since *time.Time, page pagination.Pagination) ([]*Transaction, error)
	SumDebitsSince(ctx context.Context, db *gorm.DB, orgID snowflake.ID, since time.Time) (int64, error)
}
