package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stratusbill/walletd/internal/wallet/domain"
	pkgdb "github.com/stratusbill/walletd/pkg/db"
	"github.com/stratusbill/walletd/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, wallet *domain.Wallet) error {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO wallets (
			id, org_id, balance_cents, currency, billing_mode,
			auto_topup_enabled, auto_topup_threshold_cents, auto_topup_amount_cents,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wallet.ID,
		wallet.OrgID,
		wallet.BalanceCents,
		wallet.Currency,
		wallet.BillingMode,
		wallet.AutoTopupEnabled,
		wallet.AutoTopupThresholdCents,
		wallet.AutoTopupAmountCents,
		wallet.CreatedAt,
		wallet.UpdatedAt,
	).Error
	if pkgdb.IsDuplicateKeyErr(err) {
		// Two concurrent creates race past the existence check; the unique
		// org index decides the winner.
		return domain.ErrWalletExists
	}
	return err
}

func (r *repo) FindByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.Wallet, error) {
	var wallet domain.Wallet
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, balance_cents, currency, billing_mode,
		        auto_topup_enabled, auto_topup_threshold_cents, auto_topup_amount_cents,
		        created_at, updated_at
		 FROM wallets WHERE org_id = ?`,
		orgID,
	).Scan(&wallet).Error
	if err != nil {
		return nil, err
	}
	if wallet.ID == 0 {
		return nil, nil
	}
	return &wallet, nil
}

func (r *repo) ListOrgIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error) {
	var orgIDs []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT org_id FROM wallets ORDER BY org_id`,
	).Scan(&orgIDs).Error
	if err != nil {
		return nil, err
	}
	return orgIDs, nil
}

func (r *repo) AdjustBalance(ctx context.Context, db *gorm.DB, orgID snowflake.ID, deltaCents int64, allowNegative bool) (*domain.Wallet, error) {
	now := time.Now().UTC()

	stmt := `UPDATE wallets SET balance_cents = balance_cents + ?, updated_at = ? WHERE org_id = ?`
	args := []any{deltaCents, now, orgID}
	if !allowNegative {
		stmt += ` AND balance_cents + ? >= 0`
		args = append(args, deltaCents)
	}

	result := db.WithContext(ctx).Exec(stmt, args...)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		existing, err := r.FindByOrg(ctx, db, orgID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, domain.ErrWalletNotFound
		}
		return nil, domain.ErrInsufficientBalance
	}

	return r.FindByOrg(ctx, db, orgID)
}

func (r *repo) UpdateAutoTopup(ctx context.Context, db *gorm.DB, orgID snowflake.ID, enabled bool, thresholdCents, amountCents int64) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE wallets
		 SET auto_topup_enabled = ?, auto_topup_threshold_cents = ?, auto_topup_amount_cents = ?, updated_at = ?
		 WHERE org_id = ?`,
		enabled,
		thresholdCents,
		amountCents,
		time.Now().UTC(),
		orgID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

func (r *repo) AppendTransaction(ctx context.Context, db *gorm.DB, txn *domain.Transaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO wallet_transactions (
			id, wallet_id, org_id, amount_cents, type, reference, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.WalletID,
		txn.OrgID,
		txn.AmountCents,
		txn.Type,
		txn.Reference,
		txn.Description,
		txn.CreatedAt,
	).Error
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, orgID snowflake.ID, since *time.Time, page pagination.Pagination) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	stmt := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("org_id = ?", orgID)
	if since != nil {
		stmt = stmt.Where("created_at >= ?", *since)
	}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		if cursor.ID != "" {
			id, err := snowflake.ParseString(cursor.ID)
			if err != nil {
				return nil, err
			}
			stmt = stmt.Where("id < ?", id)
		}
	}
	size := page.PageSize
	if size <= 0 {
		size = 10
	}
	err := stmt.
		Order("id desc").
		Limit(size).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repo) SumDebitsSince(ctx context.Context, db *gorm.DB, orgID snowflake.ID, since time.Time) (int64, error) {
	var total *int64
	err := db.WithContext(ctx).Raw(
		`SELECT SUM(-amount_cents) FROM wallet_transactions
		 WHERE org_id = ? AND type = ? AND created_at >= ?`,
		orgID,
		domain.TransactionTypeDebit,
		since,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}
