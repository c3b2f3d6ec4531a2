package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// BillingMode decides whether a wallet may go negative. Prepaid wallets are
// guarded by a hard floor at zero; credit-limit wallets (invoice customers)
// may run negative and surface alerts instead.
type BillingMode string

const (
	BillingModePrepaid     BillingMode = "prepaid"
	BillingModeCreditLimit BillingMode = "credit_limit"
)

// Wallet is the prepaid balance for one organization (1:1). The balance is a
// cached projection of the transaction log and is only ever mutated through
// the repository's conditional update paired with exactly one transaction row.
type Wallet struct {
	ID                      snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID                   snowflake.ID `gorm:"not null;uniqueIndex" json:"organization_id"`
	BalanceCents            int64        `gorm:"not null;default:0" json:"balance_cents"`
	Currency                string       `gorm:"type:text;not null" json:"currency"`
	BillingMode             BillingMode  `gorm:"type:text;not null;default:'prepaid'" json:"billing_mode"`
	AutoTopupEnabled        bool         `gorm:"not null;default:false" json:"auto_topup_enabled"`
	AutoTopupThresholdCents int64        `gorm:"not null;default:0" json:"auto_topup_threshold_cents"`
	AutoTopupAmountCents    int64        `gorm:"not null;default:0" json:"auto_topup_amount_cents"`
	CreatedAt               time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt               time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Wallet) TableName() string { return "wallets" }

type TransactionType string

const (
	TransactionTypeTopup      TransactionType = "topup"
	TransactionTypeDebit      TransactionType = "debit"
	TransactionTypeCredit     TransactionType = "credit"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// Transaction is the append-only ledger row behind every balance mutation.
// Amounts are signed integer cents; rows are never updated or deleted.
type Transaction struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	WalletID    snowflake.ID    `gorm:"not null;index" json:"wallet_id"`
	OrgID       snowflake.ID    `gorm:"not null;index" json:"organization_id"`
	AmountCents int64           `gorm:"not null" json:"amount_cents"`
	Type        TransactionType `gorm:"type:text;not null;index" json:"type"`
	Reference   string          `gorm:"type:text;not null;uniqueIndex" json:"reference"`
	Description string          `gorm:"type:text;not null" json:"description"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "wallet_transactions" }

type AlertType string

const (
	AlertNegativeBalance AlertType = "negative_balance"
	AlertLowBalance      AlertType = "low_balance"
	AlertAutoTopupDone   AlertType = "auto_topup_triggered"
	AlertAutoTopupFailed AlertType = "auto_topup_failed"
)

type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityWarning  AlertSeverity = "warning"
	SeverityInfo     AlertSeverity = "info"
	SeverityError    AlertSeverity = "error"
)

// Alert is a balance-health finding produced by monitoring or auto top-up.
type Alert struct {
	Type         AlertType     `json:"type"`
	Severity     AlertSeverity `json:"severity"`
	Message      string        `json:"message"`
	BalanceCents int64         `json:"balance_cents"`
	AmountCents  int64         `json:"amount_cents,omitempty"`
}
