package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// OrgReservation summarizes active reservations for one organization.
type OrgReservation struct {
	OrgID         snowflake.ID
	ActiveVMs     int
	ReservedCents int64
	UsageCents    int64
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *VMBillingRecord) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*VMBillingRecord, error)
	ListActiveByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*VMBillingRecord, error)
	ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*VMBillingRecord, error)

	// OrgsWithActive returns the organizations holding at least one active
	// record, the unit of isolation for billing sweeps.
	OrgsWithActive(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)

	// OrgsWithRecords also includes suspended records. Reconciliation covers
	// VMs that stopped paying mid-month, not just the ones still running.
	OrgsWithRecords(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)

	// RecordHourlyCharge advances the usage accumulators after a successful
	// debit and clears the failed-hour streak.
	RecordHourlyCharge(ctx context.Context, db *gorm.DB, id snowflake.ID, amountCents int64, billedAt time.Time) error

	// RecordFailedHour bumps the failed-hour streak and reports the new value.
	RecordFailedHour(ctx context.Context, db *gorm.DB, id snowflake.ID) (int, error)

	ResetMonthlyCounters(ctx context.Context, db *gorm.DB, orgID snowflake.ID) error
	SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status) error
	ReservationSummary(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*OrgReservation, error)
}
