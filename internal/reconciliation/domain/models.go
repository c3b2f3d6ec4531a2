package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// MonthKey renders a month as the stable "YYYY-MM" dedupe key.
func MonthKey(t time.Time) string { return t.UTC().Format("2006-01") }

// Reconciliation is the durable month-end record for one organization. The
// unique (org_id, month) pair is the idempotency marker: once a row exists the
// month is settled and re-runs return it unchanged.
type Reconciliation struct {
	ID    snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID snowflake.ID `gorm:"not null;uniqueIndex:idx_reconciliations_org_month" json:"organization_id"`
	Month string       `gorm:"type:text;not null;uniqueIndex:idx_reconciliations_org_month" json:"month"`

	VMCount       int   `gorm:"not null" json:"vm_count"`
	ReservedCents int64 `gorm:"not null" json:"reserved_cents"`
	ActualCents   int64 `gorm:"not null" json:"actual_cents"`

	// RolloverCents may be negative; CreditedCents is what actually moved.
	RolloverCents int64 `gorm:"not null" json:"rollover_cents"`
	CreditedCents int64 `gorm:"not null" json:"credited_cents"`

	Details datatypes.JSON `gorm:"type:jsonb" json:"details,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Reconciliation) TableName() string { return "reconciliations" }

// VMLine is one VM's share of a reconciliation, persisted in Details.
type VMLine struct {
	InstanceID     string  `json:"instance_id"`
	Name           string  `json:"name"`
	ReservedCents  int64   `json:"reserved_cents"`
	HoursPoweredOn int     `json:"hours_powered_on"`
	Utilization    float64 `json:"utilization"`
	ActualCents    int64   `json:"actual_cents"`
	RolloverCents  int64   `json:"rollover_cents"`
}

// Result is the per-organization outcome of a month-end run. Failures are
// isolated here instead of aborting the sweep.
type Result struct {
	OrgID          snowflake.ID    `json:"organization_id"`
	Reconciliation *Reconciliation `json:"reconciliation,omitempty"`
	AlreadyExisted bool            `json:"already_existed,omitempty"`
	Error          string          `json:"error,omitempty"`
}

type Service interface {
	// RunMonthEnd reconciles every organization with billable records for the
	// given month. A zero month means the previous calendar month. The error
	// return covers enumeration only.
	RunMonthEnd(ctx context.Context, month time.Time) ([]Result, error)

	// RunMonthEndForOrg reconciles a single organization.
	RunMonthEndForOrg(ctx context.Context, orgID snowflake.ID, month time.Time) Result
}
