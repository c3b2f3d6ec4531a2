package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/stratusbill/walletd/internal/pricing/domain"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive     Status = "active"
	StatusSuspended  Status = "suspended"
	StatusTerminated Status = "terminated"
)

// VMBillingRecord tracks a provisioned VM for ongoing billing. The reserved
// monthly amount is frozen at provisioning time; the usage accumulators are
// advanced by the hourly cycle and reset only at the month boundary by
// reconciliation.
type VMBillingRecord struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID `gorm:"not null;index" json:"organization_id"`
	Name       string       `gorm:"type:text;not null" json:"name"`
	InstanceID string       `gorm:"type:text;not null;uniqueIndex" json:"instance_id"`

	CPUCores    int    `gorm:"not null" json:"cpu_cores"`
	CPUTier     string `gorm:"type:text;not null" json:"cpu_tier"`
	MemoryGB    int    `gorm:"not null" json:"memory_gb"`
	StorageGB   int    `gorm:"not null" json:"storage_gb"`
	StorageTier string `gorm:"type:text;not null" json:"storage_tier"`
	OS          string `gorm:"type:text;not null" json:"os"`

	SpecSnapshot datatypes.JSONMap `gorm:"type:jsonb" json:"spec_snapshot,omitempty"`

	ReservedMonthlyCents int64 `gorm:"not null" json:"reserved_monthly_cents"`
	ImmediateCents       int64 `gorm:"not null" json:"immediate_cents"`

	Status           Status     `gorm:"type:text;not null;index" json:"status"`
	UsageMonthCents  int64      `gorm:"not null;default:0" json:"usage_month_cents"`
	HoursBilledMonth int        `gorm:"not null;default:0" json:"hours_billed_month"`
	FailedHours      int        `gorm:"not null;default:0" json:"failed_hours"`
	LastBilledAt     *time.Time `json:"last_billed_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (VMBillingRecord) TableName() string { return "vm_billing_records" }

// Spec reconstructs the pricing specification snapshot.
func (r VMBillingRecord) Spec() pricingdomain.VMSpecification {
	return pricingdomain.VMSpecification{
		CPUCores:    r.CPUCores,
		CPUTier:     pricingdomain.CPUTier(r.CPUTier),
		MemoryGB:    r.MemoryGB,
		StorageGB:   r.StorageGB,
		StorageTier: pricingdomain.StorageTier(r.StorageTier),
		OS:          pricingdomain.OperatingSystem(r.OS),
	}
}
