package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert attempts to create the reconciliation row, reporting false when
	// the (org, month) pair already exists. Callers branch on that to keep
	// re-runs credit-free.
	Insert(ctx context.Context, db *gorm.DB, rec *Reconciliation) (bool, error)

	FindByOrgMonth(ctx context.Context, db *gorm.DB, orgID snowflake.ID, month string) (*Reconciliation, error)
	ListByMonth(ctx context.Context, db *gorm.DB, month string) ([]*Reconciliation, error)
}
