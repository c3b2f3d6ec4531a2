package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/stratusbill/walletd/internal/reconciliation/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rec *domain.Reconciliation) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "month"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByOrgMonth(ctx context.Context, db *gorm.DB, orgID snowflake.ID, month string) (*domain.Reconciliation, error) {
	var rec domain.Reconciliation
	err := db.WithContext(ctx).
		Where("org_id = ? AND month = ?", orgID, month).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *repo) ListByMonth(ctx context.Context, db *gorm.DB, month string) ([]*domain.Reconciliation, error) {
	var recs []*domain.Reconciliation
	err := db.WithContext(ctx).
		Where("month = ?", month).
		Order("org_id").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}
