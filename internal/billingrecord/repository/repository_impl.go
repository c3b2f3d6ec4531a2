package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stratusbill/walletd/internal/billingrecord/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.VMBillingRecord) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.VMBillingRecord, error) {
	var record domain.VMBillingRecord
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repo) ListActiveByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*domain.VMBillingRecord, error) {
	var records []*domain.VMBillingRecord
	err := db.WithContext(ctx).
		Where("org_id = ? AND status = ?", orgID, domain.StatusActive).
		Order("id").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) ListByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*domain.VMBillingRecord, error) {
	var records []*domain.VMBillingRecord
	err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("id").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) OrgsWithActive(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error) {
	var orgIDs []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT org_id FROM vm_billing_records WHERE status = ? ORDER BY org_id`,
		domain.StatusActive,
	).Scan(&orgIDs).Error
	if err != nil {
		return nil, err
	}
	return orgIDs, nil
}

func (r *repo) OrgsWithRecords(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error) {
	var orgIDs []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT org_id FROM vm_billing_records WHERE status <> ? ORDER BY org_id`,
		domain.StatusTerminated,
	).Scan(&orgIDs).Error
	if err != nil {
		return nil, err
	}
	return orgIDs, nil
}

func (r *repo) RecordHourlyCharge(ctx context.Context, db *gorm.DB, id snowflake.ID, amountCents int64, billedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE vm_billing_records
		 SET usage_month_cents = usage_month_cents + ?,
		     hours_billed_month = hours_billed_month + 1,
		     failed_hours = 0,
		     last_billed_at = ?,
		     updated_at = ?
		 WHERE id = ?`,
		amountCents,
		billedAt,
		billedAt,
		id,
	).Error
}

func (r *repo) RecordFailedHour(ctx context.Context, db *gorm.DB, id snowflake.ID) (int, error) {
	err := db.WithContext(ctx).Exec(
		`UPDATE vm_billing_records
		 SET failed_hours = failed_hours + 1, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(),
		id,
	).Error
	if err != nil {
		return 0, err
	}

	var failed int
	err = db.WithContext(ctx).Raw(
		`SELECT failed_hours FROM vm_billing_records WHERE id = ?`, id,
	).Scan(&failed).Error
	if err != nil {
		return 0, err
	}
	return failed, nil
}

func (r *repo) ResetMonthlyCounters(ctx context.Context, db *gorm.DB, orgID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE vm_billing_records
		 SET usage_month_cents = 0, hours_billed_month = 0, updated_at = ?
		 WHERE org_id = ? AND status <> ?`,
		time.Now().UTC(),
		orgID,
		domain.StatusTerminated,
	).Error
}

func (r *repo) SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status) error {
	return db.WithContext(ctx).Exec(
		`UPDATE vm_billing_records SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repo) ReservationSummary(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.OrgReservation, error) {
	summary := domain.OrgReservation{OrgID: orgID}
	row := struct {
		ActiveVMs     int
		ReservedCents *int64
		UsageCents    *int64
	}{}
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS active_vms,
		        SUM(reserved_monthly_cents) AS reserved_cents,
		        SUM(usage_month_cents) AS usage_cents
		 FROM vm_billing_records
		 WHERE org_id = ? AND status = ?`,
		orgID,
		domain.StatusActive,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	summary.ActiveVMs = row.ActiveVMs
	if row.ReservedCents != nil {
		summary.ReservedCents = *row.ReservedCents
	}
	if row.UsageCents != nil {
		summary.UsageCents = *row.UsageCents
	}
	return &summary, nil
}
