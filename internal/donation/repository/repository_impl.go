package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/donation/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const donationColumns = `id, org_id, contact_id, campaign_id, recurring_donation_id, amount, currency,
	type, method, status, channel, fund_restriction, transaction_id, idempotency_key,
	request_fingerprint, receipt_number, notes, application_fee, fraud_score, fraud_flags,
	review_status, donated_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, donation *domain.Donation) error {
	return db.WithContext(ctx).Create(donation).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Donation, error) {
	return r.findOne(ctx, db, `org_id = ? AND id = ?`, orgID, id)
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.Donation, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, `idempotency_key = ?`, key)
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*domain.Donation, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, `transaction_id = ?`, transactionID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.Donation, error) {
	var donation domain.Donation
	err := db.WithContext(ctx).Raw(
		`SELECT `+donationColumns+` FROM donations WHERE `+where+` LIMIT 1`,
		args...,
	).Scan(&donation).Error
	if err != nil {
		return nil, err
	}
	if donation.ID == 0 {
		return nil, nil
	}
	return &donation, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ListFilter) ([]*domain.Donation, error) {
	stmt := db.WithContext(ctx).Model(&domain.Donation{}).Where("org_id = ?", orgID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.ReviewStatus != "" {
		stmt = stmt.Where("review_status = ?", filter.ReviewStatus)
	}
	if filter.ContactID != nil {
		stmt = stmt.Where("contact_id = ?", *filter.ContactID)
	}
	if filter.CampaignID != nil {
		stmt = stmt.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.CursorCreatedAt != nil && filter.CursorID != nil {
		stmt = stmt.Where("(created_at < ? OR (created_at = ? AND id < ?))",
			*filter.CursorCreatedAt, *filter.CursorCreatedAt, *filter.CursorID)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var items []*domain.Donation
	if err := stmt.Order("created_at DESC").Order("id DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkRefunded(ctx context.Context, db *gorm.DB, transactionID string, at time.Time) (*domain.Donation, bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE donations SET status = ?, updated_at = ?
		 WHERE transaction_id = ? AND status <> ?`,
		domain.StatusRefunded, at, transactionID, domain.StatusRefunded,
	)
	if res.Error != nil {
		return nil, false, res.Error
	}
	donation, err := r.FindByTransactionID(ctx, db, transactionID)
	if err != nil {
		return nil, false, err
	}
	return donation, res.RowsAffected > 0, nil
}

func (r *repo) UpsertRecurring(ctx context.Context, db *gorm.DB, recurring *domain.RecurringDonation) (*domain.RecurringDonation, error) {
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "subscription_id"}}, DoNothing: true}).
		Create(recurring).Error
	if err != nil {
		return nil, err
	}
	return r.FindRecurringBySubscription(ctx, db, recurring.SubscriptionID)
}

func (r *repo) FindRecurringBySubscription(ctx context.Context, db *gorm.DB, subscriptionID string) (*domain.RecurringDonation, error) {
	var recurring domain.RecurringDonation
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, contact_id, campaign_id, subscription_id, amount, currency, billing_interval,
			fund_restriction, status, cancelled_at, created_at, updated_at
		 FROM recurring_donations WHERE subscription_id = ?`,
		subscriptionID,
	).Scan(&recurring).Error
	if err != nil {
		return nil, err
	}
	if recurring.ID == 0 {
		return nil, nil
	}
	return &recurring, nil
}

func (r *repo) CancelRecurring(ctx context.Context, db *gorm.DB, subscriptionID string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE recurring_donations SET status = ?, cancelled_at = ?, updated_at = ?
		 WHERE subscription_id = ? AND status <> ?`,
		domain.RecurringStatusCancelled, at, at, subscriptionID, domain.RecurringStatusCancelled,
	)
	return res.RowsAffected, res.Error
}
