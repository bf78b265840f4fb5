package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/newsletter/domain"
	"gorm.io/gorm"
)

const subscriberColumns = `id, email, source, status, verification_token, unsubscribe_token,
	ip_address, user_agent, referrer, verified_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *domain.Subscriber) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO newsletter_subscribers (`+subscriberColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.Email,
		sub.Source,
		sub.Status,
		sub.VerificationToken,
		sub.UnsubscribeToken,
		sub.IPAddress,
		sub.UserAgent,
		sub.Referrer,
		sub.VerifiedAt,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Subscriber, error) {
	return r.findOne(ctx, db, "email = ?", email)
}

func (r *repo) FindByVerificationToken(ctx context.Context, db *gorm.DB, token string) (*domain.Subscriber, error) {
	return r.findOne(ctx, db, "verification_token = ?", token)
}

func (r *repo) FindByUnsubscribeToken(ctx context.Context, db *gorm.DB, token string) (*domain.Subscriber, error) {
	return r.findOne(ctx, db, "unsubscribe_token = ?", token)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriberColumns+` FROM newsletter_subscribers WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) Resubscribe(ctx context.Context, db *gorm.DB, sub *domain.Subscriber) error {
	return db.WithContext(ctx).Exec(
		`UPDATE newsletter_subscribers
		 SET status = ?, source = ?, verification_token = ?, unsubscribe_token = ?,
		     ip_address = ?, user_agent = ?, referrer = ?, updated_at = ?
		 WHERE id = ? AND status <> ?`,
		domain.StatusPending,
		sub.Source,
		sub.VerificationToken,
		sub.UnsubscribeToken,
		sub.IPAddress,
		sub.UserAgent,
		sub.Referrer,
		sub.UpdatedAt,
		sub.ID,
		domain.StatusActive,
	).Error
}

func (r *repo) SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, verifiedAt *time.Time, at time.Time) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": at,
	}
	if verifiedAt != nil {
		updates["verified_at"] = *verifiedAt
	}
	return db.WithContext(ctx).
		Model(&domain.Subscriber{}).
		Where("id = ?", id).
		Updates(updates).Error
}
