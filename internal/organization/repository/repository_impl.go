package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/organization/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertOrganization(ctx context.Context, db *gorm.DB, org *domain.Organization) error {
	return db.WithContext(ctx).Create(org).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, slug, support_email, plan_tier, stripe_account_id, stripe_connect_status,
		        stripe_connect_error, metadata, created_at, updated_at
		 FROM organizations WHERE id = ?`,
		id,
	).Scan(&org).Error
	if err != nil {
		return nil, err
	}
	if org.ID == 0 {
		return nil, nil
	}
	return &org, nil
}

func (r *repo) UpdateConnect(ctx context.Context, db *gorm.DB, id snowflake.ID, accountID *string, status, errMsg string, at time.Time) error {
	updates := map[string]any{
		"stripe_connect_status": status,
		"stripe_connect_error":  errMsg,
		"updated_at":            at,
	}
	if accountID != nil {
		updates["stripe_account_id"] = *accountID
	}
	return db.WithContext(ctx).
		Model(&domain.Organization{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repo) InsertCampaign(ctx context.Context, db *gorm.DB, campaign *domain.Campaign) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO campaigns (id, org_id, name, goal, raised, currency, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		campaign.ID,
		campaign.OrgID,
		campaign.Name,
		campaign.Goal,
		campaign.Raised,
		campaign.Currency,
		campaign.Status,
		campaign.CreatedAt,
		campaign.UpdatedAt,
	).Error
}

func (r *repo) FindCampaign(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Campaign, error) {
	var campaign domain.Campaign
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, name, goal, raised, currency, status, created_at, updated_at
		 FROM campaigns WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&campaign).Error
	if err != nil {
		return nil, err
	}
	if campaign.ID == 0 {
		return nil, nil
	}
	return &campaign, nil
}

func (r *repo) AdjustRaised(ctx context.Context, db *gorm.DB, orgID, campaignID snowflake.ID, delta int64, at time.Time) error {
	if delta == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE campaigns SET raised = raised + ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		delta,
		at.UTC(),
		orgID,
		campaignID,
	).Error
}
