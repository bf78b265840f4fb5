package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertOrganization(ctx context.Context, db *gorm.DB, org *Organization) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Organization, error)
	// UpdateConnect records the linked account and onboarding status. A nil
	// accountID leaves the stored account untouched.
	UpdateConnect(ctx context.Context, db *gorm.DB, id snowflake.ID, accountID *string, status, errMsg string, at time.Time) error

	InsertCampaign(ctx context.Context, db *gorm.DB, campaign *Campaign) error
	FindCampaign(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Campaign, error)
	// AdjustRaised applies delta to the campaign total in a single UPDATE so
	// concurrent settlements never lose an increment.
	AdjustRaised(ctx context.Context, db *gorm.DB, orgID, campaignID snowflake.ID, delta int64, at time.Time) error
}
