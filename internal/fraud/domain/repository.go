package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// HistoryReader answers the read-only questions the checks ask about prior
// donations. Every count is scoped to one organization.
type HistoryReader interface {
	CountContactSince(ctx context.Context, orgID, contactID snowflake.ID, since time.Time, statuses []string) (int64, error)
	CountOrgSince(ctx context.Context, orgID snowflake.ID, since time.Time) (int64, error)
	RecentCompleted(ctx context.Context, orgID, contactID snowflake.ID, limit int) ([]PriorDonation, error)
	CountRefunded(ctx context.Context, orgID, contactID snowflake.ID) (int64, error)
	CountSameAmountSince(ctx context.Context, orgID, contactID snowflake.ID, amount int64, since time.Time) (int64, error)
}

type Repository interface {
	Stats(ctx context.Context, db *gorm.DB, orgID snowflake.ID, since time.Time) (Stats, error)
	HighRisk(ctx context.Context, db *gorm.DB, orgID snowflake.ID, minScore, limit int) ([]FlaggedDonation, error)
}
