package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	Status       Status
	ReviewStatus string
	ContactID    *snowflake.ID
	CampaignID   *snowflake.ID
	// Cursor is the (created_at, id) of the last row of the previous page.
	CursorCreatedAt *time.Time
	CursorID        *snowflake.ID
	Limit           int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, donation *Donation) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Donation, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*Donation, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*Donation, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListFilter) ([]*Donation, error)
	// MarkRefunded moves a donation to refunded only from a non-refunded
	// state and reports whether a row changed.
	MarkRefunded(ctx context.Context, db *gorm.DB, transactionID string, at time.Time) (*Donation, bool, error)

	UpsertRecurring(ctx context.Context, db *gorm.DB, recurring *RecurringDonation) (*RecurringDonation, error)
	FindRecurringBySubscription(ctx context.Context, db *gorm.DB, subscriptionID string) (*RecurringDonation, error)
	CancelRecurring(ctx context.Context, db *gorm.DB, subscriptionID string, at time.Time) (int64, error)
}
