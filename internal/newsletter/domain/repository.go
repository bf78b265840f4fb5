package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscriber) error
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Subscriber, error)
	FindByVerificationToken(ctx context.Context, db *gorm.DB, token string) (*Subscriber, error)
	FindByUnsubscribeToken(ctx context.Context, db *gorm.DB, token string) (*Subscriber, error)
	// Resubscribe moves an existing row back to pending with fresh tokens.
	Resubscribe(ctx context.Context, db *gorm.DB, sub *Subscriber) error
	SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, verifiedAt *time.Time, at time.Time) error
}
