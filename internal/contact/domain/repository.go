package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, contact *Contact) error
	// FindAnyByID ignores tenancy so callers can tell a missing contact from
	// one that belongs to another organization.
	FindAnyByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Contact, error)
	FindByEmail(ctx context.Context, db *gorm.DB, orgID snowflake.ID, email string) (*Contact, error)
}
