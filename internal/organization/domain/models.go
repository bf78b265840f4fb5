// Package domain contains persistence models for tenants and their campaigns.
package domain

import (
	"strings"
	"time"
	"unicode"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Organization represents a tenant receiving donations.
type Organization struct {
	ID                  snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name                string            `gorm:"type:text;not null" json:"name"`
	Slug                string            `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	SupportEmail        string            `gorm:"type:text;column:support_email" json:"support_email"`
	PlanTier            string            `gorm:"type:text;column:plan_tier;not null;default:'free'" json:"plan_tier"`
	StripeAccountID     string            `gorm:"type:text;column:stripe_account_id" json:"-"`
	StripeConnectStatus string            `gorm:"type:text;column:stripe_connect_status;not null;default:'not_connected'" json:"stripe_connect_status"`
	StripeConnectError  string            `gorm:"type:text;column:stripe_connect_error" json:"-"`
	Metadata            datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// ReceiptPrefix is the first four letters of the slug, upper-cased.
func (o Organization) ReceiptPrefix() string {
	prefix := make([]rune, 0, 4)
	for _, r := range o.Slug {
		if !unicode.IsLetter(r) {
			continue
		}
		prefix = append(prefix, unicode.ToUpper(r))
		if len(prefix) == 4 {
			break
		}
	}
	if len(prefix) == 0 {
		return "DON"
	}
	return string(prefix)
}

// CheckoutConnected reports whether the org has a connected processor account.
func (o Organization) CheckoutConnected() bool {
	return strings.TrimSpace(o.StripeAccountID) != ""
}

const (
	CampaignStatusActive = "active"
	CampaignStatusClosed = "closed"
)

// Campaign is a fundraising target with a running total of settled gifts.
type Campaign struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"organization_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Goal      int64        `gorm:"not null;default:0" json:"goal"`
	Raised    int64        `gorm:"not null;default:0" json:"raised"`
	Currency  string       `gorm:"type:text;not null" json:"currency"`
	Status    string       `gorm:"type:text;not null;default:'active'" json:"status"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Campaign) TableName() string { return "campaigns" }
