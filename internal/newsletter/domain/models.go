// Package domain holds platform newsletter subscriptions collected from the
// public landing pages.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	StatusPending      = "pending"
	StatusActive       = "active"
	StatusUnsubscribed = "unsubscribed"
)

// Subscriber is keyed by email across the whole platform, not per tenant.
type Subscriber struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	Email             string       `gorm:"type:text;not null;uniqueIndex:ux_newsletter_subscribers_email" json:"email"`
	Source            string       `gorm:"type:text;not null;default:'landing_page'" json:"source"`
	Status            string       `gorm:"type:text;not null;default:'pending'" json:"status"`
	VerificationToken string       `gorm:"type:text;index:idx_newsletter_subscribers_verification" json:"-"`
	UnsubscribeToken  string       `gorm:"type:text;index:idx_newsletter_subscribers_unsubscribe" json:"-"`
	IPAddress         string       `gorm:"type:text;column:ip_address" json:"-"`
	UserAgent         string       `gorm:"type:text" json:"-"`
	Referrer          string       `gorm:"type:text" json:"-"`
	VerifiedAt        *time.Time   `json:"verified_at,omitempty"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Subscriber) TableName() string { return "newsletter_subscribers" }
