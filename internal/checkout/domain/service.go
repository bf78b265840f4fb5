// Package domain describes hosted checkout sessions opened on behalf of an
// organization's connected processor account.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/ratelimit"
)

type Request struct {
	OrgID          snowflake.ID
	CallerIdentity string

	ContactID string
	// Amount is a decimal major-unit string such as "25.00".
	Amount          string
	Currency        string
	CampaignID      string
	FundRestriction string
	Recurring       bool
	// Interval is the donation type of a recurring gift: monthly, quarterly
	// or annual. Empty means monthly.
	Interval string
}

// Session is the redirect target returned to the donor. Decision is set
// whenever the rate stage ran, even when a later check failed.
type Session struct {
	URL            string `json:"url"`
	SessionID      string `json:"session_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	ApplicationFee int64  `json:"application_fee"`
	NetAmount      int64  `json:"net_amount"`

	Decision *ratelimit.Decision `json:"-"`
}

type Service interface {
	CreateSession(ctx context.Context, req Request) (Session, error)
}

var (
	ErrNotConfigured       = errors.New("checkout_not_configured")
	ErrPlanNotPermitted    = errors.New("plan_not_permitted")
	ErrAccountNotConnected = errors.New("account_not_connected")
	ErrInvalidInterval     = errors.New("invalid_interval")
	ErrProcessorFailed     = errors.New("checkout_processor_failed")
)
