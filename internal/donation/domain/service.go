package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	fraud "github.com/smallbiznis/donorflow/internal/fraud/domain"
	"github.com/smallbiznis/donorflow/internal/ratelimit"
	"github.com/smallbiznis/donorflow/pkg/db/pagination"
)

// Donor identifies a public donor who has no contact id yet.
type Donor struct {
	Name  string
	Email string
}

type SubmitRequest struct {
	Channel        Channel
	OrgID          snowflake.ID
	CallerIdentity string
	RemoteIP       string

	ContactID string
	Donor     *Donor

	// Amount is a decimal major-unit string such as "25.00".
	Amount          string
	Currency        string
	Method          string
	Type            string
	Status          string
	CampaignID      string
	FundRestriction string
	TransactionID   string
	Notes           string
	DonatedAt       *time.Time

	CaptchaToken   string
	IdempotencyKey string
}

// Admission is the result of one pass through the pipeline. Decision is set
// whenever the rate stage ran, even when a later stage failed.
type Admission struct {
	Donation   *Donation
	Assessment *fraud.Assessment
	Decision   *ratelimit.Decision
	Replayed   bool
}

type ListRequest struct {
	pagination.Pagination
	Status       string
	ReviewStatus string
	ContactID    string
	CampaignID   string
}

type ListResponse struct {
	Donations []*Donation          `json:"donations"`
	PageInfo  *pagination.PageInfo `json:"page_info,omitempty"`
}

type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (Admission, error)
	Get(ctx context.Context, id string) (Donation, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	ListPendingReview(ctx context.Context, limit int) ([]*Donation, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidChannel      = errors.New("invalid_channel")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrBelowMinimum        = errors.New("amount_below_minimum")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidMethod       = errors.New("invalid_method")
	ErrInvalidType         = errors.New("invalid_type")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvalidCampaign     = errors.New("invalid_campaign")
	ErrInvalidDonatedAt    = errors.New("invalid_donated_at")
	ErrInvalidID           = errors.New("invalid_donation_id")
	ErrMissingContact      = errors.New("missing_contact")
	ErrInvalidDonor        = errors.New("invalid_donor")
	ErrInvalidTransaction  = errors.New("invalid_transaction_id")
	ErrFieldTooLong        = errors.New("field_too_long")

	ErrCaptchaRequired    = errors.New("captcha_required")
	ErrCaptchaFailed      = errors.New("captcha_failed")
	ErrCaptchaUnavailable = errors.New("captcha_unavailable")

	ErrDuplicateTransaction = errors.New("duplicate_transaction")
	ErrNotFound             = errors.New("donation_not_found")
)
