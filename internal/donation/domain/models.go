// Package domain defines the donation record and the admission vocabulary.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	fraud "github.com/smallbiznis/donorflow/internal/fraud/domain"
	"gorm.io/datatypes"
)

type Type string

const (
	TypeOneTime   Type = "one_time"
	TypeMonthly   Type = "monthly"
	TypeQuarterly Type = "quarterly"
	TypeAnnual    Type = "annual"
	TypeInKind    Type = "in_kind"
	TypeStock     Type = "stock"
)

type Method string

const (
	MethodCard         Method = "card"
	MethodBankTransfer Method = "bank_transfer"
	MethodCheck        Method = "check"
	MethodCash         Method = "cash"
	MethodWallet       Method = "wallet"
	MethodCrypto       Method = "crypto"
	MethodOther        Method = "other"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

type Channel string

const (
	ChannelStaff   Channel = "staff"
	ChannelPublic  Channel = "public"
	ChannelWebhook Channel = "webhook"
)

func ParseType(raw string) (Type, bool) {
	t := Type(normalizeEnum(raw))
	switch t {
	case TypeOneTime, TypeMonthly, TypeQuarterly, TypeAnnual, TypeInKind, TypeStock:
		return t, true
	}
	return "", false
}

func ParseMethod(raw string) (Method, bool) {
	m := Method(normalizeEnum(raw))
	switch m {
	case MethodCard, MethodBankTransfer, MethodCheck, MethodCash, MethodWallet, MethodCrypto, MethodOther:
		return m, true
	}
	return "", false
}

func ParseStatus(raw string) (Status, bool) {
	s := Status(normalizeEnum(raw))
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded, StatusCancelled:
		return s, true
	}
	return "", false
}

// normalizeEnum accepts "Bank-Transfer", "BANK_TRANSFER" and "bank transfer".
func normalizeEnum(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer("-", "_", " ", "_").Replace(v)
}

// Donation is the unit of record for one gift. Rows are never deleted.
type Donation struct {
	ID                  snowflake.ID                `gorm:"primaryKey" json:"id"`
	OrgID               snowflake.ID                `gorm:"column:org_id;not null;index:idx_donations_org_contact_created,priority:1;index:idx_donations_org_review,priority:1" json:"organization_id"`
	ContactID           snowflake.ID                `gorm:"not null;index:idx_donations_org_contact_created,priority:2" json:"contact_id"`
	CampaignID          *snowflake.ID               `gorm:"index" json:"campaign_id,omitempty"`
	RecurringDonationID *snowflake.ID               `gorm:"index" json:"recurring_donation_id,omitempty"`
	Amount              int64                       `gorm:"not null" json:"amount"`
	Currency            string                      `gorm:"type:text;not null" json:"currency"`
	Type                Type                        `gorm:"type:text;not null" json:"type"`
	Method              Method                      `gorm:"type:text;not null" json:"method"`
	Status              Status                      `gorm:"type:text;not null" json:"status"`
	Channel             Channel                     `gorm:"type:text;not null" json:"channel"`
	FundRestriction     string                      `gorm:"type:text" json:"fund_restriction,omitempty"`
	TransactionID       *string                     `gorm:"uniqueIndex:ux_donations_transaction_id" json:"transaction_id,omitempty"`
	IdempotencyKey      *string                     `gorm:"uniqueIndex:ux_donations_idempotency_key" json:"idempotency_key,omitempty"`
	RequestFingerprint  string                      `gorm:"type:text" json:"-"`
	ReceiptNumber       string                      `gorm:"type:text;not null" json:"receipt_number"`
	Notes               string                      `gorm:"type:text" json:"notes,omitempty"`
	ApplicationFee      int64                       `gorm:"not null;default:0" json:"application_fee"`
	FraudScore          int                         `gorm:"not null;default:0" json:"fraud_score"`
	FraudFlags          datatypes.JSONSlice[string] `json:"fraud_flags"`
	ReviewStatus        fraud.ReviewStatus          `gorm:"type:text;not null;index:idx_donations_org_review,priority:2" json:"review_status"`
	DonatedAt           time.Time                   `gorm:"not null" json:"donated_at"`
	CreatedAt           time.Time                   `gorm:"not null;index:idx_donations_org_contact_created,priority:3" json:"created_at"`
	UpdatedAt           time.Time                   `gorm:"not null" json:"updated_at"`
}

func (Donation) TableName() string { return "donations" }

// PublicView withholds risk fields from anonymous callers.
type PublicView struct {
	ID            snowflake.ID  `json:"id"`
	OrgID         snowflake.ID  `json:"organization_id"`
	CampaignID    *snowflake.ID `json:"campaign_id,omitempty"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	Type          Type          `json:"type"`
	Method        Method        `json:"method"`
	Status        Status        `json:"status"`
	ReceiptNumber string        `json:"receipt_number"`
	DonatedAt     time.Time     `json:"donated_at"`
}

func (d Donation) Public() PublicView {
	return PublicView{
		ID:            d.ID,
		OrgID:         d.OrgID,
		CampaignID:    d.CampaignID,
		Amount:        d.Amount,
		Currency:      d.Currency,
		Type:          d.Type,
		Method:        d.Method,
		Status:        d.Status,
		ReceiptNumber: d.ReceiptNumber,
		DonatedAt:     d.DonatedAt,
	}
}

const (
	RecurringStatusActive    = "active"
	RecurringStatusCancelled = "cancelled"
)

// RecurringDonation links the gifts of one processor subscription.
type RecurringDonation struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID           snowflake.ID  `gorm:"column:org_id;not null;index" json:"organization_id"`
	ContactID       snowflake.ID  `gorm:"not null" json:"contact_id"`
	CampaignID      *snowflake.ID `json:"campaign_id,omitempty"`
	SubscriptionID  string        `gorm:"type:text;not null;uniqueIndex:ux_recurring_donations_subscription" json:"subscription_id"`
	Amount          int64         `gorm:"not null" json:"amount"`
	Currency        string        `gorm:"type:text;not null" json:"currency"`
	BillingInterval string        `gorm:"type:text;not null" json:"interval"`
	FundRestriction string        `gorm:"type:text" json:"fund_restriction,omitempty"`
	Status          string        `gorm:"type:text;not null" json:"status"`
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null" json:"updated_at"`
}

func (RecurringDonation) TableName() string { return "recurring_donations" }
