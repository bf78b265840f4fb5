package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is the delivery log of processor callbacks. The unique index
// on (provider, provider_event_id) absorbs redelivery.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID           snowflake.ID   `json:"org_id" gorm:"not null;index"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	TransactionID   string         `json:"transaction_id" gorm:"type:text"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypeCheckoutCompleted   = "checkout.session.completed"
	EventTypeInvoicePaid         = "invoice.paid"
	EventTypeSubscriptionDeleted = "customer.subscription.deleted"
	EventTypeChargeRefunded      = "charge.refunded"
)

// SettlementEvent is the canonical callback parsed by adapters.
//
// TransactionID is the processor reference a donation is keyed on: the
// payment intent for one-off checkouts and the invoice for subscription
// payments. Refund events may carry both, so InvoiceID is kept separately.
type SettlementEvent struct {
	Provider        string
	ProviderEventID string
	Type            string

	OrgID           snowflake.ID
	ContactID       snowflake.ID
	CampaignID      *snowflake.ID
	FundRestriction string

	TransactionID  string
	InvoiceID      string
	SubscriptionID string
	Recurring      bool
	Interval       string

	Amount         int64
	ApplicationFee int64
	Currency       string
	OccurredAt     time.Time
	RawPayload     []byte
}

// References lists the processor ids a stored donation may be keyed on,
// most specific first.
func (e *SettlementEvent) References() []string {
	refs := make([]string, 0, 2)
	if e.TransactionID != "" {
		refs = append(refs, e.TransactionID)
	}
	if e.InvoiceID != "" && e.InvoiceID != e.TransactionID {
		refs = append(refs, e.InvoiceID)
	}
	return refs
}
