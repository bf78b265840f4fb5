package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/donorflow/internal/payment/domain"
)

const provider = "stripe"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return provider
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		webhookSecret: secret,
		tolerance:     cfg.Tolerance,
		now:           now,
	}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

// Verify checks the Stripe-Signature header: an HMAC-SHA256 over
// "<t>.<payload>" compared in constant time, with t inside the tolerance.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	if a.tolerance > 0 {
		unix, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return paymentdomain.ErrInvalidSignature
		}
		age := a.now().Sub(time.Unix(unix, 0))
		if age > a.tolerance || age < -a.tolerance {
			return paymentdomain.ErrInvalidSignature
		}
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.SettlementEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var (
		parsed *paymentdomain.SettlementEvent
		err    error
	)
	switch strings.TrimSpace(event.Type) {
	case paymentdomain.EventTypeCheckoutCompleted:
		parsed, err = a.parseCheckoutSession(event)
	case paymentdomain.EventTypeInvoicePaid:
		parsed, err = a.parseInvoice(event)
	case paymentdomain.EventTypeSubscriptionDeleted:
		parsed, err = a.parseSubscription(event)
	case paymentdomain.EventTypeChargeRefunded:
		parsed, err = a.parseCharge(event)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
	if err != nil {
		return nil, err
	}

	parsed.Provider = provider
	parsed.ProviderEventID = event.ID
	parsed.Type = event.Type
	parsed.RawPayload = payload
	return parsed, nil
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ID            string         `json:"id"`
	Mode          string         `json:"mode"`
	PaymentStatus string         `json:"payment_status"`
	AmountTotal   int64          `json:"amount_total"`
	Currency      string         `json:"currency"`
	PaymentIntent string         `json:"payment_intent"`
	Subscription  string         `json:"subscription"`
	Invoice       string         `json:"invoice"`
	Created       int64          `json:"created"`
	Metadata      map[string]any `json:"metadata"`
}

type stripeSubscriptionDetails struct {
	Subscription string         `json:"subscription"`
	Metadata     map[string]any `json:"metadata"`
}

type stripeInvoice struct {
	ID                  string                    `json:"id"`
	Subscription        string                    `json:"subscription"`
	AmountPaid          int64                     `json:"amount_paid"`
	Currency            string                    `json:"currency"`
	Created             int64                     `json:"created"`
	Metadata            map[string]any            `json:"metadata"`
	SubscriptionDetails stripeSubscriptionDetails `json:"subscription_details"`
	Parent              struct {
		SubscriptionDetails stripeSubscriptionDetails `json:"subscription_details"`
	} `json:"parent"`
}

type stripeSubscription struct {
	ID         string         `json:"id"`
	CanceledAt int64          `json:"canceled_at"`
	Metadata   map[string]any `json:"metadata"`
}

type stripeCharge struct {
	ID             string         `json:"id"`
	PaymentIntent  string         `json:"payment_intent"`
	Invoice        string         `json:"invoice"`
	AmountRefunded int64          `json:"amount_refunded"`
	Refunded       bool           `json:"refunded"`
	Currency       string         `json:"currency"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
}

func (a *Adapter) parseCheckoutSession(event stripeEvent) (*paymentdomain.SettlementEvent, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	// Delayed payment methods complete the session before funds clear; the
	// async_payment_succeeded event is not handled.
	if session.PaymentStatus == "unpaid" {
		return nil, paymentdomain.ErrEventIgnored
	}

	meta, err := parseMetadata(session.Metadata, true)
	if err != nil {
		return nil, err
	}

	parsed := &paymentdomain.SettlementEvent{
		SubscriptionID: strings.TrimSpace(session.Subscription),
		InvoiceID:      strings.TrimSpace(session.Invoice),
		Amount:         session.AmountTotal,
		Currency:       strings.ToUpper(strings.TrimSpace(session.Currency)),
		OccurredAt:     timestamp(session.Created, event.Created),
	}
	meta.apply(parsed)

	if session.Mode == "subscription" {
		if parsed.SubscriptionID == "" || parsed.InvoiceID == "" {
			return nil, paymentdomain.ErrInvalidEvent
		}
		parsed.Recurring = true
		parsed.TransactionID = parsed.InvoiceID
	} else {
		parsed.TransactionID = strings.TrimSpace(session.PaymentIntent)
		if parsed.TransactionID == "" {
			parsed.TransactionID = session.ID
		}
	}
	return parsed, nil
}

func (a *Adapter) parseInvoice(event stripeEvent) (*paymentdomain.SettlementEvent, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	details := invoice.SubscriptionDetails
	if details.Subscription == "" && invoice.Parent.SubscriptionDetails.Subscription != "" {
		details = invoice.Parent.SubscriptionDetails
	}
	subscriptionID := strings.TrimSpace(invoice.Subscription)
	if subscriptionID == "" {
		subscriptionID = strings.TrimSpace(details.Subscription)
	}
	if subscriptionID == "" || invoice.AmountPaid <= 0 {
		return nil, paymentdomain.ErrEventIgnored
	}
	if strings.TrimSpace(invoice.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	metadata := details.Metadata
	if len(metadata) == 0 {
		metadata = invoice.Metadata
	}
	meta, err := parseMetadata(metadata, false)
	if err != nil {
		return nil, err
	}

	parsed := &paymentdomain.SettlementEvent{
		TransactionID:  strings.TrimSpace(invoice.ID),
		InvoiceID:      strings.TrimSpace(invoice.ID),
		SubscriptionID: subscriptionID,
		Recurring:      true,
		Amount:         invoice.AmountPaid,
		Currency:       strings.ToUpper(strings.TrimSpace(invoice.Currency)),
		OccurredAt:     timestamp(invoice.Created, event.Created),
	}
	meta.apply(parsed)
	return parsed, nil
}

func (a *Adapter) parseSubscription(event stripeEvent) (*paymentdomain.SettlementEvent, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	meta, err := parseMetadata(sub.Metadata, false)
	if err != nil {
		return nil, err
	}
	parsed := &paymentdomain.SettlementEvent{
		SubscriptionID: strings.TrimSpace(sub.ID),
		Recurring:      true,
		OccurredAt:     timestamp(sub.CanceledAt, event.Created),
	}
	meta.apply(parsed)
	return parsed, nil
}

func (a *Adapter) parseCharge(event stripeEvent) (*paymentdomain.SettlementEvent, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	// Partial refunds leave the gift standing.
	if !charge.Refunded {
		return nil, paymentdomain.ErrEventIgnored
	}

	parsed := &paymentdomain.SettlementEvent{
		TransactionID: strings.TrimSpace(charge.PaymentIntent),
		InvoiceID:     strings.TrimSpace(charge.Invoice),
		Amount:        charge.AmountRefunded,
		Currency:      strings.ToUpper(strings.TrimSpace(charge.Currency)),
		OccurredAt:    timestamp(charge.Created, event.Created),
	}
	if parsed.TransactionID == "" && parsed.InvoiceID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	return parsed, nil
}

// metadata is what the checkout session stamps onto the processor objects.
type metadata struct {
	orgID           snowflake.ID
	contactID       snowflake.ID
	campaignID      *snowflake.ID
	fundRestriction string
	interval        string
	applicationFee  int64
}

func (m metadata) apply(event *paymentdomain.SettlementEvent) {
	event.OrgID = m.orgID
	event.ContactID = m.contactID
	event.CampaignID = m.campaignID
	event.FundRestriction = m.fundRestriction
	event.Interval = m.interval
	event.ApplicationFee = m.applicationFee
}

func parseMetadata(raw map[string]any, required bool) (metadata, error) {
	var meta metadata

	orgRaw := readMetadataValue(raw, "org_id")
	contactRaw := readMetadataValue(raw, "contact_id")
	if orgRaw == "" || contactRaw == "" {
		if required {
			return meta, paymentdomain.ErrInvalidEvent
		}
		return meta, nil
	}
	orgID, err := snowflake.ParseString(orgRaw)
	if err != nil || orgID <= 0 {
		return meta, paymentdomain.ErrInvalidEvent
	}
	contactID, err := snowflake.ParseString(contactRaw)
	if err != nil || contactID <= 0 {
		return meta, paymentdomain.ErrInvalidEvent
	}
	meta.orgID = orgID
	meta.contactID = contactID

	if campaignRaw := readMetadataValue(raw, "campaign_id"); campaignRaw != "" {
		campaignID, err := snowflake.ParseString(campaignRaw)
		if err != nil || campaignID <= 0 {
			return meta, paymentdomain.ErrInvalidEvent
		}
		meta.campaignID = &campaignID
	}
	meta.fundRestriction = readMetadataValue(raw, "fund_restriction")
	meta.interval = readMetadataValue(raw, "interval")
	if feeRaw := readMetadataValue(raw, "application_fee"); feeRaw != "" {
		fee, err := strconv.ParseInt(feeRaw, 10, 64)
		if err == nil && fee > 0 {
			meta.applicationFee = fee
		}
	}
	return meta, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	case bool:
		return strconv.FormatBool(cast)
	}
	return ""
}
