package notification

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/donorflow/internal/providers/email"
)

// EmailDispatcher sends the thank-you message directly over SMTP.
type EmailDispatcher struct {
	provider email.Provider
}

func NewEmailDispatcher(provider email.Provider) *EmailDispatcher {
	return &EmailDispatcher{provider: provider}
}

func (d *EmailDispatcher) Dispatch(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	switch msg.Kind {
	case KindDonationReceived:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, msg.Kind)
	}

	donor := msg.DonorName
	if donor == "" {
		donor = "friend"
	}
	return d.provider.SendTemplate(ctx, []string{msg.DonorEmail}, email.TemplateDonationThankYou, email.TemplateData{
		Fields: map[string]any{
			"donor_name":     donor,
			"amount":         FormatAmount(msg.Amount, msg.Currency),
			"org_name":       msg.OrgName,
			"receipt_number": msg.ReceiptNumber,
			"campaign_name":  msg.CampaignName,
		},
	})
}

func (d *EmailDispatcher) Backend() string { return "email" }

// FormatAmount renders minor units as "USD 25.00".
func FormatAmount(amount int64, currency string) string {
	return currency + " " + decimal.New(amount, -2).StringFixed(2)
}
