package pdf

import (
	"context"
	"strings"

	appconfig "github.com/smallbiznis/donorflow/internal/config"
	"go.uber.org/fx"
)

// DefaultFooter is the quid-pro-quo statement printed under every receipt
// unless RECEIPT_FOOTER overrides it.
const DefaultFooter = "No goods or services were provided in exchange for this contribution."

type Provider interface {
	GenerateDonationReceipt(ctx context.Context, data ReceiptData) ([]byte, error)
}

var Module = fx.Module("providers.pdf",
	fx.Provide(func(cfg appconfig.Config) Provider {
		return New(cfg.Receipt.Footer)
	}),
)

// Renderer lays receipts out on A4 with maroto.
type Renderer struct {
	footer string
}

func New(footer string) *Renderer {
	footer = strings.TrimSpace(footer)
	if footer == "" {
		footer = DefaultFooter
	}
	return &Renderer{footer: footer}
}
