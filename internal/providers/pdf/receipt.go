package pdf

import (
	"context"
	"errors"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

var ErrInvalidReceipt = errors.New("invalid_receipt_data")

// ReceiptData is the pre-formatted content of one donation receipt. Amounts
// arrive as display strings; the renderer does no currency math.
type ReceiptData struct {
	OrgName         string
	OrgEmail        string
	ReceiptNumber   string
	DonatedAt       string
	DonorName       string
	DonorEmail      string
	Amount          string
	Type            string
	Method          string
	Status          string
	Campaign        string
	FundRestriction string
	TransactionID   string
	Notes           string
}

func (p *Renderer) GenerateDonationReceipt(ctx context.Context, receipt ReceiptData) ([]byte, error) {
	if receipt.ReceiptNumber == "" || receipt.Amount == "" {
		return nil, ErrInvalidReceipt
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Donation receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, receipt.ReceiptNumber, props.Text{
			Size:  10,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(30,
		col.New(6).Add(
			text.New(receipt.OrgName, props.Text{Style: fontstyle.Bold}),
			text.New(receipt.OrgEmail, props.Text{Top: 5}),
		),
		col.New(6).Add(
			text.New("Received from", props.Text{Style: fontstyle.Bold}),
			text.New(receipt.DonorName, props.Text{Top: 5}),
			text.New(receipt.DonorEmail, props.Text{Top: 9}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, receipt.Amount+" received on "+receipt.DonatedAt, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(6, "Detail", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(6, "Value", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, line := range receiptLines(receipt) {
		m.AddRow(8,
			text.NewCol(6, line[0], props.Text{Size: 9}),
			text.NewCol(6, line[1], props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(20,
		text.NewCol(12, p.footer, props.Text{
			Size: 8,
			Top:  10,
		}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func receiptLines(r ReceiptData) [][2]string {
	all := [][2]string{
		{"Type", r.Type},
		{"Payment method", r.Method},
		{"Status", r.Status},
		{"Campaign", r.Campaign},
		{"Fund restriction", r.FundRestriction},
		{"Processor reference", r.TransactionID},
		{"Notes", r.Notes},
	}
	out := all[:0]
	for _, line := range all {
		if line[1] != "" {
			out = append(out, line)
		}
	}
	return out
}
