package service

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/donorflow/internal/donation/domain"
)

const (
	// maxAmount caps a single gift at ten billion minor units.
	maxAmount       int64 = 10_000_000_000
	maxNotes              = 2000
	maxFundLength         = 255
	futureTolerance       = 24 * time.Hour
)

// input is a validated submission in storage units.
type input struct {
	amount        int64
	currency      string
	method        domain.Method
	donationType  domain.Type
	status        domain.Status
	campaignID    snowflake.ID
	transactionID string
	donatedAt     time.Time
}

func (in input) amountKey() string {
	return strconv.FormatInt(in.amount, 10)
}

func (in input) campaignKey() string {
	if in.campaignID == 0 {
		return ""
	}
	return in.campaignID.String()
}

// validate checks structure only. Nothing here contributes to the fraud score.
func (s *Service) validate(req domain.SubmitRequest) (input, error) {
	var in input

	amount, err := ParseAmount(req.Amount)
	if err != nil {
		return in, err
	}
	if amount < s.cfg.MinimumAmount {
		return in, domain.ErrBelowMinimum
	}
	in.amount = amount

	in.currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if in.currency == "" {
		in.currency = s.cfg.DefaultCurrency
	}
	if !validCurrency(in.currency) {
		return in, domain.ErrInvalidCurrency
	}

	in.method = domain.MethodCard
	if strings.TrimSpace(req.Method) != "" {
		m, ok := domain.ParseMethod(req.Method)
		if !ok {
			return in, domain.ErrInvalidMethod
		}
		in.method = m
	}

	in.donationType = domain.TypeOneTime
	if strings.TrimSpace(req.Type) != "" {
		t, ok := domain.ParseType(req.Type)
		if !ok {
			return in, domain.ErrInvalidType
		}
		in.donationType = t
	}

	in.status = domain.StatusCompleted
	if strings.TrimSpace(req.Status) != "" {
		st, ok := domain.ParseStatus(req.Status)
		if !ok || (st != domain.StatusCompleted && st != domain.StatusPending) {
			return in, domain.ErrInvalidStatus
		}
		if req.Channel == domain.ChannelPublic && st != domain.StatusCompleted {
			return in, domain.ErrInvalidStatus
		}
		in.status = st
	}

	if raw := strings.TrimSpace(req.CampaignID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id <= 0 {
			return in, domain.ErrInvalidCampaign
		}
		in.campaignID = id
	}

	in.transactionID = strings.TrimSpace(req.TransactionID)
	if len(in.transactionID) > 255 {
		return in, domain.ErrInvalidTransaction
	}
	// Processor references are written by settlement. Anonymous callers must
	// not be able to claim one first.
	if in.transactionID != "" && req.Channel != domain.ChannelStaff {
		return in, domain.ErrInvalidTransaction
	}
	if len(req.Notes) > maxNotes || len(req.FundRestriction) > maxFundLength {
		return in, domain.ErrFieldTooLong
	}

	now := s.clock.Now()
	in.donatedAt = now
	if req.DonatedAt != nil && !req.DonatedAt.IsZero() {
		if req.DonatedAt.After(now.Add(futureTolerance)) {
			return in, domain.ErrInvalidDonatedAt
		}
		in.donatedAt = req.DonatedAt.UTC()
	}
	return in, nil
}

// ParseAmount converts a major-unit decimal string such as "25.50" into
// minor units. More than two fractional digits is an error, never rounded.
func ParseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, domain.ErrInvalidAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		return 0, domain.ErrInvalidAmount
	}
	if !d.Equal(d.Truncate(2)) {
		return 0, domain.ErrInvalidAmount
	}
	minor := d.Shift(2)
	if minor.GreaterThan(decimal.NewFromInt(maxAmount)) {
		return 0, domain.ErrInvalidAmount
	}
	return minor.IntPart(), nil
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
