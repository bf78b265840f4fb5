// Package fee splits a gross payment between the platform and the receiving
// organization using integer minor-unit arithmetic.
package fee

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

const basisPointsPerWhole = 10_000

// maxGross keeps gross*bps inside int64.
const maxGross = math.MaxInt64 / basisPointsPerWhole

var (
	ErrNegativeAmount = errors.New("fee_negative_amount")
	ErrAmountTooLarge = errors.New("fee_amount_too_large")
	ErrInvalidRate    = errors.New("fee_invalid_rate")
	ErrRatePrecision  = errors.New("fee_rate_precision")
)

var hundred = decimal.NewFromInt(100)

// Split is the platform's cut and the recipient's remainder of one payment.
// ApplicationFee + Net always equals the gross amount.
type Split struct {
	Gross          int64 `json:"gross"`
	ApplicationFee int64 `json:"application_fee"`
	Net            int64 `json:"net_amount"`
	BasisPoints    int64 `json:"fee_bps"`
}

// SplitBps computes fee = round_half_up(gross * bps / 10000).
func SplitBps(gross, bps int64) (Split, error) {
	if gross < 0 {
		return Split{}, ErrNegativeAmount
	}
	if gross > maxGross {
		return Split{}, ErrAmountTooLarge
	}
	if bps < 0 || bps > basisPointsPerWhole {
		return Split{}, ErrInvalidRate
	}

	fee := (gross*bps + basisPointsPerWhole/2) / basisPointsPerWhole
	if fee > gross {
		fee = gross
	}
	return Split{
		Gross:          gross,
		ApplicationFee: fee,
		Net:            gross - fee,
		BasisPoints:    bps,
	}, nil
}

// SplitPercent splits gross at a percentage such as 2 or 2.5.
func SplitPercent(gross int64, percent decimal.Decimal) (Split, error) {
	bps, err := BasisPoints(percent)
	if err != nil {
		return Split{}, err
	}
	return SplitBps(gross, bps)
}

// BasisPoints converts a percentage into basis points. Rates finer than one
// basis point are refused rather than silently rounded.
func BasisPoints(percent decimal.Decimal) (int64, error) {
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return 0, ErrInvalidRate
	}
	bps := percent.Mul(hundred)
	if !bps.Equal(bps.Truncate(0)) {
		return 0, ErrRatePrecision
	}
	return bps.IntPart(), nil
}

// ParsePercent parses a configured percentage string into basis points.
func ParsePercent(raw string) (int64, error) {
	percent, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, ErrInvalidRate
	}
	return BasisPoints(percent)
}
