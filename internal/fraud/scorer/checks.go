package scorer

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/donorflow/internal/config"
	"github.com/smallbiznis/donorflow/internal/fraud/domain"
)

// Check is one independent risk signal. Checks never see each other's
// output.
type Check func(ctx context.Context, p config.FraudPolicy, c domain.Context, r domain.HistoryReader) ([]domain.Signal, error)

// Statuses counted toward a donor's velocity.
var velocityStatuses = []string{"pending", "completed"}

// CheckVelocity scores bursts from one donor and organization-wide spikes.
// Only the highest donor tier applies.
func CheckVelocity(ctx context.Context, p config.FraudPolicy, c domain.Context, r domain.HistoryReader) ([]domain.Signal, error) {
	v := p.Velocity
	var signals []domain.Signal

	recent, err := r.CountContactSince(ctx, c.OrgID, c.ContactID, c.At.Add(-v.ContactWindow), velocityStatuses)
	if err != nil {
		return nil, fmt.Errorf("count contact velocity: %w", err)
	}
	detail := fmt.Sprintf("%d donations in %s", recent, v.ContactWindow)
	switch {
	case recent >= v.ExtremeCount:
		signals = append(signals, domain.Signal{Tag: domain.TagExtremeVelocity, Weight: v.ExtremePoints, Detail: detail})
	case recent >= v.HighCount:
		signals = append(signals, domain.Signal{Tag: domain.TagHighVelocity, Weight: v.HighPoints, Detail: detail})
	case recent >= v.ModerateCount:
		signals = append(signals, domain.Signal{Tag: domain.TagModerateVelocity, Weight: v.ModeratePoints, Detail: detail})
	}

	orgRecent, err := r.CountOrgSince(ctx, c.OrgID, c.At.Add(-v.OrgWindow))
	if err != nil {
		return nil, fmt.Errorf("count org velocity: %w", err)
	}
	if orgRecent >= v.OrgSpikeCount {
		signals = append(signals, domain.Signal{
			Tag:    domain.TagOrgVelocitySpike,
			Weight: v.OrgSpikePoints,
			Detail: fmt.Sprintf("%d organization donations in %s", orgRecent, v.OrgWindow),
		})
	}
	return signals, nil
}

// CheckContactHistory looks at the donor's recent completed gifts and refund
// record.
func CheckContactHistory(ctx context.Context, p config.FraudPolicy, c domain.Context, r domain.HistoryReader) ([]domain.Signal, error) {
	h := p.History
	var signals []domain.Signal

	prior, err := r.RecentCompleted(ctx, c.OrgID, c.ContactID, h.Lookback)
	if err != nil {
		return nil, fmt.Errorf("load donor history: %w", err)
	}
	if len(prior) == 0 {
		signals = append(signals, domain.Signal{Tag: domain.TagNewDonor, Weight: h.NewDonorPoints, Detail: "first time donor"})
	}

	risky := 0
	var total int64
	for _, d := range prior {
		if d.FraudScore > h.PriorScoreThreshold {
			risky++
		}
		total += d.Amount
	}
	if risky > 0 {
		signals = append(signals, domain.Signal{
			Tag:    domain.TagPreviousFraud,
			Weight: h.PriorFraudPoints,
			Detail: fmt.Sprintf("%d previous high-risk donations", risky),
		})
	}

	refunds, err := r.CountRefunded(ctx, c.OrgID, c.ContactID)
	if err != nil {
		return nil, fmt.Errorf("count refunds: %w", err)
	}
	switch {
	case refunds >= h.RefundHistoryCount:
		signals = append(signals, domain.Signal{
			Tag:    domain.TagRefundHistory,
			Weight: h.RefundHistoryPoints,
			Detail: fmt.Sprintf("%d previous refunds", refunds),
		})
	case refunds == 1:
		signals = append(signals, domain.Signal{Tag: domain.TagSingleRefund, Weight: h.SingleRefundPoints, Detail: "1 previous refund"})
	}

	// amount > multiplier * mean, kept in integers: amount*n > multiplier*total
	if len(prior) >= h.SpikeMinHistory && len(prior) > 0 {
		n := int64(len(prior))
		if c.Amount*n > h.SpikeMultiplier*total {
			signals = append(signals, domain.Signal{
				Tag:    domain.TagAmountSpike,
				Weight: h.SpikePoints,
				Detail: fmt.Sprintf("%d vs average %d", c.Amount, total/n),
			})
		}
	}
	return signals, nil
}

// CheckAmountAnomaly flags amounts typical of automated or card-testing
// traffic. It reads no history.
func CheckAmountAnomaly(_ context.Context, p config.FraudPolicy, c domain.Context, _ domain.HistoryReader) ([]domain.Signal, error) {
	a := p.Amount
	var signals []domain.Signal

	if c.Amount%a.RoundModulus == 0 && c.Amount <= a.RoundCeiling {
		signals = append(signals, domain.Signal{Tag: domain.TagRoundAmount, Weight: a.RoundPoints, Detail: fmt.Sprintf("exact %d", c.Amount)})
	}
	if c.Amount <= p.PlatformMinimum+a.MinimumEpsilon {
		signals = append(signals, domain.Signal{Tag: domain.TagMinimumAmount, Weight: a.MinimumPoints, Detail: "near minimum threshold"})
	}
	if c.Amount >= a.LargeThreshold {
		signals = append(signals, domain.Signal{Tag: domain.TagLargeAmount, Weight: a.LargePoints, Detail: fmt.Sprintf("at or above %d", a.LargeThreshold)})
	}
	cents := c.Amount % 100
	if cents >= a.PennyCentsMin && cents <= a.PennyCentsMax && c.Amount < a.PennyCeiling {
		signals = append(signals, domain.Signal{Tag: domain.TagPennyTest, Weight: a.PennyPoints, Detail: "possible card testing"})
	}
	return signals, nil
}

// CheckPaymentMethod applies the static per-method table.
func CheckPaymentMethod(_ context.Context, p config.FraudPolicy, c domain.Context, _ domain.HistoryReader) ([]domain.Signal, error) {
	points := p.MethodPoints(c.Method)
	if points <= 0 {
		return nil, nil
	}
	return []domain.Signal{{Tag: methodTag(c.Method), Weight: points}}, nil
}

func methodTag(method string) string {
	switch m := strings.ToLower(strings.TrimSpace(method)); m {
	case "card":
		return domain.TagCardMethod
	case "crypto":
		return domain.TagCryptoMethod
	case "other", "":
		return domain.TagUnknownMethod
	default:
		return strings.ToUpper(m) + "_METHOD"
	}
}

// CheckDuplicateSubmission counts identical amounts from the same donor in
// the duplicate window, regardless of outcome.
func CheckDuplicateSubmission(ctx context.Context, p config.FraudPolicy, c domain.Context, r domain.HistoryReader) ([]domain.Signal, error) {
	d := p.Duplicate
	count, err := r.CountSameAmountSince(ctx, c.OrgID, c.ContactID, c.Amount, c.At.Add(-d.Window))
	if err != nil {
		return nil, fmt.Errorf("count duplicate amounts: %w", err)
	}
	if count < d.MinCount {
		return nil, nil
	}
	return []domain.Signal{{
		Tag:    domain.TagDuplicateAmount,
		Weight: d.Points,
		Detail: fmt.Sprintf("%d identical amounts in %s", count, d.Window),
	}}, nil
}
