// Package scorer combines the independent risk checks into one assessment.
package scorer

import (
	"context"
	"errors"

	"github.com/smallbiznis/donorflow/internal/clock"
	"github.com/smallbiznis/donorflow/internal/config"
	"github.com/smallbiznis/donorflow/internal/fraud/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// DefaultChecks in evaluation order; flags follow this order.
var DefaultChecks = []Check{
	CheckVelocity,
	CheckContactHistory,
	CheckAmountAnomaly,
	CheckPaymentMethod,
	CheckDuplicateSubmission,
}

const (
	recommendReject  = "high risk: reject transaction and flag contact"
	recommendReview  = "medium risk: hold for manual review"
	recommendApprove = "low risk: approve transaction"
)

type Params struct {
	fx.In

	History domain.HistoryReader
	Policy  *config.FraudPolicyHolder
	Clock   clock.Clock
	Log     *zap.Logger
}

type Scorer struct {
	history domain.HistoryReader
	policy  *config.FraudPolicyHolder
	clock   clock.Clock
	checks  []Check
	log     *zap.Logger
}

func New(p Params) domain.Scorer {
	return NewScorer(p.History, p.Policy, p.Clock, p.Log)
}

func NewScorer(history domain.HistoryReader, policy *config.FraudPolicyHolder, clk clock.Clock, log *zap.Logger, checks ...Check) *Scorer {
	if len(checks) == 0 {
		checks = DefaultChecks
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scorer{
		history: history,
		policy:  policy,
		clock:   clk,
		checks:  checks,
		log:     log.Named("fraud.scorer"),
	}
}

// Score runs every check, even after the reject threshold is reached, so the
// assessment records each signal that applies. A history read failure fails
// the whole assessment because a partial score would under-report risk.
func (s *Scorer) Score(ctx context.Context, c domain.Context) (domain.Assessment, error) {
	policy := s.policy.Get()
	if c.At.IsZero() {
		c.At = s.clock.Now()
	}

	var (
		signals []domain.Signal
		errs    error
	)
	for _, check := range s.checks {
		out, err := check(ctx, policy, c, s.history)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		signals = append(signals, out...)
	}
	if errs != nil {
		return domain.Assessment{}, errs
	}

	assessment := Assess(policy, signals)
	s.log.Debug("donation scored",
		zap.String("org_id", c.OrgID.String()),
		zap.String("identity", c.CallerIdentity),
		zap.Int64("amount", c.Amount),
		zap.Int("fraud_score", assessment.Score),
		zap.Strings("fraud_flags", assessment.Flags),
		zap.String("verdict", string(assessment.ReviewStatus)),
	)
	return assessment, nil
}

// Assess folds signals into a capped score and its verdict.
func Assess(policy config.FraudPolicy, signals []domain.Signal) domain.Assessment {
	score := 0
	flags := make([]string, 0, len(signals))
	for _, sig := range signals {
		if sig.Weight <= 0 {
			continue
		}
		score += sig.Weight
		flags = append(flags, sig.Tag)
	}
	if score > policy.MaxScore {
		score = policy.MaxScore
	}
	if signals == nil {
		signals = []domain.Signal{}
	}

	status := Verdict(policy, score)
	return domain.Assessment{
		Score:          score,
		Signals:        signals,
		Flags:          flags,
		ReviewStatus:   status,
		Recommendation: Recommendation(status),
	}
}

// Verdict maps a score onto the review thresholds.
func Verdict(policy config.FraudPolicy, score int) domain.ReviewStatus {
	switch {
	case score >= policy.RejectThreshold:
		return domain.ReviewRejected
	case score >= policy.ReviewThreshold:
		return domain.ReviewPendingReview
	default:
		return domain.ReviewApproved
	}
}

// Recommendation is the operator-facing advice for a verdict.
func Recommendation(status domain.ReviewStatus) string {
	switch status {
	case domain.ReviewRejected:
		return recommendReject
	case domain.ReviewPendingReview:
		return recommendReview
	default:
		return recommendApprove
	}
}

// ProcessorCleared is the assessment recorded for gifts that arrive through a
// settled processor callback.
func ProcessorCleared() domain.Assessment {
	return domain.Assessment{
		Score:          0,
		Signals:        []domain.Signal{{Tag: domain.TagProcessorCleared}},
		Flags:          []string{domain.TagProcessorCleared},
		ReviewStatus:   domain.ReviewApproved,
		Recommendation: recommendApprove,
	}
}
