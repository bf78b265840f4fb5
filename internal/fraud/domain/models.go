// Package domain holds the risk scorer's vocabulary: inputs, signals and the
// review verdict.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ReviewStatus is the verdict derived from a fraud score at creation time.
type ReviewStatus string

const (
	ReviewApproved      ReviewStatus = "approved"
	ReviewPendingReview ReviewStatus = "pending_review"
	ReviewRejected      ReviewStatus = "rejected"
)

func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewApproved, ReviewPendingReview, ReviewRejected:
		return true
	}
	return false
}

func ParseReviewStatus(raw string) (ReviewStatus, error) {
	s := ReviewStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidReviewStatus, raw)
	}
	return s, nil
}

// Signal tags.
const (
	TagExtremeVelocity  = "EXTREME_VELOCITY"
	TagHighVelocity     = "HIGH_VELOCITY"
	TagModerateVelocity = "MODERATE_VELOCITY"
	TagOrgVelocitySpike = "ORG_VELOCITY_SPIKE"
	TagNewDonor         = "NEW_DONOR"
	TagPreviousFraud    = "PREVIOUS_FRAUD"
	TagRefundHistory    = "REFUND_HISTORY"
	TagSingleRefund     = "SINGLE_REFUND"
	TagAmountSpike      = "AMOUNT_SPIKE"
	TagRoundAmount      = "ROUND_AMOUNT"
	TagMinimumAmount    = "MINIMUM_AMOUNT"
	TagLargeAmount      = "LARGE_AMOUNT"
	TagPennyTest        = "PENNY_TEST"
	TagCardMethod       = "CARD_METHOD"
	TagCryptoMethod     = "CRYPTO_METHOD"
	TagUnknownMethod    = "UNKNOWN_METHOD"
	TagDuplicateAmount  = "DUPLICATE_AMOUNT"
	// TagProcessorCleared marks gifts recorded from processor callbacks,
	// which skip scoring because the charge already cleared.
	TagProcessorCleared = "PROCESSOR_CLEARED"
)

// Signal is one check's contribution to the score.
type Signal struct {
	Tag    string `json:"tag"`
	Weight int    `json:"weight"`
	Detail string `json:"detail,omitempty"`
}

// Context is everything the scorer knows about a submission. Amount is in
// minor units.
type Context struct {
	OrgID          snowflake.ID
	ContactID      snowflake.ID
	Amount         int64
	Currency       string
	Method         string
	CallerIdentity string
	At             time.Time
}

type Assessment struct {
	Score          int          `json:"fraud_score"`
	Signals        []Signal     `json:"signals"`
	Flags          []string     `json:"fraud_flags"`
	ReviewStatus   ReviewStatus `json:"review_status"`
	Recommendation string       `json:"recommendation"`
}

// HighRiskError carries a rejected assessment out of the admission path.
type HighRiskError struct {
	Assessment Assessment
}

func (e *HighRiskError) Error() string {
	return fmt.Sprintf("high_risk_donation: score %d", e.Assessment.Score)
}

// PriorDonation is the slice of a past gift the history check needs.
type PriorDonation struct {
	Amount     int64
	FraudScore int
}

// Stats summarises risk for one organization.
type Stats struct {
	TotalDonations   int64   `json:"total_donations"`
	FlaggedDonations int64   `json:"flagged_donations"`
	PendingReview    int64   `json:"pending_review"`
	Rejected         int64   `json:"rejected"`
	AverageScore     float64 `json:"average_fraud_score"`
	FlaggedPercent   float64 `json:"flagged_percentage"`
}

// FlaggedDonation is a review-queue row.
type FlaggedDonation struct {
	ID           snowflake.ID `json:"id"`
	ContactID    snowflake.ID `json:"contact_id"`
	Amount       int64        `json:"amount"`
	Currency     string       `json:"currency"`
	FraudScore   int          `json:"fraud_score"`
	FraudFlags   []string     `json:"fraud_flags"`
	ReviewStatus ReviewStatus `json:"review_status"`
	CreatedAt    time.Time    `json:"created_at"`
}
