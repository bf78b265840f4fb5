package domain

import (
	"context"
	"errors"
)

// Scorer computes an Assessment without writing anything.
type Scorer interface {
	Score(ctx context.Context, c Context) (Assessment, error)
}

type Service interface {
	Stats(ctx context.Context, days int) (Stats, error)
	HighRisk(ctx context.Context, minScore, limit int) ([]FlaggedDonation, error)
}

var (
	ErrInvalidReviewStatus = errors.New("invalid_review_status")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidWindow       = errors.New("invalid_stats_window")
)
