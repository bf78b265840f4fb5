package service

import (
	"context"

	"github.com/smallbiznis/donorflow/internal/clock"
	"github.com/smallbiznis/donorflow/internal/fraud/domain"
	"github.com/smallbiznis/donorflow/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultStatsDays = 30
	maxStatsDays     = 366
	defaultHighRisk  = 50
	maxHighRiskLimit = 200
	defaultRiskFloor = 40
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("fraud.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Stats summarises the last days of donations for the caller's organization.
func (s *Service) Stats(ctx context.Context, days int) (domain.Stats, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Stats{}, domain.ErrInvalidOrganization
	}
	if days == 0 {
		days = defaultStatsDays
	}
	if days < 0 || days > maxStatsDays {
		return domain.Stats{}, domain.ErrInvalidWindow
	}

	since := s.clock.Now().AddDate(0, 0, -days)
	return s.repo.Stats(ctx, s.db, orgID, since)
}

func (s *Service) HighRisk(ctx context.Context, minScore, limit int) ([]domain.FlaggedDonation, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	if minScore <= 0 {
		minScore = defaultRiskFloor
	}
	if limit <= 0 {
		limit = defaultHighRisk
	}
	if limit > maxHighRiskLimit {
		limit = maxHighRiskLimit
	}
	return s.repo.HighRisk(ctx, s.db, orgID, minScore, limit)
}
