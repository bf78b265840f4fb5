package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/donorflow/internal/clock"
	"github.com/smallbiznis/donorflow/internal/config"
	"github.com/smallbiznis/donorflow/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Config  config.Config
	Clock   clock.Clock
	Repo    domain.Repository
	Gateway domain.ConnectGateway
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	stripe  config.StripeConfig
	clock   clock.Clock
	repo    domain.Repository
	gateway domain.ConnectGateway
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("organization.service"),
		genID:   p.GenID,
		stripe:  p.Config.Stripe,
		clock:   clk,
		repo:    p.Repo,
		gateway: p.Gateway,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateOrganizationRequest) (domain.Organization, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Organization{}, domain.ErrInvalidName
	}

	tier := strings.ToLower(strings.TrimSpace(req.PlanTier))
	if tier == "" {
		tier = "free"
	}

	account := strings.TrimSpace(req.StripeAccountID)
	status := domain.ConnectStatusNotConnected
	if account != "" {
		status = domain.ConnectStatusConnected
	}

	now := s.clock.Now()
	org := domain.Organization{
		ID:                  s.genID.Generate(),
		Name:                name,
		Slug:                slug.Make(name),
		SupportEmail:        strings.TrimSpace(req.SupportEmail),
		PlanTier:            tier,
		StripeAccountID:     account,
		StripeConnectStatus: status,
		Metadata:            datatypes.JSONMap{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.InsertOrganization(ctx, s.db, &org); err != nil {
		return domain.Organization{}, err
	}

	s.log.Info("organization created", zap.String("org_id", org.ID.String()), zap.String("plan_tier", tier))
	return org, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Organization, error) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || orgID == 0 {
		return domain.Organization{}, domain.ErrInvalidOrganization
	}
	org, err := s.repo.FindByID(ctx, s.db, orgID)
	if err != nil {
		return domain.Organization{}, err
	}
	if org == nil {
		return domain.Organization{}, domain.ErrNotFound
	}
	return *org, nil
}

func (s *Service) CreateCampaign(ctx context.Context, req domain.CreateCampaignRequest) (domain.Campaign, error) {
	org, err := s.GetByID(ctx, req.OrgID)
	if err != nil {
		return domain.Campaign{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Campaign{}, domain.ErrInvalidName
	}
	if req.Goal < 0 {
		return domain.Campaign{}, domain.ErrInvalidCampaign
	}

	now := s.clock.Now()
	campaign := domain.Campaign{
		ID:        s.genID.Generate(),
		OrgID:     org.ID,
		Name:      name,
		Goal:      req.Goal,
		Currency:  strings.ToUpper(strings.TrimSpace(req.Currency)),
		Status:    domain.CampaignStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertCampaign(ctx, s.db, &campaign); err != nil {
		return domain.Campaign{}, err
	}
	return campaign, nil
}

func (s *Service) GetCampaign(ctx context.Context, orgID, id string) (domain.Campaign, error) {
	parsedOrg, err := snowflake.ParseString(strings.TrimSpace(orgID))
	if err != nil || parsedOrg == 0 {
		return domain.Campaign{}, domain.ErrInvalidOrganization
	}
	parsedID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsedID == 0 {
		return domain.Campaign{}, domain.ErrInvalidCampaign
	}
	campaign, err := s.repo.FindCampaign(ctx, s.db, parsedOrg, parsedID)
	if err != nil {
		return domain.Campaign{}, err
	}
	if campaign == nil {
		return domain.Campaign{}, domain.ErrCampaignNotFound
	}
	return *campaign, nil
}
