package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/contact/domain"
	"github.com/smallbiznis/donorflow/internal/orgcontext"
	"github.com/smallbiznis/donorflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("contact.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateContactRequest) (domain.Contact, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Contact{}, domain.ErrInvalidOrganization
	}
	return s.insert(ctx, orgID, req)
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Contact, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Contact{}, domain.ErrInvalidOrganization
	}
	return s.Resolve(ctx, orgID, id)
}

func (s *Service) Resolve(ctx context.Context, orgID snowflake.ID, contactID string) (domain.Contact, error) {
	if orgID == 0 {
		return domain.Contact{}, domain.ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(strings.TrimSpace(contactID))
	if err != nil || id == 0 {
		return domain.Contact{}, domain.ErrInvalidID
	}

	contact, err := s.repo.FindAnyByID(ctx, s.db, id)
	if err != nil {
		return domain.Contact{}, err
	}
	if contact == nil {
		return domain.Contact{}, domain.ErrNotFound
	}
	if contact.OrgID != orgID {
		s.log.Warn("cross-tenant contact reference",
			zap.String("org_id", orgID.String()),
			zap.String("contact_org_id", contact.OrgID.String()),
		)
		return domain.Contact{}, domain.ErrCrossTenant
	}
	return *contact, nil
}

func (s *Service) FindOrCreate(ctx context.Context, orgID snowflake.ID, req domain.CreateContactRequest) (domain.Contact, error) {
	if orgID == 0 {
		return domain.Contact{}, domain.ErrInvalidOrganization
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return domain.Contact{}, err
	}

	existing, err := s.repo.FindByEmail(ctx, s.db, orgID, email)
	if err != nil {
		return domain.Contact{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	contact, err := s.insert(ctx, orgID, req)
	if err == nil {
		return contact, nil
	}
	if !db.IsUniqueViolation(err) {
		return domain.Contact{}, err
	}

	// Lost a race with a concurrent submission for the same email.
	existing, err = s.repo.FindByEmail(ctx, s.db, orgID, email)
	if err != nil {
		return domain.Contact{}, err
	}
	if existing == nil {
		return domain.Contact{}, domain.ErrNotFound
	}
	return *existing, nil
}

func (s *Service) insert(ctx context.Context, orgID snowflake.ID, req domain.CreateContactRequest) (domain.Contact, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Contact{}, domain.ErrInvalidName
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return domain.Contact{}, err
	}

	now := time.Now().UTC()
	contact := domain.Contact{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Name:      name,
		Email:     email,
		Metadata:  datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, &contact); err != nil {
		return domain.Contact{}, err
	}
	return contact, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
		return "", domain.ErrInvalidEmail
	}
	return email, nil
}
