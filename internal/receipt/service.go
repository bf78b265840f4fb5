// Package receipt renders donation receipts as PDF and archives them.
package receipt

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/donorflow/internal/config"
	contactdomain "github.com/smallbiznis/donorflow/internal/contact/domain"
	donationdomain "github.com/smallbiznis/donorflow/internal/donation/domain"
	"github.com/smallbiznis/donorflow/internal/observability/logger"
	"github.com/smallbiznis/donorflow/internal/orgcontext"
	orgdomain "github.com/smallbiznis/donorflow/internal/organization/domain"
	"github.com/smallbiznis/donorflow/internal/providers/pdf"
	"github.com/smallbiznis/donorflow/internal/providers/storage"
	"github.com/smallbiznis/donorflow/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("receipt",
	fx.Provide(New),
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Donations donationdomain.Service
	Orgs      orgdomain.Repository
	Contacts  contactdomain.Repository
	Limiter   *ratelimit.Limiter
	PDF       pdf.Provider
	Archive   storage.Archive `optional:"true"`
}

// Document is a rendered receipt. ArchiveKey is empty when archiving is
// disabled or failed.
type Document struct {
	Filename   string
	Content    []byte
	ArchiveKey string

	Decision *ratelimit.Decision
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	donations donationdomain.Service
	orgs      orgdomain.Repository
	contacts  contactdomain.Repository
	limiter   *ratelimit.Limiter
	pdf       pdf.Provider
	archive   storage.Archive
}

func New(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("receipt.service"),
		donations: p.Donations,
		orgs:      p.Orgs,
		contacts:  p.Contacts,
		limiter:   p.Limiter,
		pdf:       p.PDF,
		archive:   p.Archive,
	}
}

// Render builds the receipt of one donation in the organization carried by
// ctx. identity is the rate-limit identity of the caller.
func (s *Service) Render(ctx context.Context, identity, donationID string) (Document, error) {
	var doc Document

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return doc, donationdomain.ErrInvalidOrganization
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("org_id", orgID.String()))

	decision, err := s.limiter.Admit(ctx, config.PolicyReceiptPDF, identity)
	if decision.Policy != "" {
		doc.Decision = &decision
	}
	if err != nil {
		return doc, err
	}

	donation, err := s.donations.Get(ctx, donationID)
	if err != nil {
		return doc, err
	}
	org, err := s.orgs.FindByID(ctx, s.db, orgID)
	if err != nil {
		return doc, err
	}
	if org == nil {
		return doc, orgdomain.ErrNotFound
	}

	data := pdf.ReceiptData{
		OrgName:         org.Name,
		OrgEmail:        org.SupportEmail,
		ReceiptNumber:   donation.ReceiptNumber,
		DonatedAt:       donation.DonatedAt.UTC().Format("January 2, 2006"),
		Amount:          FormatAmount(donation.Amount, donation.Currency),
		Type:            string(donation.Type),
		Method:          string(donation.Method),
		Status:          string(donation.Status),
		FundRestriction: donation.FundRestriction,
		Notes:           donation.Notes,
	}
	if donation.TransactionID != nil {
		data.TransactionID = *donation.TransactionID
	}

	contact, err := s.contacts.FindAnyByID(ctx, s.db, donation.ContactID)
	if err != nil {
		return doc, err
	}
	if contact != nil {
		data.DonorName = contact.Name
		data.DonorEmail = contact.Email
	}
	if donation.CampaignID != nil {
		campaign, err := s.orgs.FindCampaign(ctx, s.db, orgID, *donation.CampaignID)
		if err != nil {
			return doc, err
		}
		if campaign != nil {
			data.Campaign = campaign.Name
		}
	}

	content, err := s.pdf.GenerateDonationReceipt(ctx, data)
	if err != nil {
		log.Error("render receipt failed", zap.String("donation_id", donation.ID.String()), zap.Error(err))
		return doc, err
	}
	doc.Content = content
	doc.Filename = donation.ReceiptNumber + ".pdf"

	if s.archive != nil {
		key, err := s.archive.PutReceipt(ctx, orgID, donation.ReceiptNumber, content)
		switch {
		case errors.Is(err, storage.ErrArchiveDisabled):
		case err != nil:
			log.Warn("archive receipt failed", zap.String("receipt_number", donation.ReceiptNumber), zap.Error(err))
		default:
			doc.ArchiveKey = key
		}
	}
	return doc, nil
}

// FormatAmount renders minor units as "USD 25.00".
func FormatAmount(minor int64, currency string) string {
	return currency + " " + decimal.New(minor, -2).StringFixed(2)
}
