// Package seed bootstraps demo data for local environments.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	contactdomain "github.com/smallbiznis/donorflow/internal/contact/domain"
	organizationdomain "github.com/smallbiznis/donorflow/internal/organization/domain"
	"gorm.io/gorm"
)

const (
	demoOrgName      = "Demo Nonprofit"
	demoOrgSlug      = "demo-nonprofit"
	demoOrgEmail     = "giving@demo-nonprofit.org"
	demoPlanTier     = "growth"
	demoCampaignName = "General Fund"
	demoContactName  = "Demo Donor"
	demoContactEmail = "donor@demo-nonprofit.org"
)

// EnsureDemoOrg seeds one organization with a campaign and a contact. It is
// idempotent on the organization slug.
func EnsureDemoOrg(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, created, err := ensureDemoOrgTx(ctx, tx, node)
		if err != nil || !created {
			return err
		}

		now := time.Now().UTC()
		campaign := organizationdomain.Campaign{
			ID:        node.Generate(),
			OrgID:     org.ID,
			Name:      demoCampaignName,
			Goal:      1_000_000,
			Currency:  "USD",
			Status:    organizationdomain.CampaignStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&campaign).Error; err != nil {
			return err
		}

		contact := contactdomain.Contact{
			ID:        node.Generate(),
			OrgID:     org.ID,
			Name:      demoContactName,
			Email:     demoContactEmail,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.WithContext(ctx).Create(&contact).Error
	})
}

func ensureDemoOrgTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (organizationdomain.Organization, bool, error) {
	var org organizationdomain.Organization
	err := tx.WithContext(ctx).Where("slug = ?", demoOrgSlug).First(&org).Error
	if err == nil {
		return org, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return org, false, err
	}
	now := time.Now().UTC()
	org = organizationdomain.Organization{
		ID:           node.Generate(),
		Name:         demoOrgName,
		Slug:         demoOrgSlug,
		SupportEmail: demoOrgEmail,
		PlanTier:     demoPlanTier,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
		return org, false, err
	}
	return org, true, nil
}
