package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/organization/domain"
	"github.com/smallbiznis/donorflow/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var created = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func seedOrg(t *testing.T, conn *gorm.DB, r domain.Repository) *domain.Organization {
	t.Helper()
	org := &domain.Organization{
		ID:                  snowflake.ID(1),
		Name:                "Helping Hands",
		Slug:                "helping-hands",
		PlanTier:            "pro",
		StripeConnectStatus: domain.ConnectStatusNotConnected,
		Metadata:            datatypes.JSONMap{},
		CreatedAt:           created,
		UpdatedAt:           created,
	}
	require.NoError(t, r.InsertOrganization(context.Background(), conn, org))
	return org
}

func TestAdjustRaisedStampsGivenTime(t *testing.T) {
	conn := dbtest.New(t, &domain.Organization{}, &domain.Campaign{})
	ctx := context.Background()
	r := Provide()
	org := seedOrg(t, conn, r)

	campaign := &domain.Campaign{
		ID:        snowflake.ID(7),
		OrgID:     org.ID,
		Name:      "Winter Appeal",
		Goal:      100000,
		Currency:  "USD",
		Status:    domain.CampaignStatusActive,
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, r.InsertCampaign(ctx, conn, campaign))

	settled := created.Add(36 * time.Hour)
	require.NoError(t, r.AdjustRaised(ctx, conn, org.ID, campaign.ID, 2500, settled))
	require.NoError(t, r.AdjustRaised(ctx, conn, org.ID, campaign.ID, 0, settled.Add(time.Hour)))

	stored, err := r.FindCampaign(ctx, conn, org.ID, campaign.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(2500), stored.Raised)
	assert.True(t, stored.UpdatedAt.Equal(settled), "updated_at %v", stored.UpdatedAt)
}

func TestUpdateConnectKeepsAccountWhenNil(t *testing.T) {
	conn := dbtest.New(t, &domain.Organization{})
	ctx := context.Background()
	r := Provide()
	org := seedOrg(t, conn, r)

	account := "acct_123"
	at := created.Add(time.Hour)
	require.NoError(t, r.UpdateConnect(ctx, conn, org.ID, &account, domain.ConnectStatusPending, "", at))
	require.NoError(t, r.UpdateConnect(ctx, conn, org.ID, nil, domain.ConnectStatusError, "account restricted", at.Add(time.Minute)))

	stored, err := r.FindByID(ctx, conn, org.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "acct_123", stored.StripeAccountID)
	assert.Equal(t, domain.ConnectStatusError, stored.StripeConnectStatus)
	assert.Equal(t, "account restricted", stored.StripeConnectError)

	cleared := ""
	require.NoError(t, r.UpdateConnect(ctx, conn, org.ID, &cleared, domain.ConnectStatusNotConnected, "", at.Add(2*time.Minute)))
	stored, err = r.FindByID(ctx, conn, org.ID)
	require.NoError(t, err)
	assert.False(t, stored.CheckoutConnected())
}
