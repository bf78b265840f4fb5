package domain

import (
	"context"
	"errors"
)

type CreateOrganizationRequest struct {
	Name            string
	SupportEmail    string
	PlanTier        string
	StripeAccountID string
}

type CreateCampaignRequest struct {
	OrgID    string
	Name     string
	Goal     int64
	Currency string
}

type Service interface {
	Create(ctx context.Context, req CreateOrganizationRequest) (Organization, error)
	GetByID(ctx context.Context, id string) (Organization, error)
	CreateCampaign(ctx context.Context, req CreateCampaignRequest) (Campaign, error)
	GetCampaign(ctx context.Context, orgID, id string) (Campaign, error)

	ConnectStatus(ctx context.Context, orgID string) (ConnectState, error)
	AuthorizeConnect(ctx context.Context, orgID string) (ConnectAuthorization, error)
	CompleteConnect(ctx context.Context, cb ConnectCallback) (ConnectResult, error)
	DisconnectConnect(ctx context.Context, orgID string) (ConnectState, error)
}

var (
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidCampaign     = errors.New("invalid_campaign")
	ErrNotFound            = errors.New("organization_not_found")
	ErrCampaignNotFound    = errors.New("campaign_not_found")
	ErrCampaignClosed      = errors.New("campaign_closed")
)
