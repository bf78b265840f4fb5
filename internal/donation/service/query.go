package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/donation/domain"
	fraud "github.com/smallbiznis/donorflow/internal/fraud/domain"
	"github.com/smallbiznis/donorflow/internal/orgcontext"
	"github.com/smallbiznis/donorflow/pkg/db/pagination"
)

const (
	defaultReviewLimit = 50
	maxReviewLimit     = 200
)

func (s *Service) Get(ctx context.Context, id string) (domain.Donation, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Donation{}, domain.ErrInvalidOrganization
	}
	donationID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || donationID <= 0 {
		return domain.Donation{}, domain.ErrInvalidID
	}

	donation, err := s.repo.FindByID(ctx, s.db, orgID, donationID)
	if err != nil {
		return domain.Donation{}, err
	}
	if donation == nil {
		return domain.Donation{}, domain.ErrNotFound
	}
	return *donation, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.ListResponse{}, domain.ErrInvalidOrganization
	}

	filter, err := buildFilter(req)
	if err != nil {
		return domain.ListResponse{}, err
	}
	limit := req.Limit()
	filter.Limit = limit + 1

	items, err := s.repo.List(ctx, s.db, orgID, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}

	page, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(d *domain.Donation) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        d.ID.String(),
			CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && pageInfo.NextPageToken == "" {
		pageInfo.HasMore = false
	}

	return domain.ListResponse{
		Donations: page,
		PageInfo:  pageInfo,
	}, nil
}

// ListPendingReview returns the newest gifts held for manual sign-off.
func (s *Service) ListPendingReview(ctx context.Context, limit int) ([]*domain.Donation, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	switch {
	case limit <= 0:
		limit = defaultReviewLimit
	case limit > maxReviewLimit:
		limit = maxReviewLimit
	}

	items, err := s.repo.List(ctx, s.db, orgID, domain.ListFilter{
		ReviewStatus: string(fraud.ReviewPendingReview),
		Limit:        limit,
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func buildFilter(req domain.ListRequest) (domain.ListFilter, error) {
	var filter domain.ListFilter

	if raw := strings.TrimSpace(req.Status); raw != "" {
		status, ok := domain.ParseStatus(raw)
		if !ok {
			return filter, domain.ErrInvalidStatus
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(req.ReviewStatus); raw != "" {
		review, err := fraud.ParseReviewStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.ReviewStatus = string(review)
	}
	if raw := strings.TrimSpace(req.ContactID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id <= 0 {
			return filter, domain.ErrInvalidID
		}
		filter.ContactID = &id
	}
	if raw := strings.TrimSpace(req.CampaignID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id <= 0 {
			return filter, domain.ErrInvalidCampaign
		}
		filter.CampaignID = &id
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return filter, err
	}
	if cursor != nil {
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return filter, pagination.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return filter, pagination.ErrInvalidPageToken
		}
		filter.CursorCreatedAt = &createdAt
		filter.CursorID = &id
	}
	return filter, nil
}
