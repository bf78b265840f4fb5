package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateContactRequest struct {
	Name  string
	Email string
}

type Service interface {
	Create(ctx context.Context, req CreateContactRequest) (Contact, error)
	GetByID(ctx context.Context, id string) (Contact, error)
	// Resolve enforces the tenant boundary: a contact owned by another
	// organization yields ErrCrossTenant, never a scoped-out not-found.
	Resolve(ctx context.Context, orgID snowflake.ID, contactID string) (Contact, error)
	// FindOrCreate matches public donors by email within the organization.
	FindOrCreate(ctx context.Context, orgID snowflake.ID, req CreateContactRequest) (Contact, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidID           = errors.New("invalid_contact_id")
	ErrNotFound            = errors.New("contact_not_found")
	ErrCrossTenant         = errors.New("contact_not_in_organization")
)
