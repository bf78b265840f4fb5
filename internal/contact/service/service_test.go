package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/contact/domain"
	"github.com/smallbiznis/donorflow/internal/contact/repository"
	"github.com/smallbiznis/donorflow/internal/orgcontext"
	"github.com/smallbiznis/donorflow/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	conn := dbtest.New(t, &domain.Contact{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return New(Params{DB: conn, Log: zap.NewNop(), GenID: node, Repo: repository.Provide()}).(*Service)
}

func TestResolveRejectsCrossTenantContact(t *testing.T) {
	svc := newTestService(t)
	orgA := snowflake.ID(1001)
	orgB := snowflake.ID(2002)

	ctx := orgcontext.WithOrgID(context.Background(), orgA)
	contact, err := svc.Create(ctx, domain.CreateContactRequest{Name: "Ada", Email: "ada@example.org"})
	require.NoError(t, err)

	got, err := svc.Resolve(context.Background(), orgA, contact.ID.String())
	require.NoError(t, err)
	assert.Equal(t, contact.ID, got.ID)

	_, err = svc.Resolve(context.Background(), orgB, contact.ID.String())
	assert.ErrorIs(t, err, domain.ErrCrossTenant)

	_, err = svc.Resolve(context.Background(), orgA, "999")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Resolve(context.Background(), orgA, "abc")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestFindOrCreateMatchesByEmail(t *testing.T) {
	svc := newTestService(t)
	org := snowflake.ID(3003)

	first, err := svc.FindOrCreate(context.Background(), org, domain.CreateContactRequest{Name: "Grace", Email: "Grace@Example.org "})
	require.NoError(t, err)
	assert.Equal(t, "grace@example.org", first.Email)

	second, err := svc.FindOrCreate(context.Background(), org, domain.CreateContactRequest{Name: "G. Hopper", Email: "grace@example.org"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := svc.FindOrCreate(context.Background(), snowflake.ID(4004), domain.CreateContactRequest{Name: "Grace", Email: "grace@example.org"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestCreateValidatesInput(t *testing.T) {
	svc := newTestService(t)
	ctx := orgcontext.WithOrgID(context.Background(), snowflake.ID(5005))

	_, err := svc.Create(ctx, domain.CreateContactRequest{Name: "", Email: "x@example.org"})
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = svc.Create(ctx, domain.CreateContactRequest{Name: "X", Email: "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)

	_, err = svc.Create(context.Background(), domain.CreateContactRequest{Name: "X", Email: "x@example.org"})
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)
}
