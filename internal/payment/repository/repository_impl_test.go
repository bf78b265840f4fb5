package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorflow/internal/payment/domain"
	"github.com/smallbiznis/donorflow/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var received = time.Date(2025, 6, 9, 14, 0, 0, 0, time.UTC)

func event(id int64, providerEventID string) *domain.EventRecord {
	return &domain.EventRecord{
		ID:              snowflake.ID(id),
		OrgID:           snowflake.ID(1),
		Provider:        "stripe",
		ProviderEventID: providerEventID,
		EventType:       domain.EventTypeCheckoutCompleted,
		Payload:         datatypes.JSON(`{"id":"` + providerEventID + `"}`),
		ReceivedAt:      received,
	}
}

func TestInsertEventAbsorbsRedelivery(t *testing.T) {
	conn := dbtest.New(t, &domain.EventRecord{})
	ctx := context.Background()
	r := Provide()

	inserted, err := r.InsertEvent(ctx, conn, event(10, "evt_1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = r.InsertEvent(ctx, conn, event(11, "evt_1"))
	require.NoError(t, err)
	assert.False(t, inserted)

	stored, err := r.FindEvent(ctx, conn, "stripe", "evt_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, snowflake.ID(10), stored.ID)

	missing, err := r.FindEvent(ctx, conn, "stripe", "evt_404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMarkProcessedOnlyOnce(t *testing.T) {
	conn := dbtest.New(t, &domain.EventRecord{})
	ctx := context.Background()
	r := Provide()
	_, err := r.InsertEvent(ctx, conn, event(20, "evt_2"))
	require.NoError(t, err)

	marked, err := r.MarkProcessed(ctx, conn, snowflake.ID(20), received.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, marked)

	marked, err = r.MarkProcessed(ctx, conn, snowflake.ID(20), received.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, marked)

	stored, err := r.FindEvent(ctx, conn, "stripe", "evt_2")
	require.NoError(t, err)
	require.NotNil(t, stored.ProcessedAt)
	assert.True(t, stored.ProcessedAt.Equal(received.Add(time.Second)))
}
