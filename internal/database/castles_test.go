package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"castlebook/internal/domain"
	"castlebook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCastleCRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	castle := &models.Castle{Name: "Pirate Ship", Theme: "pirates", Size: "12x15", Price: 180}
	require.NoError(t, db.CreateCastle(ctx, castle))
	assert.NotZero(t, castle.ID)
	assert.Equal(t, models.MaintenanceAvailable, castle.MaintenanceStatus)

	fixed := &models.Castle{ID: 42, Name: "Unicorn Palace", Price: 160}
	require.NoError(t, db.CreateCastle(ctx, fixed))
	assert.Equal(t, int64(42), fixed.ID)

	got, err := db.GetCastle(ctx, castle.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pirate Ship", got.Name)
	assert.Equal(t, 180.0, got.Price)

	got.Name = "Pirate Galleon"
	got.Price = 200
	require.NoError(t, db.UpdateCastle(ctx, got))

	got, err = db.GetCastle(ctx, castle.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pirate Galleon", got.Name)

	castles, err := db.ListCastles(ctx)
	require.NoError(t, err)
	require.Len(t, castles, 2)
	assert.Equal(t, castle.ID, castles[0].ID)

	require.NoError(t, db.DeleteCastle(ctx, castle.ID))
	_, err = db.GetCastle(ctx, castle.ID)
	assert.ErrorIs(t, err, ErrCastleNotFound)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	assert.ErrorIs(t, db.DeleteCastle(ctx, castle.ID), ErrCastleNotFound)
	assert.ErrorIs(t, db.UpdateCastle(ctx, &models.Castle{ID: 999, Name: "x"}), ErrCastleNotFound)
}

func TestCastleMaintenance(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	castle := &models.Castle{Name: "Jungle Fun", Price: 150}
	require.NoError(t, db.CreateCastle(ctx, castle))

	start := testDay
	end := testDay.AddDate(0, 0, 2)
	require.NoError(t, db.UpdateCastleMaintenance(ctx, castle.ID, models.MaintenanceUpdate{
		Status: models.MaintenanceInProgress,
		Notes:  "seam repair",
		Start:  &start,
		End:    &end,
	}))

	got, err := db.GetCastle(ctx, castle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MaintenanceInProgress, got.MaintenanceStatus)
	assert.Equal(t, "seam repair", got.MaintenanceNotes)
	require.NotNil(t, got.MaintenanceStart)
	require.NotNil(t, got.MaintenanceEnd)
	assert.True(t, got.MaintenanceStart.Equal(start))
	assert.True(t, got.MaintenanceEnd.Equal(end))

	w, blocks := got.MaintenanceWindow()
	assert.True(t, blocks)
	assert.True(t, w.Overlaps(models.FullDay(testDay.AddDate(0, 0, 1), time.UTC)))

	require.NoError(t, db.UpdateCastleMaintenance(ctx, castle.ID, models.MaintenanceUpdate{Status: models.MaintenanceAvailable}))
	got, err = db.GetCastle(ctx, castle.ID)
	require.NoError(t, err)
	assert.Nil(t, got.MaintenanceStart)
	_, blocks = got.MaintenanceWindow()
	assert.False(t, blocks)

	assert.ErrorIs(t, db.UpdateCastleMaintenance(ctx, 999, models.MaintenanceUpdate{Status: models.MaintenanceAvailable}), ErrCastleNotFound)
}

func TestSyncCastlesKeepsMaintenance(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	fleet := []models.Castle{
		{ID: 1, Name: "Pirate Ship", Price: 180},
		{ID: 2, Name: "Princess Palace", Price: 170},
	}
	require.NoError(t, db.SyncCastles(ctx, fleet))

	require.NoError(t, db.UpdateCastleMaintenance(ctx, 2, models.MaintenanceUpdate{
		Status: models.MaintenanceOutOfService,
		Notes:  "blower broken",
	}))

	fleet[1].Price = 190
	require.NoError(t, db.SyncCastles(ctx, fleet))

	got, err := db.GetCastle(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 190.0, got.Price)
	assert.Equal(t, models.MaintenanceOutOfService, got.MaintenanceStatus)
	assert.Equal(t, "blower broken", got.MaintenanceNotes)

	castles, err := db.ListCastles(ctx)
	require.NoError(t, err)
	assert.Len(t, castles, 2)
}
