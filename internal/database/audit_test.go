package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"castlebook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAuditOrderAndUpdatedAt(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newTestBooking("TS001", 5, testDay)
	require.NoError(t, db.InsertBooking(ctx, b, nil))
	before := b.UpdatedAt

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	// out-of-order timestamps must not reorder the trail
	for i, offset := range []time.Duration{time.Hour, -time.Hour, 0} {
		entry := &models.AuditEntry{
			Timestamp: base.Add(offset),
			Action:    models.ActionEmailSent,
			ActorRole: models.RoleSystem,
			Actor:     "system",
			Details:   map[string]any{"n": float64(i)},
		}
		require.NoError(t, db.AppendAudit(ctx, b.ID, entry))
	}

	entries, err := db.ListAudit(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, float64(i), e.Details["n"])
	}

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, got.UpdatedAt.Before(before))
	assert.Equal(t, int64(1), got.Version, "audit-only mutations keep the version")
}

func TestAppendAuditUnknownBooking(t *testing.T) {
	db := setupTestDB(t)
	err := db.AppendAudit(context.Background(), 42, &models.AuditEntry{Action: models.ActionEmailSent, ActorRole: models.RoleSystem})
	assert.ErrorIs(t, err, ErrBookingNotFound)

	entries, err := db.ListAudit(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAuditEntriesAreImmutable(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newTestBooking("TS001", 5, testDay)
	require.NoError(t, db.InsertBooking(ctx, b, createdEntry()))

	_, err := db.ExecContext(ctx, `UPDATE booking_audit_entries SET actor = 'someone else'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "immutable")

	_, err = db.ExecContext(ctx, `DELETE FROM booking_audit_entries`)
	require.Error(t, err)

	entries, err := db.ListAudit(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Jo Bloggs", entries[0].Actor)
}

func TestConcurrentAuditAppends(t *testing.T) {
	db := setupFileDB(t)
	ctx := context.Background()

	b := newTestBooking("TS001", 5, testDay)
	require.NoError(t, db.InsertBooking(ctx, b, nil))

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- db.AppendAudit(ctx, b.ID, &models.AuditEntry{
				Action: models.ActionAgreementViewed, ActorRole: models.RoleCustomer, Actor: "customer",
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	entries, err := db.ListAudit(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, entries, writers)
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].ID, entries[i-1].ID)
	}
}
