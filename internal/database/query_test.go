package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"castlebook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedBookings(t *testing.T, db *DB) []*models.Booking {
	t.Helper()
	ctx := context.Background()

	specs := []struct {
		castle int64
		day    int
		name   string
		price  float64
		status models.BookingStatus
	}{
		{5, 0, "Alice Smith", 150, models.StatusPending},
		{5, 1, "Bob Jones", 200, models.StatusConfirmed},
		{6, 1, "Carol White", 120, models.StatusCompleted},
		{6, 2, "Dan 100%_Brown", 300, models.StatusExpired},
		{7, 3, "Eve Black", 90, models.StatusConfirmed},
	}

	var out []*models.Booking
	for i, s := range specs {
		b := newTestBooking(fmt.Sprintf("TS%03d", i+1), s.castle, testDay.AddDate(0, 0, s.day))
		b.CustomerName = s.name
		b.TotalPrice = s.price
		b.DepositAmount = s.price * 0.3
		b.Status = s.status
		require.NoError(t, db.InsertBooking(ctx, b, nil))
		out = append(out, b)
	}
	return out
}

func TestQueryBookingsFiltersAndPaging(t *testing.T) {
	db := setupTestDB(t)
	seedBookings(t, db)
	ctx := context.Background()

	page, err := db.QueryBookings(ctx, models.BookingFilter{}, models.BookingSort{Field: models.SortReference},
		models.PageRequest{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "TS001", page.Items[0].Reference)
	assert.Equal(t, "TS002", page.Items[1].Reference)

	page, err = db.QueryBookings(ctx, models.BookingFilter{}, models.BookingSort{Field: models.SortReference},
		models.PageRequest{Page: 3, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "TS005", page.Items[0].Reference)

	castle := int64(6)
	page, err = db.QueryBookings(ctx, models.BookingFilter{CastleID: &castle}, models.BookingSort{}, models.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, models.DefaultPageSize, page.PageSize)

	page, err = db.QueryBookings(ctx, models.BookingFilter{
		Statuses: []models.BookingStatus{models.StatusConfirmed, models.StatusCompleted},
	}, models.BookingSort{Field: models.SortTotalPrice, Desc: true}, models.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	assert.Equal(t, "Bob Jones", page.Items[0].CustomerName)
	assert.Equal(t, "Eve Black", page.Items[2].CustomerName)

	from := testDay.AddDate(0, 0, 1)
	to := testDay.AddDate(0, 0, 2)
	page, err = db.QueryBookings(ctx, models.BookingFilter{From: &from, To: &to}, models.BookingSort{}, models.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
}

func TestQueryBookingsSearch(t *testing.T) {
	db := setupTestDB(t)
	seedBookings(t, db)
	ctx := context.Background()

	page, err := db.QueryBookings(ctx, models.BookingFilter{Search: "bob"}, models.BookingSort{}, models.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "TS002", page.Items[0].Reference)

	page, err = db.QueryBookings(ctx, models.BookingFilter{Search: "ts00"}, models.BookingSort{}, models.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)

	// LIKE wildcards are literal
	page, err = db.QueryBookings(ctx, models.BookingFilter{Search: "100%_"}, models.BookingSort{}, models.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "TS004", page.Items[0].Reference)

	page, err = db.QueryBookings(ctx, models.BookingFilter{Search: "%"}, models.BookingSort{}, models.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestQueryBookingsIsPure(t *testing.T) {
	db := setupTestDB(t)
	bookings := seedBookings(t, db)
	ctx := context.Background()

	_, err := db.QueryBookings(ctx, models.BookingFilter{}, models.BookingSort{}, models.PageRequest{})
	require.NoError(t, err)

	got, err := db.GetBooking(ctx, bookings[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Empty(t, got.AuditTrail)
}

func TestBookingStats(t *testing.T) {
	db := setupTestDB(t)
	seedBookings(t, db)

	stats, err := db.BookingStats(context.Background(), models.BookingFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.StatusPending])
	assert.Equal(t, 2, stats.ByStatus[models.StatusConfirmed])
	assert.Equal(t, 1, stats.ByStatus[models.StatusCompleted])
	assert.Equal(t, 1, stats.ByStatus[models.StatusExpired])
	assert.Equal(t, 5, stats.ByPaymentStatus[models.PaymentPending])
	assert.InDelta(t, 410.0, stats.Revenue, 0.001)
	assert.InDelta(t, 123.0, stats.Deposits, 0.001)

	castle := int64(9)
	empty, err := db.BookingStats(context.Background(), models.BookingFilter{CastleID: &castle})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Total)
	assert.Len(t, empty.ByStatus, len(models.AllStatuses))
}

func TestListReferences(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i, ref := range []string{"TS001", "TS002", "TS250310123", "XX003"} {
		require.NoError(t, db.InsertBooking(ctx, newTestBooking(ref, int64(i+1), testDay), nil))
	}

	refs, err := db.ListReferences(ctx, "TS")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"TS001", "TS002"}, refs)
}

func TestListWindowBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	morning := newTestBooking("TS001", 5, testDay)
	morning.StartAt = testDay.Add(9 * time.Hour)
	morning.EndAt = testDay.Add(13 * time.Hour)
	morning.AllDay = false
	require.NoError(t, db.InsertBooking(ctx, morning, nil))

	expired := newTestBooking("TS002", 5, testDay.AddDate(0, 0, 1))
	expired.Status = models.StatusExpired
	require.NoError(t, db.InsertBooking(ctx, expired, nil))

	excluded := []models.BookingStatus{models.StatusExpired}

	got, err := db.ListWindowBookings(ctx, 5, models.Window{Start: testDay.Add(12 * time.Hour), End: testDay.Add(15 * time.Hour)}, excluded, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, morning.ID, got[0].ID)

	// touching window
	got, err = db.ListWindowBookings(ctx, 5, models.Window{Start: testDay.Add(13 * time.Hour), End: testDay.Add(15 * time.Hour)}, excluded, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	// self exclusion
	got, err = db.ListWindowBookings(ctx, 5, models.FullDay(testDay, time.UTC), excluded, morning.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = db.ListWindowBookings(ctx, 5, models.FullDay(testDay.AddDate(0, 0, 1), time.UTC), excluded, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = db.ListWindowBookings(ctx, 5, models.FullDay(testDay.AddDate(0, 0, 1), time.UTC), nil, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestListEndedBookings(t *testing.T) {
	db := setupTestDB(t)
	bookings := seedBookings(t, db)

	now := testDay.AddDate(0, 0, 3)
	got, err := db.ListEndedBookings(context.Background(), models.StatusConfirmed, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, bookings[1].ID, got[0].ID)

	got, err = db.ListEndedBookings(context.Background(), models.StatusConfirmed, now.AddDate(0, 0, 1), 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%\_off\\`, escapeLike(`100%_off\`))
}
