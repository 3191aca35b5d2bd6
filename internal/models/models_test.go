package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    BookingStatus
		wantErr bool
	}{
		{raw: "pending", want: StatusPending},
		{raw: "Confirmed", want: StatusConfirmed},
		{raw: "complete", want: StatusCompleted},
		{raw: " completed ", want: StatusCompleted},
		{raw: "cancelled", want: StatusExpired},
		{raw: "bogus", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := NormalizeStatus(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStatusRejectsLegacy(t *testing.T) {
	_, err := ParseStatus("complete")
	assert.Error(t, err)

	st, err := ParseStatus("expired")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, st)
}

func TestWindowOverlaps(t *testing.T) {
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	w := Window{Start: base, End: base.Add(4 * time.Hour)}

	t.Run("Inside", func(t *testing.T) {
		assert.True(t, w.Overlaps(Window{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}))
	})
	t.Run("Partial", func(t *testing.T) {
		assert.True(t, w.Overlaps(Window{Start: base.Add(-time.Hour), End: base.Add(time.Hour)}))
	})
	t.Run("TouchingEnd", func(t *testing.T) {
		assert.False(t, w.Overlaps(Window{Start: base.Add(4 * time.Hour), End: base.Add(6 * time.Hour)}))
	})
	t.Run("TouchingStart", func(t *testing.T) {
		assert.False(t, w.Overlaps(Window{Start: base.Add(-2 * time.Hour), End: base}))
	})
}

func TestFullDay(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	w := FullDay(time.Date(2025, 3, 10, 15, 30, 0, 0, loc), loc)

	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, loc), w.Start)
	assert.Equal(t, 24*time.Hour, w.Duration())
	assert.True(t, w.Valid())
}

func TestCastleMaintenanceWindow(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)

	available := &Castle{MaintenanceStatus: MaintenanceAvailable}
	_, blocks := available.MaintenanceWindow()
	assert.False(t, blocks)

	bounded := &Castle{MaintenanceStatus: MaintenanceInProgress, MaintenanceStart: &start, MaintenanceEnd: &end}
	w, blocks := bounded.MaintenanceWindow()
	require.True(t, blocks)
	assert.True(t, w.Overlaps(FullDay(start.AddDate(0, 0, 2), time.UTC)))
	assert.False(t, w.Overlaps(FullDay(end, time.UTC)))

	broken := &Castle{MaintenanceStatus: MaintenanceOutOfService}
	w, blocks = broken.MaintenanceWindow()
	require.True(t, blocks)
	assert.True(t, w.Overlaps(FullDay(time.Now(), time.UTC)))
}

func TestPageRequestNormalize(t *testing.T) {
	p := PageRequest{}.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPageSize, p.PageSize)
	assert.Equal(t, uint64(0), p.Offset())

	p = PageRequest{Page: 3, PageSize: 1000}.Normalize()
	assert.Equal(t, MaxPageSize, p.PageSize)
	assert.Equal(t, uint64(2*MaxPageSize), p.Offset())
}

func TestBookingPatch(t *testing.T) {
	assert.True(t, BookingPatch{}.IsEmpty())

	notes := "bring extension cable"
	p := BookingPatch{Notes: &notes}
	assert.False(t, p.IsEmpty())
	assert.False(t, p.TouchesWindow())

	castle := int64(5)
	assert.True(t, BookingPatch{CastleID: &castle}.TouchesWindow())
}
