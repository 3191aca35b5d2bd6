package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"castlebook/internal/config"
	"castlebook/internal/database"
	"castlebook/internal/domain"
	"castlebook/internal/export"
	"castlebook/internal/models"
	"castlebook/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var apiNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

const (
	adminKey    = "admin-key"
	customerKey = "shop-key"
	readerKey   = "reader-key"
	keyExtra    = "extra"
)

type testEnv struct {
	server *HTTPServer
	ts     *httptest.Server
	db     *database.DB
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 0},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys: []config.APIClientKey{
				{Key: adminKey, Extra: keyExtra, Name: "office", Role: "admin"},
				{Key: customerKey, Extra: keyExtra, Name: "website", Role: "customer",
					Permissions: []string{permWriteBookings, permReadBookings, permReadCastles}},
				{Key: readerKey, Extra: keyExtra, Name: "dashboard", Permissions: []string{permReadBookings}},
			},
		},
		RequestTimeout: 5 * time.Second,
	}
}

func newTestEnv(t *testing.T, cfg config.APIConfig) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.CreateCastle(ctx, &models.Castle{ID: 5, Name: "Pirate Ship", Price: 180}))
	require.NoError(t, db.CreateCastle(ctx, &models.Castle{ID: 6, Name: "Unicorn Palace", Price: 150}))

	bookings := service.NewBookingService(db, nil, nil, service.BookingOptions{
		Location: time.UTC,
		Now:      func() time.Time { return apiNow },
	}, &logger)
	castles := service.NewCastleService(db, &logger)

	server := NewHTTPServer(cfg, Deps{
		Bookings: bookings,
		Castles:  castles,
		Exporter: export.NewExporter(bookings, time.UTC, &logger),
		Location: time.UTC,
		Health:   db.PingContext,
		Now:      func() time.Time { return apiNow },
	}, &logger)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: server, ts: ts, db: db}
}

func (e *testEnv) do(t *testing.T, method, path, key string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("x-api-key", key)
		req.Header.Set("x-api-extra", keyExtra)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createBody(castleID int64, date string) map[string]any {
	return map[string]any{
		"customer_name":  "Jo Bloggs",
		"customer_email": "jo@example.com",
		"customer_phone": "+44 7700 900123",
		"castle_id":      castleID,
		"event_date":     date,
		"payment_method": "card",
	}
}

func (e *testEnv) createBooking(t *testing.T, castleID int64, date string) models.Booking {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/v1/bookings", adminKey, createBody(castleID, date))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[models.Booking](t, resp)
}

func TestCreateAndGetBooking(t *testing.T) {
	env := newTestEnv(t, testAPIConfig())

	resp := env.do(t, http.MethodPost, "/api/v1/bookings", adminKey, createBody(5, "2025-03-10"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.Booking](t, resp)
	assert.Equal(t, "TS001", created.Reference)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, fmt.Sprintf("/api/v1/bookings/%d", created.ID), resp.Header.Get("Location"))
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	resp = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d?include=audit", created.ID), adminKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[models.Booking](t, resp)
	assert.Equal(t, created.Reference, got.Reference)
	require.Len(t, got.AuditTrail, 1)
	assert.Equal(t, models.ActionBookingCreated, got.AuditTrail[0].Action)
	assert.Equal(t, "office", got.AuditTrail[0].Actor)
}

func TestCreateBookingConflictListsBlockers(t *testing.T) {
	env := newTestEnv(t, testAPIConfig())
	first := env.createBooking(t, 5, "2025-03-10")

	resp := env.do(t, http.MethodPost, "/api/v1/bookings", adminKey, createBody(5, "2025-03-10"))
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decode[struct {
		Error     string            `json:"error"`
		Conflicts []models.Conflict `json:"conflicts"`
	}](t, resp)
	assert.Equal(t, "conflict", body.Error)
	require.Len(t, body.Conflicts, 1)
	assert.Equal(t, first.Reference, body.Conflicts[0].Reference)
}

func TestCreateBookingValidation(t *testing.T) {
	env := newTestEnv(t, testAPIConfig())

	body := createBody(5, "2025-03-10")
	body["customer_email"] = "not-an-email"
	resp := env.do(t, http.MethodPost, "/api/v1/bookings", adminKey, body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errBody := decode[errorResponse](t, resp)
	assert.Equal(t, "validation_error", errBody.Error)
	assert.Equal(t, "customer_email", errBody.Field)

	body = createBody(5, "2025-03-10")
	body["unexpected"] = true
	resp = env.do(t, http.MethodPost, "/api/v1/bookings", adminKey, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCustomerKeyCannotCreateAdminBooking(t *testing.T) {
	env := newTestEnv(t, testAPIConfig())

	body := createBody(5, "2025-03-10")
	body["origin"] = "admin"
	resp := env.do(t, http.MethodPost, "/api/v1/bookings", customerKey, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.Booking](t, resp)
	assert.Equal(t, models.StatusPending, created.Status)

	resp = env.do(t, http.MethodPost, "/api/v1/bookings", adminKey, map[string]any{
		"customer_name": "Al", "customer_email": "al@example.com", "customer_phone": "+44 7700 900124",
		"castle_id": 6, "event_date": "2025-03-10", "payment_method": "cash", "origin": "admin",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, models.StatusConfirmed, decode[models.Booking](t, resp).Status)
}

func TestTransitionEndpoint(t *testing.T) {
	env := newTestEnv(t, testAPIConfig())
	b := env.createBooking(t, 5, "2025-03-10")
	path := fmt.Sprintf("/api/v1/bookings/%d/status", b.ID)

	resp := env.do(t, http.MethodPost, path, adminKey, map[string]string{"status": "completed"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	errBody := decode[errorResponse](t, resp)
	assert.Equal(t, "pending", errBody.From)
	assert.Equal(t, "completed", errBody.To)

	resp = env.do(t, http.MethodPost, path, adminKey, map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, path, adminKey, map[string]string{"status": "confirmed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusConfirmed, decode[models.Booking](t, resp).Status)

	resp = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d/audit", b.ID), adminKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	trail := decode[struct {
		Entries []models.AuditEntry `json:"entries"`
	}](t, resp)
	assert.Len(t, trail.Entries, 2)
}

func TestPatchBookingMovesDate(t *testing.T) {
	env := newTestEnv(t, testAPIConfig())
	b := env.createBooking(t, 5, "2025-03-10")
	env.createBooking(t, 6, "2025-03-12")
	path := fmt.Sprintf("/api/v1/bookings/%d", b.ID)

	resp := env.do(t, http.MethodPatch, path, adminKey, map[string]any{"event_date": "2025-03-11", "notes": "gate code 1234"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[models.Booking](t, resp)
	assert.Equal(t, "2025-03-11", got.EventDate.Format(models.DateLayout))
	assert.Equal(t, "gate code 1234", got.Notes)

	resp = env.do(t, http.MethodPatch, path, adminKey, map[string]any{"event_date": "11/03/2025"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPatch, path, adminKey, map[string]any{"castle_id": 6, "event_date": "2025-03-12"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPaymentAndAgreementEndpoints(t *testing.T) {
	env := newTestEnv(t, testAPIConfig())
	b := env.createBooking(t, 5, "2025-03-10")

	resp := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/payment", b.ID), adminKey,
		map[string]string{"status": "deposit_paid", "comment": " "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "comment", decode[errorResponse](t, resp).Field)

	resp = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/payment", b.ID), adminKey,
		map[string]string{"status": "deposit_paid", "comment": "bank ref 881"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.PaymentDepositPaid, decode[models.Booking](t, resp).PaymentStatus)

	resp = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/agreement", b.ID), customerKey,
		map[string]string{"signed_by": "Jo Bloggs", "method": "email"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	signed := decode[models.Booking](t, resp)
	assert.True(t, signed.AgreementSigned)
	assert.NotEmpty(t, signed.AgreementIP)

	resp = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/agreement/views", b.ID), customerKey, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/emails", b.ID), adminKey,
		map[string]string{"recipient": "jo@example.com", "template": "booking_confirmation"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

type trailResponse struct {
	BookingID int64               `json:"booking_id"`
	Entries   []models.AuditEntry `json:"entries"`
}

func TestAuditCorrectionEndpoint(t *testing.T) {
	env := newTestEnv(t, testAPIConfig())
	b := env.createBooking(t, 5, "2025-03-10")
	path := fmt.Sprintf("/api/v1/bookings/%d/audit/corrections", b.ID)

	resp := env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d/audit", b.ID), adminKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	created := decode[trailResponse](t, resp).Entries[0]

	resp = env.do(t, http.MethodPost, path, adminKey,
		map[string]any{"corrects_entry": created.ID, "note": "booked by phone, not the website"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	trail := decode[trailResponse](t, resp)
	assert.Equal(t, b.ID, trail.BookingID)
	require.Len(t, trail.Entries, 2)
	assert.Equal(t, created, trail.Entries[0])
	assert.Equal(t, models.ActionCorrection, trail.Entries[1].Action)
	assert.Equal(t, "office", trail.Entries[1].Actor)
	assert.EqualValues(t, created.ID, trail.Entries[1].Details["corrects_entry"])

	resp = env.do(t, http.MethodPost, path, customerKey, map[string]any{"corrects_entry": created.ID, "note": "x"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodPost, path, readerKey, map[string]any{"corrects_entry": created.ID, "note": "x"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodPost, path, adminKey, map[string]any{"corrects_entry": created.ID, "note": ""})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "note", decode[errorResponse](t, resp).Field)

	resp = env.do(t, http.MethodPost, path, adminKey, map[string]any{"corrects_entry": 9999, "note": "x"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "corrects_entry", decode[errorResponse](t, resp).Field)

	resp = env.do(t, http.MethodPost, "/api/v1/bookings/999/audit/corrections", adminKey,
		map[string]any{"corrects_entry": created.ID, "note": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetBookingByReferenceEndpoint(t *testing.T) {
	env := newTestEnv(t, testAPIConfig())
	b := env.createBooking(t, 5, "2025-03-10")

	resp := env.do(t, http.MethodGet, "/api/v1/bookings/ref/"+b.Reference, readerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[models.Booking](t, resp)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, b.Reference, got.Reference)

	resp = env.do(t, http.MethodGet, "/api/v1/bookings/ref/TS404", readerKey, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decode[errorResponse](t, resp).Error)
}

func TestDeleteBookingAndNotFound(t *testing.T) {
	env := newTestEnv(t, testAPIConfig())
	b := env.createBooking(t, 5, "2025-03-10")
	path := fmt.Sprintf("/api/v1/bookings/%d", b.ID)

	resp := env.do(t, http.MethodDelete, path, adminKey, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, path, adminKey, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decode[errorResponse](t, resp).Error)

	resp = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d/audit", b.ID), adminKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "trail outlives the booking")

	resp = env.do(t, http.MethodGet, "/api/v1/bookings/abc", adminKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQueryAndStats(t *testing.T) {
	env := newTestEnv(t, testAPIConfig())
	env.createBooking(t, 5, "2025-03-10")
	env.createBooking(t, 6, "2025-03-10")
	env.createBooking(t, 5, "2025-04-02")

	resp := env.do(t, http.MethodGet, "/api/v1/bookings?castle_id=5&sort=-event_date&page_size=1", readerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[models.BookingPage](t, resp)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "2025-04-02", page.Items[0].EventDate.Format(models.DateLayout))

	resp = env.do(t, http.MethodGet, "/api/v1/bookings?from=2025-03-01&to=2025-03-31&status=pending", readerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[models.BookingPage](t, resp).Total)

	for _, bad := range []string{"sort=colour", "status=lost", "from=March", "castle_id=-1", "from=2025-04-01&to=2025-03-01"} {
		resp = env.do(t, http.MethodGet, "/api/v1/bookings?"+bad, readerKey, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/bookings/stats", readerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[models.BookingStats](t, resp)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.ByStatus[models.StatusPending])
}

func TestExportEndpoint(t *testing.T) {
	env := newTestEnv(t, testAPIConfig())
	env.createBooking(t, 5, "2025-03-10")
	env.createBooking(t, 6, "2025-03-11")

	resp := env.do(t, http.MethodGet, "/api/v1/bookings/export?from=2025-03-01&to=2025-03-31", adminKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "bookings_2025-03-01_to_2025-03-31.xlsx")
	assert.Equal(t, "2", resp.Header.Get("X-Export-Rows"))

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	assert.NotEmpty(t, f.GetSheetList())

	resp = env.do(t, http.MethodGet, "/api/v1/bookings/export", readerKey, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCheckConflictsEndpoint(t *testing.T) {
	env := newTestEnv(t, testAPIConfig())
	b := env.createBooking(t, 5, "2025-03-10")

	resp := env.do(t, http.MethodPost, "/api/v1/conflicts/check", readerKey,
		map[string]any{"castle_id": 5, "event_date": "2025-03-10"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[models.ConflictResult](t, resp)
	assert.True(t, result.HasConflicts)

	resp = env.do(t, http.MethodPost, "/api/v1/conflicts/check", readerKey,
		map[string]any{"castle_id": 5, "event_date": "2025-03-10", "exclude_booking_id": b.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[models.ConflictResult](t, resp).HasConflicts)

	resp = env.do(t, http.MethodPost, "/api/v1/conflicts/check", readerKey, map[string]any{"castle_id": 5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCastleEndpoints(t *testing.T) {
	env := newTestEnv(t, testAPIConfig())

	resp := env.do(t, http.MethodGet, "/api/v1/castles", customerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Castles []models.Castle `json:"castles"`
	}](t, resp)
	assert.Len(t, list.Castles, 2)

	resp = env.do(t, http.MethodPost, "/api/v1/castles", customerKey, map[string]any{"name": "Dragon Keep", "price": 240})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/castles", adminKey, map[string]any{"name": "Dragon Keep", "price": 240})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[models.Castle](t, resp)
	assert.NotZero(t, created.ID)

	resp = env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/castles/%d", created.ID), adminKey,
		map[string]any{"name": "Dragon Keep XL", "price": 260})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/castles/%d/maintenance", created.ID), adminKey,
		map[string]any{"status": "out_of_service", "notes": "torn seam"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.MaintenanceOutOfService, decode[models.Castle](t, resp).MaintenanceStatus)

	resp = env.do(t, http.MethodPost, "/api/v1/bookings", adminKey, createBody(created.ID, "2025-03-10"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/castles/%d", created.ID), adminKey, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/castles/%d", created.ID), adminKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthErrors(t *testing.T) {
	env := newTestEnv(t, testAPIConfig())

	resp := env.do(t, http.MethodGet, "/api/v1/bookings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/bookings", "no-such-key", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/api/v1/bookings", nil)
	require.NoError(t, err)
	req.Header.Set("x-api-key", adminKey)
	req.Header.Set("x-api-extra", "wrong")
	badExtra, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer badExtra.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, badExtra.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/bookings", readerKey, createBody(5, "2025-03-10"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthDisabledActsAsAdmin(t *testing.T) {
	cfg := testAPIConfig()
	cfg.Auth.Enabled = false
	env := newTestEnv(t, cfg)

	resp := env.do(t, http.MethodGet, "/api/v1/castles", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	cfg := testAPIConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 2}
	env := newTestEnv(t, cfg)

	for i := 0; i < 2; i++ {
		resp := env.do(t, http.MethodGet, "/api/v1/castles", adminKey, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := env.do(t, http.MethodGet, "/api/v1/castles", adminKey, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// limits are per key
	resp = env.do(t, http.MethodGet, "/api/v1/castles", customerKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t, testAPIConfig())

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get(requestIDHeader))
}

func TestHealthReportsStorageFailure(t *testing.T) {
	logger := zerolog.Nop()
	server := NewHTTPServer(testAPIConfig(), Deps{
		Health: func(context.Context) error { return errors.New("database is locked") },
	}, &logger)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWriteServiceErrorMapping(t *testing.T) {
	logger := zerolog.Nop()
	server := NewHTTPServer(testAPIConfig(), Deps{}, &logger)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", domain.NewValidationError("event_date", "is in the past"), http.StatusBadRequest, "validation_error"},
		{"conflict", &domain.ConflictError{Result: &models.ConflictResult{HasConflicts: true}}, http.StatusConflict, "conflict"},
		{"slot taken", fmt.Errorf("insert: %w", domain.ErrConflict), http.StatusConflict, "conflict"},
		{"transition", &domain.TransitionError{From: models.StatusExpired, To: models.StatusConfirmed}, http.StatusUnprocessableEntity, "invalid_transition"},
		{"not found", fmt.Errorf("booking %w", domain.ErrNotFound), http.StatusNotFound, "not_found"},
		{"stale", domain.ErrConcurrentModification, http.StatusConflict, "concurrent_modification"},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"references", fmt.Errorf("%w (after 5 attempts)", domain.ErrReferenceAllocation), http.StatusServiceUnavailable, "unavailable"},
		{"persistence", &domain.PersistenceError{Op: "insert booking", Err: errors.New("disk I/O error")}, http.StatusServiceUnavailable, "unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			server.writeServiceError(rec, req, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body errorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Error)
			if tt.status == http.StatusServiceUnavailable {
				assert.NotContains(t, strings.ToLower(body.Message), "disk")
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
		})
	}
}
