package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"castlebook/internal/domain"
	"castlebook/internal/export"
	"castlebook/internal/models"

	"github.com/gorilla/mux"
)

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	req.Actor = actorFrom(r.Context())
	// customer keys cannot skip the pending stage
	if req.Actor.Role == models.RoleCustomer {
		req.Origin = models.OriginCustomer
	}

	booking, err := s.deps.Bookings.CreateBooking(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/bookings/%d", booking.ID))
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	booking, err := s.deps.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if r.URL.Query().Get("include") == "audit" {
		trail, err := s.deps.Bookings.GetAuditTrail(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		booking.AuditTrail = trail
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleGetBookingByReference(w http.ResponseWriter, r *http.Request) {
	booking, err := s.deps.Bookings.GetBookingByReference(r.Context(), mux.Vars(r)["reference"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// bookingPatchRequest mirrors models.BookingPatch with event_date as a plain calendar date.
type bookingPatchRequest struct {
	CustomerName    *string               `json:"customer_name"`
	CustomerEmail   *string               `json:"customer_email"`
	CustomerPhone   *string               `json:"customer_phone"`
	CustomerAddress *string               `json:"customer_address"`
	CastleID        *int64                `json:"castle_id"`
	EventDate       *string               `json:"event_date"`
	StartAt         *time.Time            `json:"start_at"`
	EndAt           *time.Time            `json:"end_at"`
	DurationHours   *float64              `json:"duration_hours"`
	PaymentMethod   *models.PaymentMethod `json:"payment_method"`
	TotalPrice      *float64              `json:"total_price"`
	DepositAmount   *float64              `json:"deposit_amount"`
	Notes           *string               `json:"notes"`
	Status          *models.BookingStatus `json:"status"`
	CalendarEventID *string               `json:"calendar_event_id"`
}

func (p bookingPatchRequest) toPatch(loc *time.Location) (models.BookingPatch, error) {
	patch := models.BookingPatch{
		CustomerName:    p.CustomerName,
		CustomerEmail:   p.CustomerEmail,
		CustomerPhone:   p.CustomerPhone,
		CustomerAddress: p.CustomerAddress,
		CastleID:        p.CastleID,
		StartAt:         p.StartAt,
		EndAt:           p.EndAt,
		DurationHours:   p.DurationHours,
		PaymentMethod:   p.PaymentMethod,
		TotalPrice:      p.TotalPrice,
		DepositAmount:   p.DepositAmount,
		Notes:           p.Notes,
		Status:          p.Status,
		CalendarEventID: p.CalendarEventID,
	}
	if p.EventDate != nil {
		date, err := parseDate("event_date", *p.EventDate, loc)
		if err != nil {
			return patch, err
		}
		patch.EventDate = &date
	}
	return patch, nil
}

func (s *HTTPServer) handleUpdateBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var req bookingPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	patch, err := req.toPatch(s.deps.Location)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	booking, err := s.deps.Bookings.UpdateBooking(r.Context(), id, patch, actorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleDeleteBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.deps.Bookings.DeleteBooking(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	target, err := models.ParseStatus(req.Status)
	if err != nil {
		s.writeServiceError(w, r, domain.NewValidationError("status", err.Error()))
		return
	}

	booking, err := s.deps.Bookings.TransitionStatus(r.Context(), id, target, actorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleAgreement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var signing models.AgreementSigning
	if err := decodeJSON(w, r, &signing); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	actor := actorFrom(r.Context())
	if signing.IPAddress == "" {
		signing.IPAddress = actor.IPAddress
	}
	if signing.UserAgent == "" {
		signing.UserAgent = actor.UserAgent
	}

	if err := s.deps.Bookings.RecordAgreementSigning(r.Context(), id, signing); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeBooking(w, r, id)
}

func (s *HTTPServer) handleAgreementViewed(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	actor := actorFrom(r.Context())
	if err := s.deps.Bookings.RecordAgreementViewed(r.Context(), id, actor.IPAddress, actor.UserAgent); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handlePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var req struct {
		Status  models.PaymentStatus `json:"status"`
		Comment string               `json:"comment"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	err = s.deps.Bookings.RecordPaymentStatusChange(r.Context(), id, req.Status, req.Comment, actorFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeBooking(w, r, id)
}

func (s *HTTPServer) handleEmailSent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var req struct {
		Recipient string `json:"recipient"`
		Template  string `json:"template"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.deps.Bookings.RecordEmailSent(r.Context(), id, req.Recipient, req.Template); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	trail, err := s.deps.Bookings.GetAuditTrail(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking_id": id, "entries": trail})
}

// handleCorrection appends a correction and returns the updated trail.
func (s *HTTPServer) handleCorrection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var req struct {
		CorrectsEntry int64  `json:"corrects_entry"`
		Note          string `json:"note"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.deps.Bookings.RecordCorrection(r.Context(), id, req.CorrectsEntry, req.Note, actorFrom(r.Context())); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	trail, err := s.deps.Bookings.GetAuditTrail(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"booking_id": id, "entries": trail})
}

func (s *HTTPServer) handleQueryBookings(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sort, err := parseSort(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	page := models.PageRequest{
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "page_size"),
	}

	result, err := s.deps.Bookings.QueryBookings(r.Context(), filter, sort, page)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleBookingStats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	stats, err := s.deps.Bookings.GetBookingStats(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exporter == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "export is not configured")
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(filter, s.deps.Now())))
	// headers are only committed once the workbook is complete, so errors can still be reported
	var buf bytes.Buffer
	n, err := s.deps.Exporter.Write(r.Context(), &buf, filter)
	if err != nil {
		w.Header().Del("Content-Disposition")
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("X-Export-Rows", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

type conflictCheckRequest struct {
	CastleID         int64      `json:"castle_id"`
	EventDate        string     `json:"event_date"`
	StartAt          *time.Time `json:"start_at"`
	EndAt            *time.Time `json:"end_at"`
	ExcludeBookingID int64      `json:"exclude_booking_id"`
}

func (s *HTTPServer) handleCheckConflicts(w http.ResponseWriter, r *http.Request) {
	var req conflictCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if req.CastleID <= 0 {
		s.writeServiceError(w, r, domain.NewValidationError("castle_id", "is required"))
		return
	}

	var window models.Window
	switch {
	case req.StartAt != nil && req.EndAt != nil:
		window = models.Window{Start: *req.StartAt, End: *req.EndAt}
	case req.EventDate != "":
		date, err := parseDate("event_date", req.EventDate, s.deps.Location)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		window = models.FullDay(date, s.deps.Location)
	default:
		s.writeServiceError(w, r, domain.NewValidationError("event_date", "event_date or start_at/end_at is required"))
		return
	}
	if !window.Valid() {
		s.writeServiceError(w, r, domain.NewValidationError("end_at", "must be after start_at"))
		return
	}

	result, err := s.deps.Bookings.CheckConflicts(r.Context(), req.CastleID, window, req.ExcludeBookingID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) writeBooking(w http.ResponseWriter, r *http.Request, id int64) {
	booking, err := s.deps.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// parseFilter reads status, from, to, castle_id and q from the query string.
// Dates are calendar dates; the store compares them as such.
func parseFilter(r *http.Request) (models.BookingFilter, error) {
	q := r.URL.Query()
	var filter models.BookingFilter

	for _, raw := range splitCSV(q.Get("status")) {
		st, err := models.ParseStatus(raw)
		if err != nil {
			return filter, domain.NewValidationError("status", err.Error())
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	if raw := q.Get("from"); raw != "" {
		from, err := parseDate("from", raw, time.UTC)
		if err != nil {
			return filter, err
		}
		filter.From = &from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := parseDate("to", raw, time.UTC)
		if err != nil {
			return filter, err
		}
		filter.To = &to
	}
	if raw := q.Get("castle_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return filter, domain.NewValidationError("castle_id", "must be a positive integer")
		}
		filter.CastleID = &id
	}
	filter.Search = strings.TrimSpace(q.Get("q"))
	return filter, nil
}

func parseSort(r *http.Request) (models.BookingSort, error) {
	q := r.URL.Query()
	raw := strings.TrimSpace(q.Get("sort"))
	if raw == "" {
		return models.BookingSort{}, nil
	}
	sort := models.BookingSort{Field: models.SortField(strings.TrimPrefix(raw, "-"))}
	sort.Desc = strings.HasPrefix(raw, "-") || strings.EqualFold(q.Get("order"), "desc")
	if !sort.Field.IsValid() {
		return sort, domain.NewValidationError("sort", fmt.Sprintf("unknown sort field %q", sort.Field))
	}
	return sort, nil
}

func parseDate(field, raw string, loc *time.Location) (time.Time, error) {
	date, err := time.ParseInLocation(models.DateLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, domain.NewValidationError(field, "invalid date format; expected YYYY-MM-DD")
	}
	return date, nil
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
