package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"castlebook/internal/audit"
	"castlebook/internal/config"
	"castlebook/internal/conflict"
	"castlebook/internal/database"
	"castlebook/internal/domain"
	"castlebook/internal/events"
	"castlebook/internal/lifecycle"
	"castlebook/internal/metrics"
	"castlebook/internal/models"
	"castlebook/internal/reference"
	"castlebook/internal/retry"

	"github.com/rs/zerolog"
)

const (
	defaultDepositPercent = 30
	// durationTolerance is how far duration_hours may drift from end_at - start_at.
	durationTolerance = 1.0 / 60
)

// BookingOptions carries the booking rules resolved from configuration.
type BookingOptions struct {
	Location          *time.Location
	DepositPercent    float64
	MaxAdvanceDays    int
	ReferencePrefix   string
	ReferenceAttempts int
	Excluded          []models.BookingStatus
	Reads             retry.Policy
	References        retry.Policy
	Now               func() time.Time
}

func BookingOptionsFromConfig(cfg *config.Config) BookingOptions {
	return BookingOptions{
		Location:          cfg.Bookings.Location(),
		DepositPercent:    cfg.Bookings.DepositPercent,
		MaxAdvanceDays:    cfg.Bookings.MaxAdvanceDays,
		ReferencePrefix:   cfg.Bookings.ReferencePrefix,
		ReferenceAttempts: cfg.Bookings.MaxReferenceAttempts,
		Excluded:          cfg.Bookings.Excluded(),
		Reads:             cfg.Retry.Reads,
		References:        cfg.Retry.References,
	}
}

type BookingService struct {
	repo       domain.Repository
	eventBus   domain.EventPublisher
	syncWorker domain.SyncWorker
	allocator  *reference.Allocator
	checker    *conflict.Checker
	trail      *audit.Trail
	opts       BookingOptions
	logger     *zerolog.Logger
}

// NewBookingService wires the allocator, checker and trail over repo. eventBus and syncWorker may be nil.
func NewBookingService(
	repo domain.Repository,
	eventBus domain.EventPublisher,
	syncWorker domain.SyncWorker,
	opts BookingOptions,
	logger *zerolog.Logger,
) *BookingService {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DepositPercent <= 0 {
		opts.DepositPercent = defaultDepositPercent
	}
	if opts.MaxAdvanceDays <= 0 {
		opts.MaxAdvanceDays = 365
	}
	if opts.ReferenceAttempts <= 0 {
		opts.ReferenceAttempts = models.DefaultReferenceAttempts
	}
	if opts.Reads.MaxAttempts == 0 {
		opts.Reads = retry.Default
	}
	if opts.References.MaxAttempts == 0 {
		opts.References = retry.Default
	}
	opts.References.MaxAttempts = opts.ReferenceAttempts
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "booking_service").Logger()

	s := &BookingService{
		repo:       repo,
		eventBus:   eventBus,
		syncWorker: syncWorker,
		opts:       opts,
		logger:     &l,
	}
	s.allocator = reference.NewAllocator(repo,
		reference.WithPrefix(opts.ReferencePrefix),
		reference.WithReadPolicy(opts.Reads),
		reference.WithClock(opts.Now),
		reference.WithLogger(logger),
	)
	s.checker = conflict.NewChecker(repo, opts.Excluded, logger)
	s.trail = audit.NewTrail(repo, opts.Now, logger)
	return s
}

func (s *BookingService) now() time.Time {
	return s.opts.Now()
}

func (s *BookingService) CreateBooking(ctx context.Context, req domain.CreateBookingRequest) (*models.Booking, error) {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	origin := req.Origin
	if origin == "" {
		origin = models.OriginCustomer
	}

	date, err := time.ParseInLocation(models.DateLayout, req.EventDate, s.opts.Location)
	if err != nil {
		return nil, domain.NewValidationError("event_date", "must be a date formatted YYYY-MM-DD")
	}
	if err := s.checkDateRange(date, origin); err != nil {
		return nil, err
	}

	window, allDay, err := s.requestWindow(date, req.StartAt, req.EndAt, req.DurationHours)
	if err != nil {
		return nil, err
	}

	castle, err := s.repo.GetCastle(ctx, req.CastleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("castle_id", fmt.Sprintf("unknown castle %d", req.CastleID))
		}
		return nil, err
	}

	total := req.TotalPrice
	if total == 0 {
		total = castle.Price
	}
	deposit := math.Round(total*s.opts.DepositPercent) / 100
	if req.DepositAmount != nil {
		deposit = *req.DepositAmount
	}
	if deposit > total {
		return nil, domain.NewValidationError("deposit_amount", "must not exceed total_price")
	}

	if err := s.ensureFree(ctx, castle.ID, window, 0); err != nil {
		return nil, err
	}

	status := models.StatusPending
	if origin == models.OriginAdmin {
		status = models.StatusConfirmed
	}
	actor := req.Actor
	if actor.Role == "" {
		actor = models.Actor{Role: models.ActorRole(origin), Name: req.CustomerName}
	}

	draft := models.Booking{
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		CustomerAddress: strings.TrimSpace(req.CustomerAddress),
		CastleID:        castle.ID,
		CastleName:      castle.Name,
		EventDate:       date,
		PaymentMethod:   req.PaymentMethod,
		TotalPrice:      total,
		DepositAmount:   deposit,
		Notes:           req.Notes,
		Status:          status,
		PaymentStatus:   models.PaymentPending,
	}
	setWindow(&draft, window, allDay, req.DurationHours, s.opts.Location)

	booking, err := s.insertWithReference(ctx, draft, actor)
	if err != nil {
		return nil, err
	}

	metrics.IncBookingCreated(string(origin))
	s.logger.Info().
		Int64("booking_id", booking.ID).
		Str("reference", booking.Reference).
		Int64("castle_id", booking.CastleID).
		Str("event_date", booking.EventDate.Format(models.DateLayout)).
		Str("status", string(booking.Status)).
		Msg("booking created")

	created := s.reload(ctx, booking)
	s.publishEvent(events.EventBookingCreated, created, actor, "")
	if created.Status == models.StatusConfirmed {
		s.enqueueSync(ctx, created, models.SyncTaskUpsert)
	}
	return created, nil
}

// insertWithReference allocates a reference and inserts, retrying only reference collisions.
func (s *BookingService) insertWithReference(ctx context.Context, draft models.Booking, actor models.Actor) (*models.Booking, error) {
	var booking *models.Booking
	attempts, err := s.opts.References.Do(ctx, func(attempt int) error {
		ref, err := s.allocator.Allocate(ctx, attempt-1)
		if err != nil {
			return err
		}
		b := draft
		b.Reference = ref
		entry := audit.NewBookingCreatedEntry(actor, ref, b.Status)
		if err := s.repo.InsertBooking(ctx, &b, entry); err != nil {
			if errors.Is(err, database.ErrDuplicateReference) {
				metrics.IncReferenceRetry()
				s.logger.Debug().Str("reference", ref).Int("attempt", attempt).Msg("reference taken, retrying")
			}
			return err
		}
		booking = &b
		return nil
	}, func(err error) bool {
		return errors.Is(err, database.ErrDuplicateReference)
	})
	if err == nil {
		return booking, nil
	}

	switch {
	case errors.Is(err, database.ErrDuplicateReference):
		s.logger.Error().Err(err).Int("attempts", attempts).Msg("reference allocation exhausted")
		return nil, fmt.Errorf("%w (after %d attempts)", domain.ErrReferenceAllocation, attempts)
	case errors.Is(err, database.ErrSlotTaken):
		metrics.IncConflict()
		return nil, s.slotTaken(ctx, draft.CastleID, draft.Window(), 0)
	case errors.Is(err, domain.ErrPersistence):
		s.logger.Error().Err(err).
			Str("op", "create booking").
			Int64("castle_id", draft.CastleID).
			Int("attempts", attempts).
			Msg("persistence failure")
	}
	return nil, err
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	var booking *models.Booking
	_, err := s.opts.Reads.Do(ctx, func(int) error {
		var err error
		booking, err = s.repo.GetBooking(ctx, id)
		return err
	}, isPersistence)
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// GetBookingByReference looks a booking up by the reference printed on the agreement.
func (s *BookingService) GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, domain.NewValidationError("reference", "is required")
	}
	var booking *models.Booking
	_, err := s.opts.Reads.Do(ctx, func(int) error {
		var err error
		booking, err = s.repo.GetBookingByReference(ctx, reference)
		return err
	}, isPersistence)
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// UpdateBooking applies patch with an optimistic version check. A patch that changes nothing
// returns the stored booking untouched.
func (s *BookingService) UpdateBooking(
	ctx context.Context,
	id int64,
	patch models.BookingPatch,
	actor models.Actor,
) (*models.Booking, error) {
	current, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return current, nil
	}

	updated := *current
	updated.AuditTrail = nil
	fields, err := s.applyPatch(ctx, &updated, current, patch)
	if err != nil {
		return nil, err
	}

	from := current.Status
	statusChanged := false
	if patch.Status != nil {
		if !patch.Status.IsValid() {
			return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", *patch.Status))
		}
		statusChanged, err = lifecycle.Apply(&updated, *patch.Status, s.now())
		if err != nil {
			return nil, err
		}
	}

	if len(fields) == 0 && !statusChanged {
		return current, nil
	}

	if updated.IsActive() && (containsField(fields, "castle_id") || containsField(fields, "start_at") ||
		containsField(fields, "end_at") || containsField(fields, "event_date")) {
		if err := s.ensureFree(ctx, updated.CastleID, updated.Window(), updated.ID); err != nil {
			return nil, err
		}
	}

	var entry *models.AuditEntry
	if actor.IsHuman() {
		if statusChanged {
			entry = audit.NewTransitionEntry(actor, from, updated.Status)
			if len(fields) > 0 {
				entry.Details["fields"] = fields
			}
		} else {
			entry = audit.NewBookingUpdatedEntry(actor, fields)
		}
	}

	if err := s.repo.UpdateBooking(ctx, &updated, current.Version, entry); err != nil {
		if errors.Is(err, database.ErrSlotTaken) {
			metrics.IncConflict()
			return nil, s.slotTaken(ctx, updated.CastleID, updated.Window(), updated.ID)
		}
		s.logWriteFailure(err, "update booking", id)
		return nil, err
	}

	if statusChanged {
		metrics.IncTransition(string(from), string(updated.Status))
	}
	s.logger.Info().
		Int64("booking_id", id).
		Strs("fields", fields).
		Str("status", string(updated.Status)).
		Msg("booking updated")

	result := s.reload(ctx, &updated)
	eventType := events.EventBookingUpdated
	if statusChanged {
		eventType = events.StatusEvent(result.Status)
	}
	s.publishEvent(eventType, result, actor, "")
	s.syncAfterChange(ctx, result)
	return result, nil
}

// applyPatch copies changed fields onto b and returns their names.
func (s *BookingService) applyPatch(
	ctx context.Context,
	b, current *models.Booking,
	patch models.BookingPatch,
) ([]string, error) {
	var fields []string

	type textField struct {
		name  string
		value *string
		rule  string
		dst   *string
	}
	for _, f := range []textField{
		{"customer_name", patch.CustomerName, "required,max=200", &b.CustomerName},
		{"customer_email", patch.CustomerEmail, "required,email", &b.CustomerEmail},
		{"customer_phone", patch.CustomerPhone, "required,phone", &b.CustomerPhone},
		{"customer_address", patch.CustomerAddress, "max=500", &b.CustomerAddress},
		{"notes", patch.Notes, "max=2000", &b.Notes},
	} {
		if f.value == nil {
			continue
		}
		v := strings.TrimSpace(*f.value)
		if f.name == "notes" {
			v = *f.value
		}
		if err := validateVar(f.name, v, f.rule); err != nil {
			return nil, err
		}
		if v != *f.dst {
			*f.dst = v
			fields = append(fields, f.name)
		}
	}

	if patch.PaymentMethod != nil && *patch.PaymentMethod != b.PaymentMethod {
		if !patch.PaymentMethod.IsValid() {
			return nil, domain.NewValidationError("payment_method", "must be one of: cash card bank_transfer online")
		}
		b.PaymentMethod = *patch.PaymentMethod
		fields = append(fields, "payment_method")
	}
	if patch.TotalPrice != nil && *patch.TotalPrice != b.TotalPrice {
		if err := validateVar("total_price", *patch.TotalPrice, "gte=0"); err != nil {
			return nil, err
		}
		b.TotalPrice = *patch.TotalPrice
		fields = append(fields, "total_price")
	}
	if patch.DepositAmount != nil && *patch.DepositAmount != b.DepositAmount {
		if err := validateVar("deposit_amount", *patch.DepositAmount, "gte=0"); err != nil {
			return nil, err
		}
		b.DepositAmount = *patch.DepositAmount
		fields = append(fields, "deposit_amount")
	}
	if b.DepositAmount > b.TotalPrice {
		return nil, domain.NewValidationError("deposit_amount", "must not exceed total_price")
	}
	if patch.CalendarEventID != nil && *patch.CalendarEventID != b.CalendarEventID {
		b.CalendarEventID = *patch.CalendarEventID
		fields = append(fields, "calendar_event_id")
	}

	if patch.CastleID != nil && *patch.CastleID != b.CastleID {
		if *patch.CastleID <= 0 {
			return nil, domain.NewValidationError("castle_id", "must be greater than 0")
		}
		castle, err := s.repo.GetCastle(ctx, *patch.CastleID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.NewValidationError("castle_id", fmt.Sprintf("unknown castle %d", *patch.CastleID))
			}
			return nil, err
		}
		b.CastleID = castle.ID
		b.CastleName = castle.Name
		fields = append(fields, "castle_id", "castle_name")
	}

	if patch.TouchesWindow() {
		moved, err := s.patchWindow(b, current, patch)
		if err != nil {
			return nil, err
		}
		fields = append(fields, moved...)
	}
	return fields, nil
}

// patchWindow recomputes the window fields. Moving only the date keeps the time of day.
func (s *BookingService) patchWindow(b, current *models.Booking, patch models.BookingPatch) ([]string, error) {
	loc := s.opts.Location
	currentDate := calendarDate(current.EventDate, loc)
	date := currentDate
	if patch.EventDate != nil {
		date = calendarDate(*patch.EventDate, loc)
	}

	var (
		window   models.Window
		allDay   bool
		duration float64
		err      error
	)
	timed := patch.StartAt != nil || patch.EndAt != nil || patch.DurationHours != nil
	switch {
	case !timed && current.AllDay:
		window, allDay = models.FullDay(date, loc), true
	case !timed:
		shift := date.Sub(currentDate)
		window = models.Window{Start: current.StartAt.Add(shift), End: current.EndAt.Add(shift)}
		duration = current.DurationHours
	default:
		start := current.StartAt
		if patch.StartAt != nil {
			start = *patch.StartAt
			if patch.EventDate == nil {
				date = dayOf(start, loc)
			}
		} else if patch.EventDate != nil {
			start = start.Add(date.Sub(currentDate))
		}
		end := patch.EndAt
		if end == nil && patch.DurationHours == nil && !current.AllDay {
			d := current.EndAt.Sub(current.StartAt)
			e := start.Add(d)
			end = &e
		}
		if patch.DurationHours != nil {
			duration = *patch.DurationHours
		}
		window, allDay, err = s.requestWindow(date, &start, end, duration)
		if err != nil {
			return nil, err
		}
	}

	var fields []string
	if !date.Equal(currentDate) {
		if err := s.checkDateRange(date, models.OriginAdmin); err != nil {
			return nil, err
		}
		fields = append(fields, "event_date")
	}

	b.EventDate = date
	setWindow(b, window, allDay, duration, loc)

	if !b.StartAt.Equal(current.StartAt) {
		fields = append(fields, "start_at")
	}
	if !b.EndAt.Equal(current.EndAt) {
		fields = append(fields, "end_at")
	}
	if b.DurationHours != current.DurationHours {
		fields = append(fields, "duration_hours")
	}
	return fields, nil
}

func (s *BookingService) DeleteBooking(ctx context.Context, id int64) error {
	booking, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteBooking(ctx, id); err != nil {
		s.logWriteFailure(err, "delete booking", id)
		return err
	}

	s.logger.Info().Int64("booking_id", id).Str("reference", booking.Reference).Msg("booking deleted")
	s.publishEvent(events.EventBookingDeleted, booking, models.Actor{Role: models.RoleAdmin, Name: "admin"}, "")
	if booking.CalendarEventID != "" {
		s.enqueueSync(ctx, booking, models.SyncTaskDelete)
	}
	return nil
}

// TransitionStatus moves a booking along the lifecycle. Same-state requests are no-ops.
// Human actors get an audit entry in the same transaction; the system actor only a log line.
func (s *BookingService) TransitionStatus(
	ctx context.Context,
	id int64,
	target models.BookingStatus,
	actor models.Actor,
) (*models.Booking, error) {
	if !target.IsValid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", target))
	}

	booking, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	from := booking.Status
	version := booking.Version

	changed, err := lifecycle.Apply(booking, target, s.now())
	if err != nil {
		return nil, err
	}
	if !changed {
		return booking, nil
	}

	var entry *models.AuditEntry
	if actor.IsHuman() {
		entry = audit.NewTransitionEntry(actor, from, target)
	}
	if err := s.repo.UpdateBookingStatus(ctx, id, version, target, entry); err != nil {
		s.logWriteFailure(err, "transition status", id)
		return nil, err
	}

	metrics.IncTransition(string(from), string(target))
	s.logger.Info().
		Int64("booking_id", id).
		Str("reference", booking.Reference).
		Str("from", string(from)).
		Str("to", string(target)).
		Str("actor_role", string(actor.Role)).
		Msg("booking status changed")

	result := s.reload(ctx, booking)
	s.publishEvent(events.StatusEvent(target), result, actor, "")
	s.syncAfterChange(ctx, result)
	return result, nil
}

// RecordAgreementSigning marks the agreement signed. Signing again overwrites the metadata
// and appends another entry.
func (s *BookingService) RecordAgreementSigning(ctx context.Context, id int64, signing models.AgreementSigning) error {
	signing.SignedBy = strings.TrimSpace(signing.SignedBy)
	if signing.SignedBy == "" {
		return domain.NewValidationError("signed_by", "is required")
	}
	if !signing.Method.IsValid() {
		return domain.NewValidationError("method", "must be one of: email manual physical admin_override")
	}
	if signing.SignedAt.IsZero() {
		signing.SignedAt = s.now()
	}

	current, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.RecordAgreement(ctx, id, current.Version, signing, audit.NewAgreementSignedEntry(signing)); err != nil {
		s.logWriteFailure(err, "record agreement", id)
		return err
	}

	s.logger.Info().Int64("booking_id", id).Str("method", string(signing.Method)).Msg("agreement signed")
	if booking, err := s.repo.GetBooking(ctx, id); err == nil {
		actor := models.Actor{Role: models.RoleCustomer, Name: signing.SignedBy}
		if signing.Method != models.AgreementEmail {
			actor.Role = models.RoleAdmin
		}
		s.publishEvent(events.EventAgreementSigned, booking, actor, "")
	}
	return nil
}

// RecordPaymentStatusChange requires a comment explaining the change.
func (s *BookingService) RecordPaymentStatusChange(
	ctx context.Context,
	id int64,
	status models.PaymentStatus,
	comment string,
	actor models.Actor,
) error {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return domain.NewValidationError("comment", "is required")
	}
	if !status.IsValid() {
		return domain.NewValidationError("payment_status", "must be one of: pending deposit_paid paid_full")
	}

	booking, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	if booking.PaymentStatus == status {
		return nil
	}

	// previous_status only holds while the row is still at booking.Version
	entry := audit.NewPaymentStatusEntry(actor, booking.PaymentStatus, status, comment)
	if err := s.repo.UpdatePaymentStatus(ctx, id, booking.Version, status, entry); err != nil {
		s.logWriteFailure(err, "update payment status", id)
		return err
	}

	s.logger.Info().
		Int64("booking_id", id).
		Str("from", string(booking.PaymentStatus)).
		Str("to", string(status)).
		Msg("payment status changed")
	booking.PaymentStatus = status
	booking.Version++
	s.publishEvent(events.EventPaymentChanged, booking, actor, comment)
	return nil
}

func (s *BookingService) RecordEmailSent(ctx context.Context, id int64, recipient, template string) error {
	if err := validateVar("recipient", recipient, "required,email"); err != nil {
		return err
	}
	if strings.TrimSpace(template) == "" {
		return domain.NewValidationError("template", "is required")
	}
	return s.trail.EmailSent(ctx, id, recipient, template)
}

func (s *BookingService) RecordAgreementViewed(ctx context.Context, id int64, ip, userAgent string) error {
	return s.trail.AgreementViewed(ctx, id, ip, userAgent)
}

// RecordCorrection appends a note that corrects an earlier entry of the same booking.
// Only staff may correct the trail.
func (s *BookingService) RecordCorrection(ctx context.Context, id, correctsID int64, note string, actor models.Actor) error {
	if actor.Role != models.RoleAdmin {
		return domain.ErrForbidden
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return domain.NewValidationError("note", "is required")
	}
	entries, err := s.GetAuditTrail(ctx, id)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(entries, func(e models.AuditEntry) bool { return e.ID == correctsID }) {
		return domain.NewValidationError("corrects_entry", "is not an entry of this booking")
	}
	if err := s.trail.Correction(ctx, id, actor, correctsID, note); err != nil {
		s.logWriteFailure(err, "record correction", id)
		return err
	}
	s.logger.Info().
		Int64("booking_id", id).
		Int64("corrects_entry", correctsID).
		Str("actor", actor.Name).
		Msg("audit entry corrected")
	return nil
}

// GetAuditTrail returns entries in append order. Entries of a deleted booking are still returned.
func (s *BookingService) GetAuditTrail(ctx context.Context, id int64) ([]models.AuditEntry, error) {
	entries, err := s.trail.List(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if _, err := s.repo.GetBooking(ctx, id); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *BookingService) CheckConflicts(
	ctx context.Context,
	castleID int64,
	window models.Window,
	excludeBookingID int64,
) (*models.ConflictResult, error) {
	return s.checker.Check(ctx, conflict.Request{
		CastleID:         castleID,
		Window:           window,
		ExcludeBookingID: excludeBookingID,
	})
}

func (s *BookingService) QueryBookings(
	ctx context.Context,
	filter models.BookingFilter,
	sort models.BookingSort,
	page models.PageRequest,
) (*models.BookingPage, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	if sort.Field == "" {
		sort = models.BookingSort{Field: models.SortCreatedAt, Desc: true}
	}
	if !sort.Field.IsValid() {
		return nil, domain.NewValidationError("sort", fmt.Sprintf("unknown sort field %q", sort.Field))
	}

	var result *models.BookingPage
	attempts, err := s.opts.Reads.Do(ctx, func(int) error {
		var err error
		result, err = s.repo.QueryBookings(ctx, filter, sort, page.Normalize())
		return err
	}, isPersistence)
	if err != nil {
		s.logger.Error().Err(err).Str("op", "query bookings").Int("attempts", attempts).Msg("persistence failure")
		return nil, err
	}
	return result, nil
}

func (s *BookingService) GetBookingStats(ctx context.Context, filter models.BookingFilter) (*models.BookingStats, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	var stats *models.BookingStats
	attempts, err := s.opts.Reads.Do(ctx, func(int) error {
		var err error
		stats, err = s.repo.BookingStats(ctx, filter)
		return err
	}, isPersistence)
	if err != nil {
		s.logger.Error().Err(err).Str("op", "booking stats").Int("attempts", attempts).Msg("persistence failure")
		return nil, err
	}
	return stats, nil
}

func validateFilter(filter models.BookingFilter) error {
	for _, st := range filter.Statuses {
		if !st.IsValid() {
			return domain.NewValidationError("status", fmt.Sprintf("unknown status %q", st))
		}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return domain.NewValidationError("to", "must not be before from")
	}
	if filter.CastleID != nil && *filter.CastleID <= 0 {
		return domain.NewValidationError("castle_id", "must be greater than 0")
	}
	return nil
}

// checkDateRange rejects past dates for customer bookings and dates beyond the advance limit for everyone.
func (s *BookingService) checkDateRange(date time.Time, origin models.BookingOrigin) error {
	today := dayOf(s.now(), s.opts.Location)
	if origin != models.OriginAdmin && date.Before(today) {
		return domain.NewValidationError("event_date", "is in the past")
	}
	if date.After(today.AddDate(0, 0, s.opts.MaxAdvanceDays)) {
		return domain.NewValidationError("event_date",
			fmt.Sprintf("is more than %d days ahead", s.opts.MaxAdvanceDays))
	}
	return nil
}

// requestWindow resolves the occupied window: the full day without a start, otherwise start to
// end or start plus duration.
func (s *BookingService) requestWindow(
	date time.Time,
	startAt, endAt *time.Time,
	duration float64,
) (models.Window, bool, error) {
	if startAt == nil {
		if endAt != nil {
			return models.Window{}, false, domain.NewValidationError("start_at", "is required when end_at is set")
		}
		return models.FullDay(date, s.opts.Location), true, nil
	}

	start := *startAt
	if !dayOf(start, s.opts.Location).Equal(date) {
		return models.Window{}, false, domain.NewValidationError("start_at", "must fall on event_date")
	}
	var end time.Time
	switch {
	case endAt != nil:
		end = *endAt
	case duration > 0:
		end = start.Add(time.Duration(duration * float64(time.Hour)))
	default:
		return models.Window{}, false, domain.NewValidationError("end_at", "end_at or duration_hours is required")
	}

	w := models.Window{Start: start, End: end}
	if !w.Valid() {
		return models.Window{}, false, domain.NewValidationError("end_at", "must be after start_at")
	}
	if endAt != nil && duration > 0 && math.Abs(w.Duration().Hours()-duration) > durationTolerance {
		return models.Window{}, false, domain.NewValidationError("duration_hours", "does not match start_at and end_at")
	}
	return w, false, nil
}

// setWindow stores the window with its derived duration and overnight flag. Timed windows
// always take their duration from the window; all-day bookings keep a given hire length.
func setWindow(b *models.Booking, w models.Window, allDay bool, duration float64, loc *time.Location) {
	b.StartAt = w.Start
	b.EndAt = w.End
	b.AllDay = allDay
	b.DurationHours = w.Duration().Hours()
	if allDay && duration > 0 {
		b.DurationHours = duration
	}
	b.Overnight = !allDay && !dayOf(w.End.Add(-time.Nanosecond), loc).Equal(dayOf(w.Start, loc))
}

// calendarDate keeps the year, month and day of t as written, placed in loc.
func calendarDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func (s *BookingService) ensureFree(ctx context.Context, castleID int64, window models.Window, excludeID int64) error {
	result, err := s.checker.Check(ctx, conflict.Request{
		CastleID:         castleID,
		Window:           window,
		ExcludeBookingID: excludeID,
	})
	if err != nil {
		return err
	}
	if result.HasConflicts {
		metrics.IncConflict()
		return &domain.ConflictError{Result: result}
	}
	return nil
}

// slotTaken builds the conflict error after the unique index rejected a write the checker had passed.
func (s *BookingService) slotTaken(ctx context.Context, castleID int64, window models.Window, excludeID int64) error {
	result, err := s.checker.Check(ctx, conflict.Request{CastleID: castleID, Window: window, ExcludeBookingID: excludeID})
	if err == nil && result.HasConflicts {
		return &domain.ConflictError{Result: result}
	}
	return &domain.ConflictError{Result: &models.ConflictResult{
		HasConflicts: true,
		Conflicts: []models.Conflict{{
			Kind:     models.ConflictBooking,
			Reason:   "castle already has an active booking on this date",
			Severity: models.SeverityHigh,
		}},
	}}
}

// reload returns the stored booking with its trail, or b if the read fails.
func (s *BookingService) reload(ctx context.Context, b *models.Booking) *models.Booking {
	fresh, err := s.repo.GetBooking(ctx, b.ID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("booking_id", b.ID).Msg("failed to reload booking")
		return b
	}
	return fresh
}

func (s *BookingService) syncAfterChange(ctx context.Context, b *models.Booking) {
	switch {
	case b.Status == models.StatusConfirmed:
		s.enqueueSync(ctx, b, models.SyncTaskUpsert)
	case b.Status == models.StatusExpired && b.CalendarEventID != "":
		s.enqueueSync(ctx, b, models.SyncTaskDelete)
	}
}

func (s *BookingService) publishEvent(eventType string, b *models.Booking, actor models.Actor, comment string) {
	if s.eventBus == nil {
		return
	}
	payload := events.NewBookingPayload(b, actor)
	payload.Comment = comment
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}

func (s *BookingService) enqueueSync(ctx context.Context, b *models.Booking, taskType string) {
	if s.syncWorker == nil {
		return
	}
	if err := s.syncWorker.EnqueueTask(ctx, taskType, b.ID, b); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", b.ID).Str("task", taskType).Msg("calendar enqueue error")
	}
}

func (s *BookingService) logWriteFailure(err error, op string, id int64) {
	if errors.Is(err, domain.ErrPersistence) {
		s.logger.Error().Err(err).Str("op", op).Int64("booking_id", id).Int("attempts", 1).Msg("persistence failure")
	}
}

func isPersistence(err error) bool {
	return errors.Is(err, domain.ErrPersistence)
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}
