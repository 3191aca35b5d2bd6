// Package audit builds booking audit entries and appends them through one primitive.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"castlebook/internal/models"
)

// Store is the append-only persistence of audit entries. AppendAudit must insert the entry
// and refresh the booking's updated_at atomically.
type Store interface {
	AppendAudit(ctx context.Context, bookingID int64, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, bookingID int64) ([]models.AuditEntry, error)
}

type Trail struct {
	store  Store
	now    func() time.Time
	logger *zerolog.Logger
}

func NewTrail(store Store, now func() time.Time, logger *zerolog.Logger) *Trail {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "audit").Logger()
	return &Trail{store: store, now: now, logger: &l}
}

// Append stores one entry. Errors are returned, never swallowed.
func (t *Trail) Append(ctx context.Context, bookingID int64, entry *models.AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("audit entry is nil")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.now()
	}
	entry.BookingID = bookingID

	if err := t.store.AppendAudit(ctx, bookingID, entry); err != nil {
		t.logger.Error().Err(err).
			Int64("booking_id", bookingID).
			Str("action", string(entry.Action)).
			Msg("failed to append audit entry")
		return fmt.Errorf("failed to append %s entry: %w", entry.Action, err)
	}
	return nil
}

// List returns the trail in append order.
func (t *Trail) List(ctx context.Context, bookingID int64) ([]models.AuditEntry, error) {
	entries, err := t.store.ListAudit(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

func (t *Trail) EmailSent(ctx context.Context, bookingID int64, recipient, template string) error {
	return t.Append(ctx, bookingID, NewEmailSentEntry(recipient, template))
}

func (t *Trail) AgreementViewed(ctx context.Context, bookingID int64, ip, userAgent string) error {
	return t.Append(ctx, bookingID, NewAgreementViewedEntry(ip, userAgent))
}

func (t *Trail) CalendarSynced(ctx context.Context, bookingID int64, eventID, operation string) error {
	return t.Append(ctx, bookingID, NewCalendarSyncedEntry(eventID, operation))
}

// Correction records a fix of an earlier entry. Earlier entries stay as they are.
func (t *Trail) Correction(ctx context.Context, bookingID int64, actor models.Actor, correctsID int64, note string) error {
	return t.Append(ctx, bookingID, NewCorrectionEntry(actor, correctsID, note))
}
