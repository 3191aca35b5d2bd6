package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"castlebook/internal/models"
)

var bookingColumns = []string{
	"id", "reference", "customer_name", "customer_email", "customer_phone", "customer_address",
	"castle_id", "castle_name", "event_date", "start_at", "end_at", "all_day", "overnight", "duration_hours",
	"payment_method", "total_price", "deposit_amount", "notes", "status", "payment_status",
	"agreement_signed", "agreement_signed_at", "agreement_signed_by", "agreement_method",
	"agreement_ip", "agreement_user_agent", "calendar_event_id", "created_at", "updated_at", "version",
}

var bookingSelect = "SELECT " + strings.Join(bookingColumns, ", ") + " FROM bookings"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b               models.Booking
		eventDate       string
		status          string
		paymentStatus   string
		paymentMethod   string
		agreementMethod string
		signedAt        sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.Reference, &b.CustomerName, &b.CustomerEmail, &b.CustomerPhone, &b.CustomerAddress,
		&b.CastleID, &b.CastleName, &eventDate, &b.StartAt, &b.EndAt, &b.AllDay, &b.Overnight, &b.DurationHours,
		&paymentMethod, &b.TotalPrice, &b.DepositAmount, &b.Notes, &status, &paymentStatus,
		&b.AgreementSigned, &signedAt, &b.AgreementSignedBy, &agreementMethod,
		&b.AgreementIP, &b.AgreementUserAgent, &b.CalendarEventID, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.EventDate, err = time.Parse(models.DateLayout, eventDate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse booking date %s: %w", eventDate, err)
	}
	b.Status, err = models.NormalizeStatus(status)
	if err != nil {
		return nil, err
	}
	b.PaymentStatus = models.PaymentStatus(paymentStatus)
	b.PaymentMethod = models.PaymentMethod(paymentMethod)
	b.AgreementMethod = models.AgreementMethod(agreementMethod)
	b.AgreementSignedAt = timePtr(signedAt)
	return &b, nil
}

func scanBookings(rows *sql.Rows) ([]*models.Booking, error) {
	defer rows.Close()

	bookings := make([]*models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

// InsertBooking stores a new booking and its first audit entry in one transaction.
// A taken reference returns ErrDuplicateReference, a taken castle day ErrSlotTaken.
func (db *DB) InsertBooking(ctx context.Context, booking *models.Booking, entry *models.AuditEntry) error {
	now := time.Now().UTC()
	if booking.PaymentStatus == "" {
		booking.PaymentStatus = models.PaymentPending
	}
	var id int64

	err := db.withTx(ctx, "insert booking", func(tx *sql.Tx) error {
		query := `INSERT INTO bookings (
                reference, customer_name, customer_email, customer_phone, customer_address,
                castle_id, castle_name, event_date, start_at, end_at, all_day, overnight, duration_hours,
                payment_method, total_price, deposit_amount, notes, status, payment_status,
                calendar_event_id, created_at, updated_at, version
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`
		result, err := tx.ExecContext(ctx, query,
			booking.Reference,
			booking.CustomerName,
			booking.CustomerEmail,
			booking.CustomerPhone,
			booking.CustomerAddress,
			booking.CastleID,
			booking.CastleName,
			booking.EventDate.Format(models.DateLayout),
			ts(booking.StartAt),
			ts(booking.EndAt),
			booking.AllDay,
			booking.Overnight,
			booking.DurationHours,
			string(booking.PaymentMethod),
			booking.TotalPrice,
			booking.DepositAmount,
			booking.Notes,
			string(booking.Status),
			string(booking.PaymentStatus),
			booking.CalendarEventID,
			ts(now),
			ts(now),
		)
		if err != nil {
			return fmt.Errorf("failed to insert booking: %w", err)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}

		if entry != nil {
			if entry.Timestamp.IsZero() {
				entry.Timestamp = now
			}
			return insertAudit(ctx, tx, id, entry)
		}
		return nil
	})
	if err != nil {
		return err
	}

	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

// GetBooking loads a booking with its audit trail.
func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	b, err := scanBooking(db.QueryRowContext(ctx, bookingSelect+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, classify("get booking", err)
	}
	if b.AuditTrail, err = db.ListAudit(ctx, b.ID); err != nil {
		return nil, err
	}
	return b, nil
}

func (db *DB) GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error) {
	b, err := scanBooking(db.QueryRowContext(ctx, bookingSelect+" WHERE reference = ?", reference))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, classify("get booking by reference", err)
	}
	if b.AuditTrail, err = db.ListAudit(ctx, b.ID); err != nil {
		return nil, err
	}
	return b, nil
}

// UpdateBooking writes every mutable field if the row is still at fromVersion.
func (db *DB) UpdateBooking(ctx context.Context, booking *models.Booking, fromVersion int64, entry *models.AuditEntry) error {
	now := time.Now().UTC()
	err := db.withTx(ctx, "update booking", func(tx *sql.Tx) error {
		query := `UPDATE bookings SET
                customer_name = ?, customer_email = ?, customer_phone = ?, customer_address = ?,
                castle_id = ?, castle_name = ?, event_date = ?, start_at = ?, end_at = ?,
                all_day = ?, overnight = ?, duration_hours = ?, payment_method = ?,
                total_price = ?, deposit_amount = ?, notes = ?, status = ?, calendar_event_id = ?,
                version = version + 1, updated_at = max(updated_at, ?)
            WHERE id = ? AND version = ?`
		result, err := tx.ExecContext(ctx, query,
			booking.CustomerName,
			booking.CustomerEmail,
			booking.CustomerPhone,
			booking.CustomerAddress,
			booking.CastleID,
			booking.CastleName,
			booking.EventDate.Format(models.DateLayout),
			ts(booking.StartAt),
			ts(booking.EndAt),
			booking.AllDay,
			booking.Overnight,
			booking.DurationHours,
			string(booking.PaymentMethod),
			booking.TotalPrice,
			booking.DepositAmount,
			booking.Notes,
			string(booking.Status),
			booking.CalendarEventID,
			ts(now),
			booking.ID,
			fromVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to update booking: %w", err)
		}
		if err := versionedResult(ctx, tx, result, booking.ID); err != nil {
			return err
		}
		return appendIfAny(ctx, tx, booking.ID, entry, now)
	})
	if err != nil {
		return err
	}
	booking.Version = fromVersion + 1
	booking.UpdatedAt = now
	return nil
}

// UpdateBookingStatus moves the status if the row is still at fromVersion.
func (db *DB) UpdateBookingStatus(
	ctx context.Context,
	id, fromVersion int64,
	status models.BookingStatus,
	entry *models.AuditEntry,
) error {
	now := time.Now().UTC()
	return db.withTx(ctx, "update booking status", func(tx *sql.Tx) error {
		query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = max(updated_at, ?)
                  WHERE id = ? AND version = ?`
		result, err := tx.ExecContext(ctx, query, string(status), ts(now), id, fromVersion)
		if err != nil {
			return fmt.Errorf("failed to update booking status: %w", err)
		}
		if err := versionedResult(ctx, tx, result, id); err != nil {
			return err
		}
		return appendIfAny(ctx, tx, id, entry, now)
	})
}

// RecordAgreement marks the agreement signed if the row is still at fromVersion.
// Re-signing overwrites the metadata and adds another entry; the trail keeps the history.
func (db *DB) RecordAgreement(
	ctx context.Context,
	id, fromVersion int64,
	signing models.AgreementSigning,
	entry *models.AuditEntry,
) error {
	now := time.Now().UTC()
	signedAt := signing.SignedAt
	if signedAt.IsZero() {
		signedAt = now
	}
	return db.withTx(ctx, "record agreement", func(tx *sql.Tx) error {
		query := `UPDATE bookings SET agreement_signed = 1, agreement_signed_at = ?, agreement_signed_by = ?,
                  agreement_method = ?, agreement_ip = ?, agreement_user_agent = ?,
                  version = version + 1, updated_at = max(updated_at, ?)
                  WHERE id = ? AND version = ?`
		result, err := tx.ExecContext(ctx, query,
			ts(signedAt), signing.SignedBy, string(signing.Method), signing.IPAddress, signing.UserAgent, ts(now),
			id, fromVersion)
		if err != nil {
			return fmt.Errorf("failed to record agreement: %w", err)
		}
		if err := versionedResult(ctx, tx, result, id); err != nil {
			return err
		}
		return appendIfAny(ctx, tx, id, entry, now)
	})
}

// UpdatePaymentStatus changes the payment status if the row is still at fromVersion,
// so the entry's previous status is the one actually replaced.
func (db *DB) UpdatePaymentStatus(
	ctx context.Context,
	id, fromVersion int64,
	status models.PaymentStatus,
	entry *models.AuditEntry,
) error {
	now := time.Now().UTC()
	return db.withTx(ctx, "update payment status", func(tx *sql.Tx) error {
		query := `UPDATE bookings SET payment_status = ?, version = version + 1, updated_at = max(updated_at, ?)
                  WHERE id = ? AND version = ?`
		result, err := tx.ExecContext(ctx, query, string(status), ts(now), id, fromVersion)
		if err != nil {
			return fmt.Errorf("failed to update payment status: %w", err)
		}
		if err := versionedResult(ctx, tx, result, id); err != nil {
			return err
		}
		return appendIfAny(ctx, tx, id, entry, now)
	})
}

// SetCalendarEventID stores the external calendar key. It does not bump the version
// so a sync never invalidates an edit in flight.
func (db *DB) SetCalendarEventID(ctx context.Context, id int64, eventID string) error {
	query := `UPDATE bookings SET calendar_event_id = ?, updated_at = max(updated_at, ?) WHERE id = ?`
	result, err := db.ExecContext(ctx, query, eventID, ts(time.Now()), id)
	if err != nil {
		return classify("set calendar event id", fmt.Errorf("failed to set calendar event id: %w", err))
	}
	return mustAffect(result)
}

// DeleteBooking removes the row. Audit entries stay.
func (db *DB) DeleteBooking(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return classify("delete booking", fmt.Errorf("failed to delete booking: %w", err))
	}
	return mustAffect(result)
}

func mustAffect(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrBookingNotFound
	}
	return nil
}

// versionedResult tells a missing booking apart from a stale version.
func versionedResult(ctx context.Context, tx *sql.Tx, result sql.Result, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}
	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrBookingNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check booking: %w", err)
	}
	return ErrConcurrentModification
}

func appendIfAny(ctx context.Context, tx *sql.Tx, bookingID int64, entry *models.AuditEntry, now time.Time) error {
	if entry == nil {
		return nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	return insertAudit(ctx, tx, bookingID, entry)
}
