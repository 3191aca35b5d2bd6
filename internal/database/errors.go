package database

import (
	"errors"
	"fmt"
	"strings"

	"castlebook/internal/domain"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrDuplicateReference means another booking took the reference first.
	ErrDuplicateReference = errors.New("booking reference already exists")
	// ErrSlotTaken is the partial unique index rejecting a second active booking.
	ErrSlotTaken              = fmt.Errorf("castle already has an active booking on this date: %w", domain.ErrConflict)
	ErrBookingNotFound        = fmt.Errorf("booking %w", domain.ErrNotFound)
	ErrCastleNotFound         = fmt.Errorf("castle %w", domain.ErrNotFound)
	ErrConcurrentModification = domain.ErrConcurrentModification
)

// classify maps driver errors onto the store's error set. Anything it does not
// recognise becomes a *domain.PersistenceError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDuplicateReference) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConcurrentModification) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrPersistence) {
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		msg := sqliteErr.Error()
		switch {
		case strings.Contains(msg, "bookings.reference"):
			return ErrDuplicateReference
		case strings.Contains(msg, "bookings.castle_id"):
			return ErrSlotTaken
		}
	}
	return &domain.PersistenceError{Op: op, Err: err}
}
