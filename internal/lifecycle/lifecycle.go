// Package lifecycle holds the booking status graph.
package lifecycle

import (
	"time"

	"castlebook/internal/domain"
	"castlebook/internal/models"
)

var transitions = map[models.BookingStatus][]models.BookingStatus{
	models.StatusPending:   {models.StatusConfirmed, models.StatusExpired},
	models.StatusConfirmed: {models.StatusCompleted, models.StatusExpired},
	models.StatusCompleted: nil,
	models.StatusExpired:   nil,
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s models.BookingStatus) bool {
	return len(transitions[s]) == 0
}

// Allowed returns the statuses reachable from s in one step.
func Allowed(s models.BookingStatus) []models.BookingStatus {
	out := make([]models.BookingStatus, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// CanTransition reports whether from -> to is legal. Same-state is always legal.
func CanTransition(from, to models.BookingStatus) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Check returns a *domain.TransitionError when from -> to is not legal.
func Check(from, to models.BookingStatus) error {
	if !CanTransition(from, to) {
		return &domain.TransitionError{From: from, To: to}
	}
	return nil
}

// Apply moves b to status to. The booking is only mutated on success.
// changed is false for same-state requests.
func Apply(b *models.Booking, to models.BookingStatus, now time.Time) (bool, error) {
	if err := Check(b.Status, to); err != nil {
		return false, err
	}
	if b.Status == to {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = now
	return true, nil
}
