// Package conflict decides whether a castle is free for a time window.
package conflict

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"castlebook/internal/domain"
	"castlebook/internal/models"
)

const maxSuggestions = 3

// Store is the read surface the checker needs.
type Store interface {
	GetCastle(ctx context.Context, id int64) (*models.Castle, error)
	ListCastles(ctx context.Context) ([]*models.Castle, error)
	ListWindowBookings(
		ctx context.Context,
		castleID int64,
		window models.Window,
		excluded []models.BookingStatus,
		excludeID int64,
	) ([]*models.Booking, error)
}

type Request struct {
	CastleID         int64
	Window           models.Window
	ExcludeBookingID int64
}

// Checker is advisory: the partial unique index on (castle_id, event_date) is what
// actually rejects racing writers.
type Checker struct {
	store    Store
	excluded []models.BookingStatus
	logger   *zerolog.Logger
}

func NewChecker(store Store, excluded []models.BookingStatus, logger *zerolog.Logger) *Checker {
	if len(excluded) == 0 {
		excluded = []models.BookingStatus{models.StatusExpired}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "conflict_checker").Logger()
	return &Checker{store: store, excluded: excluded, logger: &l}
}

// Excluded returns the statuses that never block a castle.
func (c *Checker) Excluded() []models.BookingStatus {
	out := make([]models.BookingStatus, len(c.excluded))
	copy(out, c.excluded)
	return out
}

func (c *Checker) Check(ctx context.Context, req Request) (*models.ConflictResult, error) {
	if req.CastleID <= 0 {
		return nil, domain.NewValidationError("castle_id", "is required")
	}
	if !req.Window.Valid() {
		return nil, domain.NewValidationError("window", "end must be after start")
	}

	castle, err := c.store.GetCastle(ctx, req.CastleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("castle_id", fmt.Sprintf("unknown castle %d", req.CastleID))
		}
		return nil, fmt.Errorf("failed to load castle: %w", err)
	}

	conflicts, err := c.castleConflicts(ctx, castle, req.Window, req.ExcludeBookingID)
	if err != nil {
		return nil, err
	}

	result := &models.ConflictResult{
		HasConflicts: len(conflicts) > 0,
		Conflicts:    conflicts,
	}
	if result.HasConflicts {
		result.Suggestions = c.suggest(ctx, castle.ID, req.Window)
		c.logger.Debug().
			Int64("castle_id", castle.ID).
			Time("start", req.Window.Start).
			Int("conflicts", len(conflicts)).
			Msg("conflicts found")
	}
	return result, nil
}

func (c *Checker) castleConflicts(
	ctx context.Context,
	castle *models.Castle,
	window models.Window,
	excludeID int64,
) ([]models.Conflict, error) {
	conflicts := make([]models.Conflict, 0)

	if mw, blocks := castle.MaintenanceWindow(); blocks && mw.Overlaps(window) {
		conflicts = append(conflicts, models.Conflict{
			Kind:     models.ConflictMaintenance,
			Reason:   maintenanceReason(castle),
			Severity: models.SeverityCritical,
		})
	}

	bookings, err := c.store.ListWindowBookings(ctx, castle.ID, window, c.excluded, excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings in window: %w", err)
	}
	for _, b := range bookings {
		// the store query is a pre-filter; the overlap rule is decided here
		if b.ID == excludeID || c.isExcluded(b.Status) || !b.Window().Overlaps(window) {
			continue
		}
		conflicts = append(conflicts, models.Conflict{
			Kind:      models.ConflictBooking,
			BookingID: b.ID,
			Reference: b.Reference,
			Reason: fmt.Sprintf("%s is already booked (%s, %s) from %s to %s",
				castle.Name, b.Reference, b.Status,
				b.StartAt.Format("2006-01-02 15:04"), b.EndAt.Format("2006-01-02 15:04")),
			Severity: models.SeverityHigh,
		})
	}
	return conflicts, nil
}

func (c *Checker) isExcluded(s models.BookingStatus) bool {
	for _, ex := range c.excluded {
		if ex == s {
			return true
		}
	}
	return false
}

// suggest lists other castles free in the window. Failures only cost the suggestions.
func (c *Checker) suggest(ctx context.Context, castleID int64, window models.Window) []models.Suggestion {
	castles, err := c.store.ListCastles(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to list castles for suggestions")
		return nil
	}

	var out []models.Suggestion
	for _, other := range castles {
		if other.ID == castleID {
			continue
		}
		conflicts, err := c.castleConflicts(ctx, other, window, 0)
		if err != nil {
			c.logger.Warn().Err(err).Int64("castle_id", other.ID).Msg("failed to check suggestion")
			continue
		}
		if len(conflicts) > 0 {
			continue
		}
		out = append(out, models.Suggestion{
			CastleID:   other.ID,
			CastleName: other.Name,
			Message:    fmt.Sprintf("%s is available for the same time", other.Name),
		})
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

func maintenanceReason(castle *models.Castle) string {
	if castle.MaintenanceStatus == models.MaintenanceOutOfService {
		return fmt.Sprintf("%s is out of service", castle.Name)
	}
	reason := fmt.Sprintf("%s is under maintenance", castle.Name)
	if castle.MaintenanceEnd != nil {
		reason += " until " + castle.MaintenanceEnd.Format(models.DateLayout)
	}
	if castle.MaintenanceNotes != "" {
		reason += ": " + castle.MaintenanceNotes
	}
	return reason
}
