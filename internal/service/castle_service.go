package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"castlebook/internal/domain"
	"castlebook/internal/models"

	"github.com/rs/zerolog"
)

// CastleService manages the fleet and keeps a cached copy of it for fast listing.
type CastleService struct {
	repo    domain.Repository
	logger  *zerolog.Logger
	now     func() time.Time
	castles []*models.Castle
	loaded  bool
	mu      sync.RWMutex
}

func NewCastleService(repo domain.Repository, logger *zerolog.Logger) *CastleService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "castle_service").Logger()
	return &CastleService{
		repo:   repo,
		logger: &l,
		now:    time.Now,
	}
}

func (s *CastleService) ListCastles(ctx context.Context) ([]*models.Castle, error) {
	s.mu.RLock()
	if s.loaded {
		out := make([]*models.Castle, len(s.castles))
		copy(out, s.castles)
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Castle, len(s.castles))
	copy(out, s.castles)
	return out, nil
}

// GetCastle always reads the store so maintenance changes made by other instances are visible.
func (s *CastleService) GetCastle(ctx context.Context, id int64) (*models.Castle, error) {
	return s.repo.GetCastle(ctx, id)
}

func (s *CastleService) CreateCastle(ctx context.Context, castle *models.Castle) error {
	castle.Name = strings.TrimSpace(castle.Name)
	if err := validateStruct(castle); err != nil {
		return err
	}
	if err := s.repo.CreateCastle(ctx, castle); err != nil {
		return err
	}
	s.logger.Info().Int64("castle_id", castle.ID).Str("name", castle.Name).Msg("castle created")
	return s.Refresh(ctx)
}

func (s *CastleService) UpdateCastle(ctx context.Context, castle *models.Castle) error {
	castle.Name = strings.TrimSpace(castle.Name)
	if castle.ID <= 0 {
		return domain.NewValidationError("id", "is required")
	}
	if err := validateStruct(castle); err != nil {
		return err
	}
	if err := s.repo.UpdateCastle(ctx, castle); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// SetMaintenance changes the maintenance state. Existing bookings inside the window are kept
// and only logged; new bookings in it are refused by the conflict checker.
func (s *CastleService) SetMaintenance(ctx context.Context, id int64, update models.MaintenanceUpdate) (*models.Castle, error) {
	if !update.Status.IsValid() {
		return nil, domain.NewValidationError("status", "must be one of: available maintenance out_of_service")
	}
	if update.Start != nil && update.End != nil && !update.End.After(*update.Start) {
		return nil, domain.NewValidationError("end", "must be after start")
	}
	if update.Status == models.MaintenanceAvailable {
		update.Start, update.End = nil, nil
	}

	if err := s.repo.UpdateCastleMaintenance(ctx, id, update); err != nil {
		return nil, err
	}
	castle, err := s.repo.GetCastle(ctx, id)
	if err != nil {
		return nil, err
	}

	if window, blocks := castle.MaintenanceWindow(); blocks {
		s.warnAffectedBookings(ctx, castle, window)
	}
	s.logger.Info().Int64("castle_id", id).Str("status", string(update.Status)).Msg("castle maintenance updated")

	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to refresh castle cache")
	}
	return castle, nil
}

// DeleteCastle refuses while the castle still has pending or confirmed bookings from today on.
func (s *CastleService) DeleteCastle(ctx context.Context, id int64) error {
	today := dayOf(s.now(), time.UTC)
	castleID := id
	page, err := s.repo.QueryBookings(ctx,
		models.BookingFilter{
			Statuses: []models.BookingStatus{models.StatusPending, models.StatusConfirmed},
			From:     &today,
			CastleID: &castleID,
		},
		models.BookingSort{Field: models.SortEventDate},
		models.PageRequest{Page: 1, PageSize: 5},
	)
	if err != nil {
		return err
	}
	if page.Total > 0 {
		result := &models.ConflictResult{HasConflicts: true}
		for _, b := range page.Items {
			result.Conflicts = append(result.Conflicts, models.Conflict{
				Kind:      models.ConflictBooking,
				BookingID: b.ID,
				Reference: b.Reference,
				Reason:    fmt.Sprintf("castle is booked on %s (%s)", b.EventDate.Format(models.DateLayout), b.Reference),
				Severity:  models.SeverityHigh,
			})
		}
		return &domain.ConflictError{Result: result}
	}

	if err := s.repo.DeleteCastle(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Int64("castle_id", id).Msg("castle deleted")
	return s.Refresh(ctx)
}

func (s *CastleService) Refresh(ctx context.Context) error {
	castles, err := s.repo.ListCastles(ctx)
	if err != nil {
		return err
	}
	sort.Slice(castles, func(i, j int) bool { return castles[i].ID < castles[j].ID })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.castles = castles
	s.loaded = true
	return nil
}

func (s *CastleService) warnAffectedBookings(ctx context.Context, castle *models.Castle, window models.Window) {
	bookings, err := s.repo.ListWindowBookings(ctx, castle.ID, window, []models.BookingStatus{models.StatusExpired}, 0)
	if err != nil {
		s.logger.Warn().Err(err).Int64("castle_id", castle.ID).Msg("failed to list bookings in maintenance window")
		return
	}
	for _, b := range bookings {
		if b.Status == models.StatusCompleted {
			continue
		}
		s.logger.Warn().
			Int64("castle_id", castle.ID).
			Int64("booking_id", b.ID).
			Str("reference", b.Reference).
			Msg("booking falls inside maintenance window")
	}
}
