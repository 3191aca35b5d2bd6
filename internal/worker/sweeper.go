package worker

import (
	"context"
	"errors"
	"time"

	"castlebook/internal/config"
	"castlebook/internal/domain"
	"castlebook/internal/metrics"
	"castlebook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const sweeperLease = "expiry-sweeper"

// EndedLister finds bookings whose window is over.
type EndedLister interface {
	ListEndedBookings(ctx context.Context, status models.BookingStatus, before time.Time, limit int) ([]*models.Booking, error)
}

// Transitioner applies a status change through the booking service.
type Transitioner interface {
	TransitionStatus(ctx context.Context, id int64, target models.BookingStatus, actor models.Actor) (*models.Booking, error)
}

// Sweeper completes confirmed bookings once their event window has ended.
// Only the instance holding the lease sweeps on a given tick.
type Sweeper struct {
	store    EndedLister
	bookings Transitioner
	leases   domain.LeaseRepository
	owner    string
	cfg      config.SweeperConfig
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewSweeper(
	store EndedLister,
	bookings Transitioner,
	leases domain.LeaseRepository,
	cfg config.SweeperConfig,
	logger *zerolog.Logger,
) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = models.DefaultSweepBatch
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = cfg.Interval
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "expiry_sweeper").Logger()
	return &Sweeper{
		store:    store,
		bookings: bookings,
		leases:   leases,
		owner:    uuid.NewString(),
		cfg:      cfg,
		now:      time.Now,
		logger:   &l,
	}
}

// SetClock replaces the time source.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Start runs a sweep immediately and then on every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("expiry sweeper is disabled")
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("expiry sweeper started")
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	n, err := s.SweepOnce(ctx)
	if err != nil {
		s.logger.Error().Err(err).Int("completed", n).Msg("sweep failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int("completed", n).Msg("sweep finished")
	}
}

// SweepOnce completes every confirmed booking that ended before now and returns how many
// it moved. Bookings changed concurrently by someone else are skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	acquired, err := s.leases.TryAcquire(ctx, sweeperLease, s.owner, s.cfg.LeaseTTL)
	if err != nil {
		return 0, err
	}
	if !acquired {
		s.logger.Debug().Msg("sweep lease held by another instance")
		return 0, nil
	}
	defer func() {
		if err := s.leases.Release(context.WithoutCancel(ctx), sweeperLease, s.owner); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release sweep lease")
		}
	}()

	completed := 0
	skipped := make(map[int64]bool)
	for {
		limit := s.cfg.BatchSize + len(skipped)
		batch, err := s.store.ListEndedBookings(ctx, models.StatusConfirmed, s.now(), limit)
		if err != nil {
			return completed, err
		}

		progressed := false
		for _, b := range batch {
			if skipped[b.ID] {
				continue
			}
			if err := ctx.Err(); err != nil {
				return completed, err
			}

			_, err := s.bookings.TransitionStatus(ctx, b.ID, models.StatusCompleted, models.SystemActor)
			switch {
			case err == nil:
				completed++
				progressed = true
				metrics.IncSweeperCompleted()
				s.logger.Info().
					Int64("booking_id", b.ID).
					Str("reference", b.Reference).
					Time("end_at", b.EndAt).
					Msg("booking completed after event ended")
			case errors.Is(err, domain.ErrNotFound),
				errors.Is(err, domain.ErrInvalidTransition),
				errors.Is(err, domain.ErrConcurrentModification):
				skipped[b.ID] = true
				s.logger.Warn().Err(err).Int64("booking_id", b.ID).Msg("booking changed during sweep, skipped")
			default:
				return completed, err
			}
		}

		if !progressed || len(batch) < limit {
			return completed, nil
		}
	}
}
