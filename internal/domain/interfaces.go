package domain

import (
	"context"
	"time"

	"castlebook/internal/models"
)

type BookingRepository interface {
	InsertBooking(ctx context.Context, booking *models.Booking, entry *models.AuditEntry) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error)
	UpdateBooking(ctx context.Context, booking *models.Booking, fromVersion int64, entry *models.AuditEntry) error
	UpdateBookingStatus(ctx context.Context, id, fromVersion int64, status models.BookingStatus, entry *models.AuditEntry) error
	RecordAgreement(ctx context.Context, id, fromVersion int64, signing models.AgreementSigning, entry *models.AuditEntry) error
	UpdatePaymentStatus(ctx context.Context, id, fromVersion int64, status models.PaymentStatus, entry *models.AuditEntry) error
	SetCalendarEventID(ctx context.Context, id int64, eventID string) error
	DeleteBooking(ctx context.Context, id int64) error

	AppendAudit(ctx context.Context, bookingID int64, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, bookingID int64) ([]models.AuditEntry, error)

	ListReferences(ctx context.Context, prefix string) ([]string, error)
	ListWindowBookings(
		ctx context.Context,
		castleID int64,
		window models.Window,
		excluded []models.BookingStatus,
		excludeID int64,
	) ([]*models.Booking, error)
	ListEndedBookings(ctx context.Context, status models.BookingStatus, before time.Time, limit int) ([]*models.Booking, error)
	QueryBookings(ctx context.Context, filter models.BookingFilter, sort models.BookingSort, page models.PageRequest) (*models.BookingPage, error)
	BookingStats(ctx context.Context, filter models.BookingFilter) (*models.BookingStats, error)
}

type CastleRepository interface {
	CreateCastle(ctx context.Context, castle *models.Castle) error
	GetCastle(ctx context.Context, id int64) (*models.Castle, error)
	ListCastles(ctx context.Context) ([]*models.Castle, error)
	UpdateCastle(ctx context.Context, castle *models.Castle) error
	UpdateCastleMaintenance(ctx context.Context, id int64, update models.MaintenanceUpdate) error
	DeleteCastle(ctx context.Context, id int64) error
}

// Repository is the full store surface the services depend on.
type Repository interface {
	BookingRepository
	CastleRepository
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, bookingID int64, booking *models.Booking) error
}

// LeaseRepository hands out short exclusive leases across instances.
type LeaseRepository interface {
	TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}

type CalendarClient interface {
	UpsertEvent(ctx context.Context, booking *models.Booking) (string, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

type BookingService interface {
	CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error)
	UpdateBooking(ctx context.Context, id int64, patch models.BookingPatch, actor models.Actor) (*models.Booking, error)
	DeleteBooking(ctx context.Context, id int64) error
	TransitionStatus(ctx context.Context, id int64, target models.BookingStatus, actor models.Actor) (*models.Booking, error)
	RecordAgreementSigning(ctx context.Context, id int64, signing models.AgreementSigning) error
	RecordPaymentStatusChange(ctx context.Context, id int64, status models.PaymentStatus, comment string, actor models.Actor) error
	RecordEmailSent(ctx context.Context, id int64, recipient, template string) error
	RecordAgreementViewed(ctx context.Context, id int64, ip, userAgent string) error
	RecordCorrection(ctx context.Context, id, correctsID int64, note string, actor models.Actor) error
	GetAuditTrail(ctx context.Context, id int64) ([]models.AuditEntry, error)
	CheckConflicts(ctx context.Context, castleID int64, window models.Window, excludeBookingID int64) (*models.ConflictResult, error)
	QueryBookings(ctx context.Context, filter models.BookingFilter, sort models.BookingSort, page models.PageRequest) (*models.BookingPage, error)
	GetBookingStats(ctx context.Context, filter models.BookingFilter) (*models.BookingStats, error)
}

type CastleService interface {
	ListCastles(ctx context.Context) ([]*models.Castle, error)
	GetCastle(ctx context.Context, id int64) (*models.Castle, error)
	CreateCastle(ctx context.Context, castle *models.Castle) error
	UpdateCastle(ctx context.Context, castle *models.Castle) error
	SetMaintenance(ctx context.Context, id int64, update models.MaintenanceUpdate) (*models.Castle, error)
	DeleteCastle(ctx context.Context, id int64) error
}

// CreateBookingRequest is the input of a booking creation.
type CreateBookingRequest struct {
	CustomerName    string               `json:"customer_name" validate:"required,max=200"`
	CustomerEmail   string               `json:"customer_email" validate:"required,email"`
	CustomerPhone   string               `json:"customer_phone" validate:"required,phone"`
	CustomerAddress string               `json:"customer_address" validate:"max=500"`
	CastleID        int64                `json:"castle_id" validate:"required,gt=0"`
	EventDate       string               `json:"event_date" validate:"required,datetime=2006-01-02"`
	StartAt         *time.Time           `json:"start_at,omitempty"`
	EndAt           *time.Time           `json:"end_at,omitempty"`
	DurationHours   float64              `json:"duration_hours" validate:"gte=0,lte=72"`
	PaymentMethod   models.PaymentMethod `json:"payment_method" validate:"required,oneof=cash card bank_transfer online"`
	TotalPrice      float64              `json:"total_price" validate:"gte=0"`
	DepositAmount   *float64             `json:"deposit_amount,omitempty" validate:"omitempty,gte=0"`
	Notes           string               `json:"notes" validate:"max=2000"`
	Origin          models.BookingOrigin `json:"origin" validate:"omitempty,oneof=customer admin"`
	Actor           models.Actor         `json:"-" validate:"-"`
}
