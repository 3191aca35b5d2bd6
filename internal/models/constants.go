package models

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCompleted BookingStatus = "completed"
	StatusExpired   BookingStatus = "expired"
)

// AllStatuses lists every booking status in lifecycle order.
var AllStatuses = []BookingStatus{StatusPending, StatusConfirmed, StatusCompleted, StatusExpired}

// IsValid reports whether s is one of the known statuses.
func (s BookingStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusExpired:
		return true
	}
	return false
}

func (s BookingStatus) String() string {
	return string(s)
}

type PaymentStatus string

const (
	PaymentPending     PaymentStatus = "pending"
	PaymentDepositPaid PaymentStatus = "deposit_paid"
	PaymentPaidFull    PaymentStatus = "paid_full"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentPending, PaymentDepositPaid, PaymentPaidFull:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCard         PaymentMethod = "card"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentOnline       PaymentMethod = "online"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentBankTransfer, PaymentOnline:
		return true
	}
	return false
}

type AgreementMethod string

const (
	AgreementEmail         AgreementMethod = "email"
	AgreementManual        AgreementMethod = "manual"
	AgreementPhysical      AgreementMethod = "physical"
	AgreementAdminOverride AgreementMethod = "admin_override"
)

func (m AgreementMethod) IsValid() bool {
	switch m {
	case AgreementEmail, AgreementManual, AgreementPhysical, AgreementAdminOverride:
		return true
	}
	return false
}

type MaintenanceStatus string

const (
	MaintenanceAvailable    MaintenanceStatus = "available"
	MaintenanceInProgress   MaintenanceStatus = "maintenance"
	MaintenanceOutOfService MaintenanceStatus = "out_of_service"
)

func (s MaintenanceStatus) IsValid() bool {
	switch s {
	case MaintenanceAvailable, MaintenanceInProgress, MaintenanceOutOfService:
		return true
	}
	return false
}

// BookingOrigin tells who initiated a booking.
type BookingOrigin string

const (
	OriginCustomer BookingOrigin = "customer"
	OriginAdmin    BookingOrigin = "admin"
)

const (
	// DateLayout is the wire and storage format of event dates.
	DateLayout = "2006-01-02"

	// DefaultReferencePrefix prefixes every booking reference.
	DefaultReferencePrefix = "TS"

	// MaxReferenceSequence is the last friendly reference number.
	MaxReferenceSequence = 999

	// DefaultReferenceAttempts bounds insert retries after reference collisions.
	DefaultReferenceAttempts = 3

	// DefaultPageSize is used when a query does not ask for a page size.
	DefaultPageSize = 20

	// MaxPageSize caps page sizes requested by callers.
	MaxPageSize = 200

	// WorkerQueueSize bounds the in-memory calendar sync queue.
	WorkerQueueSize = 128

	// DefaultSweepBatch is the number of ended bookings completed per sweep tick.
	DefaultSweepBatch = 100
)
