package models

import "time"

type AuditAction string

const (
	ActionBookingCreated      AuditAction = "booking_created"
	ActionAgreementSigned     AuditAction = "agreement_signed"
	ActionManualConfirmation  AuditAction = "manual_confirmation"
	ActionStatusChange        AuditAction = "status_change"
	ActionPaymentStatusChange AuditAction = "payment_status_change"
	ActionEmailSent           AuditAction = "email_sent"
	ActionAgreementViewed     AuditAction = "agreement_viewed"
	ActionCalendarSynced      AuditAction = "calendar_synced"
	ActionCorrection          AuditAction = "correction"
)

type ActorRole string

const (
	RoleCustomer ActorRole = "customer"
	RoleAdmin    ActorRole = "admin"
	RoleSystem   ActorRole = "system"
)

func (r ActorRole) IsValid() bool {
	return r == RoleCustomer || r == RoleAdmin || r == RoleSystem
}

// Actor identifies who performed an action.
type Actor struct {
	Role      ActorRole `json:"role"`
	Name      string    `json:"name"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// SystemActor is used for automatic, time-driven changes.
var SystemActor = Actor{Role: RoleSystem, Name: "system"}

// IsHuman reports whether changes by this actor need an audit entry.
func (a Actor) IsHuman() bool {
	return a.Role == RoleCustomer || a.Role == RoleAdmin
}

// AuditEntry is one immutable record in a booking's trail.
type AuditEntry struct {
	ID        int64          `json:"id"`
	BookingID int64          `json:"booking_id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    AuditAction    `json:"action"`
	ActorRole ActorRole      `json:"actor_role"`
	Actor     string         `json:"actor"`
	Method    string         `json:"method,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
}
