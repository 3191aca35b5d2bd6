package models

import "time"

type Booking struct {
	ID        int64  `json:"id"`
	Reference string `json:"reference"`

	CustomerName    string `json:"customer_name"`
	CustomerEmail   string `json:"customer_email"`
	CustomerPhone   string `json:"customer_phone"`
	CustomerAddress string `json:"customer_address,omitempty"`

	CastleID   int64  `json:"castle_id"`
	CastleName string `json:"castle_name"`

	EventDate     time.Time `json:"event_date"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
	AllDay        bool      `json:"all_day"`
	Overnight     bool      `json:"overnight"`
	DurationHours float64   `json:"duration_hours"`

	PaymentMethod PaymentMethod `json:"payment_method"`
	TotalPrice    float64       `json:"total_price"`
	DepositAmount float64       `json:"deposit_amount"`
	Notes         string        `json:"notes,omitempty"`

	Status        BookingStatus `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`

	AgreementSigned    bool            `json:"agreement_signed"`
	AgreementSignedAt  *time.Time      `json:"agreement_signed_at,omitempty"`
	AgreementSignedBy  string          `json:"agreement_signed_by,omitempty"`
	AgreementMethod    AgreementMethod `json:"agreement_method,omitempty"`
	AgreementIP        string          `json:"agreement_ip,omitempty"`
	AgreementUserAgent string          `json:"agreement_user_agent,omitempty"`

	CalendarEventID string `json:"calendar_event_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`

	AuditTrail []AuditEntry `json:"audit_trail,omitempty"`
}

// Window returns the half-open interval the booking occupies its castle for.
func (b *Booking) Window() Window {
	return Window{Start: b.StartAt, End: b.EndAt}
}

// IsActive reports whether the booking still holds its castle.
func (b *Booking) IsActive() bool {
	return b.Status != StatusExpired
}

// BookingPatch carries a partial update. Nil fields are left untouched.
type BookingPatch struct {
	CustomerName    *string        `json:"customer_name,omitempty"`
	CustomerEmail   *string        `json:"customer_email,omitempty"`
	CustomerPhone   *string        `json:"customer_phone,omitempty"`
	CustomerAddress *string        `json:"customer_address,omitempty"`
	CastleID        *int64         `json:"castle_id,omitempty"`
	EventDate       *time.Time     `json:"event_date,omitempty"`
	StartAt         *time.Time     `json:"start_at,omitempty"`
	EndAt           *time.Time     `json:"end_at,omitempty"`
	DurationHours   *float64       `json:"duration_hours,omitempty"`
	PaymentMethod   *PaymentMethod `json:"payment_method,omitempty"`
	TotalPrice      *float64       `json:"total_price,omitempty"`
	DepositAmount   *float64       `json:"deposit_amount,omitempty"`
	Notes           *string        `json:"notes,omitempty"`
	Status          *BookingStatus `json:"status,omitempty"`
	CalendarEventID *string        `json:"calendar_event_id,omitempty"`
}

// TouchesWindow reports whether applying the patch may move the booking in time or onto another castle.
func (p BookingPatch) TouchesWindow() bool {
	return p.CastleID != nil || p.EventDate != nil || p.StartAt != nil || p.EndAt != nil || p.DurationHours != nil
}

// IsEmpty reports whether the patch changes nothing.
func (p BookingPatch) IsEmpty() bool {
	return p.CustomerName == nil && p.CustomerEmail == nil && p.CustomerPhone == nil &&
		p.CustomerAddress == nil && !p.TouchesWindow() && p.PaymentMethod == nil &&
		p.TotalPrice == nil && p.DepositAmount == nil && p.Notes == nil && p.Status == nil &&
		p.CalendarEventID == nil
}

// AgreementSigning is the metadata recorded when a customer or admin signs the hire agreement.
type AgreementSigning struct {
	SignedBy  string          `json:"signed_by"`
	Method    AgreementMethod `json:"method"`
	IPAddress string          `json:"ip_address,omitempty"`
	UserAgent string          `json:"user_agent,omitempty"`
	SignedAt  time.Time       `json:"signed_at"`
}
