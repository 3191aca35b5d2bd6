package audit

import (
	"time"

	"castlebook/internal/models"
)

func actorEntry(action models.AuditAction, actor models.Actor) *models.AuditEntry {
	return &models.AuditEntry{
		Action:    action,
		ActorRole: actor.Role,
		Actor:     actor.Name,
		IPAddress: actor.IPAddress,
		UserAgent: actor.UserAgent,
	}
}

func NewBookingCreatedEntry(actor models.Actor, reference string, status models.BookingStatus) *models.AuditEntry {
	e := actorEntry(models.ActionBookingCreated, actor)
	e.Details = map[string]any{"reference": reference, "status": string(status)}
	return e
}

// NewAgreementSignedEntry attributes email signings to the customer and every other method to an admin.
func NewAgreementSignedEntry(s models.AgreementSigning) *models.AuditEntry {
	role := models.RoleAdmin
	if s.Method == models.AgreementEmail {
		role = models.RoleCustomer
	}
	e := &models.AuditEntry{
		Timestamp: s.SignedAt,
		Action:    models.ActionAgreementSigned,
		ActorRole: role,
		Actor:     s.SignedBy,
		Method:    string(s.Method),
		IPAddress: s.IPAddress,
		UserAgent: s.UserAgent,
	}
	if !s.SignedAt.IsZero() {
		e.Details = map[string]any{"signed_at": s.SignedAt.UTC().Format(time.RFC3339)}
	}
	return e
}

func NewManualConfirmationEntry(actor models.Actor, from models.BookingStatus) *models.AuditEntry {
	e := actorEntry(models.ActionManualConfirmation, actor)
	e.Method = "admin_panel"
	e.Details = map[string]any{"from": string(from), "to": string(models.StatusConfirmed)}
	return e
}

func NewStatusChangeEntry(actor models.Actor, from, to models.BookingStatus) *models.AuditEntry {
	e := actorEntry(models.ActionStatusChange, actor)
	e.Details = map[string]any{"from": string(from), "to": string(to)}
	return e
}

// NewTransitionEntry picks manual_confirmation for confirmations and status_change otherwise.
func NewTransitionEntry(actor models.Actor, from, to models.BookingStatus) *models.AuditEntry {
	if to == models.StatusConfirmed {
		return NewManualConfirmationEntry(actor, from)
	}
	return NewStatusChangeEntry(actor, from, to)
}

func NewPaymentStatusEntry(actor models.Actor, from, to models.PaymentStatus, comment string) *models.AuditEntry {
	e := actorEntry(models.ActionPaymentStatusChange, actor)
	e.Details = map[string]any{
		"previous_status": string(from),
		"new_status":      string(to),
		"comment":         comment,
	}
	return e
}

func NewEmailSentEntry(recipient, template string) *models.AuditEntry {
	e := actorEntry(models.ActionEmailSent, models.SystemActor)
	e.Method = "email"
	e.Details = map[string]any{"recipient": recipient, "template": template}
	return e
}

func NewAgreementViewedEntry(ip, userAgent string) *models.AuditEntry {
	return &models.AuditEntry{
		Action:    models.ActionAgreementViewed,
		ActorRole: models.RoleCustomer,
		Actor:     "customer",
		IPAddress: ip,
		UserAgent: userAgent,
	}
}

func NewCalendarSyncedEntry(eventID, operation string) *models.AuditEntry {
	e := actorEntry(models.ActionCalendarSynced, models.SystemActor)
	e.Details = map[string]any{"event_id": eventID, "operation": operation}
	return e
}

func NewBookingUpdatedEntry(actor models.Actor, fields []string) *models.AuditEntry {
	e := actorEntry(models.ActionCorrection, actor)
	e.Details = map[string]any{"fields": fields}
	return e
}

func NewCorrectionEntry(actor models.Actor, correctsID int64, note string) *models.AuditEntry {
	e := actorEntry(models.ActionCorrection, actor)
	e.Details = map[string]any{"corrects_entry": correctsID, "note": note}
	return e
}
