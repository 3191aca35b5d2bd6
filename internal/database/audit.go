package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"castlebook/internal/models"
)

// AppendAudit is the single append primitive: one INSERT plus the updated_at refresh,
// in one transaction. Concurrent appends to one booking serialize on the write lock.
func (db *DB) AppendAudit(ctx context.Context, bookingID int64, entry *models.AuditEntry) error {
	now := time.Now().UTC()
	return db.withTx(ctx, "append audit", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE bookings SET updated_at = max(updated_at, ?) WHERE id = ?`, ts(now), bookingID)
		if err != nil {
			return fmt.Errorf("failed to touch booking: %w", err)
		}
		if err := mustAffect(result); err != nil {
			return err
		}
		return appendIfAny(ctx, tx, bookingID, entry, now)
	})
}

func insertAudit(ctx context.Context, tx *sql.Tx, bookingID int64, entry *models.AuditEntry) error {
	details := ""
	if len(entry.Details) > 0 {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		details = string(raw)
	}

	result, err := tx.ExecContext(ctx, `INSERT INTO booking_audit_entries (
            booking_id, timestamp, action, actor_role, actor, method, details, ip_address, user_agent
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bookingID,
		ts(entry.Timestamp),
		string(entry.Action),
		string(entry.ActorRole),
		entry.Actor,
		entry.Method,
		details,
		entry.IPAddress,
		entry.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry id: %w", err)
	}
	entry.ID = id
	entry.BookingID = bookingID
	return nil
}

// ListAudit returns entries in append order. Entries of deleted bookings are still returned.
func (db *DB) ListAudit(ctx context.Context, bookingID int64) ([]models.AuditEntry, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, booking_id, timestamp, action, actor_role, actor, method,
            details, ip_address, user_agent
        FROM booking_audit_entries WHERE booking_id = ? ORDER BY id ASC`, bookingID)
	if err != nil {
		return nil, classify("list audit", fmt.Errorf("failed to list audit entries: %w", err))
	}
	defer rows.Close()

	entries := make([]models.AuditEntry, 0)
	for rows.Next() {
		var (
			e         models.AuditEntry
			action    string
			actorRole string
			details   string
		)
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Timestamp, &action, &actorRole, &e.Actor, &e.Method,
			&details, &e.IPAddress, &e.UserAgent); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = models.AuditAction(action)
		e.ActorRole = models.ActorRole(actorRole)
		if details != "" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details of entry %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list audit", err)
	}
	return entries, nil
}
