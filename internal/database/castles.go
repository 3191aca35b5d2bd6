package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"castlebook/internal/models"
)

const castleSelect = `SELECT id, name, theme, size, price, description, image_ref, maintenance_status,
    maintenance_notes, maintenance_start, maintenance_end, created_at, updated_at FROM castles`

func scanCastle(row rowScanner) (*models.Castle, error) {
	var (
		c      models.Castle
		status string
		start  sql.NullTime
		end    sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Theme, &c.Size, &c.Price, &c.Description, &c.ImageRef, &status,
		&c.MaintenanceNotes, &start, &end, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.MaintenanceStatus = models.MaintenanceStatus(status)
	c.MaintenanceStart = timePtr(start)
	c.MaintenanceEnd = timePtr(end)
	return &c, nil
}

// CreateCastle inserts a castle. A non-zero ID is kept, which lets the configured fleet keep stable ids.
func (db *DB) CreateCastle(ctx context.Context, castle *models.Castle) error {
	now := time.Now().UTC()
	if castle.MaintenanceStatus == "" {
		castle.MaintenanceStatus = models.MaintenanceAvailable
	}

	var id interface{}
	if castle.ID > 0 {
		id = castle.ID
	}
	result, err := db.ExecContext(ctx, `INSERT INTO castles (id, name, theme, size, price, description, image_ref,
            maintenance_status, maintenance_notes, maintenance_start, maintenance_end, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		castle.Name,
		castle.Theme,
		castle.Size,
		castle.Price,
		castle.Description,
		castle.ImageRef,
		string(castle.MaintenanceStatus),
		castle.MaintenanceNotes,
		nullTS(castle.MaintenanceStart),
		nullTS(castle.MaintenanceEnd),
		ts(now),
		ts(now),
	)
	if err != nil {
		return classify("create castle", fmt.Errorf("failed to create castle: %w", err))
	}

	newID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	castle.ID = newID
	castle.CreatedAt = now
	castle.UpdatedAt = now
	return nil
}

func (db *DB) GetCastle(ctx context.Context, id int64) (*models.Castle, error) {
	c, err := scanCastle(db.QueryRowContext(ctx, castleSelect+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCastleNotFound
		}
		return nil, classify("get castle", fmt.Errorf("failed to get castle: %w", err))
	}
	return c, nil
}

func (db *DB) ListCastles(ctx context.Context) ([]*models.Castle, error) {
	rows, err := db.QueryContext(ctx, castleSelect+" ORDER BY id")
	if err != nil {
		return nil, classify("list castles", fmt.Errorf("failed to list castles: %w", err))
	}
	defer rows.Close()

	castles := make([]*models.Castle, 0)
	for rows.Next() {
		c, err := scanCastle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan castle: %w", err)
		}
		castles = append(castles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list castles", err)
	}
	return castles, nil
}

// UpdateCastle changes the catalogue fields. Bookings keep the name they were made with.
func (db *DB) UpdateCastle(ctx context.Context, castle *models.Castle) error {
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, `UPDATE castles SET name = ?, theme = ?, size = ?, price = ?,
            description = ?, image_ref = ?, updated_at = ? WHERE id = ?`,
		castle.Name, castle.Theme, castle.Size, castle.Price, castle.Description, castle.ImageRef, ts(now), castle.ID)
	if err != nil {
		return classify("update castle", fmt.Errorf("failed to update castle: %w", err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrCastleNotFound
	}
	castle.UpdatedAt = now
	return nil
}

func (db *DB) UpdateCastleMaintenance(ctx context.Context, id int64, update models.MaintenanceUpdate) error {
	result, err := db.ExecContext(ctx, `UPDATE castles SET maintenance_status = ?, maintenance_notes = ?,
            maintenance_start = ?, maintenance_end = ?, updated_at = ? WHERE id = ?`,
		string(update.Status), update.Notes, nullTS(update.Start), nullTS(update.End), ts(time.Now()), id)
	if err != nil {
		return classify("update castle maintenance", fmt.Errorf("failed to update castle maintenance: %w", err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrCastleNotFound
	}
	return nil
}

func (db *DB) DeleteCastle(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM castles WHERE id = ?`, id)
	if err != nil {
		return classify("delete castle", fmt.Errorf("failed to delete castle: %w", err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrCastleNotFound
	}
	return nil
}

// SyncCastles upserts the configured fleet. Castles created through the API are left alone,
// and maintenance state is never overwritten by the config.
func (db *DB) SyncCastles(ctx context.Context, castles []models.Castle) error {
	now := ts(time.Now())
	return db.withTx(ctx, "sync castles", func(tx *sql.Tx) error {
		query := `INSERT INTO castles (id, name, theme, size, price, description, image_ref,
                maintenance_status, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                theme = excluded.theme,
                size = excluded.size,
                price = excluded.price,
                description = excluded.description,
                image_ref = excluded.image_ref,
                updated_at = excluded.updated_at`
		for _, c := range castles {
			status := c.MaintenanceStatus
			if status == "" {
				status = models.MaintenanceAvailable
			}
			if _, err := tx.ExecContext(ctx, query, c.ID, c.Name, c.Theme, c.Size, c.Price, c.Description,
				c.ImageRef, string(status), now, now); err != nil {
				return fmt.Errorf("failed to sync castle %d: %w", c.ID, err)
			}
		}
		return nil
	})
}
