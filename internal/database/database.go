package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"castlebook/internal/config"
	"castlebook/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02 15:04:05.000000000"

type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	return NewDBWithConfig(config.DatabaseConfig{Path: path}, logger)
}

func NewDBWithConfig(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	memory := isMemory(cfg.Path)
	if !memory {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// every connection to :memory: is a separate database
	if memory {
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, path: cfg.Path, logger: logger}
	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := db.migrateLegacyStatuses(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate statuses: %w", err)
	}

	logger.Info().Str("path", cfg.Path).Msg("Database initialized")
	return db, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}

func dsn(cfg config.DatabaseConfig) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	sep := "?"
	if strings.Contains(cfg.Path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate&_foreign_keys=on",
		cfg.Path, sep, busy.Milliseconds())
}

// Path is the file the database lives in.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS castles (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            theme TEXT NOT NULL DEFAULT '',
            size TEXT NOT NULL DEFAULT '',
            price REAL NOT NULL DEFAULT 0,
            description TEXT NOT NULL DEFAULT '',
            image_ref TEXT NOT NULL DEFAULT '',
            maintenance_status TEXT NOT NULL DEFAULT 'available',
            maintenance_notes TEXT NOT NULL DEFAULT '',
            maintenance_start DATETIME,
            maintenance_end DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            reference TEXT NOT NULL UNIQUE,
            customer_name TEXT NOT NULL,
            customer_email TEXT NOT NULL DEFAULT '',
            customer_phone TEXT NOT NULL DEFAULT '',
            customer_address TEXT NOT NULL DEFAULT '',
            castle_id INTEGER NOT NULL,
            castle_name TEXT NOT NULL,
            event_date TEXT NOT NULL,
            start_at DATETIME NOT NULL,
            end_at DATETIME NOT NULL,
            all_day BOOLEAN NOT NULL DEFAULT 0,
            overnight BOOLEAN NOT NULL DEFAULT 0,
            duration_hours REAL NOT NULL DEFAULT 0,
            payment_method TEXT NOT NULL DEFAULT '',
            total_price REAL NOT NULL DEFAULT 0,
            deposit_amount REAL NOT NULL DEFAULT 0,
            notes TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            payment_status TEXT NOT NULL DEFAULT 'pending',
            agreement_signed BOOLEAN NOT NULL DEFAULT 0,
            agreement_signed_at DATETIME,
            agreement_signed_by TEXT NOT NULL DEFAULT '',
            agreement_method TEXT NOT NULL DEFAULT '',
            agreement_ip TEXT NOT NULL DEFAULT '',
            agreement_user_agent TEXT NOT NULL DEFAULT '',
            calendar_event_id TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		// one active booking per castle and day
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_castle_date_active
            ON bookings(castle_id, event_date) WHERE status <> 'expired'`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_window ON bookings(castle_id, start_at, end_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_event_date ON bookings(event_date)`,

		// no foreign key: entries outlive deleted bookings
		`CREATE TABLE IF NOT EXISTS booking_audit_entries (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL,
            timestamp DATETIME NOT NULL,
            action TEXT NOT NULL,
            actor_role TEXT NOT NULL,
            actor TEXT NOT NULL DEFAULT '',
            method TEXT NOT NULL DEFAULT '',
            details TEXT NOT NULL DEFAULT '',
            ip_address TEXT NOT NULL DEFAULT '',
            user_agent TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE INDEX IF NOT EXISTS idx_audit_booking_id ON booking_audit_entries(booking_id, id)`,
		`CREATE TRIGGER IF NOT EXISTS trg_audit_no_update BEFORE UPDATE ON booking_audit_entries
            BEGIN SELECT RAISE(ABORT, 'audit entries are immutable'); END`,
		`CREATE TRIGGER IF NOT EXISTS trg_audit_no_delete BEFORE DELETE ON booking_audit_entries
            BEGIN SELECT RAISE(ABORT, 'audit entries are immutable'); END`,

		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            payload TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// migrateLegacyStatuses rewrites old status spellings once, so queries and the
// partial index only ever see the closed set.
func (db *DB) migrateLegacyStatuses() error {
	rows, err := db.Query(`SELECT DISTINCT status FROM bookings`)
	if err != nil {
		return err
	}
	var legacy []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return err
		}
		if !models.BookingStatus(raw).IsValid() {
			legacy = append(legacy, raw)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, raw := range legacy {
		st, err := models.NormalizeStatus(raw)
		if err != nil {
			db.logger.Warn().Str("status", raw).Msg("Unknown booking status left untouched")
			continue
		}
		res, err := db.Exec(`UPDATE bookings SET status = ? WHERE status = ?`, string(st), raw)
		if err != nil {
			return fmt.Errorf("normalize status %q: %w", raw, err)
		}
		n, _ := res.RowsAffected()
		db.logger.Info().Str("from", raw).Str("to", string(st)).Int64("rows", n).Msg("Normalized legacy booking status")
	}
	return nil
}

func (db *DB) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func ts(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTS(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return ts(*t)
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
