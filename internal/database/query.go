package database

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"castlebook/internal/models"

	"github.com/Masterminds/squirrel"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

var sortColumns = map[models.SortField]string{
	models.SortCreatedAt:    "created_at",
	models.SortEventDate:    "start_at",
	models.SortTotalPrice:   "total_price",
	models.SortReference:    "reference",
	models.SortCustomerName: "customer_name COLLATE NOCASE",
	models.SortUpdatedAt:    "updated_at",
}

// revenueStatuses are the statuses whose prices count as earned.
var revenueStatuses = map[models.BookingStatus]bool{
	models.StatusConfirmed: true,
	models.StatusCompleted: true,
}

func applyFilter(b squirrel.SelectBuilder, f models.BookingFilter) squirrel.SelectBuilder {
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		b = b.Where(squirrel.Eq{"status": statuses})
	}
	if f.From != nil {
		b = b.Where(squirrel.GtOrEq{"event_date": f.From.Format(models.DateLayout)})
	}
	if f.To != nil {
		b = b.Where(squirrel.LtOrEq{"event_date": f.To.Format(models.DateLayout)})
	}
	if f.CastleID != nil {
		b = b.Where(squirrel.Eq{"castle_id": *f.CastleID})
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
		or := squirrel.Or{}
		for _, col := range []string{"reference", "customer_name", "customer_email", "customer_phone", "castle_name"} {
			or = append(or, squirrel.Expr("LOWER("+col+") LIKE ? ESCAPE '\\'", pattern))
		}
		b = b.Where(or)
	}
	return b
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// QueryBookings is a pure read: filter, sort, paginate. The audit trail is not loaded.
func (db *DB) QueryBookings(
	ctx context.Context,
	filter models.BookingFilter,
	sort models.BookingSort,
	page models.PageRequest,
) (*models.BookingPage, error) {
	page = page.Normalize()

	countQuery, countArgs, err := applyFilter(psql.Select("COUNT(*)").From("bookings"), filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build count query: %w", err)
	}
	var total int
	if err := db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, classify("count bookings", fmt.Errorf("failed to count bookings: %w", err))
	}

	column, ok := sortColumns[sort.Field]
	if !ok {
		column = sortColumns[models.SortCreatedAt]
	}
	direction := "ASC"
	if sort.Desc {
		direction = "DESC"
	}

	query, args, err := applyFilter(psql.Select(bookingColumns...).From("bookings"), filter).
		OrderBy(column+" "+direction, "id "+direction).
		Limit(uint64(page.PageSize)).
		Offset(page.Offset()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build bookings query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query bookings", fmt.Errorf("failed to query bookings: %w", err))
	}
	items, err := scanBookings(rows)
	if err != nil {
		return nil, classify("query bookings", err)
	}

	return &models.BookingPage{
		Items:      items,
		Total:      total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(page.PageSize))),
	}, nil
}

// BookingStats counts by status and payment status. Revenue sums confirmed and completed bookings.
func (db *DB) BookingStats(ctx context.Context, filter models.BookingFilter) (*models.BookingStats, error) {
	query, args, err := applyFilter(psql.Select(
		"status",
		"payment_status",
		"COUNT(*)",
		"COALESCE(SUM(total_price), 0)",
		"COALESCE(SUM(deposit_amount), 0)",
	).From("bookings"), filter).
		GroupBy("status", "payment_status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build stats query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("booking stats", fmt.Errorf("failed to query stats: %w", err))
	}
	defer rows.Close()

	stats := &models.BookingStats{
		ByStatus:        make(map[models.BookingStatus]int, len(models.AllStatuses)),
		ByPaymentStatus: make(map[models.PaymentStatus]int),
	}
	for _, s := range models.AllStatuses {
		stats.ByStatus[s] = 0
	}

	for rows.Next() {
		var (
			rawStatus     string
			paymentStatus string
			count         int
			revenue       float64
			deposits      float64
		)
		if err := rows.Scan(&rawStatus, &paymentStatus, &count, &revenue, &deposits); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		status, err := models.NormalizeStatus(rawStatus)
		if err != nil {
			return nil, err
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.ByPaymentStatus[models.PaymentStatus(paymentStatus)] += count
		if revenueStatuses[status] {
			stats.Revenue += revenue
			stats.Deposits += deposits
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify("booking stats", err)
	}
	return stats, nil
}

// ListReferences returns every reference shaped prefix+3 digits.
func (db *DB) ListReferences(ctx context.Context, prefix string) ([]string, error) {
	query, args, err := psql.Select("reference").
		From("bookings").
		Where(squirrel.Expr("reference GLOB ?", prefix+"[0-9][0-9][0-9]")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build references query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list references", fmt.Errorf("failed to list references: %w", err))
	}
	defer rows.Close()

	refs := make([]string, 0)
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("failed to scan reference: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list references", err)
	}
	return refs, nil
}

// ListWindowBookings returns bookings of a castle overlapping window, skipping the
// excluded statuses and excludeID.
func (db *DB) ListWindowBookings(
	ctx context.Context,
	castleID int64,
	window models.Window,
	excluded []models.BookingStatus,
	excludeID int64,
) ([]*models.Booking, error) {
	b := psql.Select(bookingColumns...).
		From("bookings").
		Where(squirrel.Eq{"castle_id": castleID}).
		Where(squirrel.Lt{"start_at": ts(window.End)}).
		Where(squirrel.Gt{"end_at": ts(window.Start)})
	if len(excluded) > 0 {
		statuses := make([]string, 0, len(excluded))
		for _, s := range excluded {
			statuses = append(statuses, string(s))
		}
		b = b.Where(squirrel.NotEq{"status": statuses})
	}
	if excludeID > 0 {
		b = b.Where(squirrel.NotEq{"id": excludeID})
	}

	query, args, err := b.OrderBy("start_at").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build window query: %w", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list window bookings", fmt.Errorf("failed to list window bookings: %w", err))
	}
	bookings, err := scanBookings(rows)
	if err != nil {
		return nil, classify("list window bookings", err)
	}
	return bookings, nil
}

// ListEndedBookings returns up to limit bookings in status whose window ended at or before before.
func (db *DB) ListEndedBookings(ctx context.Context, status models.BookingStatus, before time.Time, limit int) ([]*models.Booking, error) {
	b := psql.Select(bookingColumns...).
		From("bookings").
		Where(squirrel.Eq{"status": string(status)}).
		Where(squirrel.LtOrEq{"end_at": ts(before)}).
		OrderBy("end_at", "id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build ended bookings query: %w", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list ended bookings", fmt.Errorf("failed to list ended bookings: %w", err))
	}
	bookings, err := scanBookings(rows)
	if err != nil {
		return nil, classify("list ended bookings", err)
	}
	return bookings, nil
}
