package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"castlebook/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	bookingsSheet = "Bookings"
	summarySheet  = "Summary"
	pageSize      = 200
)

// Source is the read side of the booking service.
type Source interface {
	QueryBookings(ctx context.Context, filter models.BookingFilter, sort models.BookingSort, page models.PageRequest) (*models.BookingPage, error)
	GetBookingStats(ctx context.Context, filter models.BookingFilter) (*models.BookingStats, error)
}

var headers = []string{
	"Reference", "Event date", "Start", "End", "Castle", "Customer", "Email", "Phone", "Address",
	"Status", "Payment", "Method", "Total", "Deposit", "Agreement", "Notes", "Created",
}

var statusFills = map[models.BookingStatus]string{
	models.StatusPending:   "#FFF2CC",
	models.StatusConfirmed: "#E2EFDA",
	models.StatusCompleted: "#DDEBF7",
	models.StatusExpired:   "#EDEDED",
}

type Exporter struct {
	source Source
	loc    *time.Location
	logger *zerolog.Logger
}

func NewExporter(source Source, loc *time.Location, logger *zerolog.Logger) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{source: source, loc: loc, logger: logger}
}

// Write renders the bookings matching filter as an XLSX workbook into w.
func (e *Exporter) Write(ctx context.Context, w io.Writer, filter models.BookingFilter) (int, error) {
	f, n, err := e.build(ctx, filter)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("error writing workbook: %w", err)
	}
	return n, nil
}

// ExportToFile saves the workbook under dir and returns its path.
func (e *Exporter) ExportToFile(ctx context.Context, dir string, filter models.BookingFilter) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, n, err := e.build(ctx, filter)
	if err != nil {
		return "", err
	}
	defer f.Close()

	filePath := filepath.Join(dir, FileName(filter, time.Now().In(e.loc)))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("bookings", n).Msg("Excel file created")
	return filePath, nil
}

// FileName names an export after its date range, or after now when the range is open.
func FileName(filter models.BookingFilter, now time.Time) string {
	if filter.From != nil && filter.To != nil {
		return fmt.Sprintf("bookings_%s_to_%s.xlsx", filter.From.Format(models.DateLayout), filter.To.Format(models.DateLayout))
	}
	return fmt.Sprintf("bookings_%s.xlsx", now.Format("20060102_150405"))
}

func (e *Exporter) build(ctx context.Context, filter models.BookingFilter) (*excelize.File, int, error) {
	bookings, err := e.collect(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	stats, err := e.source.GetBookingStats(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("error getting stats: %w", err)
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(bookingsSheet)
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if _, err := f.NewSheet(summarySheet); err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("error creating sheet: %w", err)
	}
	_ = f.DeleteSheet("Sheet1")

	e.writeHeaders(f)
	e.writeBookings(f, bookings)
	writeSummary(f, stats)
	return f, len(bookings), nil
}

func (e *Exporter) collect(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	sort := models.BookingSort{Field: models.SortEventDate}
	var all []*models.Booking
	for page := 1; ; page++ {
		res, err := e.source.QueryBookings(ctx, filter, sort, models.PageRequest{Page: page, PageSize: pageSize})
		if err != nil {
			return nil, fmt.Errorf("error getting bookings: %w", err)
		}
		all = append(all, res.Items...)
		if page >= res.TotalPages || len(res.Items) == 0 {
			return all, nil
		}
	}
}

func (e *Exporter) writeHeaders(f *excelize.File) {
	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(bookingsSheet, cell, h)
		_ = f.SetCellStyle(bookingsSheet, cell, cell, style)
	}
	last, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetColWidth(bookingsSheet, "A", last, 16)
	_ = f.SetColWidth(bookingsSheet, "F", "I", 24)
	_ = f.SetPanes(bookingsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func (e *Exporter) writeBookings(f *excelize.File, bookings []*models.Booking) {
	styles := make(map[models.BookingStatus]int, len(statusFills))
	for status, color := range statusFills {
		id, err := f.NewStyle(&excelize.Style{Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1}})
		if err == nil {
			styles[status] = id
		}
	}

	for i, b := range bookings {
		row := i + 2
		values := []interface{}{
			b.Reference,
			b.EventDate.Format(models.DateLayout),
			e.clock(b.StartAt, b.AllDay),
			e.clock(b.EndAt, b.AllDay),
			b.CastleName,
			b.CustomerName,
			b.CustomerEmail,
			b.CustomerPhone,
			b.CustomerAddress,
			string(b.Status),
			string(b.PaymentStatus),
			string(b.PaymentMethod),
			b.TotalPrice,
			b.DepositAmount,
			agreementCell(b),
			b.Notes,
			b.CreatedAt.In(e.loc).Format("2006-01-02 15:04"),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetSheetRow(bookingsSheet, cell, &values)

		if style, ok := styles[b.Status]; ok {
			statusCell, _ := excelize.CoordinatesToCellName(10, row)
			_ = f.SetCellStyle(bookingsSheet, statusCell, statusCell, style)
		}
	}
}

func (e *Exporter) clock(t time.Time, allDay bool) string {
	if allDay {
		return "all day"
	}
	return t.In(e.loc).Format("15:04")
}

func agreementCell(b *models.Booking) string {
	if !b.AgreementSigned {
		return "no"
	}
	if b.AgreementSignedAt != nil {
		return fmt.Sprintf("%s (%s)", b.AgreementSignedAt.Format(models.DateLayout), b.AgreementMethod)
	}
	return string(b.AgreementMethod)
}

func writeSummary(f *excelize.File, stats *models.BookingStats) {
	rows := [][]interface{}{
		{"Total bookings", stats.Total},
	}
	for _, s := range models.AllStatuses {
		rows = append(rows, []interface{}{"Status: " + string(s), stats.ByStatus[s]})
	}
	for _, p := range []models.PaymentStatus{models.PaymentPending, models.PaymentDepositPaid, models.PaymentPaidFull} {
		rows = append(rows, []interface{}{"Payment: " + string(p), stats.ByPaymentStatus[p]})
	}
	rows = append(rows,
		[]interface{}{"Revenue", stats.Revenue},
		[]interface{}{"Deposits", stats.Deposits},
	)

	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		_ = f.SetSheetRow(summarySheet, cell, &r)
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 28)
}
