package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"castlebook/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	propBookingID = "castlebook_booking_id"
	propReference = "castlebook_reference"

	// Google calendar color ids: 5 banana, 10 basil.
	colorPending   = "5"
	colorConfirmed = "10"
)

// CalendarService mirrors bookings into one Google calendar.
type CalendarService struct {
	service    *calendar.Service
	calendarID string
	loc        *time.Location
}

func NewCalendarService(ctx context.Context, credentialsFile, calendarID string, loc *time.Location) (*CalendarService, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}

	return NewCalendarServiceWith(srv, calendarID, loc), nil
}

// NewCalendarServiceWith wraps an already built API client.
func NewCalendarServiceWith(srv *calendar.Service, calendarID string, loc *time.Location) *CalendarService {
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarService{service: srv, calendarID: calendarID, loc: loc}
}

// TestConnection checks that the calendar is reachable with the configured account.
func (s *CalendarService) TestConnection(ctx context.Context) error {
	if _, err := s.service.Calendars.Get(s.calendarID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// GetServiceAccountEmail returns the account the calendar has to be shared with.
func GetServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}
	return creds.ClientEmail, nil
}

// UpsertEvent updates the booking's event, or creates it when the booking has none yet
// or the stored one is gone. It returns the event id to keep on the booking.
func (s *CalendarService) UpsertEvent(ctx context.Context, booking *models.Booking) (string, error) {
	event := s.bookingEvent(booking)

	if booking.CalendarEventID != "" {
		updated, err := s.service.Events.Update(s.calendarID, booking.CalendarEventID, event).Context(ctx).Do()
		if err == nil {
			return updated.Id, nil
		}
		if !isGone(err) {
			return "", fmt.Errorf("failed to update calendar event %s: %w", booking.CalendarEventID, err)
		}
	}

	created, err := s.service.Events.Insert(s.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create calendar event for %s: %w", booking.Reference, err)
	}
	return created.Id, nil
}

// DeleteEvent removes an event. An event that no longer exists is not an error.
func (s *CalendarService) DeleteEvent(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	if err := s.service.Events.Delete(s.calendarID, eventID).Context(ctx).Do(); err != nil && !isGone(err) {
		return fmt.Errorf("failed to delete calendar event %s: %w", eventID, err)
	}
	return nil
}

func (s *CalendarService) bookingEvent(b *models.Booking) *calendar.Event {
	event := &calendar.Event{
		Summary:     fmt.Sprintf("%s %s - %s", b.Reference, b.CastleName, b.CustomerName),
		Description: eventDescription(b),
		Location:    b.CustomerAddress,
		ColorId:     colorPending,
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				propBookingID: strconv.FormatInt(b.ID, 10),
				propReference: b.Reference,
			},
		},
	}
	if b.Status == models.StatusConfirmed || b.Status == models.StatusCompleted {
		event.ColorId = colorConfirmed
	}

	if b.AllDay {
		event.Start = &calendar.EventDateTime{Date: b.EventDate.Format(models.DateLayout)}
		event.End = &calendar.EventDateTime{Date: b.EndAt.In(s.loc).Format(models.DateLayout)}
		return event
	}
	event.Start = &calendar.EventDateTime{DateTime: b.StartAt.In(s.loc).Format(time.RFC3339), TimeZone: s.loc.String()}
	event.End = &calendar.EventDateTime{DateTime: b.EndAt.In(s.loc).Format(time.RFC3339), TimeZone: s.loc.String()}
	return event
}

func eventDescription(b *models.Booking) string {
	desc := fmt.Sprintf("Booking %s\nStatus: %s\nPayment: %s (%s)\nTotal: %.2f, deposit %.2f\nPhone: %s\nEmail: %s",
		b.Reference, b.Status, b.PaymentStatus, b.PaymentMethod, b.TotalPrice, b.DepositAmount,
		b.CustomerPhone, b.CustomerEmail)
	if b.AgreementSigned {
		desc += "\nAgreement signed"
	}
	if b.Notes != "" {
		desc += "\n\n" + b.Notes
	}
	return desc
}

func isGone(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
	}
	return false
}
