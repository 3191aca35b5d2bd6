package notify

import (
	"errors"
	"testing"
	"time"

	"castlebook/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func payload() events.BookingEventPayload {
	return events.BookingEventPayload{
		BookingID:    1,
		Reference:    "TS001",
		CustomerName: "Jo <Bloggs>",
		CastleName:   "Pirate Ship",
		Status:       "pending",
		EventDate:    time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		TotalPrice:   180,
		ChangedBy:    "web",
	}
}

func TestFormatMessage(t *testing.T) {
	text := FormatMessage(events.EventBookingCreated, payload())

	assert.Contains(t, text, "New booking")
	assert.Contains(t, text, "<code>TS001</code>")
	assert.Contains(t, text, "2025-03-10")
	assert.Contains(t, text, "Jo &lt;Bloggs&gt;")
	assert.Contains(t, text, "Total: 180.00")

	assert.Contains(t, FormatMessage("custom", payload()), "<b>custom</b>")
}

func TestAdminNotifier_SubscribeAndSend(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ParseMode == tgbotapi.ModeHTML
	})).Return(tgbotapi.Message{}, nil).Twice()

	bus := events.NewEventBus()
	n := NewAdminNotifier(sender, []int64{100, 200}, nil)
	n.Subscribe(bus)

	require.NoError(t, bus.PublishJSON(events.EventBookingConfirmed, payload()))
	sender.AssertExpectations(t)
}

func TestAdminNotifier_ContinuesAfterFailure(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		return c.(tgbotapi.MessageConfig).ChatID == 100
	})).Return(tgbotapi.Message{}, errors.New("chat not found")).Once()
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		return c.(tgbotapi.MessageConfig).ChatID == 200
	})).Return(tgbotapi.Message{}, nil).Once()

	n := NewAdminNotifier(sender, []int64{100, 200}, nil)
	event, err := events.NewJSONEvent(events.EventBookingDeleted, payload())
	require.NoError(t, err)

	err = n.Handle(&event)
	assert.Error(t, err)
	sender.AssertExpectations(t)
}

func TestAdminNotifier_BadPayload(t *testing.T) {
	n := NewAdminNotifier(new(mockSender), []int64{1}, nil)
	err := n.Handle(&events.Event{Type: events.EventBookingCreated, Payload: []byte("{")})
	assert.Error(t, err)
}
