package notify

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"castlebook/internal/events"
	"castlebook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the part of tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

var titles = map[string]string{
	events.EventBookingCreated:   "🆕 New booking",
	events.EventBookingConfirmed: "✅ Booking confirmed",
	events.EventBookingCompleted: "🏁 Booking completed",
	events.EventBookingExpired:   "⌛ Booking expired",
	events.EventBookingUpdated:   "✏️ Booking updated",
	events.EventBookingDeleted:   "🗑 Booking deleted",
	events.EventAgreementSigned:  "📝 Agreement signed",
	events.EventPaymentChanged:   "💷 Payment status changed",
}

// AdminNotifier posts booking events to the admin chats.
type AdminNotifier struct {
	bot     Sender
	chatIDs []int64
	logger  *zerolog.Logger
}

func NewAdminNotifier(bot Sender, chatIDs []int64, logger *zerolog.Logger) *AdminNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "telegram_notifier").Logger()
	return &AdminNotifier{bot: bot, chatIDs: chatIDs, logger: &l}
}

// Subscribe attaches the notifier to every booking event on bus.
func (n *AdminNotifier) Subscribe(bus *events.EventBus) {
	for eventType := range titles {
		bus.Subscribe(eventType, n.Handle)
	}
}

// Handle sends one message per admin chat. Every chat is tried even when one fails.
func (n *AdminNotifier) Handle(event *events.Event) error {
	var payload events.BookingEventPayload
	if err := event.Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
	}

	text := FormatMessage(event.Type, payload)
	var errs []error
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := n.bot.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Str("event", event.Type).Msg("Failed to notify admin chat")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatMessage renders the admin message for an event.
func FormatMessage(eventType string, p events.BookingEventPayload) string {
	title, ok := titles[eventType]
	if !ok {
		title = eventType
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s</b>\n", html.EscapeString(title))
	fmt.Fprintf(&sb, "Reference: <code>%s</code>\n", html.EscapeString(p.Reference))
	fmt.Fprintf(&sb, "Castle: %s\n", html.EscapeString(p.CastleName))
	fmt.Fprintf(&sb, "Date: %s\n", p.EventDate.Format(models.DateLayout))
	fmt.Fprintf(&sb, "Customer: %s\n", html.EscapeString(p.CustomerName))
	fmt.Fprintf(&sb, "Status: %s", html.EscapeString(p.Status))
	if p.PaymentStatus != "" {
		fmt.Fprintf(&sb, "\nPayment: %s", html.EscapeString(p.PaymentStatus))
	}
	if p.TotalPrice > 0 {
		fmt.Fprintf(&sb, "\nTotal: %.2f", p.TotalPrice)
	}
	if p.Comment != "" {
		fmt.Fprintf(&sb, "\nComment: %s", html.EscapeString(p.Comment))
	}
	if p.ChangedBy != "" {
		fmt.Fprintf(&sb, "\nBy: %s (%s)", html.EscapeString(p.ChangedBy), html.EscapeString(p.ChangedByRole))
	}
	return sb.String()
}
