package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrDeliveryFailed wraps any failure to hand a message to Telegram.
var ErrDeliveryFailed = errors.New("bot: delivery failed")

// Sender is the subset of *tgbotapi.BotAPI used to deliver messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Messenger is the outbound messaging gateway.
type Messenger struct {
	api Sender
}

func NewMessenger(api Sender) *Messenger {
	return &Messenger{api: api}
}

// Send pushes text to a chat. destinationID is a numeric chat id or a
// channel username such as "@prayer_times".
func (m *Messenger) Send(ctx context.Context, destinationID, text string) error {
	var msg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(destinationID, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(id, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(destinationID, text)
	}
	return m.send(ctx, msg)
}

// Reply answers a specific message in a chat.
func (m *Messenger) Reply(ctx context.Context, chatID int64, messageID int, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = messageID
	return m.send(ctx, msg)
}

func (m *Messenger) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	if _, err := m.api.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}
