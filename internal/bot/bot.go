package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"prayer-bot/internal/prayertimes"
	"prayer-bot/internal/scheduler"
	"prayer-bot/internal/storage"
)

type Directory interface {
	GetGroup(ctx context.Context, id string) (*storage.Group, error)
	UpsertGroup(ctx context.Context, g storage.Group) (*storage.Group, error)
}

type Provider interface {
	Fetch(ctx context.Context, location, country string) (*prayertimes.TimeSet, error)
}

// Reminders is the command surface of the reminder orchestrator.
type Reminders interface {
	OnGroupRegistered(g storage.Group)
	TriggerRegenerateNow()
	TriggerCancelAll() int
	Timers() []scheduler.TimerInfo
}

type Bot struct {
	messenger   *Messenger
	store       Directory
	provider    Provider
	reminders   Reminders
	admins      map[int64]struct{}
	prayerNames []string
	logger      zerolog.Logger
}

func New(messenger *Messenger, store Directory, provider Provider, reminders Reminders, adminIDs []int64, prayerNames []string, logger zerolog.Logger) *Bot {
	admins := make(map[int64]struct{})
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Bot{
		messenger:   messenger,
		store:       store,
		provider:    provider,
		reminders:   reminders,
		admins:      admins,
		prayerNames: prayerNames,
		logger:      logger.With().Str("component", "bot").Logger(),
	}
}

// Run handles updates until ctx is done or the channel is closed.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate processes one update from polling or the webhook.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}
	b.handleCommand(ctx, msg)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	b.logger.Debug().Int64("chat", msg.Chat.ID).Str("command", msg.Command()).Msg("command received")

	switch msg.Command() {
	case "start", "help":
		b.handleHelp(ctx, msg)
	case "register":
		b.handleRegister(ctx, msg)
	case "schedule":
		b.handleSchedule(ctx, msg)
	case "check":
		b.handleCheck(ctx, msg)
	case "regenerate":
		b.handleRegenerate(ctx, msg)
	case "cancelall":
		b.handleCancelAll(ctx, msg)
	default:
		b.reply(ctx, msg, "Unknown command. Use /help")
	}
}

const helpText = "Prayer time reminders for this chat.\n" +
	"/register <city>, <country>[, name] - register or update this chat\n" +
	"/check - today's prayer times for this chat\n" +
	"/schedule - reminders pending for this chat\n" +
	"/help - this message"

func (b *Bot) handleHelp(ctx context.Context, msg *tgbotapi.Message) {
	b.reply(ctx, msg, helpText)
}

func (b *Bot) handleRegister(ctx context.Context, msg *tgbotapi.Message) {
	location, country, name, ok := parseRegisterArgs(msg.CommandArguments())
	if !ok {
		b.reply(ctx, msg, registerUsage)
		return
	}
	if name == "" {
		name = msg.Chat.Title
	}

	set, err := b.provider.Fetch(ctx, location, country)
	if err != nil {
		if errors.Is(err, prayertimes.ErrUnknownLocation) {
			b.reply(ctx, msg, fmt.Sprintf("Could not find prayer times for %s, %s", location, country))
			return
		}
		b.logger.Warn().Err(err).Str("location", location).Msg("register: fetch prayer times")
		b.reply(ctx, msg, "Prayer times service is unavailable. Try again later")
		return
	}

	group, err := b.store.UpsertGroup(ctx, storage.Group{
		ID:       chatKey(msg.Chat.ID),
		Location: location,
		Country:  country,
		Name:     name,
		Active:   true,
	})
	if err != nil {
		b.logger.Error().Err(err).Int64("chat", msg.Chat.ID).Msg("upsert group")
		b.reply(ctx, msg, "Registration failed. Try again later")
		return
	}
	b.reminders.OnGroupRegistered(*group)

	b.reply(ctx, msg, fmt.Sprintf("Registered for %s, %s (%s).\n%s",
		location, country, set.Timezone, b.formatTimes(set)))
}

const registerUsage = "Usage: /register <city>, <country>[, name]\n" +
	"Single-word places may omit the commas: /register <city> <country> [name]"

// parseRegisterArgs accepts "Kuala Lumpur, Malaysia, Surau An-Nur" or, for
// single-word places, "zhongli taiwan Musholla al mudhorot".
func parseRegisterArgs(raw string) (location, country, name string, ok bool) {
	if strings.Contains(raw, ",") {
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.Join(strings.Fields(parts[i]), " ")
		}
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return "", "", "", false
		}
		return parts[0], parts[1], strings.Join(parts[2:], ", "), true
	}

	args := strings.Fields(raw)
	if len(args) < 2 {
		return "", "", "", false
	}
	return args[0], args[1], strings.Join(args[2:], " "), true
}

func (b *Bot) handleSchedule(ctx context.Context, msg *tgbotapi.Message) {
	id := chatKey(msg.Chat.ID)
	var lines []string
	for _, t := range b.reminders.Timers() {
		if t.Key.GroupID != id {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s", t.Key.Prayer, t.FireAt.Format("15:04 (Mon 2 Jan)")))
	}
	if len(lines) == 0 {
		b.reply(ctx, msg, "No reminders scheduled for this chat")
		return
	}
	b.reply(ctx, msg, "Upcoming reminders:\n"+strings.Join(lines, "\n"))
}

func (b *Bot) handleCheck(ctx context.Context, msg *tgbotapi.Message) {
	group, err := b.store.GetGroup(ctx, chatKey(msg.Chat.ID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(ctx, msg, "This chat is not registered. Use /register <city> <country>")
			return
		}
		b.logger.Error().Err(err).Int64("chat", msg.Chat.ID).Msg("get group")
		b.reply(ctx, msg, "Could not load this chat. Try again later")
		return
	}

	set, err := b.provider.Fetch(ctx, group.Location, group.Country)
	if err != nil {
		b.logger.Warn().Err(err).Str("location", group.Location).Msg("check: fetch prayer times")
		b.reply(ctx, msg, "Prayer times service is unavailable. Try again later")
		return
	}
	b.reply(ctx, msg, fmt.Sprintf("Prayer times for %s (%s, %s):\n%s",
		group.Location, set.Timezone, set.Date, b.formatTimes(set)))
}

func (b *Bot) handleRegenerate(ctx context.Context, msg *tgbotapi.Message) {
	if !b.requireAdmin(ctx, msg) {
		return
	}
	b.reminders.TriggerRegenerateNow()
	b.reply(ctx, msg, "Regeneration requested")
}

func (b *Bot) handleCancelAll(ctx context.Context, msg *tgbotapi.Message) {
	if !b.requireAdmin(ctx, msg) {
		return
	}
	n := b.reminders.TriggerCancelAll()
	b.reply(ctx, msg, fmt.Sprintf("Cancelled %d reminders", n))
}

func (b *Bot) requireAdmin(ctx context.Context, msg *tgbotapi.Message) bool {
	if msg.From != nil && b.isAdmin(msg.From.ID) {
		return true
	}
	b.reply(ctx, msg, "This command is for admins only")
	return false
}

func (b *Bot) formatTimes(set *prayertimes.TimeSet) string {
	lines := make([]string, 0, len(b.prayerNames))
	for _, name := range b.prayerNames {
		if v, ok := set.Lookup(name); ok {
			lines = append(lines, fmt.Sprintf("%s: %s", name, v))
		}
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) reply(ctx context.Context, msg *tgbotapi.Message, text string) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := b.messenger.Reply(ctx, msg.Chat.ID, msg.MessageID, text); err != nil {
		b.logger.Warn().Err(err).Int64("chat", msg.Chat.ID).Msg("send reply")
	}
}

func (b *Bot) isAdmin(id int64) bool {
	_, ok := b.admins[id]
	return ok
}

func chatKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
