package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"prayer-bot/internal/prayertimes"
	"prayer-bot/internal/storage"
)

// Provider returns one day of prayer times for a city.
type Provider interface {
	Fetch(ctx context.Context, location, country string) (*prayertimes.TimeSet, error)
}

// Messenger delivers text to a chat.
type Messenger interface {
	Send(ctx context.Context, destinationID, text string) error
}

// Builder turns a group's prayer times into registry timers.
type Builder struct {
	provider    Provider
	registry    *Registry
	messenger   Messenger
	now         func() time.Time
	sendTimeout time.Duration
	logger      zerolog.Logger
}

func NewBuilder(provider Provider, registry *Registry, messenger Messenger, logger zerolog.Logger) *Builder {
	return &Builder{
		provider:    provider,
		registry:    registry,
		messenger:   messenger,
		now:         time.Now,
		sendTimeout: 30 * time.Second,
		logger:      logger.With().Str("component", "builder").Logger(),
	}
}

// Build registers one timer per prayer name for group and returns how many
// were registered. Provider failures build nothing and are returned; a
// missing or unparsable entry is skipped with a warning.
func (b *Builder) Build(ctx context.Context, group storage.Group, prayerNames []string) (int, error) {
	log := b.logger.With().Str("group", group.ID).Str("location", group.Location).Logger()

	set, err := b.provider.Fetch(ctx, group.Location, group.Country)
	if err != nil {
		return 0, err
	}

	ref := b.now()
	built := 0
	for _, name := range prayerNames {
		raw, ok := set.Lookup(name)
		if !ok {
			log.Warn().Str("prayer", name).Msg("prayer time missing from provider response")
			continue
		}
		fireAt, err := Resolve(raw, set.Timezone, ref)
		if err != nil {
			log.Warn().Err(err).Str("prayer", name).Str("time", raw).Msg("skip prayer")
			continue
		}

		local := fireAt.Format("15:04")
		key := Key{GroupID: group.ID, Prayer: name}
		if err := b.registry.Register(key, Label(name, group.Location, local, fireAt), fireAt, b.reminder(group, name, local)); err != nil {
			return built, fmt.Errorf("register %s: %w", name, err)
		}
		built++
	}

	log.Debug().Int("timers", built).Str("timezone", set.Timezone).Msg("group schedule built")
	return built, nil
}

// Label renders the diagnostic label of a timer.
func Label(prayer, location, localTime string, fireAt time.Time) string {
	return fmt.Sprintf("%s|%s|%s|%d", prayer, location, localTime, fireAt.Unix())
}

func (b *Builder) reminder(group storage.Group, prayer, localTime string) Action {
	return func(ctx context.Context) {
		text := FormatReminder(prayer, group.Location, localTime)
		ctx, cancel := context.WithTimeout(ctx, b.sendTimeout)
		defer cancel()

		if err := b.messenger.Send(ctx, group.ID, text); err != nil {
			b.logger.Warn().Err(err).
				Str("group", group.ID).
				Str("prayer", prayer).
				Msg("reminder delivery failed")
			return
		}
		b.logger.Info().Str("group", group.ID).Str("prayer", prayer).Msg("reminder sent")
	}
}
