package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"prayer-bot/internal/prayertimes"
	"prayer-bot/internal/storage"
)

// Directory lists registered groups.
type Directory interface {
	ListGroups(ctx context.Context) ([]storage.Group, error)
}

// GroupBuilder builds the timers of one group.
type GroupBuilder interface {
	Build(ctx context.Context, group storage.Group, prayerNames []string) (int, error)
}

type Options struct {
	PrayerNames []string
	// Concurrency bounds provider calls in flight during a cycle.
	Concurrency  int
	CycleTimeout time.Duration
	// StoreAttempts is how many times listing groups is tried per cycle.
	StoreAttempts int
	StoreBackoff  time.Duration
}

func (o Options) withDefaults() Options {
	if len(o.PrayerNames) == 0 {
		o.PrayerNames = []string{"Fajr", "Dhuhr", "Asr", "Maghrib", "Isha"}
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.CycleTimeout <= 0 {
		o.CycleTimeout = 5 * time.Minute
	}
	if o.StoreAttempts <= 0 {
		o.StoreAttempts = 3
	}
	if o.StoreBackoff <= 0 {
		o.StoreBackoff = time.Second
	}
	return o
}

// CycleReport summarises one regeneration.
type CycleReport struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Cancelled int       `json:"cancelled"`
	Groups    int       `json:"groups"`
	Failed    int       `json:"failed"`
	Timers    int       `json:"timers"`
}

type flight struct {
	done   chan struct{}
	report CycleReport
	err    error
}

func newFlight() *flight {
	return &flight{done: make(chan struct{})}
}

// Orchestrator owns the regeneration cycle: cancel every reminder, read the
// directory, rebuild each active group. Cycles never overlap; requests made
// while one runs are coalesced into a single follow-up cycle.
type Orchestrator struct {
	directory Directory
	builder   GroupBuilder
	registry  *Registry
	cron      *Cron
	opts      Options
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	current *flight
	next    *flight

	// cycleMu is held while a cycle mutates the registry.
	cycleMu sync.Mutex
	cycles  atomic.Int64
}

func NewOrchestrator(directory Directory, builder GroupBuilder, registry *Registry, cron *Cron, opts Options, logger zerolog.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		directory: directory,
		builder:   builder,
		registry:  registry,
		cron:      cron,
		opts:      opts.withDefaults(),
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the midnight refresh and kicks off the initial population.
func (o *Orchestrator) Start() error {
	if err := o.ScheduleDailyRefresh(); err != nil {
		return fmt.Errorf("schedule daily refresh: %w", err)
	}
	o.cron.Start()
	o.TriggerRegenerateNow()
	return nil
}

// Stop halts the cron, waits for an in-flight cycle and closes the registry.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.cron.Stop()
	o.wg.Wait()
	o.registry.Close()
}

// ScheduleDailyRefresh registers the midnight regeneration.
func (o *Orchestrator) ScheduleDailyRefresh() error {
	return o.cron.ScheduleDailyRefresh(func() {
		o.logger.Info().Msg("midnight refresh")
		if _, err := o.RegenerateAll(o.ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error().Err(err).Msg("midnight refresh failed")
		}
	})
}

// RegenerateAll runs a regeneration cycle and waits for it. If a cycle is
// already running, the caller joins the follow-up cycle queued behind it.
func (o *Orchestrator) RegenerateAll(ctx context.Context) (CycleReport, error) {
	f := o.request()
	select {
	case <-f.done:
		return f.report, f.err
	case <-ctx.Done():
		return CycleReport{}, ctx.Err()
	}
}

// TriggerRegenerateNow requests a cycle without waiting for it.
func (o *Orchestrator) TriggerRegenerateNow() {
	o.request()
}

// OnGroupRegistered is called after a group is created or updated.
func (o *Orchestrator) OnGroupRegistered(g storage.Group) {
	o.logger.Info().Str("group", g.ID).Str("location", g.Location).Msg("group registered")
	o.TriggerRegenerateNow()
}

// TriggerCancelAll cancels every pending reminder. It waits for a running
// cycle to finish first so the cancellation is not undone by it.
func (o *Orchestrator) TriggerCancelAll() int {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	n := o.registry.CancelAll()
	o.logger.Info().Int("cancelled", n).Msg("all reminders cancelled")
	return n
}

// Timers lists pending reminders.
func (o *Orchestrator) Timers() []TimerInfo {
	return o.registry.List()
}

// NextRefresh reports when the midnight refresh fires next.
func (o *Orchestrator) NextRefresh() time.Time {
	return o.cron.NextRefresh()
}

// Cycles reports how many cycles have completed.
func (o *Orchestrator) Cycles() int64 {
	return o.cycles.Load()
}

func (o *Orchestrator) request() *flight {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.ctx.Err(); err != nil {
		f := newFlight()
		f.err = err
		close(f.done)
		return f
	}
	if o.current == nil {
		f := newFlight()
		o.current = f
		o.wg.Add(1)
		go o.drain(f)
		return f
	}
	if o.next == nil {
		o.next = newFlight()
	}
	return o.next
}

func (o *Orchestrator) drain(f *flight) {
	defer o.wg.Done()
	for f != nil {
		f.report, f.err = o.regenerate(o.ctx)
		close(f.done)

		o.mu.Lock()
		f = o.next
		o.next = nil
		o.current = f
		o.mu.Unlock()
	}
}

func (o *Orchestrator) regenerate(ctx context.Context) (CycleReport, error) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	defer o.cycles.Add(1)

	report := CycleReport{ID: uuid.NewString(), StartedAt: time.Now()}
	log := o.logger.With().Str("cycle", report.ID).Logger()

	ctx, cancel := context.WithTimeout(ctx, o.opts.CycleTimeout)
	defer cancel()

	report.Cancelled = o.registry.CancelAll()

	groups, err := o.listGroups(ctx)
	if err != nil {
		log.Error().Err(err).Int("cancelled", report.Cancelled).Msg("regeneration aborted, no reminders scheduled")
		return report, err
	}

	var failed, built atomic.Int64
	var eg errgroup.Group
	eg.SetLimit(o.opts.Concurrency)
	for _, g := range groups {
		if !g.Active {
			continue
		}
		report.Groups++
		eg.Go(func() error {
			n, err := o.builder.Build(ctx, g, o.opts.PrayerNames)
			built.Add(int64(n))
			if err != nil {
				failed.Add(1)
				o.logBuildError(log, g, err)
			}
			return nil
		})
	}
	_ = eg.Wait()

	report.Failed = int(failed.Load())
	report.Timers = int(built.Load())
	log.Info().
		Int("cancelled", report.Cancelled).
		Int("groups", report.Groups).
		Int("failed", report.Failed).
		Int("timers", report.Timers).
		Dur("took", time.Since(report.StartedAt)).
		Msg("regeneration complete")
	return report, nil
}

func (o *Orchestrator) logBuildError(log zerolog.Logger, g storage.Group, err error) {
	ev := log.Warn()
	switch {
	case errors.Is(err, ErrDuplicateLabel):
		// cancel-all precedes every build, so this is an ordering bug
		ev = log.Error()
	case errors.Is(err, prayertimes.ErrUnknownLocation):
		ev = ev.Str("kind", "unknown_location")
	case errors.Is(err, prayertimes.ErrProviderUnavailable):
		ev = ev.Str("kind", "provider_unavailable")
	case errors.Is(err, prayertimes.ErrMalformedResponse):
		ev = ev.Str("kind", "malformed_response")
	}
	ev.Err(err).Str("group", g.ID).Str("location", g.Location).Msg("group schedule failed")
}

func (o *Orchestrator) listGroups(ctx context.Context) ([]storage.Group, error) {
	var err error
	delay := o.opts.StoreBackoff
	for attempt := 1; attempt <= o.opts.StoreAttempts; attempt++ {
		var groups []storage.Group
		groups, err = o.directory.ListGroups(ctx)
		if err == nil {
			return groups, nil
		}
		if attempt == o.opts.StoreAttempts {
			break
		}
		o.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("list groups failed")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("list groups: %w", errors.Join(storage.ErrStoreUnavailable, ctx.Err()))
		case <-time.After(delay):
		}
		delay *= 2
	}
	if !errors.Is(err, storage.ErrStoreUnavailable) {
		err = fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}
	return nil, fmt.Errorf("list groups: %w", err)
}
