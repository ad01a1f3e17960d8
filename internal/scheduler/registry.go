package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"prayer-bot/internal/logging"
)

// Action is run once when a timer fires. The context is cancelled when the
// registry is closed.
type Action func(ctx context.Context)

// Key identifies a reminder: at most one timer per group and prayer may be
// pending at a time.
type Key struct {
	GroupID string
	Prayer  string
}

// TimerInfo describes a pending timer.
type TimerInfo struct {
	Key    Key       `json:"key"`
	Label  string    `json:"label"`
	FireAt time.Time `json:"fire_at"`
}

type entry struct {
	info TimerInfo
	id   cron.EntryID
}

// once is a cron.Schedule that yields its instant a single time. Later calls
// return the zero time, which cron treats as never.
type once struct {
	at   time.Time
	used atomic.Bool
}

func (o *once) Next(time.Time) time.Time {
	if o.used.Swap(true) {
		return time.Time{}
	}
	return o.at
}

// Registry holds live one-shot timers dispatched by its own cron instance,
// separate from the daily refresh so that CancelAll never touches the latter.
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*entry
	cron    *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	now    func() time.Time
	logger zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With().Str("component", "registry").Logger()
	r := &Registry{
		entries: make(map[Key]*entry),
		cron:    cron.New(cron.WithLogger(logging.NewCronLogger(logger))),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
		logger:  logger,
	}
	r.cron.Start()
	return r
}

// Register schedules action to run at fireAt. It fails with ErrDuplicateLabel
// when a timer for key is already pending.
func (r *Registry) Register(key Key, label string, fireAt time.Time, action Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; ok {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateLabel, key.GroupID, key.Prayer)
	}
	if !fireAt.After(r.now()) {
		return fmt.Errorf("%w: %s at %s", ErrFireTimePassed, label, fireAt.Format(time.RFC3339))
	}

	e := &entry{info: TimerInfo{Key: key, Label: label, FireAt: fireAt}}
	e.id = r.cron.Schedule(&once{at: fireAt}, cron.FuncJob(func() { r.fire(e, action) }))
	r.entries[key] = e
	return nil
}

func (r *Registry) fire(e *entry, action Action) {
	r.mu.Lock()
	if cur, ok := r.entries[e.info.Key]; !ok || cur != e {
		// cancelled, possibly replaced by a newer cycle
		r.mu.Unlock()
		return
	}
	r.remove(e)
	r.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("label", e.info.Label).
				Interface("panic", rec).
				Msg("timer action panicked")
		}
	}()
	action(r.ctx)
}

// remove must be called with r.mu held.
func (r *Registry) remove(e *entry) {
	r.cron.Remove(e.id)
	delete(r.entries, e.info.Key)
}

// Cancel stops the timer for key. Missing keys are ignored.
func (r *Registry) Cancel(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		r.remove(e)
	}
}

// CancelAll stops every pending timer and returns how many were cancelled.
// A timer already firing is allowed to finish.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.entries)
	for _, e := range r.entries {
		r.remove(e)
	}
	return n
}

// List returns a snapshot of pending timers ordered by fire time, then label.
func (r *Registry) List() []TimerInfo {
	r.mu.Lock()
	out := make([]TimerInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Labels returns the labels of pending timers in List order.
func (r *Registry) Labels() []string {
	timers := r.List()
	labels := make([]string, len(timers))
	for i, t := range timers {
		labels[i] = t.Label
	}
	return labels
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close cancels all timers, cancels the context handed to running actions and
// waits for them to return.
func (r *Registry) Close() {
	r.CancelAll()
	r.cancel()
	<-r.cron.Stop().Done()
}
