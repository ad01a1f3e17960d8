package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(zerolog.Nop())
	t.Cleanup(r.Close)
	return r
}

func noop(context.Context) {}

func TestRegistryFiresOnceAndRemoves(t *testing.T) {
	r := newTestRegistry(t)
	fired := make(chan struct{}, 2)

	err := r.Register(Key{"G1", "Fajr"}, "fajr|zhongli", time.Now().Add(20*time.Millisecond), func(context.Context) {
		fired <- struct{}{}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)

	select {
	case <-fired:
		t.Fatal("timer fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistryDuplicateKey(t *testing.T) {
	r := newTestRegistry(t)
	at := time.Now().Add(time.Hour)

	require.NoError(t, r.Register(Key{"G1", "Fajr"}, "a", at, noop))
	err := r.Register(Key{"G1", "Fajr"}, "b", at, noop)
	assert.ErrorIs(t, err, ErrDuplicateLabel)

	require.NoError(t, r.Register(Key{"G1", "Dhuhr"}, "c", at, noop))
	assert.Equal(t, 2, r.Len())
}

func TestRegistrySameLabelDifferentGroups(t *testing.T) {
	r := newTestRegistry(t)
	at := time.Now().Add(time.Hour)
	label := Label("Fajr", "zhongli", "04:03", at)

	require.NoError(t, r.Register(Key{"G1", "Fajr"}, label, at, noop))
	require.NoError(t, r.Register(Key{"G2", "Fajr"}, label, at, noop))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{label, label}, r.Labels())
}

func TestRegistryReleasesCronEntries(t *testing.T) {
	r := newTestRegistry(t)
	fired := make(chan struct{})

	require.NoError(t, r.Register(Key{"G1", "Fajr"}, "soon", time.Now().Add(10*time.Millisecond), func(context.Context) {
		close(fired)
	}))
	require.NoError(t, r.Register(Key{"G1", "Isha"}, "later", time.Now().Add(time.Hour), noop))
	require.NoError(t, r.Register(Key{"G2", "Isha"}, "later", time.Now().Add(time.Hour), noop))
	assert.Len(t, r.cron.Entries(), 3)

	<-fired
	assert.Eventually(t, func() bool { return len(r.cron.Entries()) == 2 }, time.Second, 5*time.Millisecond)

	r.Cancel(Key{"G1", "Isha"})
	assert.Len(t, r.cron.Entries(), 1)
	r.CancelAll()
	assert.Empty(t, r.cron.Entries())
}

func TestOnceScheduleYieldsSingleInstant(t *testing.T) {
	at := time.Date(2026, 10, 16, 4, 3, 0, 0, time.UTC)
	s := &once{at: at}

	assert.Equal(t, at, s.Next(at.Add(-time.Hour)))
	assert.True(t, s.Next(at).IsZero())
	assert.True(t, s.Next(at.Add(-time.Hour)).IsZero())
}

func TestRegistryRejectsPastFireTime(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Register(Key{"G1", "Fajr"}, "a", time.Now().Add(-time.Second), noop)
	assert.ErrorIs(t, err, ErrFireTimePassed)
	assert.Zero(t, r.Len())
}

func TestRegistryCancel(t *testing.T) {
	r := newTestRegistry(t)
	var fired atomic.Bool
	key := Key{"G1", "Fajr"}

	require.NoError(t, r.Register(key, "a", time.Now().Add(30*time.Millisecond), func(context.Context) { fired.Store(true) }))
	r.Cancel(key)
	r.Cancel(key)
	r.Cancel(Key{"missing", "Isha"})

	assert.Zero(t, r.Len())
	time.Sleep(80 * time.Millisecond)
	assert.False(t, fired.Load())

	// the key is free again
	require.NoError(t, r.Register(key, "a", time.Now().Add(time.Hour), noop))
}

func TestRegistryCancelAllIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	assert.Zero(t, r.CancelAll())

	var fired atomic.Int32
	for i := 0; i < 5; i++ {
		key := Key{fmt.Sprintf("G%d", i), "Asr"}
		require.NoError(t, r.Register(key, key.GroupID, time.Now().Add(30*time.Millisecond), func(context.Context) { fired.Add(1) }))
	}

	assert.Equal(t, 5, r.CancelAll())
	assert.Zero(t, r.CancelAll())
	assert.Empty(t, r.List())

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestRegistryListOrdered(t *testing.T) {
	r := newTestRegistry(t)
	base := time.Now().Add(time.Hour)

	require.NoError(t, r.Register(Key{"G1", "Isha"}, "isha", base.Add(3*time.Hour), noop))
	require.NoError(t, r.Register(Key{"G1", "Fajr"}, "fajr-b", base, noop))
	require.NoError(t, r.Register(Key{"G2", "Fajr"}, "fajr-a", base, noop))
	require.NoError(t, r.Register(Key{"G1", "Asr"}, "asr", base.Add(time.Hour), noop))

	assert.Equal(t, []string{"fajr-a", "fajr-b", "asr", "isha"}, r.Labels())

	timers := r.List()
	require.Len(t, timers, 4)
	assert.Equal(t, Key{"G2", "Fajr"}, timers[0].Key)
	assert.True(t, timers[3].FireAt.Equal(base.Add(3*time.Hour)))
	assert.Equal(t, 4, r.Len())
}

func TestRegistryPanickingActionIsIsolated(t *testing.T) {
	r := newTestRegistry(t)
	done := make(chan struct{})

	require.NoError(t, r.Register(Key{"G1", "Fajr"}, "boom", time.Now().Add(10*time.Millisecond), func(context.Context) {
		panic("gateway exploded")
	}))
	require.NoError(t, r.Register(Key{"G2", "Fajr"}, "ok", time.Now().Add(30*time.Millisecond), func(context.Context) {
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second timer did not fire")
	}
	require.NoError(t, r.Register(Key{"G1", "Fajr"}, "again", time.Now().Add(time.Hour), noop))
}

func TestRegistryReplacedEntryDoesNotFireStale(t *testing.T) {
	r := newTestRegistry(t)
	var stale, fresh atomic.Int32
	key := Key{"G1", "Fajr"}

	require.NoError(t, r.Register(key, "old", time.Now().Add(20*time.Millisecond), func(context.Context) { stale.Add(1) }))
	r.CancelAll()
	require.NoError(t, r.Register(key, "new", time.Now().Add(40*time.Millisecond), func(context.Context) { fresh.Add(1) }))

	assert.Eventually(t, func() bool { return fresh.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, stale.Load())
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := newTestRegistry(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				key := Key{fmt.Sprintf("G%d", i), fmt.Sprintf("P%d", j)}
				_ = r.Register(key, key.GroupID+key.Prayer, time.Now().Add(time.Hour), noop)
				if j%5 == 0 {
					r.CancelAll()
				}
				_ = r.List()
			}
		}()
	}
	wg.Wait()
	r.CancelAll()
	assert.Zero(t, r.Len())
}

func TestRegistryCloseCancelsActionContext(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	started := make(chan struct{})
	finished := make(chan error, 1)

	require.NoError(t, r.Register(Key{"G1", "Fajr"}, "slow", time.Now().Add(5*time.Millisecond), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
	}))

	<-started
	r.Close()
	assert.ErrorIs(t, <-finished, context.Canceled)
}
