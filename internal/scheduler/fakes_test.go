package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"prayer-bot/internal/prayertimes"
	"prayer-bot/internal/storage"
)

var prayerNames = []string{"Fajr", "Dhuhr", "Asr", "Maghrib", "Isha"}

func zhongliTimes() *prayertimes.TimeSet {
	return &prayertimes.TimeSet{
		Location: "zhongli",
		Country:  "taiwan",
		Timezone: "Asia/Taipei",
		Entries: map[string]string{
			"Imsak":   "03:53",
			"Fajr":    "04:03",
			"Sunrise": "05:26",
			"Dhuhr":   "11:52",
			"Asr":     "15:10",
			"Maghrib": "17:31",
			"Isha":    "18:45",
		},
	}
}

type fakeProvider struct {
	mu      sync.Mutex
	sets    map[string]*prayertimes.TimeSet
	errs    map[string]error
	calls   int
	gate    chan struct{}
	entered chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		sets: map[string]*prayertimes.TimeSet{},
		errs: map[string]error{},
	}
}

func (p *fakeProvider) Fetch(ctx context.Context, location, country string) (*prayertimes.TimeSet, error) {
	p.mu.Lock()
	p.calls++
	gate, entered := p.gate, p.entered
	set, err := p.sets[location], p.errs[location]
	p.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, fmt.Errorf("fetch %s: %w", location, prayertimes.ErrUnknownLocation)
	}
	copied := *set
	return &copied, nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type sent struct {
	to, text string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (m *fakeMessenger) Send(_ context.Context, to, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sent{to, text})
	return nil
}

func (m *fakeMessenger) Sent() []sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sent(nil), m.sent...)
}

type fakeDirectory struct {
	mu       sync.Mutex
	groups   []storage.Group
	failures int
	calls    int
}

func (d *fakeDirectory) ListGroups(context.Context) ([]storage.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.failures != 0 {
		if d.failures > 0 {
			d.failures--
		}
		return nil, errors.New("connection refused")
	}
	return append([]storage.Group(nil), d.groups...), nil
}
