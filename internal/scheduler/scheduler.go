package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"prayer-bot/internal/logging"
)

// MidnightSpec fires at 00:00 in the cron's location.
const MidnightSpec = "0 0 * * *"

// Cron runs recurring jobs. Its entries are independent of the Registry, so
// they survive CancelAll.
type Cron struct {
	cron      *cron.Cron
	refreshID cron.EntryID
}

func NewCron(loc *time.Location, logger zerolog.Logger) *Cron {
	l := logging.NewCronLogger(logger)
	return &Cron{cron: cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l)),
	)}
}

func (c *Cron) Start() {
	c.cron.Start()
}

// Stop halts the cron and waits for running jobs.
func (c *Cron) Stop() {
	<-c.cron.Stop().Done()
}

// ScheduleDailyRefresh registers refresh to run every midnight. Calling it
// again replaces the previous entry.
func (c *Cron) ScheduleDailyRefresh(refresh func()) error {
	id, err := c.cron.AddFunc(MidnightSpec, refresh)
	if err != nil {
		return err
	}
	if c.refreshID != 0 {
		c.cron.Remove(c.refreshID)
	}
	c.refreshID = id
	return nil
}

// NextRefresh reports when the daily refresh fires next. It is zero until the
// cron is started.
func (c *Cron) NextRefresh() time.Time {
	if c.refreshID == 0 {
		return time.Time{}
	}
	return c.cron.Entry(c.refreshID).Next
}
