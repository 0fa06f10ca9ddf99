package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/mahudhurio/core"
)

// Sweeper runs one absence sweep at the given instant.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (SweepResult, error)
}

// PollerConfig defines the operation of the Poller.
type PollerConfig struct {
	Sweeper  Sweeper
	Clock    clock.Clock
	Logger   core.Logger
	Schedule string
}

// Validate returns an error if config cannot drive the Poller.
func (config PollerConfig) Validate() error {
	if config.Sweeper == nil {
		return errors.NotValidf("nil Sweeper")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return errors.NotValidf("schedule %q", config.Schedule)
	}
	return nil
}

// Poller marks absent the students of classes that just started, on a cron schedule.
type Poller struct {
	catacomb catacomb.Catacomb
	config   PollerConfig
	schedule cron.Schedule
}

// NewPoller returns a running Poller backed by config, or an error.
func NewPoller(config PollerConfig) (*Poller, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	schedule, _ := cron.ParseStandard(config.Schedule)

	p := &Poller{
		config:   config,
		schedule: schedule,
	}
	err := catacomb.Invoke(catacomb.Plan{
		Site: &p.catacomb,
		Work: p.loop,
	})
	return p, errors.Trace(err)
}

// Kill is part of the worker.Worker interface.
func (p *Poller) Kill() {
	p.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (p *Poller) Wait() error {
	return p.catacomb.Wait()
}

func (p *Poller) loop() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.catacomb.Dying():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		now := p.config.Clock.Now()
		timer := p.config.Clock.NewTimer(p.schedule.Next(now).Sub(now))
		select {
		case <-p.catacomb.Dying():
			timer.Stop()
			return p.catacomb.ErrDying()
		case fired := <-timer.Chan():
			p.tick(ctx, fired)
		}
	}
}

func (p *Poller) tick(ctx context.Context, now time.Time) {
	res, err := p.config.Sweeper.Sweep(ctx, now)
	if err != nil {
		p.config.Logger.Error(fmt.Sprintf("absence sweep at %s", now.Format(time.RFC3339)), err)
	}
	if res.Inserted > 0 {
		p.config.Logger.Info(fmt.Sprintf("absence sweep: %d students marked absent across %d classes", res.Inserted, res.Classes))
	}
}
