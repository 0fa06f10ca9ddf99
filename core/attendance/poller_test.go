package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	jujuerrors "github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/tests"
)

const shortWait = 2 * time.Second

type sweeperFunc func(ctx context.Context, now time.Time) (attendance.SweepResult, error)

func (f sweeperFunc) Sweep(ctx context.Context, now time.Time) (attendance.SweepResult, error) {
	return f(ctx, now)
}

func TestPollerConfig_Validate(t *testing.T) {
	valid := attendance.PollerConfig{
		Sweeper:  sweeperFunc(nil),
		Clock:    testclock.NewClock(friday),
		Logger:   testutil.NewLogger(),
		Schedule: "* * * * *",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(c *attendance.PollerConfig)
	}{
		{name: "no sweeper", modify: func(c *attendance.PollerConfig) { c.Sweeper = nil }},
		{name: "no clock", modify: func(c *attendance.PollerConfig) { c.Clock = nil }},
		{name: "no logger", modify: func(c *attendance.PollerConfig) { c.Logger = nil }},
		{name: "bad schedule", modify: func(c *attendance.PollerConfig) { c.Schedule = "every minute" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid
			tt.modify(&config)

			assert.True(t, jujuerrors.IsNotValid(config.Validate()))
			_, err := attendance.NewPoller(config)
			assert.True(t, jujuerrors.IsNotValid(err))
		})
	}
}

func TestPoller_ticks(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 30, 0, time.UTC)
	clk := testclock.NewClock(start)
	logger := testutil.NewLogger()

	calls := make(chan time.Time, 10)
	n := 0
	sweeper := sweeperFunc(func(_ context.Context, now time.Time) (attendance.SweepResult, error) {
		n++
		calls <- now
		if n == 1 {
			return attendance.SweepResult{}, errBoom
		}
		return attendance.SweepResult{Classes: 1, Inserted: 2}, nil
	})

	p, err := attendance.NewPoller(attendance.PollerConfig{
		Sweeper:  sweeper,
		Clock:    clk,
		Logger:   logger,
		Schedule: "* * * * *",
	})
	require.NoError(t, err)
	defer func() {
		p.Kill()
		assert.NoError(t, p.Wait())
	}()

	// the first tick fires on the next minute boundary
	require.NoError(t, clk.WaitAdvance(30*time.Second, shortWait, 1))
	assert.True(t, start.Add(30*time.Second).Equal(nextCall(t, calls)))

	// a failing sweep does not stop the poller
	require.NoError(t, clk.WaitAdvance(time.Minute, shortWait, 1))
	assert.True(t, start.Add(90*time.Second).Equal(nextCall(t, calls)))

	// wait for the next timer so both ticks are fully logged
	require.NoError(t, clk.WaitAdvance(0, shortWait, 1))
	assert.Equal(t, 1, logger.Count("error"))
	assert.Equal(t, 1, logger.Count("info"))
}

func TestPoller_sweepsDueClasses(t *testing.T) {
	f := newFixture(t)
	// 08:59:30 on Friday; the Piano class starts at 09:00:00
	clk := testclock.NewClock(time.Date(2024, 3, 1, 8, 59, 30, 0, time.UTC))

	p, err := attendance.NewPoller(attendance.PollerConfig{
		Sweeper:  f.svc,
		Clock:    clk,
		Logger:   f.logger,
		Schedule: f.conf.Poller.Schedule,
	})
	require.NoError(t, err)
	defer func() {
		p.Kill()
		assert.NoError(t, p.Wait())
	}()

	require.NoError(t, clk.WaitAdvance(30*time.Second, shortWait, 1))
	require.NoError(t, clk.WaitAdvance(0, shortWait, 1)) // the tick is over once the next timer is set

	recs := f.db.Records()
	assert.Len(t, recs, 3)
	for _, rec := range recs {
		assert.Equal(t, attendance.StatusAbsent, rec.Status)
		assert.Equal(t, attendance.MethodAuto, rec.Method)
	}
	assert.Len(t, f.pub.Published(), 3)
}

func TestPoller_stopsWhileSweeping(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	started := make(chan struct{})

	sweeper := sweeperFunc(func(ctx context.Context, _ time.Time) (attendance.SweepResult, error) {
		close(started)
		<-ctx.Done()
		return attendance.SweepResult{}, ctx.Err()
	})
	p, err := attendance.NewPoller(attendance.PollerConfig{
		Sweeper:  sweeper,
		Clock:    clk,
		Logger:   testutil.NewLogger(),
		Schedule: "* * * * *",
	})
	require.NoError(t, err)

	require.NoError(t, clk.WaitAdvance(time.Minute, shortWait, 1))
	select {
	case <-started:
	case <-time.After(shortWait):
		t.Fatal("sweep never started")
	}

	p.Kill()
	assert.NoError(t, p.Wait())
}

func nextCall(t *testing.T, calls <-chan time.Time) time.Time {
	t.Helper()
	select {
	case now := <-calls:
		return now
	case <-time.After(shortWait):
		t.Fatal("sweep not called")
	}
	return time.Time{}
}
