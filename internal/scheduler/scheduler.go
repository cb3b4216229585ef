// Package scheduler fires the weekly digest job.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/deusflow/digestbot/internal/logger"
)

// Job is the scheduled work. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

// Weekly runs a job on a cron day-of-week/time spec in a fixed location.
type Weekly struct {
	cron   *cron.Cron
	id     cron.EntryID
	spec   string
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
}

// NewWeekly parses spec ("minute hour * * days") in loc and registers job.
// The job does not fire until Start is called.
func NewWeekly(spec string, loc *time.Location, job Job, log *slog.Logger) (*Weekly, error) {
	log = logger.Or(log)
	if loc == nil {
		loc = time.UTC
	}

	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	w := &Weekly{cron: c, spec: spec, ctx: ctx, cancel: cancel, log: log}

	id, err := c.AddFunc(spec, func() { job(w.ctx) })
	if err != nil {
		cancel()
		return nil, fmt.Errorf("bad schedule %q: %w", spec, err)
	}
	w.id = id
	return w, nil
}

func (w *Weekly) Start() {
	w.cron.Start()
	w.log.Info("Scheduler started", "spec", w.spec, "location", w.cron.Location().String(), "next", w.Next())
}

// Stop prevents further runs, cancels the running job's context and waits
// for it to return or for ctx to expire.
func (w *Weekly) Stop(ctx context.Context) error {
	done := w.cron.Stop()
	w.cancel()

	select {
	case <-done.Done():
		w.log.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next is the next planned fire time, zero before Start.
func (w *Weekly) Next() time.Time {
	return w.cron.Entry(w.id).Next
}

// NextAfter computes the fire time following t without a running scheduler.
func NextAfter(spec string, loc *time.Location, t time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return sched.Next(t.In(loc)), nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
