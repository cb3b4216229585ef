package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/deusflow/digestbot/internal/logger"
	"github.com/deusflow/digestbot/internal/metrics"
	"github.com/deusflow/digestbot/internal/news"
	"github.com/deusflow/digestbot/internal/rss"
	"github.com/deusflow/digestbot/internal/sink"
)

// ErrBusy is returned when a trigger arrives while another run is in flight.
var ErrBusy = errors.New("digest run already in progress")

// maxMessageRunes is Telegram's message length limit. Longer digests are
// still sent and left for the API to reject.
const maxMessageRunes = 4096

// Trigger is what started a run.
type Trigger string

const (
	Scheduled Trigger = "scheduled"
	Manual    Trigger = "manual"
)

// DeliveryError wraps a failed send. The run is not retried.
type DeliveryError struct {
	ChatID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver digest to %s: %v", e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Fetcher retrieves and filters one pool of sources.
type Fetcher interface {
	Fetch(ctx context.Context, sources []string, matcher *news.Matcher) ([]news.Item, rss.Result)
}

// Settings are the per-deployment values a run needs.
type Settings struct {
	Recipient          string
	Domestic           []string
	International      []string
	DomesticRatio      float64
	InternationalRatio float64
	NotFound           string
}

// Report describes one finished run.
type Report struct {
	Trigger       Trigger
	Domestic      int
	International int
	Selected      int
	FailedSources int
	NotFound      bool
	Chars         int
	Duration      time.Duration
}

// Orchestrator runs the fetch, sample, format and deliver pipeline. At most
// one run is in flight at a time.
type Orchestrator struct {
	fetcher   Fetcher
	matcher   *news.Matcher
	sampler   *Sampler
	formatter *Formatter
	sink      sink.Sink
	settings  Settings
	metrics   *metrics.Metrics
	log       *slog.Logger

	running sync.Mutex
}

type Options struct {
	Fetcher   Fetcher
	Matcher   *news.Matcher
	Sampler   *Sampler
	Formatter *Formatter
	Sink      sink.Sink
	Settings  Settings
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Sampler == nil {
		opts.Sampler = NewSampler(nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Orchestrator{
		fetcher:   opts.Fetcher,
		matcher:   opts.Matcher,
		sampler:   opts.Sampler,
		formatter: opts.Formatter,
		sink:      opts.Sink,
		settings:  opts.Settings,
		metrics:   opts.Metrics,
		log:       logger.Or(opts.Logger),
	}
}

func (o *Orchestrator) RunScheduled(ctx context.Context) (*Report, error) {
	return o.run(ctx, Scheduled)
}

func (o *Orchestrator) RunManual(ctx context.Context) (*Report, error) {
	return o.run(ctx, Manual)
}

func (o *Orchestrator) run(ctx context.Context, trigger Trigger) (*Report, error) {
	if !o.running.TryLock() {
		o.metrics.IncrementBusy()
		o.log.Warn("Digest run skipped, another run in progress", "trigger", trigger)
		return nil, ErrBusy
	}
	defer o.running.Unlock()

	o.metrics.IncrementRun(trigger == Manual)
	start := time.Now()
	o.log.Info("Digest run started", "trigger", trigger)

	s := o.settings
	domestic, dres := o.fetcher.Fetch(ctx, s.Domestic, o.matcher)
	o.metrics.RecordFetch(dres.Sources, dres.Failed, dres.Matched)
	international, ires := o.fetcher.Fetch(ctx, s.International, o.matcher)
	o.metrics.RecordFetch(ires.Sources, ires.Failed, ires.Matched)

	report := &Report{
		Trigger:       trigger,
		Domestic:      len(domestic),
		International: len(international),
		FailedSources: dres.Failed + ires.Failed,
	}

	var (
		text string
		mode sink.Mode
	)
	if len(domestic) == 0 && len(international) == 0 {
		report.NotFound = true
		text, mode = s.NotFound, sink.Plain
	} else {
		selected := o.sampler.Sample(domestic, international, s.DomesticRatio, s.InternationalRatio)
		report.Selected = len(selected)
		o.metrics.AddSelected(len(selected))
		text, mode = o.formatter.Format(selected), sink.Rich
	}
	report.Chars = utf8.RuneCountInString(text)

	if report.Chars > maxMessageRunes {
		o.log.Warn("Digest exceeds message limit", "runes", report.Chars, "limit", maxMessageRunes)
	}

	err := o.sink.Send(ctx, s.Recipient, text, mode)
	report.Duration = time.Since(start)
	o.metrics.RecordProcessingTime(report.Duration)

	if err != nil {
		o.metrics.IncrementDeliveryFailures()
		o.metrics.SetError(err.Error())
		o.log.Error("Digest delivery failed", "trigger", trigger, "chat_id", s.Recipient, "error", err)
		return report, &DeliveryError{ChatID: s.Recipient, Err: err}
	}

	o.metrics.IncrementDigestsSent(report.NotFound)
	o.metrics.SetLastRun()
	o.log.Info("Digest run finished",
		"trigger", trigger,
		"domestic", report.Domestic,
		"international", report.International,
		"selected", report.Selected,
		"not_found", report.NotFound,
		"failed_sources", report.FailedSources,
		"duration", report.Duration)
	return report, nil
}
