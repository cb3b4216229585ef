package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deusflow/digestbot/internal/config"
	"github.com/deusflow/digestbot/internal/digest"
	"github.com/deusflow/digestbot/internal/logger"
	"github.com/deusflow/digestbot/internal/metrics"
	"github.com/deusflow/digestbot/internal/monitor"
	"github.com/deusflow/digestbot/internal/news"
	"github.com/deusflow/digestbot/internal/ratelimit"
	"github.com/deusflow/digestbot/internal/rss"
	"github.com/deusflow/digestbot/internal/scheduler"
	"github.com/deusflow/digestbot/internal/sink"
	"github.com/deusflow/digestbot/internal/telegram"
)

const shutdownTimeout = 30 * time.Second

type Options struct {
	// Once runs a single digest and returns.
	Once bool
	// DryRun prints messages to Out instead of sending them.
	DryRun bool
	Out    io.Writer
	Logger *slog.Logger
}

// App ties the digest pipeline to its triggers: the weekly schedule, the
// /digest command and the monitoring endpoint.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *metrics.Metrics

	digests *digest.Orchestrator
	limiter *ratelimit.TriggerLimiter
	replies sink.Sink
	client  *telegram.Client // nil in dry-run mode
}

// New builds the pipeline from cfg. Nothing is started.
func New(cfg *config.Config, opts Options) *App {
	log := logger.Or(opts.Logger)
	m := metrics.New()

	var (
		out    sink.Sink
		client *telegram.Client
	)
	if opts.DryRun {
		w := opts.Out
		if w == nil {
			w = os.Stdout
		}
		out = sink.NewWriterSink(w)
	} else {
		client = telegram.NewClient(cfg.Telegram.Token, cfg.Telegram.APIURL, &http.Client{}, log)
		out = client
	}

	fetcher := rss.NewFetcher(rss.Options{
		Timeout:     cfg.Fetch.Timeout,
		Concurrency: cfg.Fetch.Concurrency,
		UserAgent:   cfg.Fetch.UserAgent,
		Summary: news.SummaryPolicy{
			MaxChars:  cfg.Summary.MaxChars,
			Marker:    cfg.Summary.Marker,
			StripHTML: cfg.Summary.StripHTML,
		},
		Logger: log,
	})

	orch := digest.NewOrchestrator(digest.Options{
		Fetcher:   fetcher,
		Matcher:   news.NewMatcher(cfg.Keywords),
		Sampler:   digest.NewSampler(nil),
		Formatter: digest.NewFormatter(cfg.Messages.Header),
		Sink:      out,
		Settings: digest.Settings{
			Recipient:          cfg.Telegram.Recipient,
			Domestic:           cfg.Feeds.Domestic,
			International:      cfg.Feeds.International,
			DomesticRatio:      cfg.DomesticRatio(),
			InternationalRatio: cfg.InternationalRatio(),
			NotFound:           cfg.Messages.NotFound,
		},
		Metrics: m,
		Logger:  log,
	})

	return &App{
		cfg:     cfg,
		log:     log,
		metrics: m,
		digests: orch,
		limiter: ratelimit.NewTriggerLimiter(cfg.Manual.MinInterval, cfg.Manual.Burst),
		replies: out,
		client:  client,
	}
}

// Run starts every trigger and blocks until ctx is cancelled or a
// component fails. In Once mode it sends one digest and returns.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	a := New(cfg, opts)
	if opts.Once {
		return a.RunOnce(ctx)
	}
	return a.Serve(ctx)
}

// RunOnce sends one digest right away, bypassing the manual rate limit.
func (a *App) RunOnce(ctx context.Context) error {
	_, err := a.digests.RunScheduled(ctx)
	return err
}

// Serve runs the scheduler, the command poller and, when enabled, the
// monitoring server until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	spec, err := a.cfg.Schedule.CronSpec()
	if err != nil {
		return &config.ConfigurationError{Field: "schedule", Reason: err.Error()}
	}

	weekly, err := scheduler.NewWeekly(spec, a.cfg.Schedule.Location(), a.scheduledRun, a.log)
	if err != nil {
		return &config.ConfigurationError{Field: "schedule", Reason: err.Error()}
	}

	g, gctx := errgroup.WithContext(ctx)

	weekly.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := weekly.Stop(stopCtx); err != nil {
			a.log.Warn("Scheduler did not stop in time", "error", err)
		}
	}()

	if a.client != nil {
		poller, err := a.newPoller(gctx)
		if err != nil {
			return err
		}
		g.Go(func() error { return poller.Run(gctx) })
	} else {
		a.log.Info("Dry run: command poller disabled")
	}

	if a.cfg.Monitoring.Enabled {
		srv := monitor.NewServer(monitor.Options{
			Addr:    a.cfg.Monitoring.Addr,
			APIKey:  a.cfg.Monitoring.APIKey,
			Runner:  a,
			Metrics: a.metrics,
			Limiter: a.limiter,
			NextRun: weekly.Next,
			Logger:  a.log,
		})
		g.Go(srv.ListenAndServe)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.Warn("Monitoring server shutdown error", "error", err)
			}
			return nil
		})
	}

	a.log.Info("Digest bot started",
		"schedule", spec,
		"timezone", a.cfg.Schedule.Timezone,
		"domestic_sources", len(a.cfg.Feeds.Domestic),
		"international_sources", len(a.cfg.Feeds.International),
		"keywords", len(a.cfg.Keywords))

	<-gctx.Done()
	err = g.Wait()
	a.log.Info("Digest bot stopped")
	return err
}

func (a *App) newPoller(ctx context.Context) (*telegram.Poller, error) {
	me, err := a.client.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("telegram getMe: %w", err)
	}
	a.log.Info("Connected to Telegram", "username", me.Username)

	p := telegram.NewPoller(a.client, telegram.PollerOptions{
		Username: me.Username,
		Timeout:  a.cfg.Telegram.PollTimeout,
		Logger:   a.log,
	})
	p.Handle("digest", a.HandleDigest)
	return p, nil
}

func (a *App) scheduledRun(ctx context.Context) {
	_, err := a.digests.RunScheduled(ctx)
	if errors.Is(err, digest.ErrBusy) {
		a.log.Warn("Scheduled digest skipped, a run is already in progress")
	}
	// Delivery errors are logged by the orchestrator and left for next week.
}

// RunManual starts a manual run if the rate limit allows it.
func (a *App) RunManual(ctx context.Context) (*digest.Report, error) {
	if !a.limiter.Allow() {
		a.metrics.IncrementRateLimited()
		return nil, ratelimit.ErrLimited
	}
	return a.digests.RunManual(ctx)
}

// HandleDigest serves the /digest command. The digest goes to the
// configured recipient; busy and rate-limit notices go back to the chat
// that asked.
func (a *App) HandleDigest(ctx context.Context, chatID string) {
	_, err := a.RunManual(ctx)

	var reply string
	switch {
	case err == nil:
		return
	case errors.Is(err, ratelimit.ErrLimited):
		a.log.Info("Manual digest rate limited", "chat_id", chatID)
		reply = a.cfg.Messages.RateLimited
	case errors.Is(err, digest.ErrBusy):
		reply = a.cfg.Messages.Busy
	default:
		// Already logged with details by the orchestrator.
		return
	}

	if err := a.replies.Send(ctx, chatID, reply, sink.Plain); err != nil {
		a.log.Warn("Failed to reply to command", "chat_id", chatID, "error", err)
	}
}

// Metrics returns the process metrics.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

var _ monitor.Runner = (*App)(nil)
