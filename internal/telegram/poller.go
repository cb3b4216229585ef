package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/deusflow/digestbot/internal/logger"
	"github.com/deusflow/digestbot/internal/retry"
)

// CommandHandler serves one bot command. chatID is the chat it came from.
type CommandHandler func(ctx context.Context, chatID string)

// UpdateSource is the part of Client the poller uses.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
}

type PollerOptions struct {
	// Username is the bot's own name, used to accept "/cmd@name".
	Username string
	Timeout  time.Duration
	Retry    retry.RetryConfig
	Logger   *slog.Logger
}

// Poller long-polls getUpdates and dispatches commands. Each handler runs
// in its own goroutine so a slow digest never stalls polling.
type Poller struct {
	source   UpdateSource
	username string
	timeout  time.Duration
	retry    retry.RetryConfig
	log      *slog.Logger

	handlers map[string]CommandHandler
	wg       sync.WaitGroup
	offset   int64
}

func NewPoller(source UpdateSource, opts PollerOptions) *Poller {
	p := &Poller{
		source:   source,
		username: opts.Username,
		timeout:  opts.Timeout,
		retry:    opts.Retry,
		log:      logger.Or(opts.Logger),
		handlers: make(map[string]CommandHandler),
	}
	if p.retry.MaxAttempts == 0 {
		p.retry = retry.RetryConfig{
			MaxAttempts: 5,
			Delay:       time.Second,
			Backoff:     true,
			MaxDelay:    30 * time.Second,
		}
	}
	if p.retry.OnRetry == nil {
		p.retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			p.log.Warn("Polling updates failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		}
	}
	return p
}

// Handle registers h for command, given without the slash ("digest").
func (p *Poller) Handle(command string, h CommandHandler) {
	p.handlers[strings.ToLower(command)] = h
}

// Run polls until ctx is cancelled, then waits for in-flight handlers.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("Command poller started", "username", p.username, "timeout", p.timeout)
	defer p.wg.Wait()

	for {
		if err := ctx.Err(); err != nil {
			p.log.Info("Command poller stopped")
			return nil
		}
		if err := p.poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				continue
			}
			p.log.Error("Polling updates failed", "error", err)
			p.sleep(ctx, p.retry.MaxDelay)
		}
	}
}

func (p *Poller) poll(ctx context.Context) error {
	var updates []Update
	err := retry.WithRetry(ctx, p.retry, func() error {
		var err error
		updates, err = p.source.GetUpdates(ctx, p.offset, p.timeout)
		return err
	})
	if err != nil {
		return err
	}

	for _, u := range updates {
		if u.UpdateID >= p.offset {
			p.offset = u.UpdateID + 1
		}
		p.dispatch(ctx, u)
	}
	return nil
}

func (p *Poller) dispatch(ctx context.Context, u Update) {
	if u.Message == nil {
		return
	}
	cmd, ok := ParseCommand(u.Message.Text, p.username)
	if !ok {
		return
	}
	h, ok := p.handlers[cmd]
	if !ok {
		p.log.Debug("Ignoring unknown command", "command", cmd)
		return
	}

	chatID := FormatChatID(u.Message.Chat.ID)
	p.log.Info("Command received", "command", cmd, "chat_id", chatID)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		h(ctx, chatID)
	}()
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// ParseCommand extracts the lowercased command name from a message such
// as "/digest" or "/digest@MyBot extra". A command addressed to another
// bot is rejected.
func ParseCommand(text, username string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}
	cmd := fields[0][1:]
	if name, target, found := strings.Cut(cmd, "@"); found {
		if username == "" || !strings.EqualFold(target, username) {
			return "", false
		}
		cmd = name
	}
	if cmd == "" {
		return "", false
	}
	return strings.ToLower(cmd), true
}
