package rss

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/deusflow/digestbot/internal/logger"
	"github.com/deusflow/digestbot/internal/news"
)

// maxFeedBytes caps how much of a single feed body is read.
const maxFeedBytes = 10 << 20

// FetchError is a failure to retrieve or parse one source. It never aborts
// a batch; Fetch logs it and records it in the Result.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Result summarises one Fetch call.
type Result struct {
	Sources int
	Failed  int
	Entries int
	Matched int
	Errors  []*FetchError
}

type Options struct {
	Client      *http.Client
	Timeout     time.Duration // per source
	Concurrency int
	UserAgent   string
	Summary     news.SummaryPolicy
	Logger      *slog.Logger
}

// Fetcher downloads feeds, keeps the entries that mention a keyword and
// turns them into digest items.
type Fetcher struct {
	client      *http.Client
	timeout     time.Duration
	concurrency int
	userAgent   string
	summary     news.SummaryPolicy
	log         *slog.Logger
}

func NewFetcher(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{
		client:      client,
		timeout:     cmp.Or(opts.Timeout, 20*time.Second),
		concurrency: max(opts.Concurrency, 1),
		userAgent:   opts.UserAgent,
		summary:     opts.Summary,
		log:         logger.Or(opts.Logger),
	}
}

// Fetch retrieves every source and returns the matched items in the order
// they were encountered: source order first, entry order within a source.
// A failing or hanging source is logged and skipped; it never fails or
// blocks the others beyond its own timeout.
func (f *Fetcher) Fetch(ctx context.Context, sources []string, matcher *news.Matcher) ([]news.Item, Result) {
	res := Result{Sources: len(sources)}
	perSource := make([][]news.Item, len(sources))
	entries := make([]int, len(sources))
	errs := make([]*FetchError, len(sources))

	var g errgroup.Group
	g.SetLimit(f.concurrency)

	for i, src := range sources {
		g.Go(func() error {
			got, err := f.fetchSource(ctx, src)
			if err != nil {
				errs[i] = &FetchError{URL: src, Err: err}
				return nil
			}
			entries[i] = len(got)
			perSource[i] = f.filter(got, matcher)
			return nil // never fail the group, errors are per source
		})
	}
	_ = g.Wait()

	var items []news.Item
	for i, src := range sources {
		if errs[i] != nil {
			res.Failed++
			res.Errors = append(res.Errors, errs[i])
			f.log.Warn("Error parsing RSS", "url", src, "error", errs[i].Err)
			continue
		}
		res.Entries += entries[i]
		res.Matched += len(perSource[i])
		items = append(items, perSource[i]...)
		f.log.Debug("Loaded feed", "url", src, "entries", entries[i], "matched", len(perSource[i]))
	}

	f.log.Info("Processed RSS feeds",
		"ok", res.Sources-res.Failed, "total", res.Sources,
		"entries", res.Entries, "matched", res.Matched)
	return items, res
}

func (f *Fetcher) filter(entries []news.Entry, matcher *news.Matcher) []news.Item {
	var items []news.Item
	for _, e := range entries {
		if !matcher.Match(e.CheckText()) {
			continue
		}
		items = append(items, f.summary.NewItem(e))
	}
	return items
}

// fetchSource does one GET with its own timeout and parses the body.
func (f *Fetcher) fetchSource(ctx context.Context, url string) ([]news.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.log.Debug("Failed to close response body", "url", url, "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("failed to read feed: %w", errors.Join(ctxErr, err))
		}
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	out := make([]news.Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		e, ok := f.normalize(item)
		if !ok {
			f.log.Debug("Skipping entry without link", "url", url, "title", item.Title)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// normalize maps a gofeed item to an Entry. The summary is the item
// description, falling back to its content when the feed has no summary.
func (f *Fetcher) normalize(item *gofeed.Item) (news.Entry, bool) {
	if item == nil {
		return news.Entry{}, false
	}
	link := strings.TrimSpace(item.Link)
	if link == "" && len(item.Links) > 0 {
		link = strings.TrimSpace(item.Links[0])
	}
	if link == "" {
		return news.Entry{}, false
	}

	return news.Entry{
		Title:   strings.TrimSpace(item.Title),
		Summary: f.summary.Prepare(cmp.Or(item.Description, item.Content)),
		Link:    link,
	}, true
}
