package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deusflow/digestbot/internal/config"
	"github.com/deusflow/digestbot/internal/digest"
	"github.com/deusflow/digestbot/internal/logger"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>T</title>
<item><title>Sanctions on banks</title><link>https://example.com/1</link><description>New sanctions.</description></item>
<item><title>Weather</title><link>https://example.com/2</link><description>Sunny.</description></item>
<item><title>Trade war talks</title><link>https://example.com/3</link><description>Delegations met.</description></item>
</channel></rss>`

type sentMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type fakeTelegram struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeTelegram) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		var m sentMessage
		json.NewDecoder(r.Body).Decode(&m)
		f.mu.Lock()
		f.sent = append(f.sent, m)
		f.mu.Unlock()
		w.Write([]byte(`{"ok":true,"result":{}}`))
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		w.Write([]byte(`{"ok":true,"result":{"id":1,"username":"DigestBot"}}`))
	default:
		w.Write([]byte(`{"ok":true,"result":[]}`))
	}
}

func (f *fakeTelegram) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func testConfig(t *testing.T, apiURL, domestic, international string) *config.Config {
	t.Helper()
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "")

	yaml := fmt.Sprintf(`
telegram:
  token: "1:test"
  recipient: "42"
  api_url: %q
keywords: [sanctions, war]
feeds:
  domestic: [%q]
  international: [%q]
ratios:
  domestic: 1
  international: 0.5
schedule:
  day: fri
  time: "18:00"
manual:
  min_interval: 1h
  burst: 1
`, apiURL, domestic, international)

	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Failed to build config: %v", err)
	}
	return cfg
}

func feedServer(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
}

func TestRunOnce_DryRun(t *testing.T) {
	dom := feedServer(feedXML)
	defer dom.Close()
	intl := feedServer(feedXML)
	defer intl.Close()

	var out bytes.Buffer
	cfg := testConfig(t, "https://api.telegram.org", dom.URL, intl.URL)

	err := Run(context.Background(), cfg, Options{Once: true, DryRun: true, Out: &out, Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	text := out.String()
	if !strings.HasPrefix(text, "--- to 42 (rich) ---\nWeekly news digest:\n\n") {
		t.Errorf("Unexpected output:\n%s", text)
	}
	// 2 matched per pool: all domestic, floor(2*0.5) international.
	body := strings.TrimPrefix(text, "--- to 42 (rich) ---\n")
	if entries := digest.Parse(body); len(entries) != 3 {
		t.Errorf("Expected 3 entries, got %d:\n%s", len(entries), text)
	}
	if strings.Contains(text, "Weather") {
		t.Error("Expected non-matching item to be filtered out")
	}
}

func TestRunOnce_NothingFound(t *testing.T) {
	empty := feedServer(`<rss version="2.0"><channel><title>T</title></channel></rss>`)
	defer empty.Close()

	var out bytes.Buffer
	cfg := testConfig(t, "https://api.telegram.org", empty.URL, empty.URL)

	if err := Run(context.Background(), cfg, Options{Once: true, DryRun: true, Out: &out, Logger: logger.Discard()}); err != nil {
		t.Fatal(err)
	}
	if want := "--- to 42 (plain) ---\nNo news found for the keywords.\n"; out.String() != want {
		t.Errorf("Expected not-found message, got %q", out.String())
	}
}

func TestHandleDigest_RateLimited(t *testing.T) {
	tg := &fakeTelegram{}
	api := httptest.NewServer(http.HandlerFunc(tg.handler))
	defer api.Close()
	dom := feedServer(feedXML)
	defer dom.Close()

	a := New(testConfig(t, api.URL, dom.URL, dom.URL), Options{Logger: logger.Discard()})

	a.HandleDigest(context.Background(), "7")
	a.HandleDigest(context.Background(), "7")

	msgs := tg.messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected digest plus one reply, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].ChatID != "42" || msgs[0].ParseMode != "Markdown" {
		t.Errorf("Expected digest delivered to the recipient, got %+v", msgs[0])
	}
	if msgs[1].ChatID != "7" || msgs[1].Text != config.DefaultRateLimited || msgs[1].ParseMode != "" {
		t.Errorf("Expected plain rate-limit reply to the asking chat, got %+v", msgs[1])
	}
	if got := a.Metrics().GetStats()["manual_rate_limited"]; got != int64(1) {
		t.Errorf("Expected one rate-limited request, got %v", got)
	}
}

func TestHandleDigest_BusyReply(t *testing.T) {
	tg := &fakeTelegram{}
	api := httptest.NewServer(http.HandlerFunc(tg.handler))
	defer api.Close()

	requested := make(chan struct{}, 4)
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested <- struct{}{}
		<-release
		w.Write([]byte(feedXML))
	}))
	defer slow.Close()

	cfg := testConfig(t, api.URL, slow.URL, slow.URL)
	cfg.Manual.MinInterval = 0
	a := New(cfg, Options{Logger: logger.Discard()})

	done := make(chan struct{})
	go func() {
		a.HandleDigest(context.Background(), "7")
		close(done)
	}()
	<-requested

	a.HandleDigest(context.Background(), "8")
	close(release)
	<-done

	msgs := tg.messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected busy reply and digest, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].ChatID != "8" || msgs[0].Text != config.DefaultBusy {
		t.Errorf("Expected busy reply to chat 8 first, got %+v", msgs[0])
	}
	if msgs[1].ChatID != "42" {
		t.Errorf("Expected digest to the recipient, got %+v", msgs[1])
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	dom := feedServer(feedXML)
	defer dom.Close()

	cfg := testConfig(t, "https://api.telegram.org", dom.URL, dom.URL)
	a := New(cfg, Options{DryRun: true, Logger: logger.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_PollsCommands(t *testing.T) {
	var polled sync.Once
	polledCh := make(chan struct{})
	tg := &fakeTelegram{}
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/getUpdates") {
			polled.Do(func() { close(polledCh) })
			w.Header().Set("Content-Type", "application/json")
			select {
			case <-r.Context().Done():
			case <-time.After(50 * time.Millisecond):
			}
			w.Write([]byte(`{"ok":true,"result":[]}`))
			return
		}
		tg.handler(w, r)
	}))
	defer api.Close()
	dom := feedServer(feedXML)
	defer dom.Close()

	cfg := testConfig(t, api.URL, dom.URL, dom.URL)
	a := New(cfg, Options{Logger: logger.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	select {
	case <-polledCh:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected the bot to poll for updates")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
