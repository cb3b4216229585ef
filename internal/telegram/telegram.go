package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/deusflow/digestbot/internal/logger"
	"github.com/deusflow/digestbot/internal/sink"
)

// MaxMessageRunes is the Bot API limit for sendMessage text.
const MaxMessageRunes = 4096

const sendTimeout = 30 * time.Second

// APIError is a request the Bot API answered with ok=false or a non-200 status.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram %s: status %d", e.Method, e.StatusCode)
	}
	return fmt.Sprintf("telegram %s: status %d: %s", e.Method, e.StatusCode, e.Description)
}

// Client talks to the Telegram Bot API over plain HTTPS + JSON.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

var _ sink.Sink = (*Client)(nil)

func NewClient(token, baseURL string, httpClient *http.Client, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     logger.Or(log),
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// Send delivers text to chatID in one attempt. Rich mode uses Telegram's
// legacy Markdown, which renders [label](url) as a link. There is no retry;
// the caller decides what a failed delivery means.
func (c *Client) Send(ctx context.Context, chatID, text string, mode sink.Mode) error {
	if n := utf8.RuneCountInString(text); n > MaxMessageRunes {
		c.log.Warn("Message exceeds Telegram limit", "chat_id", chatID, "runes", n, "limit", MaxMessageRunes)
	}

	payload := map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if mode == sink.Rich {
		payload["parse_mode"] = "Markdown"
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := c.call(ctx, "sendMessage", payload, nil); err != nil {
		return err
	}
	c.log.Info("Message sent to Telegram", "chat_id", chatID, "runes", utf8.RuneCountInString(text), "mode", mode.String())
	return nil
}

// User is the subset of the Bot API User object the bot needs.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// GetMe returns the bot's own account.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	var u User
	if err := c.call(ctx, "getMe", map[string]interface{}{}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

type Chat struct {
	ID int64 `json:"id"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// GetUpdates long-polls for new updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	payload := map[string]interface{}{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// call posts payload to the named method and decodes the result into out
// when out is non-nil.
func (c *Client) call(ctx context.Context, method string, payload map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error make JSON: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram %s: %s", method, c.redact(err.Error()))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The request URL carries the token; keep it out of logs.
		return fmt.Errorf("telegram %s: %s", method, c.redact(err.Error()))
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Debug("Failed to close response body", "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("telegram %s: read response: %w", method, err)
	}

	var ar apiResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{Method: method, StatusCode: resp.StatusCode}
		}
		return fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK || !ar.OK {
		return &APIError{Method: method, StatusCode: cmpStatus(ar.ErrorCode, resp.StatusCode), Description: ar.Description}
	}

	if out != nil && len(ar.Result) > 0 {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) redact(s string) string {
	if c.token == "" {
		return s
	}
	return strings.ReplaceAll(s, c.token, "<token>")
}

func cmpStatus(apiCode, httpCode int) int {
	if apiCode != 0 {
		return apiCode
	}
	return httpCode
}

// FormatChatID renders a numeric chat id the way the API expects it in text fields.
func FormatChatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
