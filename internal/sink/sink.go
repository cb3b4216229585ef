// Package sink defines where finished digests are delivered.
package sink

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Mode selects how the receiving side interprets the text.
type Mode int

const (
	// Plain text, no markup.
	Plain Mode = iota
	// Rich text: [label](url) links are rendered as hyperlinks.
	Rich
)

func (m Mode) String() string {
	switch m {
	case Plain:
		return "plain"
	case Rich:
		return "rich"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Sink delivers one message to one chat. It makes a single attempt; an
// error means the message was not delivered.
type Sink interface {
	Send(ctx context.Context, chatID, text string, mode Mode) error
}

// WriterSink prints messages instead of sending them. Used for dry runs.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Send(ctx context.Context, chatID, text string, mode Mode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := fmt.Fprintf(s.w, "--- to %s (%s) ---\n%s\n", chatID, mode, text)
	return err
}
