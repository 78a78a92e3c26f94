// Package render owns the send-then-edit delivery of streamed text: the
// first chunk of a response becomes a new message, later chunks buffer and
// are folded into that message by periodic in-place edits.
package render

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flitsinc/go-chatbridge/internal/platform"
)

// Delivered describes one visible message a finished run produced.
type Delivered struct {
	ResponseID string
	Text       string
	MessageID  int64
	SentAt     time.Time
}

type session struct {
	messageID int64
	sentAt    time.Time
	committed string   // last text actually written to the platform
	buffer    []string // chunks appended since the last flush
	lastFlush time.Time
	flushed   bool
}

func (s *session) pending() string {
	return s.committed + strings.Join(s.buffer, "")
}

// Renderer manages one render session per response id. It is owned by a
// single consumer goroutine; nothing here is safe for concurrent use.
type Renderer struct {
	Messenger  platform.Messenger
	ChatID     int64
	ReplyTo    int64
	Log        *zap.Logger
	MaxLength  int
	StaleAfter time.Duration
	Now        func() time.Time

	sessions map[string]*session
	order    []string
}

func New(m platform.Messenger, chatID, replyTo int64, log *zap.Logger) *Renderer {
	return &Renderer{
		Messenger:  m,
		ChatID:     chatID,
		ReplyTo:    replyTo,
		Log:        log,
		MaxLength:  platform.MaxMessageLength,
		StaleAfter: 2 * time.Second,
		Now:        time.Now,
		sessions:   map[string]*session{},
	}
}

// Exists reports whether a session was already created for responseID.
func (r *Renderer) Exists(responseID string) bool {
	_, ok := r.sessions[responseID]
	return ok
}

// Start creates the session for responseID by sending the first chunk as a
// new message. Oversized first chunks keep their tail in the normal flush
// path. The caller must skip blank first chunks so a run that produces no
// visible output creates no message.
func (r *Renderer) Start(ctx context.Context, responseID, firstChunk string) error {
	parts := platform.SplitText(firstChunk, r.MaxLength)
	sent, err := r.Messenger.SendMessage(ctx, r.ChatID, platform.SanitizeHTML(parts[0]), platform.SendOptions{
		ReplyTo: r.ReplyTo,
	})
	if err != nil {
		return err
	}
	s := &session{
		messageID: sent.ID,
		sentAt:    sent.Date,
		committed: parts[0],
		lastFlush: r.Now(),
	}
	if len(parts) > 1 {
		s.buffer = append(s.buffer, strings.Join(parts[1:], ""))
	}
	r.sessions[responseID] = s
	r.order = append(r.order, responseID)
	return nil
}

// Append buffers a chunk for an existing session. Flushing is decoupled:
// appends never block on platform calls.
func (r *Renderer) Append(responseID, chunk string) {
	if s, ok := r.sessions[responseID]; ok {
		s.buffer = append(s.buffer, chunk)
	}
}

// FlushStale flushes sessions whose buffer has been waiting at least
// StaleAfter. Called from the periodic flush timer: busy buffers still get
// flushed, but edit calls stay infrequent.
func (r *Renderer) FlushStale(ctx context.Context) {
	now := r.Now()
	for _, id := range r.order {
		s := r.sessions[id]
		if len(s.buffer) == 0 || now.Sub(s.lastFlush) < r.StaleAfter {
			continue
		}
		if err := r.flush(ctx, s); err != nil {
			r.Log.Warn("flush failed", zap.String("response_id", id), zap.Error(err))
		}
	}
}

// FlushAll force-flushes every session with buffered text, regardless of
// staleness. Flushing an unchanged session is a no-op.
func (r *Renderer) FlushAll(ctx context.Context) {
	for _, id := range r.order {
		s := r.sessions[id]
		if len(s.buffer) == 0 {
			continue
		}
		if err := r.flush(ctx, s); err != nil {
			r.Log.Warn("final flush failed", zap.String("response_id", id), zap.Error(err))
		}
	}
}

// flush folds the buffer into the platform message: re-sanitize the full
// text, re-split it, edit the original message with segment one and send
// overflow segments as replies. The committed text advances only after a
// successful edit, so a failed flush retries with the buffer intact.
func (r *Renderer) flush(ctx context.Context, s *session) error {
	text := s.pending()
	parts := platform.SplitText(text, r.MaxLength)
	if err := r.Messenger.EditMessage(ctx, r.ChatID, s.messageID, platform.SanitizeHTML(parts[0])); err != nil {
		return err
	}
	for _, part := range parts[1:] {
		_, err := r.Messenger.SendMessage(ctx, r.ChatID, platform.SanitizeHTML(part), platform.SendOptions{
			ReplyTo: s.messageID,
		})
		if err != nil {
			r.Log.Warn("overflow segment failed", zap.Error(err))
		}
	}
	s.committed = text
	s.buffer = nil
	s.lastFlush = r.Now()
	s.flushed = true
	return nil
}

// Finalize force-flushes everything and reports the visible messages this
// run produced, in creation order. Sessions that never produced text are
// absent, not an error.
func (r *Renderer) Finalize(ctx context.Context) []Delivered {
	r.FlushAll(ctx)
	var out []Delivered
	for _, id := range r.order {
		s := r.sessions[id]
		if s.messageID == 0 || s.committed == "" {
			continue
		}
		out = append(out, Delivered{
			ResponseID: id,
			Text:       s.committed,
			MessageID:  s.messageID,
			SentAt:     s.sentAt,
		})
	}
	return out
}
