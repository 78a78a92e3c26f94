package render

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/flitsinc/go-chatbridge/internal/platform"
)

type sentCall struct {
	text    string
	replyTo int64
}

type editCall struct {
	messageID int64
	text      string
}

type fakeMessenger struct {
	platform.Messenger

	nextID   int64
	sends    []sentCall
	edits    []editCall
	editErrs []error
}

func (f *fakeMessenger) SendMessage(ctx context.Context, chatID int64, html string, opts platform.SendOptions) (platform.SentMessage, error) {
	f.nextID++
	f.sends = append(f.sends, sentCall{text: html, replyTo: opts.ReplyTo})
	return platform.SentMessage{ID: f.nextID, Date: time.Unix(1700000000, 0)}, nil
}

func (f *fakeMessenger) EditMessage(ctx context.Context, chatID, messageID int64, html string) error {
	if len(f.editErrs) > 0 {
		err := f.editErrs[0]
		f.editErrs = f.editErrs[1:]
		if err != nil {
			return err
		}
	}
	f.edits = append(f.edits, editCall{messageID: messageID, text: html})
	return nil
}

func newTestRenderer(m *fakeMessenger) *Renderer {
	r := New(m, 100, 7, zap.NewNop())
	r.StaleAfter = 0 // every buffered session counts as stale
	return r
}

func TestStartSendsFirstChunkAsReply(t *testing.T) {
	m := &fakeMessenger{}
	r := newTestRenderer(m)

	if r.Exists("run-1") {
		t.Fatal("session should not exist before Start")
	}
	if err := r.Start(context.Background(), "run-1", "Hello"); err != nil {
		t.Fatal(err)
	}
	if !r.Exists("run-1") {
		t.Fatal("session should exist after Start")
	}
	if len(m.sends) != 1 || m.sends[0].text != "Hello" || m.sends[0].replyTo != 7 {
		t.Fatalf("sends = %+v", m.sends)
	}
}

func TestAppendThenFlushEditsInPlace(t *testing.T) {
	m := &fakeMessenger{}
	r := newTestRenderer(m)

	if err := r.Start(context.Background(), "run-1", "Hello"); err != nil {
		t.Fatal(err)
	}
	r.Append("run-1", ", ")
	r.Append("run-1", "world")
	r.FlushStale(context.Background())

	if len(m.edits) != 1 {
		t.Fatalf("edits = %+v", m.edits)
	}
	if m.edits[0].text != "Hello, world" {
		t.Errorf("edited text = %q", m.edits[0].text)
	}
	if m.edits[0].messageID != 1 {
		t.Errorf("edited message id = %d", m.edits[0].messageID)
	}
}

func TestFlushSkipsUnchangedSessions(t *testing.T) {
	m := &fakeMessenger{}
	r := newTestRenderer(m)

	if err := r.Start(context.Background(), "run-1", "Hello"); err != nil {
		t.Fatal(err)
	}
	r.FlushAll(context.Background())
	r.FlushAll(context.Background())
	if len(m.edits) != 0 {
		t.Fatalf("no buffer, no edit; got %+v", m.edits)
	}
}

func TestFailedEditKeepsBuffer(t *testing.T) {
	m := &fakeMessenger{editErrs: []error{errors.New("rate limited")}}
	r := newTestRenderer(m)

	if err := r.Start(context.Background(), "run-1", "Hello"); err != nil {
		t.Fatal(err)
	}
	r.Append("run-1", " again")
	r.FlushStale(context.Background()) // edit fails, buffer must survive
	r.FlushStale(context.Background())

	if len(m.edits) != 1 {
		t.Fatalf("edits = %+v", m.edits)
	}
	if m.edits[0].text != "Hello again" {
		t.Errorf("retry lost buffered text: %q", m.edits[0].text)
	}
}

func TestStaleAfterGatesFlush(t *testing.T) {
	m := &fakeMessenger{}
	r := New(m, 100, 0, zap.NewNop())
	now := time.Unix(1700000000, 0)
	r.Now = func() time.Time { return now }

	if err := r.Start(context.Background(), "run-1", "Hello"); err != nil {
		t.Fatal(err)
	}
	r.Append("run-1", " there")

	r.FlushStale(context.Background())
	if len(m.edits) != 0 {
		t.Fatal("buffer is fresh, flush should wait")
	}

	now = now.Add(3 * time.Second)
	r.FlushStale(context.Background())
	if len(m.edits) != 1 {
		t.Fatalf("stale buffer should flush; edits = %+v", m.edits)
	}
}

func TestOverflowSendsExtraSegments(t *testing.T) {
	m := &fakeMessenger{}
	r := newTestRenderer(m)
	r.MaxLength = 4000

	if err := r.Start(context.Background(), "run-1", "intro"); err != nil {
		t.Fatal(err)
	}
	r.Append("run-1", strings.Repeat("a", 9000))
	r.FlushAll(context.Background())

	// One original send, then the flush edits segment one and sends two
	// overflow segments as replies to the original message.
	if len(m.edits) != 1 {
		t.Fatalf("edits = %d", len(m.edits))
	}
	if len(m.sends) != 3 {
		t.Fatalf("sends = %d, want original + 2 overflow", len(m.sends))
	}
	for _, s := range m.sends[1:] {
		if s.replyTo != 1 {
			t.Errorf("overflow segment should reply to the original message, got %d", s.replyTo)
		}
	}
	if got := len(m.edits[0].text); got != 4000 {
		t.Errorf("segment one length = %d", got)
	}
}

func TestFinalizeReportsDeliveredInOrder(t *testing.T) {
	m := &fakeMessenger{}
	r := newTestRenderer(m)

	ctx := context.Background()
	if err := r.Start(ctx, "run-1", "first response"); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(ctx, "run-2", "second response"); err != nil {
		t.Fatal(err)
	}
	r.Append("run-1", " extended")

	delivered := r.Finalize(ctx)
	if len(delivered) != 2 {
		t.Fatalf("delivered = %+v", delivered)
	}
	if delivered[0].ResponseID != "run-1" || delivered[0].Text != "first response extended" {
		t.Errorf("delivered[0] = %+v", delivered[0])
	}
	if delivered[1].ResponseID != "run-2" || delivered[1].MessageID != 2 {
		t.Errorf("delivered[1] = %+v", delivered[1])
	}
}
