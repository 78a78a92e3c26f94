package pipeline

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/flitsinc/go-chatbridge/internal/idgen"
	"github.com/flitsinc/go-chatbridge/internal/ingest"
	"github.com/flitsinc/go-chatbridge/internal/ledger"
	"github.com/flitsinc/go-chatbridge/internal/platform"
	"github.com/flitsinc/go-chatbridge/internal/record"
	"github.com/flitsinc/go-chatbridge/internal/runclient"
	"github.com/flitsinc/go-chatbridge/internal/schema"
	"github.com/flitsinc/go-chatbridge/internal/testutil"
)

type fakeStream struct {
	events []schema.StreamEvent
}

func (f *fakeStream) Next(ctx context.Context) (schema.StreamEvent, error) {
	if len(f.events) == 0 {
		return schema.StreamEvent{}, io.EOF
	}
	e := f.events[0]
	f.events = f.events[1:]
	return e, nil
}

func (f *fakeStream) Close() error { return nil }

type fakeRuns struct {
	mu      sync.Mutex
	created map[string]string // thread id -> graph id
	meta    map[string]any
	input   runclient.RunInput
	events  []schema.StreamEvent
	values  record.Values
	updates int
}

func (f *fakeRuns) CreateThread(ctx context.Context, threadID, graphID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.created == nil {
		f.created = map[string]string{}
	}
	f.created[threadID] = graphID
	return nil
}

func (f *fakeRuns) OpenRun(ctx context.Context, threadID string, input runclient.RunInput) (EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = input
	return &fakeStream{events: f.events}, nil
}

func (f *fakeRuns) MergeThreadMetadata(ctx context.Context, threadID string, partial map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meta = partial
	return nil
}

func (f *fakeRuns) ThreadState(ctx context.Context, threadID string) (record.Values, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values, nil
}

func (f *fakeRuns) UpdateThreadState(ctx context.Context, threadID string, patch record.Values) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	for _, field := range record.MessageFields {
		cur := f.values.MessagesByField(field)
		for _, in := range patch.MessagesByField(field) {
			for i := range cur {
				if cur[i].ID == in.ID {
					cur[i] = in
				}
			}
		}
	}
	return nil
}

type fakeMessenger struct {
	platform.Messenger

	mu        sync.Mutex
	nextID    int64
	sent      []string
	edits     []string
	reactions []string
}

func (f *fakeMessenger) SendMessage(ctx context.Context, chatID int64, html string, opts platform.SendOptions) (platform.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, html)
	return platform.SentMessage{ID: f.nextID, Date: time.Unix(1700000000, 0)}, nil
}

func (f *fakeMessenger) EditMessage(ctx context.Context, chatID, messageID int64, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, html)
	return nil
}

func (f *fakeMessenger) SetReaction(ctx context.Context, chatID, messageID int64, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, emoji)
	return nil
}

func messagesEvent(content, runID string) schema.StreamEvent {
	return schema.StreamEvent{
		Event: "messages",
		Data: []byte(`[
			{"content": "` + content + `", "type": "ai", "name": "chat_responder"},
			{"node": "responder", "run_id": "` + runID + `"}
		]`),
	}
}

func newService(t *testing.T, runs *fakeRuns, m *fakeMessenger) (*Service, *ledger.Store) {
	t.Helper()
	db, cleanup := testutil.OpenTestDB(t)
	t.Cleanup(cleanup)
	store := ledger.NewStore(db)
	return &Service{
		Runs:           runs,
		Messenger:      m,
		Ledger:         store,
		Log:            zap.NewNop(),
		ChatGraphID:    "supervisor",
		CommandGraphID: "command_router",
		Filters: ingest.Filters{
			DenyNodes:      []string{"planner"},
			FinalStages:    []string{"responder"},
			AllowedAuthors: []string{"chat_responder"},
		},
		AllowedAuthors: []string{"chat_responder"},
		FlushInterval:  10 * time.Millisecond,
	}, store
}

func inbound() Inbound {
	return Inbound{
		ChatID:       -1001234,
		ChatUsername: "ourclub",
		MessageID:    7,
		Text:         "hello bot",
		From:         record.Participant{Username: "alice"},
	}
}

func TestHandleMessageRendersStreamedText(t *testing.T) {
	runs := &fakeRuns{
		events: []schema.StreamEvent{
			messagesEvent("Hello", "run-1"),
			messagesEvent(", world", "run-1"),
		},
		values: record.Values{Messages: []record.Message{{
			ID:      "m1",
			Type:    record.RoleAssistant,
			Name:    "chat_responder",
			Content: "Hello, world",
		}}},
	}
	m := &fakeMessenger{}
	svc, store := newService(t, runs, m)

	if err := svc.HandleMessage(context.Background(), inbound()); err != nil {
		t.Fatal(err)
	}

	if len(m.sent) != 1 || m.sent[0] != "Hello" {
		t.Fatalf("sent = %v", m.sent)
	}
	if len(m.edits) == 0 || m.edits[len(m.edits)-1] != "Hello, world" {
		t.Fatalf("edits = %v", m.edits)
	}

	// The platform id made it back into the record.
	if runs.values.Messages[0].Extra[record.MetaMessageID] != int64(1) {
		t.Errorf("record extra = %v", runs.values.Messages[0].Extra)
	}
	if runs.values.Messages[0].Extra[record.MetaLink] != "https://t.me/ourclub/1" {
		t.Errorf("record link = %v", runs.values.Messages[0].Extra[record.MetaLink])
	}

	// And the delivery was written to the audit ledger.
	threadID := idgen.ThreadID(-1001234)
	rows, err := store.ListDeliveries(context.Background(), threadID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Text != "Hello, world" || !rows[0].Backfilled {
		t.Fatalf("ledger rows = %+v", rows)
	}
	if rows[0].Kind != ledger.KindStream {
		t.Errorf("kind = %q", rows[0].Kind)
	}
}

func TestHandleMessageRecordsDeliveryWhenBackfillFails(t *testing.T) {
	// No matching record ever appears, so the backfill exhausts its budget;
	// the delivery row must exist anyway, unmarked.
	runs := &fakeRuns{events: []schema.StreamEvent{
		messagesEvent("Hello", "run-1"),
	}}
	m := &fakeMessenger{}
	svc, store := newService(t, runs, m)
	svc.BackfillAttempts = 2
	svc.BackfillDelay = time.Millisecond

	if err := svc.HandleMessage(context.Background(), inbound()); err != nil {
		t.Fatal(err)
	}

	threadID := idgen.ThreadID(-1001234)
	rows, err := store.ListDeliveries(context.Background(), threadID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Text != "Hello" {
		t.Fatalf("ledger rows = %+v", rows)
	}
	if rows[0].Backfilled {
		t.Error("backfill never succeeded, row must stay unmarked")
	}
}

func TestHandleMessageBuildsRunInput(t *testing.T) {
	runs := &fakeRuns{}
	m := &fakeMessenger{}
	svc, _ := newService(t, runs, m)

	if err := svc.HandleMessage(context.Background(), inbound()); err != nil {
		t.Fatal(err)
	}

	threadID := idgen.ThreadID(-1001234)
	if runs.created[threadID] != "supervisor" {
		t.Errorf("created = %v", runs.created)
	}
	if runs.meta["chat_id"] != "-1001234" || runs.meta["last_sender"] != "alice" {
		t.Errorf("meta = %v", runs.meta)
	}
	in := runs.input
	if in.AssistantID != "supervisor" {
		t.Errorf("assistant id = %q", in.AssistantID)
	}
	if len(in.Input.Messages) != 1 || in.Input.Messages[0].Content != "hello bot" {
		t.Errorf("input messages = %+v", in.Input.Messages)
	}
	if in.Input.Messages[0].Type != record.RoleHuman || in.Input.Messages[0].Name != "alice" {
		t.Errorf("input message = %+v", in.Input.Messages[0])
	}
	if len(in.Input.Participants) != 1 || in.Input.Participants[0].Username != "alice" {
		t.Errorf("participants = %+v", in.Input.Participants)
	}
	if len(in.StreamModes) != 2 {
		t.Errorf("stream modes = %v", in.StreamModes)
	}
}

func TestHandleMessageRoutesCommands(t *testing.T) {
	runs := &fakeRuns{}
	m := &fakeMessenger{}
	svc, _ := newService(t, runs, m)

	in := inbound()
	in.Text = "/ticket list open"
	in.Command = true
	if err := svc.HandleMessage(context.Background(), in); err != nil {
		t.Fatal(err)
	}

	threadID := idgen.ThreadID(-1001234)
	if runs.created[threadID] != "command_router" {
		t.Errorf("created = %v", runs.created)
	}
	if runs.input.AssistantID != "command_router" {
		t.Errorf("assistant id = %q", runs.input.AssistantID)
	}
}

func TestHandleMessageDispatchesActions(t *testing.T) {
	runs := &fakeRuns{
		events: []schema.StreamEvent{{
			Event: "custom",
			Data:  []byte(`{"actions": [{"type": "reaction", "value": "👍"}]}`),
		}},
	}
	m := &fakeMessenger{}
	svc, _ := newService(t, runs, m)

	if err := svc.HandleMessage(context.Background(), inbound()); err != nil {
		t.Fatal(err)
	}
	if len(m.reactions) != 1 || m.reactions[0] != "👍" {
		t.Errorf("reactions = %v", m.reactions)
	}
	if len(m.sent) != 0 {
		t.Errorf("sent = %v", m.sent)
	}
}

func TestHandleMessageSilentRunSendsNothing(t *testing.T) {
	runs := &fakeRuns{events: []schema.StreamEvent{
		messagesEvent("internal planning", "run-1"),
	}}
	runs.events[0] = schema.StreamEvent{
		Event: "messages",
		Data: []byte(`[
			{"content": "internal planning", "type": "ai", "name": "planner_voice"},
			{"node": "planner", "run_id": "run-1"}
		]`),
	}
	m := &fakeMessenger{}
	svc, _ := newService(t, runs, m)

	if err := svc.HandleMessage(context.Background(), inbound()); err != nil {
		t.Fatal(err)
	}
	if len(m.sent) != 0 || len(m.edits) != 0 {
		t.Errorf("sent = %v, edits = %v", m.sent, m.edits)
	}
}

func TestMessageLink(t *testing.T) {
	cases := []struct {
		username  string
		chatID    int64
		messageID int64
		want      string
	}{
		{"ourclub", -1001234, 55, "https://t.me/ourclub/55"},
		{"@ourclub", -1001234, 55, "https://t.me/ourclub/55"},
		{"", -1001234567890, 55, "https://t.me/c/1234567890/55"},
		{"", 12345, 55, ""},
	}
	for _, tc := range cases {
		if got := MessageLink(tc.username, tc.chatID, tc.messageID); got != tc.want {
			t.Errorf("MessageLink(%q, %d, %d) = %q, want %q", tc.username, tc.chatID, tc.messageID, got, tc.want)
		}
	}
}
