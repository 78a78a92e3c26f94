package dispatch

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/flitsinc/go-chatbridge/internal/platform"
	"github.com/flitsinc/go-chatbridge/internal/schema"
)

type call struct {
	method string
	chatID int64
	target int64
	value  string
	silent bool
	bytes  []byte
}

type fakeMessenger struct {
	platform.Messenger

	nextID      int64
	calls       []call
	memberState string // status reported by GetChatMember; empty means "member"
}

func (f *fakeMessenger) SendMessage(ctx context.Context, chatID int64, html string, opts platform.SendOptions) (platform.SentMessage, error) {
	f.nextID++
	f.calls = append(f.calls, call{method: "send", chatID: chatID, target: opts.ReplyTo, value: html, silent: opts.Silent})
	return platform.SentMessage{ID: f.nextID, Date: time.Unix(1700000000, 0)}, nil
}

func (f *fakeMessenger) SendPhoto(ctx context.Context, chatID int64, photo platform.InputFile, caption string) (platform.SentMessage, error) {
	f.nextID++
	f.calls = append(f.calls, call{method: "photo", chatID: chatID, value: photo.Ref, bytes: photo.Bytes})
	return platform.SentMessage{ID: f.nextID}, nil
}

func (f *fakeMessenger) SendVoice(ctx context.Context, chatID int64, voice platform.InputFile, caption string) (platform.SentMessage, error) {
	f.nextID++
	f.calls = append(f.calls, call{method: "voice", chatID: chatID, value: voice.Ref, bytes: voice.Bytes})
	return platform.SentMessage{ID: f.nextID}, nil
}

func (f *fakeMessenger) SetReaction(ctx context.Context, chatID, messageID int64, emoji string) error {
	f.calls = append(f.calls, call{method: "reaction", chatID: chatID, target: messageID, value: emoji})
	return nil
}

func (f *fakeMessenger) RestrictMember(ctx context.Context, chatID, userID int64) error {
	f.calls = append(f.calls, call{method: "restrict", chatID: chatID, target: userID})
	return nil
}

func (f *fakeMessenger) UnrestrictMember(ctx context.Context, chatID, userID int64) error {
	f.calls = append(f.calls, call{method: "unrestrict", chatID: chatID, target: userID})
	return nil
}

func (f *fakeMessenger) GetChatMember(ctx context.Context, chatID, userID int64) (platform.ChatMember, error) {
	status := f.memberState
	if status == "" {
		status = "member"
	}
	return platform.ChatMember{UserID: userID, Status: status}, nil
}

func newDispatcher(m *fakeMessenger) *Dispatcher {
	return &Dispatcher{Messenger: m, ChatID: 100, ReplyTo: 7, Log: zap.NewNop()}
}

func run(d *Dispatcher, actions ...schema.Action) {
	ch := make(chan schema.Action, len(actions))
	for _, a := range actions {
		ch <- a
	}
	close(ch)
	d.Run(context.Background(), ch)
}

func TestReactionTargetsTriggeringMessage(t *testing.T) {
	m := &fakeMessenger{}
	run(newDispatcher(m), schema.Action{Type: schema.ActionReaction, Value: "👍"})

	if len(m.calls) != 1 {
		t.Fatalf("calls = %+v", m.calls)
	}
	c := m.calls[0]
	if c.method != "reaction" || c.chatID != 100 || c.target != 7 || c.value != "👍" {
		t.Errorf("call = %+v", c)
	}
}

func TestSystemMessageRepliesAndReports(t *testing.T) {
	m := &fakeMessenger{}
	d := newDispatcher(m)
	var reported []string
	d.OnDelivered = func(ctx context.Context, text string, sent platform.SentMessage) {
		reported = append(reported, text)
	}

	run(d, schema.Action{Type: schema.ActionSystemMessage, Value: "  rules updated  "})

	if len(m.calls) != 1 {
		t.Fatalf("calls = %+v", m.calls)
	}
	if m.calls[0].value != "rules updated" || m.calls[0].target != 7 || m.calls[0].silent {
		t.Errorf("call = %+v", m.calls[0])
	}
	if len(reported) != 1 || reported[0] != "rules updated" {
		t.Errorf("reported = %v", reported)
	}
}

func TestSystemNotificationIsSilent(t *testing.T) {
	m := &fakeMessenger{}
	run(newDispatcher(m), schema.Action{Type: schema.ActionSystemNotification, Value: "fyi"})

	if len(m.calls) != 1 || !m.calls[0].silent {
		t.Fatalf("calls = %+v", m.calls)
	}
}

func TestBlankSystemMessageSendsNothing(t *testing.T) {
	m := &fakeMessenger{}
	run(newDispatcher(m), schema.Action{Type: schema.ActionSystemMessage, Value: "   "})
	if len(m.calls) != 0 {
		t.Fatalf("calls = %+v", m.calls)
	}
}

func TestImagePlainURL(t *testing.T) {
	m := &fakeMessenger{}
	run(newDispatcher(m), schema.Action{Type: schema.ActionImage, Value: "https://example.com/a.png"})

	if len(m.calls) != 1 || m.calls[0].method != "photo" || m.calls[0].value != "https://example.com/a.png" {
		t.Fatalf("calls = %+v", m.calls)
	}
}

func TestImageBase64Payload(t *testing.T) {
	m := &fakeMessenger{}
	data := base64.StdEncoding.EncodeToString([]byte("png bytes"))
	run(newDispatcher(m), schema.Action{Type: schema.ActionImage, Value: `{"b64_json": "` + data + `"}`})

	if len(m.calls) != 1 || m.calls[0].method != "photo" {
		t.Fatalf("calls = %+v", m.calls)
	}
	if string(m.calls[0].bytes) != "png bytes" {
		t.Errorf("decoded bytes = %q", m.calls[0].bytes)
	}
}

func TestImageBrokenBase64SendsNothing(t *testing.T) {
	m := &fakeMessenger{}
	run(newDispatcher(m), schema.Action{Type: schema.ActionImage, Value: `{"b64": "not base64!!!"}`})
	if len(m.calls) != 0 {
		t.Fatalf("broken payload must not produce a partial send; calls = %+v", m.calls)
	}
}

func TestVoicePlainValueIsRef(t *testing.T) {
	m := &fakeMessenger{}
	run(newDispatcher(m), schema.Action{Type: schema.ActionVoice, Value: "file-id-123"})

	if len(m.calls) != 1 || m.calls[0].method != "voice" || m.calls[0].value != "file-id-123" {
		t.Fatalf("calls = %+v", m.calls)
	}
}

func TestRestrictThenUnrestrictRunInOrder(t *testing.T) {
	m := &fakeMessenger{}
	run(newDispatcher(m),
		schema.Action{Type: schema.ActionRestrict, Value: `{"user_id": 42}`},
		schema.Action{Type: schema.ActionUnrestrict, Value: `{"user_id": 42}`},
	)

	if len(m.calls) != 2 {
		t.Fatalf("calls = %+v", m.calls)
	}
	if m.calls[0].method != "restrict" || m.calls[1].method != "unrestrict" {
		t.Errorf("order = %s, %s", m.calls[0].method, m.calls[1].method)
	}
	if m.calls[0].chatID != 100 {
		t.Errorf("missing chat id should fall back to the dispatcher chat, got %d", m.calls[0].chatID)
	}
	if m.calls[0].target != 42 {
		t.Errorf("user id = %d", m.calls[0].target)
	}
}

func TestRestrictSkipsAdmins(t *testing.T) {
	m := &fakeMessenger{memberState: "administrator"}
	run(newDispatcher(m), schema.Action{Type: schema.ActionRestrict, Value: `{"user_id": 42}`})

	for _, c := range m.calls {
		if c.method == "restrict" {
			t.Fatal("admins must not be restricted")
		}
	}
}

func TestUnknownActionIsIgnored(t *testing.T) {
	m := &fakeMessenger{}
	run(newDispatcher(m), schema.Action{Type: "teleport", Value: "x"})
	if len(m.calls) != 0 {
		t.Fatalf("calls = %+v", m.calls)
	}
}
