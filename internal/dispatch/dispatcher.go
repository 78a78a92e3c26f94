// Package dispatch executes the side-effect actions of a run, one at a
// time, in arrival order. Ordering matters: an unrestrict must never race
// the restrict it undoes, so actions are never run concurrently.
package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/flitsinc/go-chatbridge/internal/platform"
	"github.com/flitsinc/go-chatbridge/internal/schema"
)

// Dispatcher drains the action channel. Each handler is isolated: a failing
// action is logged and the loop moves on.
type Dispatcher struct {
	Messenger platform.Messenger
	ChatID    int64
	ReplyTo   int64 // the triggering message, target of reactions and replies
	Log       *zap.Logger

	// OnDelivered, when set, is invoked for every system message sent, so
	// the pipeline can record and backfill it like streamed output.
	OnDelivered func(ctx context.Context, text string, sent platform.SentMessage)
}

// Run consumes actions until the channel closes.
func (d *Dispatcher) Run(ctx context.Context, actions <-chan schema.Action) {
	for act := range actions {
		d.dispatch(ctx, act)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, act schema.Action) {
	d.Log.Info("dispatching action", zap.String("type", act.Type))
	switch act.Type {
	case schema.ActionReaction:
		d.reaction(ctx, act)
	case schema.ActionImage:
		d.image(ctx, act)
	case schema.ActionVoice:
		d.voice(ctx, act)
	case schema.ActionSystemMessage:
		d.systemMessage(ctx, act, false)
	case schema.ActionSystemNotification:
		d.systemMessage(ctx, act, true)
	case schema.ActionRestrict:
		d.restrict(ctx, act, true)
	case schema.ActionUnrestrict:
		d.restrict(ctx, act, false)
	default:
		d.Log.Warn("unknown action type", zap.String("type", act.Type))
	}
}

// reaction treats the value opaquely; producers hold the whitelist and the
// platform rejects strays.
func (d *Dispatcher) reaction(ctx context.Context, act schema.Action) {
	if err := d.Messenger.SetReaction(ctx, d.ChatID, d.ReplyTo, act.Value); err != nil {
		d.Log.Error("set reaction failed", zap.String("value", act.Value), zap.Error(err))
	}
}

func (d *Dispatcher) systemMessage(ctx context.Context, act schema.Action, silent bool) {
	text := strings.TrimSpace(act.Value)
	if text == "" {
		return
	}
	sanitized := platform.SanitizeHTML(text)
	for _, part := range platform.SplitText(sanitized, platform.MaxMessageLength) {
		sent, err := d.Messenger.SendMessage(ctx, d.ChatID, part, platform.SendOptions{
			ReplyTo: d.ReplyTo,
			Silent:  silent,
		})
		if err != nil {
			d.Log.Error("system message failed", zap.Error(err))
			continue
		}
		if d.OnDelivered != nil {
			d.OnDelivered(ctx, part, sent)
		}
	}
}

// mediaPayload is the JSON form of image/voice values. Plain string values
// (a URL or platform file id) are handled before this is consulted.
type mediaPayload struct {
	URL      string `json:"url"`
	ImageURL string `json:"image_url"`
	VoiceURL string `json:"voice_url"`
	FileID   string `json:"file_id"`
	B64      string `json:"b64"`
	B64JSON  string `json:"b64_json"`
	Base64   string `json:"base64"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

func (p mediaPayload) encoded() string {
	for _, v := range []string{p.B64JSON, p.B64, p.Base64} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (p mediaPayload) ref() string {
	for _, v := range []string{p.URL, p.ImageURL, p.VoiceURL, p.FileID} {
		if v != "" {
			return v
		}
	}
	return ""
}

func decodeMedia(value string) (mediaPayload, bool) {
	var p mediaPayload
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		return mediaPayload{}, false
	}
	return p, true
}

func (d *Dispatcher) image(ctx context.Context, act schema.Action) {
	raw := strings.TrimSpace(act.Value)
	if raw == "" {
		return
	}

	payload, isJSON := decodeMedia(raw)
	if !isJSON {
		if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
			if _, err := d.Messenger.SendPhoto(ctx, d.ChatID, platform.InputFile{Ref: raw}, ""); err != nil {
				d.Log.Error("send image failed", zap.Error(err))
			}
		}
		return
	}

	file := platform.InputFile{Name: payload.Filename}
	if encoded := payload.encoded(); encoded != "" {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			// No partial send on a broken payload.
			return
		}
		file.Bytes = data
		if file.Name == "" {
			file.Name = "image.png"
		}
	} else if ref := payload.ref(); ref != "" {
		file.Ref = ref
	} else {
		return
	}
	caption := platform.SanitizeHTML(strings.TrimSpace(payload.Caption))
	if _, err := d.Messenger.SendPhoto(ctx, d.ChatID, file, caption); err != nil {
		d.Log.Error("send image failed", zap.Error(err))
	}
}

func (d *Dispatcher) voice(ctx context.Context, act schema.Action) {
	raw := strings.TrimSpace(act.Value)
	if raw == "" {
		return
	}

	payload, isJSON := decodeMedia(raw)
	if !isJSON {
		// Plain URL or platform file id.
		if _, err := d.Messenger.SendVoice(ctx, d.ChatID, platform.InputFile{Ref: raw}, ""); err != nil {
			d.Log.Error("send voice failed", zap.Error(err))
		}
		return
	}

	file := platform.InputFile{Name: payload.Filename}
	if encoded := payload.encoded(); encoded != "" {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return
		}
		file.Bytes = data
		if file.Name == "" {
			file.Name = "voice.ogg"
		}
	} else if ref := payload.ref(); ref != "" {
		file.Ref = ref
	} else {
		return
	}
	caption := platform.SanitizeHTML(strings.TrimSpace(payload.Caption))
	if _, err := d.Messenger.SendVoice(ctx, d.ChatID, file, caption); err != nil {
		d.Log.Error("send voice failed", zap.Error(err))
	}
}

type memberTarget struct {
	UserID int64 `json:"user_id"`
	ChatID int64 `json:"chat_id"`
}

func (d *Dispatcher) restrict(ctx context.Context, act schema.Action, restrict bool) {
	var target memberTarget
	if err := json.Unmarshal([]byte(act.Value), &target); err != nil {
		d.Log.Error("bad member action payload", zap.String("type", act.Type), zap.Error(err))
		return
	}
	chatID := target.ChatID
	if chatID == 0 {
		chatID = d.ChatID
	}

	var err error
	if restrict {
		// Telegram rejects restricting admins anyway; checking first keeps
		// the error log clean and the refusal explicit.
		if member, merr := d.Messenger.GetChatMember(ctx, chatID, target.UserID); merr == nil {
			if member.Status == "administrator" || member.Status == "creator" {
				d.Log.Warn("refusing to restrict an admin",
					zap.Int64("user_id", target.UserID),
					zap.Int64("chat_id", chatID))
				return
			}
		}
		err = d.Messenger.RestrictMember(ctx, chatID, target.UserID)
	} else {
		err = d.Messenger.UnrestrictMember(ctx, chatID, target.UserID)
	}
	if err != nil {
		d.Log.Error("member permission change failed",
			zap.String("type", act.Type),
			zap.Int64("user_id", target.UserID),
			zap.Error(err))
		return
	}
	d.Log.Info("member permission changed",
		zap.String("type", act.Type),
		zap.Int64("user_id", target.UserID),
		zap.Int64("chat_id", chatID))
}
