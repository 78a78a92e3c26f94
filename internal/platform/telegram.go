package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultAPIBase = "https://api.telegram.org"

// Bot is a Telegram Bot API client. Calls are paced by a shared rate
// limiter and bounded by the HTTP client's timeout so a stuck call can
// never hang the pipeline.
type Bot struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// BotOption configures a Bot.
type BotOption func(*Bot)

// WithBaseURL points the client at a different API host (tests).
func WithBaseURL(base string) BotOption {
	return func(b *Bot) { b.baseURL = base }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(c *http.Client) BotOption {
	return func(b *Bot) { b.http = c }
}

func NewBot(token string, log *zap.Logger, opts ...BotOption) *Bot {
	b := &Bot{
		token:   token,
		baseURL: defaultAPIBase,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(25), 5),
		log:     log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

func (b *Bot) call(ctx context.Context, method string, params url.Values, out any) error {
	return b.callClient(ctx, b.http, method, params, out)
}

func (b *Bot) callClient(ctx context.Context, client *http.Client, method string, params url.Values, out any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", b.baseURL, b.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(params.Encode()))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(client, req, method, out)
}

// longPollClient strips the overall timeout for calls that intentionally
// outlive it; callers bound those with a context deadline instead.
func (b *Bot) longPollClient() *http.Client {
	if b.http.Timeout == 0 {
		return b.http
	}
	clone := *b.http
	clone.Timeout = 0
	return &clone
}

// callUpload sends one multipart request with a file part plus params.
func (b *Bot) callUpload(ctx context.Context, method, field string, file InputFile, params url.Values, out any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key := range params {
		if err := writer.WriteField(key, params.Get(key)); err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
	}
	name := file.Name
	if name == "" {
		name = field
	}
	part, err := writer.CreateFormFile(field, name)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if _, err := part.Write(file.Bytes); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", b.baseURL, b.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return b.do(b.http, req, method, out)
}

func (b *Bot) do(client *http.Client, req *http.Request, method string, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	var api apiResponse
	if err := json.Unmarshal(payload, &api); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !api.OK {
		return fmt.Errorf("%s: api error %d: %s", method, api.ErrorCode, api.Description)
	}
	if out != nil {
		if err := json.Unmarshal(api.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

type wireMessage struct {
	MessageID int64 `json:"message_id"`
	Date      int64 `json:"date"`
	Chat      Chat  `json:"chat"`
}

func (m wireMessage) sent() SentMessage {
	return SentMessage{ID: m.MessageID, Date: time.Unix(m.Date, 0).UTC()}
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, html string, opts SendOptions) (SentMessage, error) {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("text", html)
	params.Set("parse_mode", "HTML")
	if opts.ReplyTo != 0 {
		params.Set("reply_to_message_id", strconv.FormatInt(opts.ReplyTo, 10))
		params.Set("allow_sending_without_reply", "true")
	}
	if opts.Silent {
		params.Set("disable_notification", "true")
	}
	var msg wireMessage
	if err := b.call(ctx, "sendMessage", params, &msg); err != nil {
		return SentMessage{}, err
	}
	return msg.sent(), nil
}

func (b *Bot) EditMessage(ctx context.Context, chatID, messageID int64, html string) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("message_id", strconv.FormatInt(messageID, 10))
	params.Set("text", html)
	params.Set("parse_mode", "HTML")
	return b.call(ctx, "editMessageText", params, nil)
}

func (b *Bot) SendPhoto(ctx context.Context, chatID int64, photo InputFile, caption string) (SentMessage, error) {
	return b.sendMedia(ctx, "sendPhoto", "photo", chatID, photo, caption)
}

func (b *Bot) SendVoice(ctx context.Context, chatID int64, voice InputFile, caption string) (SentMessage, error) {
	return b.sendMedia(ctx, "sendVoice", "voice", chatID, voice, caption)
}

func (b *Bot) sendMedia(ctx context.Context, method, field string, chatID int64, file InputFile, caption string) (SentMessage, error) {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	if caption != "" {
		params.Set("caption", caption)
		params.Set("parse_mode", "HTML")
	}
	var msg wireMessage
	if len(file.Bytes) > 0 {
		if err := b.callUpload(ctx, method, field, file, params, &msg); err != nil {
			return SentMessage{}, err
		}
		return msg.sent(), nil
	}
	params.Set(field, file.Ref)
	if err := b.call(ctx, method, params, &msg); err != nil {
		return SentMessage{}, err
	}
	return msg.sent(), nil
}

func (b *Bot) SetReaction(ctx context.Context, chatID, messageID int64, emoji string) error {
	reaction, err := json.Marshal([]map[string]string{{"type": "emoji", "emoji": emoji}})
	if err != nil {
		return fmt.Errorf("setMessageReaction: %w", err)
	}
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("message_id", strconv.FormatInt(messageID, 10))
	params.Set("reaction", string(reaction))
	return b.call(ctx, "setMessageReaction", params, nil)
}

// memberPermissions is the permission set toggled by restrict/unrestrict.
func memberPermissions(allowed bool) string {
	perms := map[string]bool{
		"can_send_messages":         allowed,
		"can_send_photos":           allowed,
		"can_send_videos":           allowed,
		"can_send_voice_notes":      allowed,
		"can_send_other_messages":   allowed,
		"can_add_web_page_previews": allowed,
	}
	payload, _ := json.Marshal(perms)
	return string(payload)
}

func (b *Bot) RestrictMember(ctx context.Context, chatID, userID int64) error {
	return b.setMemberPermissions(ctx, chatID, userID, false)
}

func (b *Bot) UnrestrictMember(ctx context.Context, chatID, userID int64) error {
	return b.setMemberPermissions(ctx, chatID, userID, true)
}

func (b *Bot) setMemberPermissions(ctx context.Context, chatID, userID int64, allowed bool) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("user_id", strconv.FormatInt(userID, 10))
	params.Set("permissions", memberPermissions(allowed))
	return b.call(ctx, "restrictChatMember", params, nil)
}

func (b *Bot) GetChat(ctx context.Context, chatID int64) (Chat, error) {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	var chat Chat
	if err := b.call(ctx, "getChat", params, &chat); err != nil {
		return Chat{}, err
	}
	return chat, nil
}

func (b *Bot) GetChatMember(ctx context.Context, chatID, userID int64) (ChatMember, error) {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("user_id", strconv.FormatInt(userID, 10))
	var raw struct {
		Status string `json:"status"`
		User   struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	if err := b.call(ctx, "getChatMember", params, &raw); err != nil {
		return ChatMember{}, err
	}
	return ChatMember{UserID: raw.User.ID, Status: raw.Status}, nil
}
