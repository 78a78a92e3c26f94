// Package platform wraps the messaging platform: the operations the pipeline
// consumes, content sanitation for the platform's markup rules, and a
// Telegram Bot API implementation.
package platform

import (
	"context"
	"time"
)

// MaxMessageLength is the platform cap on one outgoing message.
const MaxMessageLength = 4000

// SentMessage identifies a message the platform accepted.
type SentMessage struct {
	ID   int64
	Date time.Time
}

// SendOptions tune an outgoing message.
type SendOptions struct {
	ReplyTo int64 // message id to reply to; 0 for a top-level message
	Silent  bool  // deliver without a notification
}

// InputFile is media for upload: either a remote reference (URL or
// platform file id) or raw bytes with a filename.
type InputFile struct {
	Ref   string
	Bytes []byte
	Name  string
}

// Chat describes a chat as the platform reports it.
type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}

// ChatMember is a member's standing within a chat.
type ChatMember struct {
	UserID int64  `json:"user_id"`
	Status string `json:"status"`
}

// Messenger is the platform surface the delivery pipeline needs. Every call
// carries a context and respects the implementation's timeout.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, html string, opts SendOptions) (SentMessage, error)
	EditMessage(ctx context.Context, chatID, messageID int64, html string) error
	SendPhoto(ctx context.Context, chatID int64, photo InputFile, caption string) (SentMessage, error)
	SendVoice(ctx context.Context, chatID int64, voice InputFile, caption string) (SentMessage, error)
	SetReaction(ctx context.Context, chatID, messageID int64, emoji string) error
	RestrictMember(ctx context.Context, chatID, userID int64) error
	UnrestrictMember(ctx context.Context, chatID, userID int64) error
	GetChat(ctx context.Context, chatID int64) (Chat, error)
	GetChatMember(ctx context.Context, chatID, userID int64) (ChatMember, error)
}
