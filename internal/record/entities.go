package record

import "time"

// Participant is a chat member as the remote record knows them. Identity is
// the stable username. Locked marks an administrator-written row: routine
// merges may not touch it (see internal/merge).
type Participant struct {
	Username       string            `json:"username"`
	FirstName      string            `json:"first_name,omitempty"`
	LastName       string            `json:"last_name,omitempty"`
	PreferredName  string            `json:"preferred_name,omitempty"`
	TelegramID     int64             `json:"telegram_id,omitempty"`
	Information    map[string]string `json:"information,omitempty"`
	IntroCompleted bool              `json:"intro_completed"`
	Locked         bool              `json:"locked,omitempty"`
}

// Author is a stable snapshot of who created a record, taken at write time
// so later profile edits don't rewrite history.
type Author struct {
	Username      string `json:"username,omitempty"`
	TelegramID    int64  `json:"telegram_id,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	PreferredName string `json:"preferred_name,omitempty"`
}

// InfoRecord is a saved informational note. Identity is the generated ID;
// merges overwrite the whole record (last writer wins).
type InfoRecord struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Text      string    `json:"text"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// CuratedLink is a curated resource shared in the chat. Identity is the
// generated ID with the normalized link URL as a secondary dedup key.
// Deletion is a soft tombstone via DeletedAt.
type CuratedLink struct {
	ID             string     `json:"id"`
	Category       string     `json:"category"`
	Tags           []string   `json:"tags,omitempty"`
	Link           string     `json:"link,omitempty"`
	Description    string     `json:"description"`
	MessageText    string     `json:"message_text,omitempty"`
	AuthorUsername string     `json:"author_username,omitempty"`
	PublishedAt    time.Time  `json:"published_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Ticket statuses.
const (
	TicketOpen   = "open"
	TicketClosed = "closed"
	TicketWontDo = "wont_do"
)

// Ticket is a backlog item. Number is the human-facing sequence id
// ("INC00042"): assigned once when the ticket first merges in, preserved on
// every later update, never reused.
type Ticket struct {
	ID          string     `json:"id"`
	Number      string     `json:"number,omitempty"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Reporter    string     `json:"reporter,omitempty"`
	Status      string     `json:"status"`
	Resolution  string     `json:"resolution,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}
