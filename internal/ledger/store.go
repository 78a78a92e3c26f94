package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flitsinc/go-chatbridge/internal/idgen"
)

// Delivery kinds.
const (
	KindStream = "stream" // rendered from streamed text deltas
	KindSystem = "system" // sent by a system-message action
)

// Delivery is one audit row.
type Delivery struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	ChatID     string    `json:"chat_id"`
	MessageID  int64     `json:"message_id"`
	Kind       string    `json:"kind"`
	Text       string    `json:"text"`
	Link       string    `json:"link,omitempty"`
	Backfilled bool      `json:"backfilled"`
	CreatedAt  time.Time `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordDelivery inserts an audit row and returns its id.
func (s *Store) RecordDelivery(ctx context.Context, d Delivery) (string, error) {
	if d.ID == "" {
		d.ID = idgen.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, thread_id, chat_id, message_id, kind, text, link, backfilled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.ThreadID, d.ChatID, d.MessageID, d.Kind, d.Text, nullString(d.Link), boolInt(d.Backfilled), d.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert delivery: %w", err)
	}
	return d.ID, nil
}

// MarkBackfilled records the backfill outcome for a delivered message.
func (s *Store) MarkBackfilled(ctx context.Context, threadID string, messageID int64, ok bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE deliveries SET backfilled = ? WHERE thread_id = ? AND message_id = ?
	`, boolInt(ok), threadID, messageID)
	if err != nil {
		return fmt.Errorf("mark backfilled: %w", err)
	}
	return nil
}

// ListDeliveries returns a thread's audit rows, newest first.
func (s *Store) ListDeliveries(ctx context.Context, threadID string, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, chat_id, message_id, kind, text, link, backfilled, created_at
		FROM deliveries WHERE thread_id = ? ORDER BY created_at DESC LIMIT ?
	`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var (
			d          Delivery
			link       sql.NullString
			backfilled int
			createdAt  string
		)
		if err := rows.Scan(&d.ID, &d.ThreadID, &d.ChatID, &d.MessageID, &d.Kind, &d.Text, &link, &backfilled, &createdAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Link = link.String
		d.Backfilled = backfilled != 0
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return out, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
