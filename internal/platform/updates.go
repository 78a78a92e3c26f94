package platform

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// User is the sender of an inbound message.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsBot     bool   `json:"is_bot"`
}

// InboundMessage is a message received via long polling.
type InboundMessage struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Date      int64  `json:"date"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from"`
}

// Update is one long-poll result entry.
type Update struct {
	UpdateID int64           `json:"update_id"`
	Message  *InboundMessage `json:"message"`
}

// GetUpdates long-polls for new updates after offset. The poll deliberately
// outlives the per-call client timeout; it is bounded by the poll window
// plus a margin, so an idle chat returns an empty result instead of a
// client timeout.
func (b *Bot) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(int(timeout/time.Second)))
	params.Set("allowed_updates", `["message"]`)

	ctx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	var updates []Update
	if err := b.callClient(ctx, b.longPollClient(), "getUpdates", params, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}
