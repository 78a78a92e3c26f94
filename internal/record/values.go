package record

import "strings"

// Message roles.
const (
	RoleHuman     = "human"
	RoleAssistant = "ai"
)

// Metadata keys set on a delivered message once the platform assigns it an
// identifier (see internal/backfill).
const (
	MetaMessageID = "platform_message_id"
	MetaChatID    = "chat_id"
	MetaDate      = "date"
	MetaLink      = "link"
)

// Message is one conversation entry in the remote record. Extra carries
// delivery metadata keyed by the Meta* constants.
type Message struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type,omitempty"`
	Name    string         `json:"name,omitempty"`
	Content string         `json:"content,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// HasPlatformID reports whether a platform message id was backfilled.
func (m Message) HasPlatformID() bool {
	if m.Extra == nil {
		return false
	}
	v, ok := m.Extra[MetaMessageID]
	return ok && v != nil
}

// NormalizeText collapses all whitespace runs to single spaces for the
// tolerant text comparisons used during backfill.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// MatchesText reports whether the message content equals text after
// whitespace normalization.
func (m Message) MatchesText(text string) bool {
	return NormalizeText(m.Content) == NormalizeText(text)
}

// Values is the remote record's checkpointed state. The four message lists
// are different projections of the same conversation: a delivered message
// can appear in several of them and every copy must converge on the same
// delivery metadata.
type Values struct {
	Messages          []Message     `json:"messages,omitempty"`
	ExternalMessages  []Message     `json:"external_messages,omitempty"`
	ReasoningMessages []Message     `json:"reasoning_messages,omitempty"`
	LastReasoning     []Message     `json:"last_reasoning,omitempty"`
	Participants      []Participant `json:"participants,omitempty"`
	InfoRecords       []InfoRecord  `json:"info_records,omitempty"`
	Links             []CuratedLink `json:"links,omitempty"`
	Tickets           []Ticket      `json:"tickets,omitempty"`
	Summary           string        `json:"summary,omitempty"`
}

// MessageFields enumerates the message-bearing field names in the order
// backfill searches them.
var MessageFields = []string{"external_messages", "reasoning_messages", "messages", "last_reasoning"}

// MessagesByField returns the list stored under a MessageFields name.
func (v *Values) MessagesByField(field string) []Message {
	switch field {
	case "messages":
		return v.Messages
	case "external_messages":
		return v.ExternalMessages
	case "reasoning_messages":
		return v.ReasoningMessages
	case "last_reasoning":
		return v.LastReasoning
	}
	return nil
}

// SetMessagesByField replaces the list stored under a MessageFields name.
func (v *Values) SetMessagesByField(field string, msgs []Message) {
	switch field {
	case "messages":
		v.Messages = msgs
	case "external_messages":
		v.ExternalMessages = msgs
	case "reasoning_messages":
		v.ReasoningMessages = msgs
	case "last_reasoning":
		v.LastReasoning = msgs
	}
}
