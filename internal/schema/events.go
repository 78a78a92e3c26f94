package schema

import (
	"encoding/json"
	"strings"
)

// Event kinds emitted by the run service stream.
const (
	EventMessages = "messages"
	EventCustom   = "custom"
)

// StreamEvent is one frame of a run's event stream: either an incremental
// text delta ("messages") or a structured side-effect batch ("custom").
// The event name may carry a subgraph qualifier ("messages|intro").
type StreamEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Kind returns the event name with any subgraph qualifier stripped.
func (e StreamEvent) Kind() string {
	kind, _, _ := strings.Cut(e.Event, "|")
	return kind
}

// Delta is one text-generation fragment extracted from a messages event.
type Delta struct {
	Content    string
	Role       string
	NodeID     string
	RunID      string
	AuthorName string
}

// TextChunk groups a delta's content under the logical response it belongs
// to. All chunks for one ResponseID render into a single outgoing message.
type TextChunk struct {
	ResponseID string
	Text       string
}

type deltaMessage struct {
	Content string `json:"content"`
	Type    string `json:"type"`
	Name    string `json:"name"`
}

type deltaMetadata struct {
	Node  string `json:"node"`
	RunID string `json:"run_id"`
}

// DecodeDelta parses the [message, metadata] pair carried by a messages
// event. Any missing or malformed field means the frame is skipped, not
// that the stream fails.
func DecodeDelta(data json.RawMessage) (Delta, bool) {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil || len(pair) < 2 {
		return Delta{}, false
	}
	var msg deltaMessage
	if err := json.Unmarshal(pair[0], &msg); err != nil {
		return Delta{}, false
	}
	var meta deltaMetadata
	if err := json.Unmarshal(pair[1], &meta); err != nil {
		return Delta{}, false
	}
	if meta.RunID == "" {
		return Delta{}, false
	}
	return Delta{
		Content:    msg.Content,
		Role:       msg.Type,
		NodeID:     meta.Node,
		RunID:      meta.RunID,
		AuthorName: msg.Name,
	}, true
}
