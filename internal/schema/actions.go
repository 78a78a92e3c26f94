package schema

import (
	"encoding/json"
	"fmt"
)

// Action types understood by the dispatcher.
const (
	ActionReaction           = "reaction"
	ActionImage              = "image"
	ActionVoice              = "voice"
	ActionSystemMessage      = "system-message"
	ActionSystemNotification = "system-notification"
	ActionRestrict           = "restrict"
	ActionUnrestrict         = "unrestrict"
)

// Action is a non-text side effect requested by the run. Value is opaque at
// this layer: plain text, a URL, or a JSON payload depending on Type.
// Actions are immutable once enqueued.
type Action struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type actionBatch struct {
	Actions []json.RawMessage `json:"actions"`
	Action  json.RawMessage   `json:"action"`
}

// DecodeActions parses the action records carried by a custom event. Both
// the batch shape {"actions": [...]} and the single shape {"action": {...}}
// are accepted. Malformed entries are returned as errors alongside the
// good ones so one bad record never drops the rest of the batch.
func DecodeActions(data json.RawMessage) ([]Action, []error) {
	var batch actionBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, []error{fmt.Errorf("decode custom event: %w", err)}
	}

	raw := batch.Actions
	if len(raw) == 0 && len(batch.Action) > 0 {
		raw = []json.RawMessage{batch.Action}
	}

	var (
		actions []Action
		errs    []error
	)
	for i, entry := range raw {
		var act Action
		if err := json.Unmarshal(entry, &act); err != nil {
			errs = append(errs, fmt.Errorf("decode action %d: %w", i, err))
			continue
		}
		if act.Type == "" {
			errs = append(errs, fmt.Errorf("action %d has no type", i))
			continue
		}
		actions = append(actions, act)
	}
	return actions, errs
}
