package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeActionsBatch(t *testing.T) {
	data := json.RawMessage(`{"actions": [
		{"type": "reaction", "value": "👍"},
		{"type": "system-message", "value": "welcome"}
	]}`)
	actions, errs := DecodeActions(data)
	require.Empty(t, errs)
	require.Len(t, actions, 2)
	assert.Equal(t, Action{Type: ActionReaction, Value: "👍"}, actions[0])
	assert.Equal(t, Action{Type: ActionSystemMessage, Value: "welcome"}, actions[1])
}

func TestDecodeActionsSingle(t *testing.T) {
	data := json.RawMessage(`{"action": {"type": "voice", "value": "https://example.com/a.ogg"}}`)
	actions, errs := DecodeActions(data)
	require.Empty(t, errs)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionVoice, actions[0].Type)
}

func TestDecodeActionsSkipsMalformedEntries(t *testing.T) {
	data := json.RawMessage(`{"actions": [
		{"type": "reaction", "value": "🔥"},
		{"value": "no type"},
		"not an object",
		{"type": "image", "value": "https://example.com/a.png"}
	]}`)
	actions, errs := DecodeActions(data)
	assert.Len(t, errs, 2)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionReaction, actions[0].Type)
	assert.Equal(t, ActionImage, actions[1].Type)
}

func TestAllowedReaction(t *testing.T) {
	assert.True(t, AllowedReaction("👍"))
	assert.True(t, AllowedReaction("❤"))
	assert.False(t, AllowedReaction("not an emoji"))
	assert.False(t, AllowedReaction(""))
}
