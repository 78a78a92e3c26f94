package runclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/coder/websocket"

	"github.com/flitsinc/go-chatbridge/internal/record"
	"github.com/flitsinc/go-chatbridge/internal/schema"
)

// RunInput is the opening frame of a run: which graph to execute and the
// state delta the run starts from.
type RunInput struct {
	AssistantID string        `json:"assistant_id"`
	Input       record.Values `json:"input"`
	StreamModes []string      `json:"stream_mode"`
}

// Stream is one run's event feed. Next returns io.EOF once the service
// closes the stream normally.
type Stream struct {
	conn *websocket.Conn
}

// OpenRun starts one run on a thread and returns its event stream. The
// stream is delivered over a websocket; each frame is one StreamEvent.
func (c *Client) OpenRun(ctx context.Context, threadID string, input RunInput) (*Stream, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/threads/" + threadID + "/runs/stream"
	// The dialer refuses clients with a Timeout set; a run stream lives far
	// longer than one HTTP call anyway, so cancellation is the context's job.
	dialClient := c.http
	if dialClient.Timeout > 0 {
		clone := *dialClient
		clone.Timeout = 0
		dialClient = &clone
	}
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: dialClient,
	})
	if err != nil {
		if resp != nil {
			return nil, &StatusError{Code: resp.StatusCode, Detail: err.Error()}
		}
		return nil, fmt.Errorf("open run: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	payload, err := json.Marshal(input)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "bad input")
		return nil, fmt.Errorf("encode run input: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "write failed")
		return nil, fmt.Errorf("send run input: %w", err)
	}
	return &Stream{conn: conn}, nil
}

// Next blocks until the next event, the end of the stream (io.EOF), or an
// error.
func (s *Stream) Next(ctx context.Context) (schema.StreamEvent, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return schema.StreamEvent{}, io.EOF
		}
		return schema.StreamEvent{}, fmt.Errorf("read stream: %w", err)
	}
	var event schema.StreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return schema.StreamEvent{}, fmt.Errorf("decode stream event: %w", err)
	}
	return event, nil
}

func (s *Stream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "done")
}
