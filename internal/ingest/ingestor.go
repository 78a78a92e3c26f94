// Package ingest consumes one run's event stream and fans it into the two
// pipeline channels.
package ingest

import (
	"context"
	"errors"
	"io"
	"slices"

	"go.uber.org/zap"

	"github.com/flitsinc/go-chatbridge/internal/queue"
	"github.com/flitsinc/go-chatbridge/internal/runclient"
	"github.com/flitsinc/go-chatbridge/internal/schema"
)

// EventSource yields stream events until io.EOF.
type EventSource interface {
	Next(ctx context.Context) (schema.StreamEvent, error)
}

// Filters decide which delta events reach the renderer. They are sourced
// once at process start (config), not from mutable globals.
type Filters struct {
	// DenyNodes are control/internal graph nodes whose output is never
	// user-facing.
	DenyNodes []string
	// FinalStages are responder nodes whose output ships only when the
	// author is allow-listed, so intermediate planning text can't leak
	// through the final stage.
	FinalStages []string
	// AllowedAuthors is the author allow-list applied at final stages.
	AllowedAuthors []string
	// AssistantRoles are roles treated as assistant text. Empty means
	// the default ("ai").
	AssistantRoles []string
}

// Allow reports whether a delta should be rendered.
func (f Filters) Allow(d schema.Delta) bool {
	roles := f.AssistantRoles
	if len(roles) == 0 {
		roles = []string{"ai"}
	}
	if !slices.Contains(roles, d.Role) {
		return false
	}
	if slices.Contains(f.DenyNodes, d.NodeID) {
		return false
	}
	if slices.Contains(f.FinalStages, d.NodeID) && !slices.Contains(f.AllowedAuthors, d.AuthorName) {
		return false
	}
	return true
}

// Ingestor drives one run: it classifies every stream event and pushes the
// result onto the channel pair. Whatever happens, both channels are closed
// when Run returns, so the consumers always terminate.
type Ingestor struct {
	Source  EventSource
	Queues  *queue.Pair
	Filters Filters
	Log     *zap.Logger
}

// Run consumes the stream until it ends or errors. Stream errors are logged
// and end the run early; they are never raised to the caller.
func (in *Ingestor) Run(ctx context.Context) {
	defer in.Queues.Close()

	for {
		event, err := in.Source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			var se *runclient.StatusError
			if errors.As(err, &se) {
				in.Log.Error("stream failed",
					zap.Int("status", se.Code),
					zap.String("detail", se.Detail))
			} else {
				in.Log.Error("stream failed", zap.Error(err))
			}
			return
		}

		switch event.Kind() {
		case schema.EventMessages:
			in.handleDelta(event)
		case schema.EventCustom:
			in.handleCustom(event)
		}
	}
}

func (in *Ingestor) handleDelta(event schema.StreamEvent) {
	delta, ok := schema.DecodeDelta(event.Data)
	if !ok {
		return
	}
	if !in.Filters.Allow(delta) {
		return
	}
	in.Queues.Chunks.Push(schema.TextChunk{
		ResponseID: delta.RunID,
		Text:       delta.Content,
	})
}

func (in *Ingestor) handleCustom(event schema.StreamEvent) {
	actions, errs := schema.DecodeActions(event.Data)
	for _, err := range errs {
		in.Log.Warn("skipping malformed action", zap.Error(err))
	}
	for _, act := range actions {
		in.Queues.Actions.Push(act)
	}
}
