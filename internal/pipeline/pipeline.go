// Package pipeline runs one inbound chat message end to end: open a run on
// the remote service, fan its event stream into the render and action
// channels, deliver everything to the platform, then reconcile platform
// message ids back into the remote record.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/flitsinc/go-chatbridge/internal/backfill"
	"github.com/flitsinc/go-chatbridge/internal/dispatch"
	"github.com/flitsinc/go-chatbridge/internal/idgen"
	"github.com/flitsinc/go-chatbridge/internal/ingest"
	"github.com/flitsinc/go-chatbridge/internal/ledger"
	"github.com/flitsinc/go-chatbridge/internal/platform"
	"github.com/flitsinc/go-chatbridge/internal/queue"
	"github.com/flitsinc/go-chatbridge/internal/record"
	"github.com/flitsinc/go-chatbridge/internal/render"
	"github.com/flitsinc/go-chatbridge/internal/runclient"
	"github.com/flitsinc/go-chatbridge/internal/schema"
)

// EventStream is one run's event feed.
type EventStream interface {
	Next(ctx context.Context) (schema.StreamEvent, error)
	Close() error
}

// RunService is the slice of the run-service client the pipeline needs.
type RunService interface {
	CreateThread(ctx context.Context, threadID, graphID string) error
	OpenRun(ctx context.Context, threadID string, input runclient.RunInput) (EventStream, error)
	MergeThreadMetadata(ctx context.Context, threadID string, partial map[string]any) error
	ThreadState(ctx context.Context, threadID string) (record.Values, error)
	UpdateThreadState(ctx context.Context, threadID string, values record.Values) error
}

type runClient struct {
	*runclient.Client
}

func (c runClient) OpenRun(ctx context.Context, threadID string, input runclient.RunInput) (EventStream, error) {
	return c.Client.OpenRun(ctx, threadID, input)
}

// WrapClient exposes the concrete run-service client as a RunService.
func WrapClient(c *runclient.Client) RunService {
	return runClient{c}
}

// Inbound is one triggering user message, already extracted from the
// platform update.
type Inbound struct {
	ChatID       int64
	ChatUsername string
	MessageID    int64
	Text         string
	From         record.Participant
	Command      bool
}

// Service is the delivery pipeline. One HandleMessage call is one run; the
// Service itself is stateless across runs and safe for concurrent calls.
type Service struct {
	Runs      RunService
	Messenger platform.Messenger
	Ledger    *ledger.Store // optional
	Log       *zap.Logger

	ChatGraphID    string
	CommandGraphID string
	Filters        ingest.Filters
	AllowedAuthors []string // backfill author allow-list

	FlushInterval time.Duration
	StaleAfter    time.Duration

	// Backfill retry tuning; zero values take the reconciler defaults.
	BackfillAttempts int
	BackfillDelay    time.Duration
}

func (s *Service) flushInterval() time.Duration {
	if s.FlushInterval > 0 {
		return s.FlushInterval
	}
	return 300 * time.Millisecond
}

// HandleMessage opens a run for the inbound message and drives it to
// completion. The returned error covers only run setup; delivery failures
// inside the pipeline are logged, not raised.
func (s *Service) HandleMessage(ctx context.Context, in Inbound) error {
	threadID := idgen.ThreadID(in.ChatID)
	graphID := s.ChatGraphID
	if in.Command {
		graphID = s.CommandGraphID
	}
	log := s.Log.With(zap.String("thread_id", threadID), zap.Int64("chat_id", in.ChatID))

	if err := s.Runs.CreateThread(ctx, threadID, graphID); err != nil {
		return fmt.Errorf("create thread: %w", err)
	}

	chatUsername := in.ChatUsername
	if chatUsername == "" {
		// Updates from linked channels can omit the username; the chat
		// object still carries it.
		if chat, err := s.Messenger.GetChat(ctx, in.ChatID); err == nil {
			chatUsername = chat.Username
		}
	}

	// Routing metadata is a best-effort side write; losing it never stops
	// the run.
	meta := map[string]any{
		"chat_id":       strconv.FormatInt(in.ChatID, 10),
		"chat_username": chatUsername,
		"graph_id":      graphID,
		"last_sender":   in.From.Username,
	}
	if err := s.Runs.MergeThreadMetadata(ctx, threadID, meta); err != nil {
		log.Warn("metadata side-write failed", zap.Error(err))
	}

	input := runclient.RunInput{
		AssistantID: graphID,
		Input: record.Values{
			Messages: []record.Message{{
				Type:    record.RoleHuman,
				Name:    in.From.Username,
				Content: in.Text,
			}},
			Participants: []record.Participant{in.From},
		},
		StreamModes: []string{"messages", "custom"},
	}
	stream, err := s.Runs.OpenRun(ctx, threadID, input)
	if err != nil {
		return fmt.Errorf("open run: %w", err)
	}
	defer stream.Close()

	queues := queue.NewPair()
	renderer := render.New(s.Messenger, in.ChatID, in.MessageID, log)
	if s.StaleAfter > 0 {
		renderer.StaleAfter = s.StaleAfter
	}

	reconciler := &backfill.Reconciler{
		Threads:        s.Runs,
		Log:            log,
		AllowedAuthors: s.AllowedAuthors,
		MaxAttempts:    s.BackfillAttempts,
		RetryDelay:     s.BackfillDelay,
	}
	chatID := strconv.FormatInt(in.ChatID, 10)
	persist := func(ctx context.Context, kind, text string, sent platform.SentMessage) {
		link := MessageLink(chatUsername, in.ChatID, sent.ID)

		// The row goes in before the backfill so a delivery is auditable
		// while its reconciliation is still in flight.
		if s.Ledger != nil {
			_, err := s.Ledger.RecordDelivery(ctx, ledger.Delivery{
				ThreadID:  threadID,
				ChatID:    chatID,
				MessageID: sent.ID,
				Kind:      kind,
				Text:      text,
				Link:      link,
			})
			if err != nil {
				log.Warn("ledger write failed", zap.Error(err))
			}
		}

		ok := reconciler.Backfill(ctx, backfill.Request{
			ThreadID:  threadID,
			ChatID:    chatID,
			MessageID: sent.ID,
			Date:      sent.Date.Format(time.RFC3339),
			Expected:  text,
			Link:      link,
		})
		if !ok {
			log.Warn("backfill exhausted", zap.Int64("message_id", sent.ID))
		}
		if s.Ledger != nil && ok {
			if err := s.Ledger.MarkBackfilled(ctx, threadID, sent.ID, true); err != nil {
				log.Warn("ledger backfill mark failed", zap.Error(err))
			}
		}
	}

	ingestor := &ingest.Ingestor{
		Source:  stream,
		Queues:  queues,
		Filters: s.Filters,
		Log:     log,
	}
	dispatcher := &dispatch.Dispatcher{
		Messenger: s.Messenger,
		ChatID:    in.ChatID,
		ReplyTo:   in.MessageID,
		Log:       log,
		OnDelivered: func(ctx context.Context, text string, sent platform.SentMessage) {
			persist(ctx, ledger.KindSystem, text, sent)
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ingestor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		dispatcher.Run(gctx, queues.Actions.Out())
		return nil
	})
	g.Go(func() error {
		if err := s.renderLoop(gctx, renderer, queues); err != nil {
			return err
		}
		for _, d := range renderer.Finalize(gctx) {
			persist(gctx, ledger.KindStream, d.Text, platform.SentMessage{ID: d.MessageID, Date: d.SentAt})
		}
		return nil
	})
	return g.Wait()
}

// renderLoop applies chunks in arrival order and flushes stale sessions on
// a timer. It returns once the chunk channel closes; the ticker dies with
// it.
func (s *Service) renderLoop(ctx context.Context, r *render.Renderer, queues *queue.Pair) error {
	ticker := time.NewTicker(s.flushInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.FlushStale(ctx)
		case chunk, ok := <-queues.Chunks.Out():
			if !ok {
				return nil
			}
			if r.Exists(chunk.ResponseID) {
				r.Append(chunk.ResponseID, chunk.Text)
				continue
			}
			if strings.TrimSpace(chunk.Text) == "" {
				continue
			}
			if err := r.Start(ctx, chunk.ResponseID, chunk.Text); err != nil {
				s.Log.Error("start response failed",
					zap.String("response_id", chunk.ResponseID),
					zap.Error(err))
			}
		}
	}
}

// MessageLink builds the public link for a delivered message, or "" when
// the chat has no linkable form.
func MessageLink(chatUsername string, chatID, messageID int64) string {
	if u := strings.TrimPrefix(strings.TrimSpace(chatUsername), "@"); u != "" {
		return fmt.Sprintf("https://t.me/%s/%d", u, messageID)
	}
	s := strconv.FormatInt(chatID, 10)
	if internal, ok := strings.CutPrefix(s, "-100"); ok && internal != "" {
		return fmt.Sprintf("https://t.me/c/%s/%d", internal, messageID)
	}
	return ""
}
