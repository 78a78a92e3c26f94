package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/flitsinc/go-chatbridge/internal/config"
	"github.com/flitsinc/go-chatbridge/internal/ingest"
	"github.com/flitsinc/go-chatbridge/internal/ledger"
	"github.com/flitsinc/go-chatbridge/internal/pipeline"
	"github.com/flitsinc/go-chatbridge/internal/platform"
	"github.com/flitsinc/go-chatbridge/internal/record"
	"github.com/flitsinc/go-chatbridge/internal/runclient"
)

func main() {
	cfg := config.Load()
	if cfg.TelegramToken == "" {
		log.Fatal("CHATBRIDGE_TELEGRAM_TOKEN is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	db, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		logger.Fatal("open ledger", zap.Error(err))
	}
	defer db.Close()

	bot := platform.NewBot(cfg.TelegramToken, logger)
	runs := runclient.New(cfg.RunServiceURL, runclient.WithTimeout(cfg.HTTPTimeout))

	svc := &pipeline.Service{
		Runs:           pipeline.WrapClient(runs),
		Messenger:      bot,
		Ledger:         ledger.NewStore(db),
		Log:            logger,
		ChatGraphID:    cfg.ChatGraphID,
		CommandGraphID: cfg.CommandGraphID,
		Filters: ingest.Filters{
			DenyNodes:      cfg.DenyNodes,
			FinalStages:    cfg.FinalStages,
			AllowedAuthors: cfg.AllowedAuthors,
		},
		AllowedAuthors: cfg.AllowedAuthors,
		FlushInterval:  cfg.FlushInterval,
		StaleAfter:     cfg.StaleAfter,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("bridged polling for updates")
	poll(ctx, bot, svc, logger)
	logger.Info("bridged stopped")
}

// poll long-polls Telegram and hands each message to the pipeline. Runs are
// independent, so each one gets its own goroutine; ordering within a chat is
// the run service's problem, not ours.
func poll(ctx context.Context, bot *platform.Bot, svc *pipeline.Service, logger *zap.Logger) {
	var offset int64
	for {
		updates, err := bot.GetUpdates(ctx, offset, 30*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			msg := u.Message
			if msg == nil || msg.From == nil || msg.From.IsBot || strings.TrimSpace(msg.Text) == "" {
				continue
			}
			in := toInbound(msg)
			go func() {
				if err := svc.HandleMessage(ctx, in); err != nil {
					logger.Error("run failed",
						zap.Int64("chat_id", in.ChatID),
						zap.Error(err))
				}
			}()
		}
	}
}

func toInbound(msg *platform.InboundMessage) pipeline.Inbound {
	username := msg.From.Username
	if username == "" {
		username = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}
	return pipeline.Inbound{
		ChatID:       msg.Chat.ID,
		ChatUsername: msg.Chat.Username,
		MessageID:    msg.MessageID,
		Text:         msg.Text,
		From: record.Participant{
			Username: username,
			Information: map[string]string{
				"first_name": msg.From.FirstName,
			},
		},
		Command: strings.HasPrefix(msg.Text, "/"),
	}
}
