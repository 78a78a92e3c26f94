package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	TelegramToken string
	RunServiceURL string
	DataDir       string
	LedgerPath    string

	// Graph routing: which remote graph handles ordinary text and which
	// handles slash commands.
	ChatGraphID    string
	CommandGraphID string

	// Stream filters, sourced once at process start instead of living in
	// mutable package globals.
	DenyNodes      []string
	FinalStages    []string
	AllowedAuthors []string

	FlushInterval time.Duration
	StaleAfter    time.Duration
	HTTPTimeout   time.Duration
}

func Load() Config {
	_ = godotenv.Load()
	dataDir := getEnv("CHATBRIDGE_DATA_DIR", "data")
	return Config{
		TelegramToken: getEnv("CHATBRIDGE_TELEGRAM_TOKEN", ""),
		RunServiceURL: getEnv("CHATBRIDGE_RUN_SERVICE_URL", "http://localhost:2024"),
		DataDir:       dataDir,
		LedgerPath:    getEnv("CHATBRIDGE_LEDGER_PATH", filepath.Join(dataDir, "chatbridge.db")),

		ChatGraphID:    getEnv("CHATBRIDGE_CHAT_GRAPH", "supervisor"),
		CommandGraphID: getEnv("CHATBRIDGE_COMMAND_GRAPH", "command_router"),

		DenyNodes:      getEnvList("CHATBRIDGE_DENY_NODES", []string{"planner", "router", "classifier", "summarizer"}),
		FinalStages:    getEnvList("CHATBRIDGE_FINAL_STAGES", []string{"responder", "intro"}),
		AllowedAuthors: getEnvList("CHATBRIDGE_ALLOWED_AUTHORS", []string{"chat_responder", "intro_responder"}),

		FlushInterval: getEnvDuration("CHATBRIDGE_FLUSH_INTERVAL", 300*time.Millisecond),
		StaleAfter:    getEnvDuration("CHATBRIDGE_STALE_AFTER", 2*time.Second),
		HTTPTimeout:   getEnvDuration("CHATBRIDGE_HTTP_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
