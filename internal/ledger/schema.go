package ledger

const schemaSQL = `
CREATE TABLE IF NOT EXISTS deliveries (
  id TEXT PRIMARY KEY,
  thread_id TEXT NOT NULL,
  chat_id TEXT NOT NULL,
  message_id INTEGER NOT NULL,
  kind TEXT NOT NULL,
  text TEXT NOT NULL,
  link TEXT,
  backfilled INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deliveries_thread ON deliveries(thread_id, created_at);

CREATE INDEX IF NOT EXISTS idx_deliveries_message ON deliveries(thread_id, message_id)
`
