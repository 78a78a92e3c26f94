package idgen

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// threadNamespace seeds deterministic chat→thread derivation so every
// process maps the same chat to the same run-service thread.
var threadNamespace = uuid.MustParse("12345678-1234-5678-1234-567812345678")

// New returns a ULID string for generated entity ids (info records, curated
// links, tickets, ledger rows).
func New() string {
	return ulid.Make().String()
}

// ThreadID derives the stable run-service thread id for a chat.
func ThreadID(chatID int64) string {
	return uuid.NewSHA1(threadNamespace, []byte(strconv.FormatInt(chatID, 10))).String()
}
