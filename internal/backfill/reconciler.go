// Package backfill writes platform-assigned message ids back into the
// remote conversation record after delivery. The record is written by the
// run service on its own schedule and reads may lag writes, so everything
// here is bounded retry against an eventually consistent store.
package backfill

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/flitsinc/go-chatbridge/internal/record"
)

// ThreadStore is the slice of the run-service client backfill needs.
type ThreadStore interface {
	ThreadState(ctx context.Context, threadID string) (record.Values, error)
	UpdateThreadState(ctx context.Context, threadID string, values record.Values) error
}

// Request carries the delivery facts to merge into the record.
type Request struct {
	ThreadID  string
	ChatID    string
	MessageID int64
	Date      string // RFC 3339, may be empty
	Expected  string // the delivered text, for candidate matching
	Link      string // public message link, may be empty
}

// Reconciler retries a read-match-patch-verify cycle with linear backoff.
type Reconciler struct {
	Threads ThreadStore
	Log     *zap.Logger

	// AllowedAuthors restricts which assistant messages may be patched.
	AllowedAuthors []string
	// MaxAttempts bounds the retry loop (default 8).
	MaxAttempts int
	// RetryDelay is the base backoff; attempt n sleeps n*RetryDelay after
	// a failed verify (default 350ms).
	RetryDelay time.Duration
}

func (r *Reconciler) attempts() int {
	if r.MaxAttempts > 0 {
		return r.MaxAttempts
	}
	return 8
}

func (r *Reconciler) delay() time.Duration {
	if r.RetryDelay > 0 {
		return r.RetryDelay
	}
	return 350 * time.Millisecond
}

// eligible: an assistant message from an allow-listed author that has no
// platform id yet.
func (r *Reconciler) eligible(m record.Message) bool {
	if m.Type != record.RoleAssistant {
		return false
	}
	if !slices.Contains(r.AllowedAuthors, m.Name) {
		return false
	}
	return !m.HasPlatformID()
}

// sameAssistantText matches any allow-listed assistant message with equal
// normalized text, id-less or not; used to converge duplicated projections.
func (r *Reconciler) sameAssistantText(m record.Message, expected string) bool {
	if m.Type != record.RoleAssistant {
		return false
	}
	if !slices.Contains(r.AllowedAuthors, m.Name) {
		return false
	}
	return m.MatchesText(expected)
}

// findCandidate picks the newest eligible message across the searchable
// fields, preferring an exact normalized-text match and falling back to the
// newest id-less eligible message. Identical twin texts can fool the
// fallback; the newest-first preference is a known approximation.
func (r *Reconciler) findCandidate(values *record.Values, expected string) *record.Message {
	if expected != "" {
		if m := r.scan(values, func(m record.Message) bool {
			return r.eligible(m) && m.MatchesText(expected)
		}); m != nil {
			return m
		}
	}
	return r.scan(values, r.eligible)
}

// scan walks the message fields in search order, newest entry first.
func (r *Reconciler) scan(values *record.Values, match func(record.Message) bool) *record.Message {
	for _, field := range record.MessageFields {
		msgs := values.MessagesByField(field)
		for i := len(msgs) - 1; i >= 0; i-- {
			if match(msgs[i]) {
				return &msgs[i]
			}
		}
	}
	return nil
}

func (r *Reconciler) patchMetadata(req Request) map[string]any {
	meta := map[string]any{
		record.MetaMessageID: req.MessageID,
		record.MetaChatID:    req.ChatID,
	}
	if req.Date != "" {
		meta[record.MetaDate] = req.Date
	}
	if req.Link != "" {
		meta[record.MetaLink] = req.Link
	}
	return meta
}

// Backfill merges the platform message id into every projection of the
// delivered message. It reports success only after a re-read observes the
// id, and never raises: exhausting the attempt budget returns false and the
// caller carries on with a logged, user-invisible gap.
func (r *Reconciler) Backfill(ctx context.Context, req Request) bool {
	meta := r.patchMetadata(req)

	for attempt := 1; attempt <= r.attempts(); attempt++ {
		if attempt > 1 {
			if !r.sleep(ctx, time.Duration(attempt-1)*r.delay()) {
				return false
			}
		}

		values, err := r.Threads.ThreadState(ctx, req.ThreadID)
		if err != nil {
			r.Log.Warn("backfill read failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		candidate := r.findCandidate(&values, req.Expected)
		if candidate == nil {
			// Record may not be written yet.
			continue
		}

		patch := record.Values{}
		for _, field := range record.MessageFields {
			var patched []record.Message
			for _, m := range values.MessagesByField(field) {
				idMatch := candidate.ID != "" && m.ID == candidate.ID
				textMatch := req.Expected != "" && r.sameAssistantText(m, req.Expected)
				if !idMatch && !textMatch {
					continue
				}
				copied := m
				merged := make(map[string]any, len(m.Extra)+len(meta))
				for k, v := range m.Extra {
					merged[k] = v
				}
				for k, v := range meta {
					merged[k] = v
				}
				copied.Extra = merged
				patched = append(patched, copied)
			}
			patch.SetMessagesByField(field, patched)
		}
		if len(patch.Messages) == 0 && len(patch.ExternalMessages) == 0 &&
			len(patch.ReasoningMessages) == 0 && len(patch.LastReasoning) == 0 {
			continue
		}

		if err := r.Threads.UpdateThreadState(ctx, req.ThreadID, patch); err != nil {
			r.Log.Warn("backfill write failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		if r.verify(ctx, req, candidate.ID) {
			r.Log.Info("backfilled message id",
				zap.String("thread_id", req.ThreadID),
				zap.Int64("message_id", req.MessageID),
				zap.Int("attempt", attempt))
			return true
		}
	}
	return false
}

// verify re-reads the record and checks the id actually landed; an update
// can be lost to a concurrent checkpoint write.
func (r *Reconciler) verify(ctx context.Context, req Request, candidateID string) bool {
	values, err := r.Threads.ThreadState(ctx, req.ThreadID)
	if err != nil {
		r.Log.Warn("backfill verify read failed", zap.Error(err))
		return false
	}
	for _, field := range record.MessageFields {
		for _, m := range values.MessagesByField(field) {
			idMatch := candidateID != "" && m.ID == candidateID
			textMatch := req.Expected != "" && r.sameAssistantText(m, req.Expected)
			if !idMatch && !textMatch {
				continue
			}
			if m.Extra == nil {
				continue
			}
			if got, ok := m.Extra[record.MetaMessageID]; ok && numericEqual(got, req.MessageID) {
				return true
			}
		}
	}
	return false
}

// numericEqual tolerates JSON round-trips turning int64 into float64.
func numericEqual(v any, want int64) bool {
	switch n := v.(type) {
	case int64:
		return n == want
	case int:
		return int64(n) == want
	case float64:
		return int64(n) == want
	case json.Number:
		i, err := n.Int64()
		return err == nil && i == want
	}
	return false
}

func (r *Reconciler) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
