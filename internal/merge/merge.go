// Package merge holds the pure reducers the remote record's commit path runs
// whenever two writers' deltas for the same collection must become one
// authoritative value. Every reducer mutates and returns its current slice,
// is idempotent for repeated application of the same incoming value, and
// skips malformed entries (missing identity) instead of failing the batch.
package merge

import "github.com/flitsinc/go-chatbridge/internal/record"

// Participants merges incoming participant rows into current, keyed by
// username. Unknown usernames append. Known rows are field-merged: non-empty
// scalars overwrite, the information map is shallow-merged key by key with
// an empty value deleting the key, and booleans overwrite. A locked row is
// only writable by another locked update, so an administrator override is
// never silently reverted by a routine merge.
func Participants(current, incoming []record.Participant) []record.Participant {
	index := make(map[string]int, len(current))
	for i, p := range current {
		index[p.Username] = i
	}

	for _, in := range incoming {
		if in.Username == "" {
			continue
		}
		i, ok := index[in.Username]
		if !ok {
			current = append(current, in)
			index[in.Username] = len(current) - 1
			continue
		}
		cur := &current[i]
		if cur.Locked && !in.Locked {
			continue
		}

		if in.FirstName != "" {
			cur.FirstName = in.FirstName
		}
		if in.LastName != "" {
			cur.LastName = in.LastName
		}
		if in.PreferredName != "" {
			cur.PreferredName = in.PreferredName
		}
		if in.TelegramID != 0 {
			cur.TelegramID = in.TelegramID
		}
		cur.IntroCompleted = in.IntroCompleted
		cur.Locked = in.Locked

		for k, v := range in.Information {
			if v == "" {
				delete(cur.Information, k)
				continue
			}
			if cur.Information == nil {
				cur.Information = map[string]string{}
			}
			cur.Information[k] = v
		}
	}
	return current
}

// Messages appends incoming entries to current, deduplicating by message id:
// a known id replaces the stored entry in place, an unknown id appends.
// Id-less entries are exempt from the idempotence the other reducers give:
// they append on every application, because writers legitimately submit new
// conversation entries without ids and dropping them would lose messages.
// Writers that need replay safety must assign ids.
func Messages(current, incoming []record.Message) []record.Message {
	index := make(map[string]int, len(current))
	for i, m := range current {
		if m.ID != "" {
			index[m.ID] = i
		}
	}
	for _, in := range incoming {
		if in.ID != "" {
			if i, ok := index[in.ID]; ok {
				current[i] = in
				continue
			}
			index[in.ID] = len(current)
		}
		current = append(current, in)
	}
	return current
}

// InfoRecords merges by generated id. Unknown ids append; known ids are
// overwritten wholesale — last writer wins at record granularity.
func InfoRecords(current, incoming []record.InfoRecord) []record.InfoRecord {
	index := make(map[string]int, len(current))
	for i, r := range current {
		index[r.ID] = i
	}
	for _, in := range incoming {
		if in.ID == "" {
			continue
		}
		if i, ok := index[in.ID]; ok {
			current[i] = in
			continue
		}
		index[in.ID] = len(current)
		current = append(current, in)
	}
	return current
}
