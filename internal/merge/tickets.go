package merge

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/flitsinc/go-chatbridge/internal/record"
)

var ticketNumberPattern = regexp.MustCompile(`^INC(\d+)$`)

// NextTicketNumber returns the next human-facing sequence number after the
// highest one present in tickets. Numbers are monotonically increasing and
// never reused, even across deletions.
func NextTicketNumber(tickets []record.Ticket) string {
	max := 0
	for _, t := range tickets {
		m := ticketNumberPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(t.Number)))
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("INC%05d", max+1)
}

// Tickets merges by generated id. Unknown ids append, receiving a sequence
// number if the writer didn't assign one. Known ids overwrite the mutable
// fields (status, description, resolution and friends) while the original
// sequence number and creation timestamp are preserved.
func Tickets(current, incoming []record.Ticket) []record.Ticket {
	index := make(map[string]int, len(current))
	for i, t := range current {
		index[t.ID] = i
	}

	for _, in := range incoming {
		if in.ID == "" {
			continue
		}
		i, ok := index[in.ID]
		if !ok {
			if in.Number == "" {
				in.Number = NextTicketNumber(current)
			}
			current = append(current, in)
			index[in.ID] = len(current) - 1
			continue
		}

		cur := &current[i]
		number, createdAt := cur.Number, cur.CreatedAt
		*cur = in
		cur.Number = number
		cur.CreatedAt = createdAt
	}
	return current
}
