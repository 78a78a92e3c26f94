package merge

import (
	"net/url"
	"strings"

	"github.com/flitsinc/go-chatbridge/internal/record"
)

// NormalizeLink canonicalizes a link URL for deduplication: scheme and host
// are lower-cased and trailing slashes stripped from the path. Non-http
// custom schemes are returned unchanged so internal references survive
// normalization intact.
func NormalizeLink(link string) string {
	raw := strings.TrimSpace(link)
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if parsed.Scheme != "" && parsed.Scheme != "http" && parsed.Scheme != "https" {
		return raw
	}

	path := strings.TrimRight(parsed.Path, "/")
	if path == "" {
		path = "/"
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + strings.ToLower(parsed.Host) + path
}

// CuratedLinks merges by generated id, with the normalized link URL as a
// secondary dedup key so the same resource shared twice converges onto one
// record. A match overwrites every field of the existing record except its
// id, which stays stable.
func CuratedLinks(current, incoming []record.CuratedLink) []record.CuratedLink {
	byID := make(map[string]int, len(current))
	byLink := make(map[string]int, len(current))
	for i, l := range current {
		if l.ID != "" {
			byID[l.ID] = i
		}
		if key := NormalizeLink(l.Link); key != "" {
			byLink[key] = i
		}
	}

	for _, in := range incoming {
		key := NormalizeLink(in.Link)
		if in.ID == "" && key == "" {
			continue
		}
		i, ok := byID[in.ID]
		if !ok && key != "" {
			i, ok = byLink[key]
		}
		if !ok {
			current = append(current, in)
			if in.ID != "" {
				byID[in.ID] = len(current) - 1
			}
			if key != "" {
				byLink[key] = len(current) - 1
			}
			continue
		}

		id := current[i].ID
		current[i] = in
		current[i].ID = id
		if key != "" {
			byLink[key] = i
		}
	}
	return current
}
