package platform

import (
	"fmt"
	"regexp"
	"strings"
)

// allowedTags is the platform's closed set of inline formatting tags.
// Anything else is stripped, and raw angle brackets outside these tags are
// escaped so stray "<" in model output can't be parsed as markup.
var allowedTags = map[string]bool{
	"b": true, "strong": true,
	"i": true, "em": true,
	"u": true, "ins": true,
	"s": true, "strike": true, "del": true,
	"code": true, "pre": true,
	"a": true, "span": true,
	"tg-spoiler": true, "tg-emoji": true,
}

var (
	tagPattern     = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9-]*(?:\s[^<>]*)?/?>`)
	tagNamePattern = regexp.MustCompile(`^</?([a-zA-Z][a-zA-Z0-9-]*)`)
	htmlEscaper    = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// SanitizeHTML makes text safe for the platform's HTML parse mode: allowed
// inline tags pass through untouched, all other tags are dropped (their
// content kept), and remaining raw HTML characters are escaped.
func SanitizeHTML(text string) string {
	if text == "" {
		return text
	}

	var kept []string
	text = tagPattern.ReplaceAllStringFunc(text, func(tag string) string {
		name := strings.ToLower(tagNamePattern.FindStringSubmatch(tag)[1])
		if !allowedTags[name] {
			return ""
		}
		kept = append(kept, tag)
		return fmt.Sprintf("\x00%d\x00", len(kept)-1)
	})

	text = htmlEscaper.Replace(text)

	for i, tag := range kept {
		text = strings.Replace(text, fmt.Sprintf("\x00%d\x00", i), tag, 1)
	}
	return text
}

// SplitText slices text into segments of at most max runes. Empty input
// yields one empty segment so callers can always address segment zero.
func SplitText(text string, max int) []string {
	if text == "" {
		return []string{""}
	}
	runes := []rune(text)
	var parts []string
	for len(runes) > max {
		parts = append(parts, string(runes[:max]))
		runes = runes[max:]
	}
	return append(parts, string(runes))
}
