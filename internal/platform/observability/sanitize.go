package observability

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// logSafe drops control characters other than tab and newlines and keeps at most limit runes, so
// request-supplied values cannot forge log lines.
func logSafe(value string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, value)
	if utf8.RuneCountInString(cleaned) <= limit {
		return cleaned
	}
	return string([]rune(cleaned)[:limit])
}

// sessionPrefix keeps eight characters of a guest session id, enough to correlate requests.
func sessionPrefix(id string) string {
	return logSafe(id, 8)
}
