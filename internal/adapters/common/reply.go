package common

import "unicode/utf8"

// DefaultReplyLimit is the maximum number of characters of a relay reply kept
// in logs and status events.
const DefaultReplyLimit = 512

// TruncateReply trims the supplied string to the specified rune limit. If
// limit is zero or negative it returns an empty string.
func TruncateReply(reply string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(reply) <= limit {
		return reply
	}
	return string([]rune(reply)[:limit])
}
