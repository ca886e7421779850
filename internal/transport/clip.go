package transport

import "unicode/utf8"

// Platform length limits, counted in characters.
const (
	TelegramTextLimit    = 4096
	TelegramCaptionLimit = 1024
	WhatsAppTextLimit    = 4096
	WhatsAppCaptionLimit = 1024
)

// Ellipsis marks a clipped message.
const Ellipsis = "..."

// Clip shortens s to at most limit runes, ending with Ellipsis when clipped.
// It never splits a multi-byte character.
func Clip(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	keep := limit - utf8.RuneCountInString(Ellipsis)
	if keep <= 0 {
		return string([]rune(Ellipsis)[:limit])
	}
	n := 0
	for i := range s {
		if n == keep {
			return s[:i] + Ellipsis
		}
		n++
	}
	return s
}
