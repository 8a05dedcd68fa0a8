// Package callbacks encodes and decodes inline button data in telebot's
// "\f<unique>|<payload>" format.
package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// maxDataLen is Telegram's limit for callback_data.
const maxDataLen = 64

// Encode builds callback data the same way telebot's markup.Data does.
// ok is false when the result exceeds Telegram's limit.
func Encode(unique, payload string) (string, bool) {
	data := "\f" + unique
	if payload != "" {
		data += "|" + payload
	}
	return data, len(data) <= maxDataLen
}

// ParseCallbackData parses telebot's \f<unique>|<payload> encoding.
// Returns unique and payload (may be empty).
func ParseCallbackData(cb *tele.Callback) (string, string) {
	if cb == nil {
		return "", ""
	}
	if cb.Unique != "" {
		return cb.Unique, cb.Data
	}
	return parse(cb.Data)
}

func parse(raw string) (string, string) {
	raw = strings.TrimPrefix(raw, "\f")
	raw = strings.TrimPrefix(raw, "\\f")
	parts := strings.SplitN(raw, "|", 2)
	unique := strings.TrimSpace(parts[0])
	payload := ""
	if len(parts) == 2 {
		payload = parts[1]
	}
	return unique, payload
}
