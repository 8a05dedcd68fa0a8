// Package keyboard builds inline keyboards.
package keyboard

import (
	"errors"
	"fmt"

	"github.com/m3rciful/relaybot/core/telegram/callbacks"

	tele "gopkg.in/telebot.v4"
)

// ErrDataTooLong reports a button whose callback data exceeds Telegram's limit.
var ErrDataTooLong = errors.New("keyboard: callback data too long")

// InlineBtn describes one inline button; Unique and Data are encoded into
// the callback data the way telebot's markup.Data does.
type InlineBtn struct {
	Text   string
	Unique string
	Data   string
}

// InlineButtonsRows builds an inline keyboard from rows of InlineBtn.
// It returns nil when there are no buttons so callers can pass it unconditionally.
func InlineButtonsRows(rows ...[]InlineBtn) (*tele.ReplyMarkup, error) {
	inline := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]tele.InlineButton, len(row))
		for j, btn := range row {
			data, ok := callbacks.Encode(btn.Unique, btn.Data)
			if !ok {
				return nil, fmt.Errorf("%w: %q (%d bytes)", ErrDataTooLong, btn.Unique, len(data))
			}
			r[j] = tele.InlineButton{Text: btn.Text, Data: data}
		}
		inline = append(inline, r)
	}
	if len(inline) == 0 {
		return nil, nil
	}
	return &tele.ReplyMarkup{InlineKeyboard: inline}, nil
}
