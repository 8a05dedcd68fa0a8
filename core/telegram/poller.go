package telegram

import (
	"time"

	tele "gopkg.in/telebot.v4"
)

const defaultLongPollTimeout = 10 * time.Second

// PollerOptions configures BuildPoller.
type PollerOptions struct {
	LongPollTimeoutSeconds int
	AllowedUpdates         []string
}

// BuildPoller returns the long poller every relay worker uses. Webhooks are not
// supported: many bots share one process and one outbound address.
func BuildPoller(opts PollerOptions) *tele.LongPoller {
	timeout := defaultLongPollTimeout
	if opts.LongPollTimeoutSeconds > 0 {
		timeout = time.Duration(opts.LongPollTimeoutSeconds) * time.Second
	}
	return &tele.LongPoller{
		Timeout:        timeout,
		AllowedUpdates: append([]string(nil), opts.AllowedUpdates...),
	}
}
