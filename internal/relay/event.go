package relay

import "strings"

// EventKind tags an inbound event.
type EventKind int

const (
	EventNew EventKind = iota
	EventEdited
	EventCallback
)

func (k EventKind) String() string {
	switch k {
	case EventEdited:
		return "edited"
	case EventCallback:
		return "callback"
	default:
		return "new"
	}
}

// Event is one inbound update, already stripped of transport types.
type Event struct {
	Kind     EventKind
	UpdateID int

	SenderID     int64
	SenderName   string
	SenderHandle string

	ChatID      int64
	ChatPrivate bool
	MessageID   int
	ReplyToID   int
	ThreadID    int

	// Text is set for plain text messages only; Opaque marks any other payload.
	Text   string
	Opaque bool

	CallbackID string
	Action     string
	Payload    string
}

// IsText reports whether the payload can be synced by editing text in place.
func (e Event) IsText() bool {
	return !e.Opaque && e.Text != ""
}

// parseCommand splits "/name@bot arg1 arg2" into name and args. name is lower
// case without the slash.
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
