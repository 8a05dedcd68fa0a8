// Package correlation remembers which delivered message belongs to which origin
// so replies and edits can travel back across the relay.
package correlation

import (
	"fmt"
	"strconv"
	"strings"
)

// Namespace tags one of the five disjoint correlation relations.
type Namespace string

const (
	// Direct maps a delivered message id on the operator side to the sender user id.
	Direct Namespace = "direct"
	// Topic maps a sender user id to their thread id in the operator group.
	Topic Namespace = "topic"
	// UserForward maps a sender origin message to the delivered message id.
	UserForward Namespace = "user_forward"
	// ForwardUser maps a delivered message id back to the sender origin message.
	ForwardUser Namespace = "forward_user"
	// OwnerUser maps an operator origin message to the copy delivered to the sender.
	OwnerUser Namespace = "owner_user"
)

// Namespaces lists every namespace in rehydration order.
var Namespaces = []Namespace{Direct, Topic, UserForward, ForwardUser, OwnerUser}

// Valid reports whether n is one of the known namespaces.
func (n Namespace) Valid() bool {
	switch n {
	case Direct, Topic, UserForward, ForwardUser, OwnerUser:
		return true
	}
	return false
}

func (n Namespace) String() string {
	return string(n)
}

// MessageKey identifies a message inside a chat. Its string form is "{chatId}_{messageId}".
type MessageKey struct {
	ChatID    int64
	MessageID int
}

func (k MessageKey) String() string {
	return strconv.FormatInt(k.ChatID, 10) + "_" + strconv.Itoa(k.MessageID)
}

// ParseMessageKey reverses MessageKey.String. Group chat ids are negative, so the
// separator is searched from the right.
func ParseMessageKey(s string) (MessageKey, error) {
	i := strings.LastIndexByte(s, '_')
	if i <= 0 || i == len(s)-1 {
		return MessageKey{}, fmt.Errorf("correlation: malformed message key %q", s)
	}
	chat, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return MessageKey{}, fmt.Errorf("correlation: malformed chat id in %q: %w", s, err)
	}
	msg, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return MessageKey{}, fmt.Errorf("correlation: malformed message id in %q: %w", s, err)
	}
	return MessageKey{ChatID: chat, MessageID: msg}, nil
}

func idKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
