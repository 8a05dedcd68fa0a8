package relay

import (
	"errors"
	"fmt"

	"github.com/m3rciful/relaybot/internal/topics"
)

// Kind classifies why an event did not complete normally.
type Kind int

const (
	ChallengeMismatch Kind = iota + 1
	NotVerified
	Blocked
	CorrelationMiss
	ThreadMissing
	DeliveryFailure
)

func (k Kind) String() string {
	switch k {
	case ChallengeMismatch:
		return "challenge_mismatch"
	case NotVerified:
		return "not_verified"
	case Blocked:
		return "blocked"
	case CorrelationMiss:
		return "correlation_miss"
	case ThreadMissing:
		return "thread_missing"
	case DeliveryFailure:
		return "delivery_failure"
	default:
		return "unknown"
	}
}

// ErrThreadMissing is wrapped by transports when the target thread is gone.
var ErrThreadMissing = topics.ErrThreadMissing

// Error is an event-scoped failure. It never escapes the update loop.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code is picked up by the handler summary as err_code.
func (e *Error) Code() string {
	return e.Kind.String()
}

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: Blocked}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind of err, or 0 when err is not a relay error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}
