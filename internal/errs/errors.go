package errs

import (
	"errors"
	"fmt"
)

var (
	ErrTransport        = errors.New("signaling transport failure")
	ErrNegotiation      = errors.New("negotiation failure")
	ErrMediaAcquisition = errors.New("local media unavailable")
	ErrInvalidSlot      = errors.New("invalid slot")
	ErrSlotOccupied     = errors.New("slot occupied")
	ErrAlreadyJoined    = errors.New("already joined")
	ErrNotJoined        = errors.New("not joined")
	ErrDuplicate        = errors.New("duplicate message")
	ErrUnknownType      = errors.New("unknown message type")
	ErrClosed           = errors.New("closed")
)

// Error annotates a failure with the operation and, when known, the remote
// peer it concerns. Err is one of the sentinels above or a wrapped cause.
type Error struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Peer != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Peer)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", msg, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func Wrap(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

func ForPeer(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

// Join marks cause as belonging to kind so callers can match either with
// errors.Is.
func Join(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

// Fatal reports whether err aborts the operation that produced it. Only
// local media failures are fatal; signaling faults are advisory.
func Fatal(err error) bool {
	return errors.Is(err, ErrMediaAcquisition)
}
