package scanner

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Feed after Close.
var ErrClosed = errors.New("scanner: classifier closed")

// CodeExcludedNode marks a keystroke dropped because of its origin.
const CodeExcludedNode = "EXCLUDED_NODE"

// Error is a non-fatal classification signal. It is delivered to the
// exception handler and never returned from Feed.
type Error struct {
	Message string    `json:"message"`
	Code    string    `json:"code"`
	Event   *KeyEvent `json:"event,omitempty"`
}

func (e *Error) Error() string {
	if e.Event != nil {
		return fmt.Sprintf("scanner: %s: %s (key %q from %q)", e.Code, e.Message, e.Event.Key, e.Event.Origin)
	}
	return fmt.Sprintf("scanner: %s: %s", e.Code, e.Message)
}

func excludedNode(ev KeyEvent) *Error {
	return &Error{
		Message: "event is from an excluded node",
		Code:    CodeExcludedNode,
		Event:   &ev,
	}
}
