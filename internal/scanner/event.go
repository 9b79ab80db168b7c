package scanner

import (
	"time"

	"keywedge/internal/decode"
)

// KeyEvent is one keystroke as delivered by an input source.
type KeyEvent struct {
	// Key is the key name, either a single character ("A", "0") or a name
	// such as "Shift" or "Enter".
	Key string `json:"key"`
	// Timestamp is when the key went down.
	Timestamp time.Time `json:"timestamp"`
	// Origin identifies the element or device that produced the event.
	// Events whose origin is listed in Config.ExcludeNodes are dropped.
	Origin string `json:"origin,omitempty"`
}

// Result is emitted once per flush that decoded to a payload.
type Result struct {
	ID       string          `json:"id"`
	Parsed   *decode.Payload `json:"parsed"`
	Scanned  string          `json:"scanned"`
	Strategy Strategy        `json:"strategy"`
	At       time.Time       `json:"at"`
}
