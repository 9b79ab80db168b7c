// Package gs1 decodes GS1 element strings read from a keyboard-wedge scanner.
//
// A scan is cleaned of non-data keys, split into groups on the configured
// function-code sequences, and each group is segmented into Application
// Identifier fields using an identifier Table. Lookup is greedy: the first
// 2, 3 and then 4 characters are tried in that order and the first registered
// code wins, so a two-digit code shadows any longer code that starts with it.
// A field always consumes its declared length (capped at the end of the
// group); the Variable flag is informational.
package gs1

import (
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"
)

// Code length bounds for Application Identifiers.
const (
	MinCodeLen = 2
	MaxCodeLen = 4
)

// ErrInvalidTable is returned when an identifier table fails validation.
var ErrInvalidTable = errors.New("gs1: invalid identifier table")

// Entry describes one Application Identifier.
type Entry struct {
	Code     string `json:"code" toml:"code" yaml:"code"`
	Purpose  string `json:"purpose" toml:"purpose" yaml:"purpose"`
	Length   int    `json:"length" toml:"length" yaml:"length"`
	Variable bool   `json:"variable,omitempty" toml:"variable" yaml:"variable"`
}

// Validate checks the entry's invariants.
func (e Entry) Validate() error {
	n := utf8.RuneCountInString(e.Code)
	if n < MinCodeLen || n > MaxCodeLen {
		return fmt.Errorf("%w: code %q must be %d to %d characters", ErrInvalidTable, e.Code, MinCodeLen, MaxCodeLen)
	}
	for _, r := range e.Code {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: code %q must be numeric", ErrInvalidTable, e.Code)
		}
	}
	if e.Length < 1 {
		return fmt.Errorf("%w: code %q: length must be positive", ErrInvalidTable, e.Code)
	}
	return nil
}

// Table maps AI codes to their entries. A Table is immutable once built and
// safe for concurrent use.
type Table struct {
	entries map[string]Entry
}

// NewTable builds a table from entries. Duplicate codes are rejected.
func NewTable(entries []Entry) (*Table, error) {
	t := &Table{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, dup := t.entries[e.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate code %q", ErrInvalidTable, e.Code)
		}
		t.entries[e.Code] = e
	}
	return t, nil
}

// Merge returns a new table holding t's entries overridden by extra.
func (t *Table) Merge(extra []Entry) (*Table, error) {
	merged := make(map[string]Entry, len(t.entries)+len(extra))
	for code, e := range t.entries {
		merged[code] = e
	}
	seen := make(map[string]bool, len(extra))
	for _, e := range extra {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if seen[e.Code] {
			return nil, fmt.Errorf("%w: duplicate code %q", ErrInvalidTable, e.Code)
		}
		seen[e.Code] = true
		merged[e.Code] = e
	}
	return &Table{entries: merged}, nil
}

// Get returns the entry registered for code.
func (t *Table) Get(code string) (Entry, bool) {
	e, ok := t.entries[code]
	return e, ok
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns all entries sorted by code.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Lookup finds the entry whose code prefixes text, trying 2, 3 and 4
// characters in that order.
func (t *Table) Lookup(text string) (Entry, bool) {
	return t.lookupRunes([]rune(text))
}

func (t *Table) lookupRunes(text []rune) (Entry, bool) {
	for n := MinCodeLen; n <= MaxCodeLen && n <= len(text); n++ {
		if e, ok := t.entries[string(text[:n])]; ok {
			return e, true
		}
	}
	return Entry{}, false
}
