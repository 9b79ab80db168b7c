package scanner

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Config controls classification. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	// Timer is how long to keep reading after a prefix key.
	Timer time.Duration
	// KeyGap is the longest pause between two keys of the same scan.
	KeyGap time.Duration
	// PrefixKeys select the prefix strategy when SuffixKeys is empty.
	PrefixKeys []string
	// SuffixKeys select the suffix strategy.
	SuffixKeys []string
	// ExcludeNodes lists event origins whose keys are ignored.
	ExcludeNodes []string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Timer:        100 * time.Millisecond,
		KeyGap:       40 * time.Millisecond,
		ExcludeNodes: []string{"TEXTAREA", "INPUT"},
	}
}

// Validate checks that the durations the active strategy relies on are
// usable.
func (c Config) Validate() error {
	var errs []error
	switch StrategyFor(c) {
	case StrategyPrefix:
		if c.Timer <= 0 {
			errs = append(errs, fmt.Errorf("timer must be positive, got %s", c.Timer))
		}
	case StrategyGap:
		if c.KeyGap <= 0 {
			errs = append(errs, fmt.Errorf("key gap must be positive, got %s", c.KeyGap))
		}
	}
	for _, k := range slices.Concat(c.PrefixKeys, c.SuffixKeys) {
		if k == "" {
			errs = append(errs, errors.New("prefix and suffix keys must not be empty"))
			break
		}
	}
	return errors.Join(errs...)
}

func (c Config) clone() Config {
	c.PrefixKeys = slices.Clone(c.PrefixKeys)
	c.SuffixKeys = slices.Clone(c.SuffixKeys)
	c.ExcludeNodes = slices.Clone(c.ExcludeNodes)
	return c
}

type keySet map[string]struct{}

func newKeySet(keys []string) keySet {
	s := make(keySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s keySet) has(k string) bool {
	_, ok := s[k]
	return ok
}
