package scanner

import "fmt"

// Strategy is the rule that decides when a burst of keys is complete.
// Exactly one is active per configuration, chosen in priority order
// suffix, prefix, gap.
type Strategy int

const (
	// StrategyGap flushes once keys stop arriving faster than KeyGap.
	StrategyGap Strategy = iota
	// StrategyPrefix flushes Timer after a prefix key.
	StrategyPrefix
	// StrategySuffix flushes on a suffix key.
	StrategySuffix
)

func (s Strategy) String() string {
	switch s {
	case StrategyGap:
		return "gap"
	case StrategyPrefix:
		return "prefix"
	case StrategySuffix:
		return "suffix"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	switch string(text) {
	case "gap":
		*s = StrategyGap
	case "prefix":
		*s = StrategyPrefix
	case "suffix":
		*s = StrategySuffix
	default:
		return fmt.Errorf("scanner: unknown strategy %q", text)
	}
	return nil
}

// StrategyFor returns the strategy cfg selects.
func StrategyFor(cfg Config) Strategy {
	switch {
	case len(cfg.SuffixKeys) > 0:
		return StrategySuffix
	case len(cfg.PrefixKeys) > 0:
		return StrategyPrefix
	default:
		return StrategyGap
	}
}
