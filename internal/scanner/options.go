package scanner

import (
	"log/slog"

	"github.com/google/uuid"

	"keywedge/internal/decode"
	"keywedge/internal/metrics"
)

// Option configures a Classifier.
type Option func(*Classifier)

// WithOnScan sets the handler invoked for every decoded scan.
func WithOnScan(fn func(Result)) Option {
	return func(c *Classifier) { c.onScan = fn }
}

// WithOnException sets the handler for classification signals.
func WithOnException(fn func(*Error)) Option {
	return func(c *Classifier) { c.onException = fn }
}

// WithOnKeyDetect sets the handler invoked for every accepted keystroke.
func WithOnKeyDetect(fn func(key string, ev KeyEvent)) Option {
	return func(c *Classifier) { c.onKeyDetect = fn }
}

// WithDecoder sets the decoder run on every flush. The default is
// decode.Basic.
func WithDecoder(d decode.Decoder) Option {
	return func(c *Classifier) {
		if d != nil {
			c.decoder = d
		}
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock Clock) Option {
	return func(c *Classifier) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records classifier activity on m.
func WithMetrics(m *metrics.ScannerMetrics) Option {
	return func(c *Classifier) { c.metrics = m }
}

// WithSubscriberBuffer sets how many results each subscriber may have
// queued before further results are dropped for it.
func WithSubscriberBuffer(n int) Option {
	return func(c *Classifier) { c.subscriberBuffer = n }
}

// WithIDGenerator replaces the result ID generator (random UUIDs).
func WithIDGenerator(fn func() string) Option {
	return func(c *Classifier) {
		if fn != nil {
			c.newID = fn
		}
	}
}

func defaultID() string {
	return uuid.NewString()
}
