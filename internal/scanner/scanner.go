// Package scanner classifies a stream of keystrokes into barcode scans.
//
// A keyboard-wedge scanner types its data as very fast keystrokes. The
// Classifier buffers every accepted key and decides when a burst is complete
// using one of three strategies: a suffix key that terminates the scan, a
// prefix key followed by a fixed read window, or the pause between keys.
// On completion the buffer is flushed through a decode.Decoder and the
// resulting payload is delivered to the OnScan handler and to every
// subscriber.
//
// Timers run on their own goroutines. State is guarded by a mutex and every
// timer carries a generation number so a callback that lost a race with Stop
// does nothing. Results are delivered one at a time in flush order by
// whichever goroutine flushed first; handlers must not block for long.
package scanner

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"keywedge/internal/broadcast"
	"keywedge/internal/decode"
	"keywedge/internal/metrics"
)

// Classifier turns keystrokes into scans. Create one with New.
type Classifier struct {
	clock            Clock
	decoder          decode.Decoder
	logger           *slog.Logger
	metrics          *metrics.ScannerMetrics
	newID            func() string
	subscriberBuffer int

	onScan      func(Result)
	onException func(*Error)
	onKeyDetect func(string, KeyEvent)

	hub *broadcast.Broadcaster[Result]

	mu       sync.Mutex
	cfg      Config
	strategy Strategy
	prefix   keySet
	suffix   keySet
	exclude  keySet
	buf      strings.Builder
	prevTs   time.Time
	hasPrev  bool
	timer    Timer
	reading  bool // prefix window open
	gen      uint64
	closed   bool

	pending    []flush
	delivering bool
}

type flush struct {
	raw      string
	strategy Strategy
}

// New returns a Classifier using cfg.
func New(cfg Config, opts ...Option) (*Classifier, error) {
	c := &Classifier{
		clock:            SystemClock{},
		decoder:          decode.Basic{},
		logger:           slog.Default(),
		newID:            defaultID,
		subscriberBuffer: 16,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "scanner")
	c.hub = broadcast.New[Result](c.subscriberBuffer)
	if err := c.SetConfig(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// SetConfig replaces the configuration. The new strategy applies from the
// next keystroke; a read window or gap timer already running completes
// under the rules it was started with.
func (c *Classifier) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.clone()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.strategy = StrategyFor(cfg)
	c.prefix = newKeySet(cfg.PrefixKeys)
	c.suffix = newKeySet(cfg.SuffixKeys)
	c.exclude = newKeySet(cfg.ExcludeNodes)
	c.logger.Debug("configuration applied", "strategy", c.strategy)
	return nil
}

// Config returns a copy of the active configuration.
func (c *Classifier) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.clone()
}

// Strategy returns the active strategy.
func (c *Classifier) Strategy() Strategy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategy
}

// Feed processes one keystroke. It returns ErrClosed after Close and nil
// otherwise; classification signals go to the exception handler.
//
// The OnKeyDetect handler runs once the key has been classified, so a
// suffix key has already flushed the buffer, but before any scan that key
// completed is delivered.
func (c *Classifier) Feed(ev KeyEvent) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.exclude.has(ev.Origin) {
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.ExcludedKeysTotal.Inc()
		}
		if c.onException != nil {
			c.onException(excludedNode(ev))
		}
		return nil
	}

	flushed := false
	if c.strategy == StrategyGap && c.burstEndedLocked(ev.Timestamp) {
		c.stopTimerLocked()
		c.flushLocked()
		flushed = true
	}
	c.buf.WriteString(ev.Key)
	switch c.strategy {
	case StrategySuffix:
		if c.suffix.has(ev.Key) {
			c.flushLocked()
			flushed = true
		}
	case StrategyPrefix:
		if c.prefix.has(ev.Key) && !c.reading {
			c.reading = true
			c.armLocked(c.cfg.Timer)
		}
	case StrategyGap:
		c.gapLocked(ev)
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.KeysTotal.Inc()
	}
	if c.onKeyDetect != nil {
		c.onKeyDetect(ev.Key, ev)
	}
	if flushed {
		c.deliver()
	}
	return nil
}

// gapLocked applies the inter-key gap rule for ev, whose key is already
// buffered.
func (c *Classifier) gapLocked(ev KeyEvent) {
	if c.hasPrev {
		gap := ev.Timestamp.Sub(c.prevTs)
		if c.metrics != nil && gap >= 0 {
			c.metrics.KeyGap.ObserveDuration(gap)
		}
		if gap >= 0 && gap < c.cfg.KeyGap {
			c.armLocked(c.cfg.KeyGap)
		}
	}
	c.prevTs = ev.Timestamp
	c.hasPrev = true
}

// burstEndedLocked reports whether a key stamped ts completes the burst
// whose gap timer is still pending. Keys read in a batch can carry such a
// gap before the timer has had a chance to fire.
func (c *Classifier) burstEndedLocked(ts time.Time) bool {
	return c.timer != nil && c.hasPrev && ts.Sub(c.prevTs) >= c.cfg.KeyGap
}

// Simulate feeds every character of scan as a keystroke stamped with the
// current time and no origin.
func (c *Classifier) Simulate(scan string) error {
	for _, r := range scan {
		if err := c.Feed(KeyEvent{Key: string(r), Timestamp: c.clock.Now()}); err != nil {
			return err
		}
	}
	return nil
}

// Flush forces the buffered keys through the decoder, as if the active
// strategy had completed the scan.
func (c *Classifier) Flush() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.stopTimerLocked()
	c.reading = false
	c.flushLocked()
	c.mu.Unlock()

	c.deliver()
	return nil
}

// Buffered returns the keys accumulated since the last flush.
func (c *Classifier) Buffered() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Subscribe returns a subscription receiving every result until ctx is done
// or the classifier is closed.
func (c *Classifier) Subscribe(ctx context.Context) *broadcast.Subscription[Result] {
	return c.hub.Subscribe(ctx)
}

// Close cancels pending timers, discards the buffer and ends every
// subscription. Feed returns ErrClosed afterwards. Close is idempotent.
func (c *Classifier) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopTimerLocked()
	c.reading = false
	c.buf.Reset()
	c.hasPrev = false
	c.pending = nil
	c.mu.Unlock()

	c.hub.Close()
	return nil
}

// armLocked (re)starts the single pending timer.
func (c *Classifier) armLocked(d time.Duration) {
	c.stopTimerLocked()
	gen := c.gen
	c.timer = c.clock.AfterFunc(d, func() { c.expire(gen) })
}

func (c *Classifier) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

func (c *Classifier) expire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.gen++
	c.reading = false
	c.flushLocked()
	c.mu.Unlock()

	c.deliver()
}

// flushLocked moves the buffer to the delivery queue and resets the
// accumulation state.
func (c *Classifier) flushLocked() {
	c.pending = append(c.pending, flush{raw: c.buf.String(), strategy: c.strategy})
	c.buf.Reset()
	c.hasPrev = false
	c.prevTs = time.Time{}
}

// deliver drains the queue unless another goroutine already is.
func (c *Classifier) deliver() {
	c.mu.Lock()
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for len(c.pending) > 0 {
		f := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()

		c.emit(f)

		c.mu.Lock()
	}
	c.delivering = false
	c.mu.Unlock()
}

func (c *Classifier) emit(f flush) {
	if c.metrics != nil {
		c.metrics.FlushesTotal.Inc()
	}

	start := time.Now()
	parsed := c.decoder.Decode(f.raw)
	if c.metrics != nil {
		c.metrics.DecodeDuration.ObserveDuration(time.Since(start))
	}
	if parsed == nil {
		if c.metrics != nil {
			c.metrics.DecodeMissesTotal.Inc()
		}
		c.logger.Debug("flush decoded to nothing", "strategy", f.strategy, "raw", f.raw)
		return
	}

	res := Result{
		ID:       c.newID(),
		Parsed:   parsed,
		Scanned:  f.raw,
		Strategy: f.strategy,
		At:       c.clock.Now(),
	}
	if c.metrics != nil {
		c.metrics.RecordScan(parsed.IsStructured(), res.At)
	}
	c.logger.Debug("scan decoded", "id", res.ID, "strategy", f.strategy, "structured", parsed.IsStructured(), "scanned", f.raw)

	if c.onScan != nil {
		c.onScan(res)
	}
	c.hub.Publish(res)
}
