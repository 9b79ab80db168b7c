package metrics

import "time"

// ScannerMetrics holds the classifier and decoder metrics.
type ScannerMetrics struct {
	registry *Registry

	KeysTotal         *Counter
	ExcludedKeysTotal *Counter
	FlushesTotal      *Counter
	ScansTotal        *Counter
	StructuredTotal   *Counter
	DecodeMissesTotal *Counter
	StoredScansTotal  *Counter
	ErrorsTotal       *Counter

	Subscribers   *Gauge
	UptimeSeconds *Gauge
	LastScanTs    *Gauge

	KeyGap         *Histogram
	DecodeDuration *Histogram
}

var startTime = time.Now()

// NewScannerMetrics registers the scanner metrics on registry, or on
// Default() when registry is nil.
func NewScannerMetrics(registry *Registry) *ScannerMetrics {
	if registry == nil {
		registry = Default()
	}
	return &ScannerMetrics{
		registry: registry,

		KeysTotal: registry.RegisterCounter("keys_total",
			"Keystrokes accepted by the classifier", nil),
		ExcludedKeysTotal: registry.RegisterCounter("excluded_keys_total",
			"Keystrokes dropped because their origin is excluded", nil),
		FlushesTotal: registry.RegisterCounter("flushes_total",
			"Buffer flushes, successful or not", nil),
		ScansTotal: registry.RegisterCounter("scans_total",
			"Scans decoded into a payload", nil),
		StructuredTotal: registry.RegisterCounter("structured_scans_total",
			"Scans that yielded GS1 fields", nil),
		DecodeMissesTotal: registry.RegisterCounter("decode_misses_total",
			"Flushes whose buffer decoded to nothing", nil),
		StoredScansTotal: registry.RegisterCounter("stored_scans_total",
			"Scans written to the history store", nil),
		ErrorsTotal: registry.RegisterCounter("errors_total",
			"Infrastructure errors (device, storage)", nil),

		Subscribers: registry.RegisterGauge("subscribers",
			"Live scan subscribers", nil),
		UptimeSeconds: registry.RegisterGauge("uptime_seconds",
			"Seconds since the process started", nil),
		LastScanTs: registry.RegisterGauge("last_scan_timestamp",
			"Unix timestamp of the last decoded scan", nil),

		KeyGap: registry.RegisterHistogram("key_gap_seconds",
			"Time between consecutive keystrokes", nil, KeyGapBuckets),
		DecodeDuration: registry.RegisterHistogram("decode_duration_seconds",
			"Time spent decoding a flushed buffer", nil, DurationBuckets),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *ScannerMetrics) Registry() *Registry {
	return m.registry
}

// RecordScan records a decoded scan.
func (m *ScannerMetrics) RecordScan(structured bool, at time.Time) {
	m.ScansTotal.Inc()
	if structured {
		m.StructuredTotal.Inc()
	}
	m.LastScanTs.Set(at.Unix())
}

// UpdateUptime refreshes the uptime gauge.
func (m *ScannerMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}
