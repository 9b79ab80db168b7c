package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"keywedge/internal/config"
	"keywedge/internal/decode"
	"keywedge/internal/device"
	"keywedge/internal/health"
	"keywedge/internal/logging"
	"keywedge/internal/metrics"
	"keywedge/internal/scanner"
	"keywedge/internal/store"
)

const (
	pruneInterval   = time.Hour
	uptimeInterval  = 10 * time.Second
	storeTimeout    = 5 * time.Second
	historyQueue    = 256
	shutdownTimeout = 5 * time.Second
)

// swapDecoder lets a reload replace the decoder while the classifier is
// running.
type swapDecoder struct {
	current atomic.Pointer[decoderBox]
}

type decoderBox struct{ decode.Decoder }

func newSwapDecoder(d decode.Decoder) *swapDecoder {
	s := &swapDecoder{}
	s.Set(d)
	return s
}

func (s *swapDecoder) Set(d decode.Decoder) { s.current.Store(&decoderBox{d}) }

func (s *swapDecoder) Decode(raw string) *decode.Payload {
	return s.current.Load().Decode(raw)
}

// scanWriter is the part of store.Store the history writer needs.
type scanWriter interface {
	Insert(ctx context.Context, r *scanner.Result) error
}

// daemon holds the running components.
type daemon struct {
	loader     *config.Loader
	logger     *logging.Logger
	audit      *logging.AuditLogger
	metrics    *metrics.ScannerMetrics
	decoder    *swapDecoder
	classifier *scanner.Classifier
	store      *store.Store
	checker    *health.Checker

	// history receives scans for the writer goroutine; nil when storage is
	// disabled.
	history chan scanner.Result
	writer  scanWriter

	device atomic.Pointer[device.Status]
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func run(ctx context.Context, path string) error {
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logCfg, err := cfg.LoggerConfig("keywedged")
	if err != nil {
		return err
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	ctx, cancel := context.WithCancel(ctx)
	d := &daemon{loader: loader, logger: logger, cancel: cancel}
	if err := d.start(ctx, cfg); err != nil {
		d.stop("startup failed")
		return err
	}
	logger.Info("keywedged started",
		"version", version,
		"config", path,
		"strategy", d.classifier.Strategy(),
		"decoder", cfg.Decoder.Kind,
		"storage", cfg.Storage.Enabled,
		"device", cfg.Device.Enabled)

	<-ctx.Done()
	logger.Info("shutting down")
	d.stop("signal")
	return nil
}

func (d *daemon) start(ctx context.Context, cfg *config.Config) error {
	if cfg.Logging.AuditPath != "" {
		auditCfg := logging.DefaultAuditConfig()
		auditCfg.FilePath = cfg.Logging.AuditPath
		audit, err := logging.NewAuditLogger(auditCfg)
		if err != nil {
			return err
		}
		d.audit = audit
		d.auditLog(func(a *logging.AuditLogger) error { return a.LogStartup(version) })
	}

	d.metrics = metrics.NewScannerMetrics(metrics.NewRegistry(cfg.Metrics.Namespace, ""))
	d.checker = health.NewChecker(0)

	dec, err := cfg.BuildDecoder()
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	d.decoder = newSwapDecoder(dec)

	if cfg.Storage.Enabled {
		st, err := store.Open(cfg.Storage.Path,
			store.WithBusyTimeout(time.Duration(cfg.Storage.BusyTimeoutMs)*time.Millisecond))
		if err != nil {
			return err
		}
		d.store = st
		d.checker.Register("store", true, health.Ping(st.DB().PingContext))
		d.startHistory(ctx, st)
	}

	d.classifier, err = scanner.New(cfg.ClassifierConfig(),
		scanner.WithDecoder(d.decoder),
		scanner.WithLogger(d.logger.Logger),
		scanner.WithMetrics(d.metrics),
		scanner.WithOnScan(d.record),
		scanner.WithOnException(d.exception),
	)
	if err != nil {
		return fmt.Errorf("create classifier: %w", err)
	}

	if d.loader.Path() != "" {
		d.loader.OnChange(d.applyConfig)
		if err := d.loader.Watch(); err != nil {
			d.logger.Warn("config hot reload disabled", "error", err)
		} else {
			d.spawn(func() { d.watchErrors(ctx) })
		}
	}

	if cfg.Device.Enabled {
		d.checker.Register("device", false, deviceCheck(d.deviceStatus))
		d.spawn(func() {
			device.Supervise(ctx, device.Options{
				Path:   cfg.Device.Path,
				Name:   cfg.Device.Name,
				Grab:   cfg.Device.Grab,
				Origin: cfg.Device.Origin,
			}, time.Duration(cfg.Device.ReconnectSec)*time.Second, d.feed, d.deviceChanged, d.logger.Logger)
		})
	}

	if d.store != nil && cfg.Storage.RetentionDays > 0 {
		days := cfg.Storage.RetentionDays
		d.prune(ctx, days)
		d.every(ctx, pruneInterval, func() { d.prune(ctx, days) })
	}
	d.every(ctx, uptimeInterval, d.metrics.UpdateUptime)

	if cfg.HTTP.Enabled {
		srv := &http.Server{
			Addr:        cfg.HTTP.Addr,
			Handler:     d.router(cfg),
			ReadTimeout: time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		}
		d.spawn(func() {
			d.logger.Info("http api listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.logger.Error("http api failed", "error", err)
			}
		})
		d.spawn(func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		})
	}
	d.checker.SetReady(true)
	return nil
}

func (d *daemon) spawn(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// every runs tick every interval until ctx is done.
func (d *daemon) every(ctx context.Context, interval time.Duration, tick func()) {
	d.spawn(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick()
			}
		}
	})
}

func (d *daemon) stop(reason string) {
	if d.checker != nil {
		d.checker.SetReady(false)
	}
	d.cancel()
	if d.classifier != nil {
		d.classifier.Close()
	}
	d.loader.Close()
	d.wg.Wait()
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Error("close store", "error", err)
		}
	}
	d.auditLog(func(a *logging.AuditLogger) error { return a.LogShutdown(reason) })
	if d.audit != nil {
		d.audit.Close()
	}
}

func (d *daemon) feed(ev scanner.KeyEvent) {
	if err := d.classifier.Feed(ev); err != nil && !errors.Is(err, scanner.ErrClosed) {
		d.logger.Error("feed keystroke", "error", err)
	}
}

// record logs a decoded scan and queues it for storage. It runs on the
// goroutine that completed the scan, often the device reader, so it never
// waits for the database.
func (d *daemon) record(res scanner.Result) {
	d.logger.Info("scan",
		"id", res.ID,
		"strategy", res.Strategy,
		"structured", res.Parsed.IsStructured(),
		"scanned", res.Scanned,
		"linear", res.Parsed.Linear)

	if d.history == nil {
		return
	}
	select {
	case d.history <- res:
	default:
		d.metrics.ErrorsTotal.Inc()
		d.logger.Error("history queue full, scan not stored", "id", res.ID)
	}
}

func (d *daemon) startHistory(ctx context.Context, w scanWriter) {
	d.writer = w
	d.history = make(chan scanner.Result, historyQueue)
	d.spawn(func() { d.writeHistory(ctx) })
}

// writeHistory stores queued scans until ctx is done, then drains what is
// left.
func (d *daemon) writeHistory(ctx context.Context) {
	for {
		select {
		case res := <-d.history:
			d.persist(res)
		case <-ctx.Done():
			for {
				select {
				case res := <-d.history:
					d.persist(res)
				default:
					return
				}
			}
		}
	}
}

func (d *daemon) persist(res scanner.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := d.writer.Insert(ctx, &res); err != nil {
		d.metrics.ErrorsTotal.Inc()
		d.logger.Error("store scan", "id", res.ID, "error", err)
		return
	}
	d.metrics.StoredScansTotal.Inc()
}

func (d *daemon) exception(e *scanner.Error) {
	d.logger.Debug("keystroke rejected", "code", e.Code, "message", e.Message)
}

func (d *daemon) deviceChanged(s device.Status) {
	d.device.Store(&s)
	if !s.Attached {
		d.metrics.ErrorsTotal.Inc()
	}
	d.auditLog(func(a *logging.AuditLogger) error { return a.LogDevice(s.Attached, s.Device.Path, s.Err) })
}

func (d *daemon) prune(ctx context.Context, days int) {
	cutoff := time.Now().AddDate(0, 0, -days)
	removed, err := d.store.Prune(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			d.metrics.ErrorsTotal.Inc()
			d.logger.Error("prune scan history", "error", err)
		}
		return
	}
	if removed > 0 {
		d.logger.Info("pruned scan history", "removed", removed, "before", cutoff.Format(time.RFC3339))
		d.auditLog(func(a *logging.AuditLogger) error { return a.LogPrune(removed, cutoff) })
	}
}

// applyConfig applies a reloaded configuration. The scanner and decoder
// sections take effect immediately; everything else needs a restart.
func (d *daemon) applyConfig(old, cfg *config.Config) {
	err := d.reconfigure(old, cfg)
	if err != nil {
		d.logger.Error("apply reloaded config", "error", err)
	} else {
		d.logger.Info("configuration reloaded", "strategy", d.classifier.Strategy())
	}
	d.auditLog(func(a *logging.AuditLogger) error { return a.LogConfigReload(d.loader.Path(), err) })
}

func (d *daemon) reconfigure(old, cfg *config.Config) error {
	if !reflect.DeepEqual(old.Decoder, cfg.Decoder) {
		dec, err := cfg.BuildDecoder()
		if err != nil {
			return fmt.Errorf("build decoder: %w", err)
		}
		d.decoder.Set(dec)
	}
	if err := d.classifier.SetConfig(cfg.ClassifierConfig()); err != nil {
		return err
	}

	for name, changed := range map[string]bool{
		"device":  !reflect.DeepEqual(old.Device, cfg.Device),
		"storage": !reflect.DeepEqual(old.Storage, cfg.Storage),
		"logging": !reflect.DeepEqual(old.Logging, cfg.Logging),
		"http":    !reflect.DeepEqual(old.HTTP, cfg.HTTP),
		"metrics": !reflect.DeepEqual(old.Metrics, cfg.Metrics),
	} {
		if changed {
			d.logger.Warn("config section changed, restart to apply", "section", name)
		}
	}
	return nil
}

func (d *daemon) watchErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-d.loader.Errors():
			d.logger.Error("config reload rejected", "error", err)
			d.auditLog(func(a *logging.AuditLogger) error { return a.LogConfigReload(d.loader.Path(), err) })
		}
	}
}

func (d *daemon) auditLog(fn func(*logging.AuditLogger) error) {
	if d.audit == nil {
		return
	}
	if err := fn(d.audit); err != nil {
		d.logger.Warn("write audit event", "error", err)
	}
}

// deviceStatus returns the last reported device status, or nil before the
// first report.
func (d *daemon) deviceStatus() *device.Status {
	return d.device.Load()
}
