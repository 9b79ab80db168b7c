// Package device reads keystrokes from a keyboard-wedge barcode scanner
// attached as a Linux input device and turns them into scanner.KeyEvents.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"keywedge/internal/scanner"
)

var (
	// ErrNoDevice is returned when no input device matches the options.
	ErrNoDevice = errors.New("device: no matching input device")

	// ErrNotAvailable is returned on platforms without evdev.
	ErrNotAvailable = errors.New("device: input devices not supported on this platform")
)

// Info describes an input device.
type Info struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// Options selects and configures the device.
type Options struct {
	// Path opens this device node directly.
	Path string
	// Name selects the first device whose name contains it, ignoring case.
	Name string
	// Grab takes the device exclusively.
	Grab bool
	// Origin is stamped on every KeyEvent.
	Origin string
}

// rawKey is one EV_KEY event.
type rawKey struct {
	Time  time.Time
	Code  uint16
	Value int32
}

// handle is an open input device. read blocks until the next EV_KEY event
// and fails once close has been called.
type handle interface {
	info() Info
	read() (rawKey, error)
	close() error
}

// Platform hooks, replaced in tests.
var (
	openHandle  = openPlatform
	listDevices = listPlatform
)

// List returns the input devices that look like keyboards.
func List() ([]Info, error) {
	return listDevices()
}

// Resolve returns the path Options refer to.
func Resolve(opts Options) (string, error) {
	if opts.Path != "" {
		return opts.Path, nil
	}
	if opts.Name == "" {
		return "", ErrNoDevice
	}
	devices, err := listDevices()
	if err != nil {
		return "", err
	}
	want := strings.ToLower(opts.Name)
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), want) {
			return d.Path, nil
		}
	}
	return "", fmt.Errorf("%w: name %q", ErrNoDevice, opts.Name)
}

// Device is an open input device.
type Device struct {
	h      handle
	keymap *Keymap
	origin string

	closeOnce sync.Once
	closeErr  error
}

// Open resolves and opens the device.
func Open(opts Options) (*Device, error) {
	path, err := Resolve(opts)
	if err != nil {
		return nil, err
	}
	h, err := openHandle(path, opts.Grab)
	if err != nil {
		return nil, err
	}
	return &Device{h: h, keymap: NewKeymap(), origin: opts.Origin}, nil
}

// Info returns the device path and name.
func (d *Device) Info() Info {
	return d.h.info()
}

// Run reads key events and passes each translated key to emit until ctx is
// done or the device fails. It returns nil when ctx ends the loop.
func (d *Device) Run(ctx context.Context, emit func(scanner.KeyEvent)) error {
	stop := context.AfterFunc(ctx, func() { d.Close() })
	defer stop()

	for {
		raw, err := d.h.read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %s: %w", d.h.info().Path, err)
		}
		key, ok := d.keymap.Translate(raw.Code, raw.Value)
		if !ok {
			continue
		}
		emit(scanner.KeyEvent{Key: key, Timestamp: raw.Time, Origin: d.origin})
	}
}

// Close releases the device. It is safe to call more than once.
func (d *Device) Close() error {
	d.closeOnce.Do(func() { d.closeErr = d.h.close() })
	return d.closeErr
}

// Status is reported by Supervise whenever the device comes or goes.
type Status struct {
	Attached bool
	Device   Info
	Err      error
}

// Supervise keeps a device open until ctx is done, reopening it after
// retry whenever it cannot be opened or stops delivering events.
func Supervise(ctx context.Context, opts Options, retry time.Duration, emit func(scanner.KeyEvent), notify func(Status), logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = func(Status) {}
	}
	if retry <= 0 {
		retry = 5 * time.Second
	}

	var lastErr string
	for {
		dev, err := Open(opts)
		if err != nil {
			// Only log the first of a run of identical failures.
			if err.Error() != lastErr {
				logger.Warn("input device unavailable", "path", opts.Path, "name", opts.Name, "error", err)
				lastErr = err.Error()
			}
		} else {
			lastErr = ""
			info := dev.Info()
			logger.Info("input device attached", "path", info.Path, "name", info.Name, "grab", opts.Grab)
			notify(Status{Attached: true, Device: info})

			err = dev.Run(ctx, emit)
			dev.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Warn("input device lost", "path", info.Path, "error", err)
			notify(Status{Device: info, Err: err})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}
