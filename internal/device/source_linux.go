//go:build linux

package device

import (
	"fmt"
	"time"

	evdev "github.com/holoplot/go-evdev"
)

type evdevHandle struct {
	dev     *evdev.InputDevice
	path    string
	name    string
	grabbed bool
}

func openPlatform(path string, grab bool) (handle, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	name, err := dev.Name()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("read name of %s: %w", path, err)
	}
	h := &evdevHandle{dev: dev, path: path, name: name}
	if grab {
		if err := dev.Grab(); err != nil {
			dev.Close()
			return nil, fmt.Errorf("grab %s: %w", path, err)
		}
		h.grabbed = true
	}
	return h, nil
}

func (h *evdevHandle) info() Info {
	return Info{Path: h.path, Name: h.name}
}

func (h *evdevHandle) read() (rawKey, error) {
	for {
		ev, err := h.dev.ReadOne()
		if err != nil {
			return rawKey{}, err
		}
		if ev.Type != evdev.EV_KEY {
			continue
		}
		sec, nsec := ev.Time.Unix()
		return rawKey{
			Time:  time.Unix(sec, nsec),
			Code:  uint16(ev.Code),
			Value: ev.Value,
		}, nil
	}
}

func (h *evdevHandle) close() error {
	if h.grabbed {
		h.dev.Ungrab()
	}
	return h.dev.Close()
}

// listPlatform returns devices able to type letters and Enter, which is what
// keyboard-wedge scanners announce.
func listPlatform() ([]Info, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}

	var out []Info
	for _, p := range paths {
		dev, err := evdev.Open(p.Path)
		if err != nil {
			continue
		}
		hasA, hasEnter := false, false
		for _, c := range dev.CapableEvents(evdev.EV_KEY) {
			switch c {
			case evdev.KEY_A:
				hasA = true
			case evdev.KEY_ENTER:
				hasEnter = true
			}
		}
		dev.Close()
		if hasA && hasEnter {
			out = append(out, Info{Path: p.Path, Name: p.Name})
		}
	}
	return out, nil
}
