package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keywedge/internal/scanner"
)

type fakeHandle struct {
	path   string
	keys   chan rawKey
	done   chan struct{}
	once   sync.Once
	closed bool
}

func newFakeHandle(path string, keys ...rawKey) *fakeHandle {
	h := &fakeHandle{path: path, keys: make(chan rawKey, len(keys)+1), done: make(chan struct{})}
	for _, k := range keys {
		h.keys <- k
	}
	return h
}

func (h *fakeHandle) info() Info { return Info{Path: h.path, Name: "Fake Barcode Scanner"} }

func (h *fakeHandle) read() (rawKey, error) {
	select {
	case k, ok := <-h.keys:
		if !ok {
			return rawKey{}, errors.New("device unplugged")
		}
		return k, nil
	case <-h.done:
		return rawKey{}, errors.New("closed")
	}
}

func (h *fakeHandle) close() error {
	h.once.Do(func() {
		h.closed = true
		close(h.done)
	})
	return nil
}

func stubPlatform(t *testing.T, open func(string, bool) (handle, error), list func() ([]Info, error)) {
	t.Helper()
	oldOpen, oldList := openHandle, listDevices
	if open != nil {
		openHandle = open
	}
	if list != nil {
		listDevices = list
	}
	t.Cleanup(func() { openHandle, listDevices = oldOpen, oldList })
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestResolve(t *testing.T) {
	stubPlatform(t, nil, func() ([]Info, error) {
		return []Info{
			{Path: "/dev/input/event0", Name: "AT Translated Set 2 keyboard"},
			{Path: "/dev/input/event5", Name: "Honeywell Barcode Scanner"},
		}, nil
	})

	path, err := Resolve(Options{Path: "/dev/input/event9"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/input/event9", path)

	path, err = Resolve(Options{Name: "barcode"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/input/event5", path)

	_, err = Resolve(Options{Name: "zebra"})
	assert.ErrorIs(t, err, ErrNoDevice)

	_, err = Resolve(Options{})
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestDeviceRun(t *testing.T) {
	h := newFakeHandle("/dev/input/event5",
		rawKey{Time: t0, Code: keyLeftShift, Value: KeyPress},
		rawKey{Time: t0.Add(time.Millisecond), Code: 30, Value: KeyPress},
		rawKey{Time: t0.Add(2 * time.Millisecond), Code: 30, Value: KeyRelease},
		rawKey{Time: t0.Add(3 * time.Millisecond), Code: keyLeftShift, Value: KeyRelease},
		rawKey{Time: t0.Add(4 * time.Millisecond), Code: keyEnter, Value: KeyPress},
	)
	var grabbed bool
	stubPlatform(t, func(path string, grab bool) (handle, error) {
		grabbed = grab
		return h, nil
	}, nil)

	dev, err := Open(Options{Path: "/dev/input/event5", Grab: true, Origin: "scanner"})
	require.NoError(t, err)
	assert.True(t, grabbed)
	assert.Equal(t, "Fake Barcode Scanner", dev.Info().Name)

	ctx, cancel := context.WithCancel(context.Background())
	var got []scanner.KeyEvent
	err = dev.Run(ctx, func(ev scanner.KeyEvent) {
		got = append(got, ev)
		if ev.Key == "Enter" {
			cancel()
		}
	})
	require.NoError(t, err, "cancellation ends Run cleanly")
	require.Len(t, got, 3)
	assert.Equal(t, "Shift", got[0].Key)
	assert.Equal(t, "A", got[1].Key)
	assert.Equal(t, t0.Add(time.Millisecond), got[1].Timestamp)
	assert.Equal(t, "scanner", got[1].Origin)
	assert.True(t, h.closed)
	assert.NoError(t, dev.Close())
}

func TestDeviceRunReadError(t *testing.T) {
	h := newFakeHandle("/dev/input/event5")
	close(h.keys)
	stubPlatform(t, func(string, bool) (handle, error) { return h, nil }, nil)

	dev, err := Open(Options{Path: "/dev/input/event5"})
	require.NoError(t, err)
	err = dev.Run(context.Background(), func(scanner.KeyEvent) {})
	assert.ErrorContains(t, err, "device unplugged")
}

func TestSuperviseReconnects(t *testing.T) {
	var mu sync.Mutex
	opens := 0
	stubPlatform(t, func(path string, _ bool) (handle, error) {
		mu.Lock()
		defer mu.Unlock()
		opens++
		switch opens {
		case 1:
			return nil, errors.New("permission denied")
		case 2:
			h := newFakeHandle(path, rawKey{Code: key1, Value: KeyPress})
			close(h.keys)
			return h, nil
		default:
			return newFakeHandle(path, rawKey{Code: key0, Value: KeyPress}), nil
		}
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	keys := make(chan string, 4)
	var statuses []Status
	done := make(chan struct{})
	go func() {
		defer close(done)
		Supervise(ctx, Options{Path: "/dev/input/event5"}, time.Millisecond,
			func(ev scanner.KeyEvent) { keys <- ev.Key },
			func(s Status) {
				mu.Lock()
				statuses = append(statuses, s)
				mu.Unlock()
			}, nil)
	}()

	for _, want := range []string{"1", "0"} {
		select {
		case k := <-keys:
			assert.Equal(t, want, k)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(statuses), 3)
	assert.True(t, statuses[0].Attached)
	assert.False(t, statuses[1].Attached)
	assert.Error(t, statuses[1].Err)
	assert.True(t, statuses[2].Attached)
}
