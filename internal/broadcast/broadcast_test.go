package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, sub *Subscription[T]) (T, bool) {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		return v, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero, false
	}
}

func TestPublishFanOut(t *testing.T) {
	b := New[string](4)
	defer b.Close()

	a := b.Subscribe(context.Background())
	c := b.Subscribe(context.Background())
	require.Equal(t, 2, b.Len())

	assert.Equal(t, 2, b.Publish("scan"))

	v, ok := receive(t, a)
	require.True(t, ok)
	assert.Equal(t, "scan", v)
	v, ok = receive(t, c)
	require.True(t, ok)
	assert.Equal(t, "scan", v)
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New[int](1)
	defer b.Close()

	sub := b.Subscribe(context.Background())
	assert.Equal(t, 1, b.Publish(1))
	assert.Equal(t, 0, b.Publish(2))
	assert.Equal(t, uint64(1), b.Dropped())

	// the subscriber stays registered and keeps receiving
	v, _ := receive(t, sub)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, b.Publish(3))
	v, _ = receive(t, sub)
	assert.Equal(t, 3, v)
}

func TestMinimumBuffer(t *testing.T) {
	b := New[int](0)
	defer b.Close()

	sub := b.Subscribe(context.Background())
	assert.Equal(t, 1, b.Publish(7))
	v, _ := receive(t, sub)
	assert.Equal(t, 7, v)
}

func TestContextCancelUnsubscribes(t *testing.T) {
	b := New[int](1)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx)
	cancel()

	_, ok := receive(t, sub)
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, b.Publish(1))
}

func TestSubscriptionClose(t *testing.T) {
	b := New[int](1)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := b.Subscribe(ctx)
	sub.Close()
	sub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
}

func TestCloseEndsSubscriptions(t *testing.T) {
	b := New[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := b.Subscribe(ctx)

	b.Close()
	b.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Publish(1))

	late := b.Subscribe(context.Background())
	_, ok = <-late.C()
	assert.False(t, ok)
}

func TestConcurrentPublish(t *testing.T) {
	b := New[int](1000)
	defer b.Close()
	sub := b.Subscribe(context.Background())

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := range 50 {
				b.Publish(base*100 + j)
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, sub.C(), 500)
}
