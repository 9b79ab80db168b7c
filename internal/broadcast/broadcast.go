// Package broadcast fans values out to any number of in-process subscribers.
//
// Delivery never blocks the publisher: each subscriber owns a buffered
// channel and a value that does not fit is dropped for that subscriber only.
// Subscriptions end when their context is cancelled, when Close is called on
// them, or when the broadcaster itself is closed.
//
//	b := broadcast.New[scanner.Result](16)
//	sub := b.Subscribe(ctx)
//	for r := range sub.C() {
//		...
//	}
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
)

// Broadcaster delivers published values to every live subscription.
// All methods are safe for concurrent use.
type Broadcaster[T any] struct {
	mu      sync.RWMutex
	subs    map[*Subscription[T]]struct{}
	buffer  int
	closed  bool
	dropped atomic.Uint64
	wg      sync.WaitGroup
}

// New returns a broadcaster whose subscriptions buffer up to buffer values.
// Buffers smaller than one are raised to one.
func New[T any](buffer int) *Broadcaster[T] {
	return &Broadcaster[T]{
		subs:   make(map[*Subscription[T]]struct{}),
		buffer: max(buffer, 1),
	}
}

// Subscribe registers a new subscription that lives until ctx is done.
// Subscribing to a closed broadcaster returns an already closed subscription.
func (b *Broadcaster[T]) Subscribe(ctx context.Context) *Subscription[T] {
	sub := &Subscription[T]{ch: make(chan T, b.buffer), owner: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[sub] = struct{}{}

	if done := ctx.Done(); done != nil {
		sub.stop = make(chan struct{})
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			select {
			case <-done:
				b.remove(sub)
			case <-sub.stop:
			}
		}()
	}
	return sub
}

// Publish offers v to every subscription. It reports how many subscriptions
// accepted the value. Publishing after Close is a no-op.
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	delivered := 0
	for sub := range b.subs {
		select {
		case sub.ch <- v:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// Len returns the number of live subscriptions.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the number of values discarded because a subscriber's
// buffer was full.
func (b *Broadcaster[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Close ends every subscription. It is idempotent.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.close()
	}
	clear(b.subs)
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Broadcaster[T]) remove(sub *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
	sub.close()
}

// Subscription is one receiver registered with a Broadcaster.
type Subscription[T any] struct {
	ch    chan T
	owner *Broadcaster[T]
	stop  chan struct{}
	once  sync.Once
}

// C returns the receive channel. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close ends the subscription. It is idempotent.
func (s *Subscription[T]) Close() {
	s.owner.remove(s)
}

// close must be called with the owner's lock held.
func (s *Subscription[T]) close() {
	s.once.Do(func() {
		close(s.ch)
		if s.stop != nil {
			close(s.stop)
		}
	})
}
