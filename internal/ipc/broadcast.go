package ipc

import "sync"

// Broadcaster fans values out to any number of subscribers. A new subscriber
// first receives the latest value. Slow subscribers lose their oldest
// buffered values; Publish never blocks.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	latest T
	size   int
	closed bool
}

// NewBroadcaster returns a broadcaster holding initial, with per-subscriber
// buffers of the given size.
func NewBroadcaster[T any](initial T, size int) *Broadcaster[T] {
	if size < 1 {
		size = 1
	}
	return &Broadcaster[T]{
		subs:   make(map[int]chan T),
		latest: initial,
		size:   size,
	}
}

// Subscribe registers a subscriber. The returned func unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.size)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	ch <- b.latest

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish records v as the latest value and delivers it to every subscriber.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.latest = v
	for _, ch := range b.subs {
		deliver(ch, v)
	}
}

// Latest returns the most recently published value.
func (b *Broadcaster[T]) Latest() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func deliver[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		// Full: drop the oldest value and retry.
		select {
		case <-ch:
		default:
		}
	}
}
