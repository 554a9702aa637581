package transcript

import "sync"

// Broadcaster fans the latest transcript out to any number of subscribers.
//
// Each subscriber gets a channel buffered to one element that always holds
// the newest value: a slow reader skips intermediate transcripts instead of
// blocking the publisher. Subscriptions are removed by their cancel function,
// so nothing accumulates across recordings.
//
// All methods are safe for concurrent use. The zero value is ready to use.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan string
	nextID int
	latest string
	closed bool
}

// Subscribe returns a channel that receives transcript updates and a cancel
// function that unsubscribes and closes the channel. If a transcript has
// already been published it is delivered immediately.
func (b *Broadcaster) Subscribe() (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan string, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if b.subs == nil {
		b.subs = make(map[int]chan string)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.latest != "" {
		ch <- b.latest
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers transcript to every subscriber, replacing any value the
// subscriber has not yet read.
func (b *Broadcaster) Publish(transcript string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.latest = transcript
	for _, ch := range b.subs {
		// Drop the stale value, if any, then send. Both operations are
		// non-blocking because the buffer has exactly one slot and only
		// Publish writes to it while b.mu is held.
		select {
		case <-ch:
		default:
		}
		ch <- transcript
	}
}

// Latest returns the most recently published transcript.
func (b *Broadcaster) Latest() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

// Close closes every subscriber channel. Subsequent Publish calls are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
