// Package stream fans the mixer's rendered PCM out to network listeners:
// chunked MP3 over HTTP and Opus over WebRTC.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// listenerBuffer is ~3 seconds of 20ms frames.
const listenerBuffer = 150

// Broadcaster fans out PCM frames from one source to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	frames    atomic.Int64
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C       chan []int16 // buffered channel of 20ms PCM frames
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Dropped is the number of frames skipped because the listener fell behind.
func (l *Listener) Dropped() int64 {
	return l.dropped.Load()
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, listenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Calling it twice
// is harmless.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Frames returns how many frames have been broadcast.
func (b *Broadcaster) Frames() int64 {
	return b.frames.Load()
}

// Run reads frames from source and fans out to all listeners until ctx is
// done or source is closed. Slow listeners get frames dropped rather than
// blocking the broadcast, which would stall the mixer clock.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.publish(frame)
		}
	}
}

func (b *Broadcaster) publish(frame []int16) {
	b.frames.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		select {
		case l.C <- frame:
		default:
			l.dropped.Add(1)
		}
	}
}
