package events

import (
	"sync"

	"github.com/surge-downloader/odoo-images/internal/engine/types"
	"github.com/surge-downloader/odoo-images/internal/utils"
)

// Bus fans published messages out to every subscriber.
//
// ProgressMsg is best effort: a subscriber whose buffer is full misses it and
// catches up with the next one. Every other message is delivered, blocking the
// publisher until the subscriber reads it, unsubscribes or the bus is closed.
// Subscribers must therefore keep reading or unsubscribe.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool

	quit     chan struct{}
	quitOnce sync.Once
}

type subscriber struct {
	ch   chan any
	done chan struct{}
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]*subscriber),
		quit: make(chan struct{}),
	}
}

// Subscribe registers a new listener. The returned func unsubscribes and closes the channel.
func (b *Bus) Subscribe() (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, types.ProgressChannelBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: ch, done: make(chan struct{})}
	b.subs[id] = sub

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Release any Publish blocked on this subscriber before taking the lock
			close(sub.done)

			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
}

// Publish delivers msg to all current subscribers
func (b *Bus) Publish(msg any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, lossy := msg.(ProgressMsg)
	for id, sub := range b.subs {
		if lossy {
			select {
			case sub.ch <- msg:
			default:
				utils.Debug("event bus: subscriber %d full, dropping %T", id, msg)
			}
			continue
		}

		select {
		case sub.ch <- msg:
		case <-sub.done:
		case <-b.quit:
			return
		}
	}
}

// Close closes every subscriber channel. Later Publish calls are no-ops.
func (b *Bus) Close() {
	b.quitOnce.Do(func() { close(b.quit) })

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
