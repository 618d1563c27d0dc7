// Package events provides a small typed publish/subscribe primitive shared
// by the network detector and the sync engine. It replaces the "mutable set
// of listener functions keyed by event type" pattern with an explicit,
// generic publisher: subscribing returns a cancellation handle, and a
// listener panic or error never reaches the publisher's caller.
package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Listener receives events of type T.
type Listener[T any] func(event T)

// Subscription is a cancellation handle returned by Publisher.Subscribe.
// Calling Cancel is idempotent and safe to call from any goroutine.
type Subscription struct {
	cancel func()
	once   sync.Once
}

// Cancel removes the associated listener. Safe to call multiple times.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Publisher fans out events of type T to any number of subscribed
// listeners. Zero value is not usable; construct with NewPublisher.
type Publisher[T any] struct {
	mu        sync.RWMutex
	listeners map[int]Listener[T]
	nextID    int
	name      string // used only for logging context, e.g. "netdetect" or "syncengine"
}

// NewPublisher creates a Publisher. name is attached to log lines emitted
// when a listener misbehaves, so operators can tell which component's
// subscribers are at fault.
func NewPublisher[T any](name string) *Publisher[T] {
	return &Publisher[T]{
		listeners: make(map[int]Listener[T]),
		name:      name,
	}
}

// Subscribe registers a listener and returns a handle to unregister it.
func (p *Publisher[T]) Subscribe(l Listener[T]) *Subscription {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	p.mu.Unlock()

	return &Subscription{cancel: func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}}
}

// Publish fans the event out to every current subscriber synchronously.
// A listener that panics is recovered and logged; it never propagates to
// the caller and never prevents other listeners from running.
func (p *Publisher[T]) Publish(event T) {
	p.mu.RLock()
	snapshot := make([]Listener[T], 0, len(p.listeners))
	for _, l := range p.listeners {
		snapshot = append(snapshot, l)
	}
	p.mu.RUnlock()

	for _, l := range snapshot {
		p.dispatch(l, event)
	}
}

func (p *Publisher[T]) dispatch(l Listener[T], event T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("publisher", p.name).
				Interface("panic", r).
				Msg("event listener panicked, discarding")
		}
	}()
	l(event)
}

// ListenerCount returns the number of currently subscribed listeners.
// Exposed mainly for tests.
func (p *Publisher[T]) ListenerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.listeners)
}
