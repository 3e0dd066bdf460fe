// Package events is the in-process fan-out from the polling service to
// its listeners: battery safety, line alerts, and the UI bridge.
package events

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler receives a published payload. Handlers run synchronously on
// the publisher's goroutine, in subscription order; a panicking handler
// is logged and skipped so it never blocks the others.
type Handler func(payload any)

type subscription struct {
	id int
	fn Handler
}

// Hub fans events out per channel. The hub holds only function
// references; subscribers own their lifetime via the returned
// unsubscribe handle.
type Hub struct {
	mu      sync.Mutex
	nextID  int
	subs    map[string][]subscription
	streams map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs:    make(map[string][]subscription),
		streams: make(map[chan Event]struct{}),
	}
}

// Subscribe registers fn on the named channel and returns an
// unsubscribe handle.
func (h *Hub) Subscribe(channel string, fn Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.subs[channel] = append(h.subs[channel], subscription{id: id, fn: fn})

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subs[channel]
		for i, s := range subs {
			if s.id == id {
				h.subs[channel] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers payload to every subscriber of the channel in
// subscription order, then mirrors the event onto any attached streams.
func (h *Hub) Publish(channel string, payload any) {
	if h == nil {
		return
	}

	h.mu.Lock()
	subs := append([]subscription(nil), h.subs[channel]...)
	h.mu.Unlock()

	for _, s := range subs {
		deliver(channel, s, payload)
	}

	h.publishToStreams(channel, payload)
}

func deliver(channel string, s subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"channel":    channel,
				"subscriber": s.id,
				"panic":      r,
			}).Error("event subscriber panicked")
		}
	}()
	s.fn(payload)
}

// Stream attaches a buffered event channel carrying every published
// event as JSON, for the SSE bridge. Slow consumers drop events rather
// than stall publishers.
func (h *Hub) Stream() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	h.mu.Lock()
	h.streams[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if _, ok := h.streams[ch]; ok {
			delete(h.streams, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
}

func (h *Hub) publishToStreams(channel string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.streams) == 0 {
		return
	}

	b, err := json.Marshal(payload)
	if err != nil {
		logrus.Errorf("failed to marshal %s event: %v", channel, err)
		return
	}
	msg := Event{Name: channel, Data: b}
	for ch := range h.streams {
		select {
		case ch <- msg:
		default:
		}
	}
}
