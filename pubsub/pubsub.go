// Package pubsub carries events between the chat connection and the parts
// of the gateway which mirror its state. Channels are named, buffered and
// process-local.
package pubsub

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// how long Notify waits on a full channel before giving up
const notifyTimeout = 5 * time.Second

// Payload is one event. Type discriminates payloads sharing a channel.
type Payload interface {
	Type() string
}

// Listener consumes payloads from a named channel.
type Listener interface {
	// Listen invokes fn for every payload on chanName. Blocks until the
	// channel is closed.
	Listen(chanName string, fn func(p Payload)) error
	// Close stops delivery; no callbacks fire afterwards.
	Close() error
}

// Notifier publishes payloads to a named channel.
type Notifier interface {
	// Notify delivers p on chanName, or errors if delivery is stuck.
	Notify(chanName string, p Payload) error
	Close() error
}

// PubSub is the in-process implementation of both sides. Channels are
// created lazily on first use from either end, so notifying before anyone
// listens just buffers.
type PubSub struct {
	mu         sync.Mutex
	chans      map[string]chan Payload
	closed     bool
	bufferSize int
}

func NewPubSub(bufferSize int) *PubSub {
	return &PubSub{
		chans:      make(map[string]chan Payload),
		bufferSize: bufferSize,
	}
}

func (ps *PubSub) getChan(chanName string) chan Payload {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ch := ps.chans[chanName]
	if ch == nil {
		ch = make(chan Payload, ps.bufferSize)
		ps.chans[chanName] = ch
	}
	return ch
}

func (ps *PubSub) Notify(chanName string, p Payload) error {
	ch := ps.getChan(chanName)
	select {
	case ch <- p:
		return nil
	case <-time.After(notifyTimeout):
		return fmt.Errorf("notify %s with payload %s timed out", chanName, p.Type())
	}
}

func (ps *PubSub) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return nil
	}
	ps.closed = true
	for _, ch := range ps.chans {
		close(ch)
	}
	return nil
}

func (ps *PubSub) Listen(chanName string, fn func(p Payload)) error {
	for payload := range ps.getChan(chanName) {
		fn(payload)
	}
	return nil
}

// PromNotifier wraps a Notifier and counts published payloads by type.
type PromNotifier struct {
	Notifier
	msgCounter *prometheus.CounterVec
}

func (p *PromNotifier) Notify(chanName string, payload Payload) error {
	p.msgCounter.WithLabelValues(payload.Type()).Inc()
	return p.Notifier.Notify(chanName, payload)
}

func (p *PromNotifier) Close() error {
	prometheus.Unregister(p.msgCounter)
	return p.Notifier.Close()
}

func NewPromNotifier(n Notifier, subsystem string) Notifier {
	p := &PromNotifier{
		Notifier: n,
		msgCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guard",
			Subsystem: subsystem,
			Name:      "num_payloads",
			Help:      "Number of payloads published",
		}, []string{"payload_type"}),
	}
	prometheus.MustRegister(p.msgCounter)
	return p
}
