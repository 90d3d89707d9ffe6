// Package progress implements the optional local progress-event bus: a
// publish/subscribe hub the TransferEngine feeds with ProgressEvent structs,
// exposed to the embedding host over a websocket endpoint (websocket.go).
//
// Grounded on the teacher's internal/server/websocket.go
// handleProgressWebSocket, which ticks over a sync.Map of active uploads and
// pushes a JSON snapshot. Here there is no sync.Map of server-side sessions
// to scan — the engine runs in-process with its caller — so the bus is a
// fan-out of published events per subscriber instead, batched on the same
// ticker cadence to keep the wire shape identical.
package progress

import (
	"sync"

	"github.com/skywire-client/fileengine/internal/transfer"
)

const subscriberBuffer = 64

type subscriber struct {
	ch chan transfer.ProgressEvent
}

// Bus fans published progress events out to every active websocket
// subscriber.
type Bus struct {
	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish delivers ev to every current subscriber. A subscriber whose buffer
// is full has its oldest pending event dropped rather than blocking the
// publisher — a slow websocket client must never stall a transfer.
func (b *Bus) Publish(ev transfer.ProgressEvent) {
	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- ev:
		default:
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- ev:
			default:
			}
		}
	}
}

func (b *Bus) subscribe() (int, *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	s := &subscriber{ch: make(chan transfer.ProgressEvent, subscriberBuffer)}
	b.subs[id] = s
	return id, s
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(s.ch)
	}
}

// SubscriberCount reports how many websocket clients currently hold a
// subscription; used by tests and the optional health endpoint.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Sink adapts Bus.Publish to transfer.ProgressFunc, so a Bus can be passed
// directly wherever TransferEngine wants a progress callback.
func (b *Bus) Sink() transfer.ProgressFunc {
	return b.Publish
}
