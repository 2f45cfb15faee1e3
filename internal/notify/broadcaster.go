// Package notify fans incident lifecycle events out to in-process
// subscribers (webhook delivery, future streaming surfaces).
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/derekatbrim/ranger/internal/models"
)

type EventKind string

const (
	EventIncidentCreated      EventKind = "incident.created"
	EventIncidentCorroborated EventKind = "incident.corroborated"
)

// Event describes one dedup decision worth telling the outside world about.
type Event struct {
	Kind     EventKind          `json:"kind"`
	Incident models.Incident    `json:"incident"`
	Report   models.Report      `json:"report"`
	Match    models.MatchResult `json:"match"`
	At       time.Time          `json:"at"`
}

type Broadcaster struct {
	subscribers map[uint64]chan Event
	nextID      atomic.Uint64
	mu          sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]chan Event),
	}
}

func (b *Broadcaster) Subscribe() (uint64, chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, 100)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Skip slow subscribers
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, causing consumers to exit gracefully
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
