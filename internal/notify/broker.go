// Package notify implements the per-user document change feed. The ingestion
// pipeline publishes every status transition; presentation layers subscribe.
package notify

import (
	"sync"

	"github.com/corpora-labs/corpusd/internal/domain"
)

const subscriberBuffer = 16

// Broker fans document updates out to per-user subscribers. Publishing never
// blocks: a subscriber that falls behind misses intermediate updates.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[chan *domain.Document]struct{}
	closed bool
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan *domain.Document]struct{}),
	}
}

// Subscribe registers a listener for one user's document updates. The returned
// cancel function must be called to release the subscription.
func (b *Broker) Subscribe(userID string) (<-chan *domain.Document, func()) {
	ch := make(chan *domain.Document, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan *domain.Document]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.subs[userID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(b.subs, userID)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the updated document to every subscriber of its owner.
func (b *Broker) Publish(doc *domain.Document) {
	if doc == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for ch := range b.subs[doc.UserID] {
		select {
		case ch <- doc:
		default:
		}
	}
}

// Close stops delivery; existing subscriber channels stay open until their
// cancel functions run.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}
