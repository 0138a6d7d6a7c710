package storage

import (
	"sync"

	"github.com/terra-clan/proctor-engine/internal/models"
)

const subscriberBuffer = 32

// Broker fans violations out to per-assignment subscribers. Slow
// subscribers drop messages rather than block the publisher.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan *models.Violation]struct{}
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan *models.Violation]struct{})}
}

// Subscribe registers interest in an assignment's violations. The returned
// function unsubscribes and closes the channel.
func (b *Broker) Subscribe(assignmentID string) (<-chan *models.Violation, func()) {
	ch := make(chan *models.Violation, subscriberBuffer)

	b.mu.Lock()
	if b.subs[assignmentID] == nil {
		b.subs[assignmentID] = make(map[chan *models.Violation]struct{})
	}
	b.subs[assignmentID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[assignmentID], ch)
			if len(b.subs[assignmentID]) == 0 {
				delete(b.subs, assignmentID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers v to every subscriber of its assignment
func (b *Broker) Publish(v *models.Violation) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[v.AssignmentID] {
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribers returns the number of subscribers for an assignment
func (b *Broker) Subscribers(assignmentID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[assignmentID])
}
