// Package events fans committed changes out to interested readers. Changes
// are published only after the unit of work that produced them committed.
package events

import (
	"context"
	"slices"
	"sync"
	"time"
)

const (
	CollectionSales     = "sales"
	CollectionPayments  = "payments"
	CollectionProducts  = "products"
	CollectionPurchases = "purchases"
	CollectionReturns   = "returns"
)

const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

type Change struct {
	Collection string    `json:"collection"`
	Op         string    `json:"op"`
	EntityID   string    `json:"entity_id"`
	Status     string    `json:"status,omitempty"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, changes ...Change) error
}

// Filter selects changes for a subscriber; zero fields match everything.
type Filter struct {
	Collections []string
	Status      string
	From        time.Time
	To          time.Time
}

func (f Filter) Match(c Change) bool {
	if len(f.Collections) > 0 && !slices.Contains(f.Collections, c.Collection) {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && c.At.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !c.At.Before(f.To) {
		return false
	}
	return true
}

type Subscription struct {
	C      <-chan Change
	ch     chan Change
	filter Filter
	broker *Broker
	once   sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s)
	})
}

// Broker delivers changes to in-process subscribers. Slow subscribers lose
// changes rather than stalling the publisher.
type Broker struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	closed  bool
	dropped func()
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[*Subscription]struct{})}
}

// OnDrop registers a callback invoked for every change a full subscriber missed.
func (b *Broker) OnDrop(fn func()) {
	b.mu.Lock()
	b.dropped = fn
	b.mu.Unlock()
}

func (b *Broker) Subscribe(filter Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Change, buffer)
	sub := &Subscription{C: ch, ch: ch, filter: filter, broker: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *Broker) Publish(_ context.Context, changes ...Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, change := range changes {
		for sub := range b.subs {
			if !sub.filter.Match(change) {
				continue
			}
			select {
			case sub.ch <- change:
			default:
				if b.dropped != nil {
					b.dropped()
				}
			}
		}
	}
	return nil
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}
