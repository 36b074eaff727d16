package broker

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

type subscriber[T any] struct {
	id     uint64
	name   string
	fn     func(T)
	active atomic.Bool
}

func (s *subscriber[T]) deliver(t T) {
	defer func() {
		if r := recover(); r != nil {
			panic(fmt.Sprintf("broker: subscriber %#v: %v", s.name, r))
		}
	}()
	s.fn(t)
}

// Broker implements a synchronous, ordered fan-out for a single message type.
// Messages are handed to subscribers in registration order, on the publishing goroutine.
type Broker[T any] struct {
	mu          sync.Mutex
	nextID      uint64
	subscribers []*subscriber[T]
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{}
}

// Subscription is the handle returned by Broker.Subscribe.
type Subscription struct {
	unsubscribe func()
	once        sync.Once
}

// Unsubscribe removes the subscriber. It is safe to call more than once and from within a
// subscriber function; messages published after it returns are not delivered.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.unsubscribe)
}

// Subscribe registers fn to receive all messages published after this call returns.
// The name identifies the subscriber when fn panics.
func (b *Broker[T]) Subscribe(name string, fn func(T)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber[T]{
		id:   b.nextID,
		name: name,
		fn:   fn,
	}
	sub.active.Store(true)
	b.subscribers = append(b.subscribers, sub)

	return &Subscription{
		unsubscribe: func() {
			sub.active.Store(false)
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subscribers = slices.DeleteFunc(b.subscribers, func(s *subscriber[T]) bool {
				return s.id == sub.id
			})
		},
	}
}

// Publish delivers t to every current subscriber, and returns how many received it.
// The lock is not held while subscribers run, so they may subscribe, unsubscribe or read state
// guarded elsewhere.
func (b *Broker[T]) Publish(t T) int {
	b.mu.Lock()
	subscribers := slices.Clone(b.subscribers)
	b.mu.Unlock()

	var delivered int
	for _, sub := range subscribers {
		if !sub.active.Load() {
			continue
		}
		sub.deliver(t)
		delivered++
	}
	return delivered
}

// Len returns the number of current subscribers.
func (b *Broker[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
