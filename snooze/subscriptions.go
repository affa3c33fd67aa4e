package snooze

import (
	"sync"

	"github.com/google/uuid"
)

// Callback receives published messages.
type Callback func(Message)

type subscription struct {
	key   string
	topic Topic
	cb    Callback
}

// Subscriptions dispatches messages to callbacks registered per topic.
// It is safe for concurrent use.
type Subscriptions struct {
	mu   sync.RWMutex
	subs []subscription
}

// NewSubscriptions returns an empty Subscriptions.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{}
}

// Subscribe registers cb for topic and returns the key to unsubscribe with.
func (s *Subscriptions) Subscribe(topic Topic, cb Callback) string {
	key := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, subscription{key: key, topic: topic, cb: cb})
	return key
}

// Unsubscribe removes the subscription with key. It reports whether the key
// was known.
func (s *Subscriptions) Unsubscribe(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.key == key {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish calls every callback subscribed to msg.Topic, in subscription
// order, outside of the lock.
func (s *Subscriptions) Publish(msg Message) {
	s.mu.RLock()
	var cbs []Callback
	for _, sub := range s.subs {
		if sub.topic == msg.Topic {
			cbs = append(cbs, sub.cb)
		}
	}
	s.mu.RUnlock()

	for _, cb := range cbs {
		cb(msg)
	}
}
