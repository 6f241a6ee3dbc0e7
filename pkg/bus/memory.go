// Copyright 2025 The Wastepro Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bus

import (
	"fmt"
	"sync"
)

// MemoryBroker is an in-process Broker. It runs the whole agent set inside
// one process without an external server; tests and the single-process CLI
// modes use it. Each subscription owns a buffered channel drained by one
// goroutine, giving the same FIFO-per-subscription ordering as NATS.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySubscription
	buffer int
	closed bool
}

// NewMemoryBroker builds a broker whose subscription channels hold buffer
// messages. Publishers block when a subscriber channel is full; the broker
// is the only queue in the system.
func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryBroker{
		subs:   make(map[string][]*memorySubscription),
		buffer: buffer,
	}
}

type memoryMessage struct {
	topic string
	data  []byte
}

type memorySubscription struct {
	broker  *MemoryBroker
	topic   string
	ch      chan memoryMessage
	done    chan struct{}
	once    sync.Once
	handler MessageHandler
}

// Subscribe registers a handler and starts its dispatch goroutine.
func (b *MemoryBroker) Subscribe(topic string, handler MessageHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("subscribe %s: broker closed", topic)
	}

	sub := &memorySubscription{
		broker:  b,
		topic:   topic,
		ch:      make(chan memoryMessage, b.buffer),
		done:    make(chan struct{}),
		handler: handler,
	}
	b.subs[topic] = append(b.subs[topic], sub)

	go sub.dispatch()
	return sub, nil
}

// Publish copies the payload to every current subscriber of the topic.
func (b *MemoryBroker) Publish(topic string, data []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("publish %s: broker closed", topic)
	}
	targets := make([]*memorySubscription, len(b.subs[topic]))
	copy(targets, b.subs[topic])
	b.mu.RUnlock()

	msg := memoryMessage{topic: topic, data: data}
	for _, sub := range targets {
		select {
		case sub.ch <- msg:
		case <-sub.done:
		}
	}
	return nil
}

// Close unsubscribes everything and rejects further use.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string][]*memorySubscription)
	b.closed = true
	b.mu.Unlock()

	for _, topicSubs := range subs {
		for _, sub := range topicSubs {
			sub.stop()
		}
	}
	return nil
}

func (s *memorySubscription) dispatch() {
	for {
		select {
		case msg := <-s.ch:
			s.handler(msg.topic, msg.data)
		case <-s.done:
			return
		}
	}
}

func (s *memorySubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Unsubscribe removes the subscription and stops its dispatch goroutine.
func (s *memorySubscription) Unsubscribe() error {
	b := s.broker
	b.mu.Lock()
	current := b.subs[s.topic]
	for i, sub := range current {
		if sub == s {
			b.subs[s.topic] = append(current[:i], current[i+1:]...)
			break
		}
	}
	if len(b.subs[s.topic]) == 0 {
		delete(b.subs, s.topic)
	}
	b.mu.Unlock()

	s.stop()
	return nil
}
