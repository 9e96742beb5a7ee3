// Package memory contains an in-process bus for tests and single-node runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/AI-static/Aether/internal/bus"
)

// subscriberBuffer bounds each subscription channel; slow consumers drop.
const subscriberBuffer = 16

// Bus fans published messages out to all subscribers of a topic and records
// every publish for inspection. Cancel funcs and Close coordinate through
// the subscriber map, so a channel is closed exactly once.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string]map[int]chan bus.Message
	nextSub  int
	seq      int
	messages []Published
	closed   bool
}

// Published captures one publish call.
type Published struct {
	Topic   string
	Payload any
}

var _ bus.Bus = (*Bus)(nil)

// New returns an empty memory Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[int]chan bus.Message)}
}

// Publish marshals the payload and delivers it to current subscribers.
// Subscribers with full buffers miss the message rather than block the
// publisher.
func (b *Bus) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", fmt.Errorf("bus is closed")
	}

	b.seq++
	id := fmt.Sprintf("memory-%d", b.seq)
	b.messages = append(b.messages, Published{Topic: topic, Payload: payload})

	msg := bus.Message{ID: id, Topic: topic, Data: data}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
	return id, nil
}

// Subscribe registers a channel for the topic until cancel is called.
func (b *Bus) Subscribe(_ context.Context, topic string) (<-chan bus.Message, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, fmt.Errorf("bus is closed")
	}

	b.nextSub++
	id := b.nextSub
	ch := make(chan bus.Message, subscriberBuffer)
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan bus.Message)
	}
	b.subs[topic][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		set, ok := b.subs[topic]
		if !ok {
			return
		}
		// Close already released this channel if the id is gone.
		if _, ok := set[id]; !ok {
			return
		}
		delete(set, id)
		if len(set) == 0 {
			delete(b.subs, topic)
		}
		close(ch)
	}
	return ch, cancel, nil
}

// Messages returns the recorded publishes.
func (b *Bus) Messages() []Published {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Published, len(b.messages))
	copy(out, b.messages)
	return out
}

// MessagesOn returns recorded publishes for one topic.
func (b *Bus) MessagesOn(topic string) []Published {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Published
	for _, m := range b.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Close rejects further publishes and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, set := range b.subs {
		for id, ch := range set {
			close(ch)
			delete(set, id)
		}
		delete(b.subs, topic)
	}
}
