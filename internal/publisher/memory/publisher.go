// Package memory holds an in-process publisher used when no Pub/Sub topic
// is configured and as a recording fake in tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// PublishedMessage is one recorded completion event.
type PublishedMessage struct {
	// Topic the event was addressed to.
	Topic string
	// Payload as handed to Publish, unserialized.
	Payload any
}

// Publisher keeps every published event in memory. Safe for concurrent use.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a sequential pseudo message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of everything published so far, in order.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
