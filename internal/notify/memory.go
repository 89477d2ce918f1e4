package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one notification captured by the memory publisher.
type Message struct {
	Topic string
	Data  []byte
}

// MemoryPublisher implements crawl.Publisher in process, for tests and runs
// without a Pub/Sub project.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
	nextID   int
}

// NewMemoryPublisher creates an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish records the payload and returns a synthetic message ID.
func (p *MemoryPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.messages = append(p.messages, Message{Topic: topic, Data: data})
	return fmt.Sprintf("mem-%d", p.nextID), nil
}

// Close implements crawl.Publisher.
func (p *MemoryPublisher) Close() error { return nil }

// Messages returns a copy of everything published so far.
func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
