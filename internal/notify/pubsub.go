// Package notify publishes run lifecycle notifications.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/crawlpool/internal/crawl"
)

// RunNotification is the compact message published when a run finishes.
type RunNotification struct {
	RunID     string `json:"run_id"`
	Aborted   bool   `json:"aborted"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Retried   int    `json:"retried"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at"`
}

// FromReport builds a RunNotification from a run report.
func FromReport(report crawl.RunReport) RunNotification {
	return RunNotification{
		RunID:     report.RunID,
		Aborted:   report.Aborted,
		Succeeded: report.Counters.Succeeded,
		Failed:    report.Counters.Failed,
		Retried:   report.Counters.Retried,
		StartedAt: report.Started.UTC().Format("2006-01-02T15:04:05Z07:00"),
		EndedAt:   report.Finished.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// PubSubPublisher implements crawl.Publisher using Google Cloud Pub/Sub.
type PubSubPublisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPubSubPublisher wraps an existing Pub/Sub client.
func NewPubSubPublisher(client *pubsub.Client) (*PubSubPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	return &PubSubPublisher{
		client: client,
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

// Publish marshals the payload to JSON and publishes it, returning the
// server-assigned message ID.
func (p *PubSubPublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	result := p.topic(topic).Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close stops the topic publishers and releases the client.
func (p *PubSubPublisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	return p.client.Close()
}

func (p *PubSubPublisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}
