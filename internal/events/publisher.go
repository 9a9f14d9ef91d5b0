package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Lifecycle event topics published by the engine.
const (
	TopicCampaignStarted = "campaign:started"
	TopicCampaignStopped = "campaign:stopped"
	TopicCallInitiated   = "call:initiated"
	TopicCallAnswered    = "call:answered"
	TopicCallEnded       = "call:ended"
	TopicCallAbandoned   = "call:abandoned"
)

// Publisher fans lifecycle events out to external subscribers.
// Delivery is at-least-once best effort; the engine never blocks on it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// RedisPublisher publishes JSON payloads over Redis PUBLISH.
type RedisPublisher struct {
	Client *redis.Client
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload any) error {
	if p.Client == nil {
		return fmt.Errorf("events: redis client is nil")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal %s payload: %w", topic, err)
	}
	return p.Client.Publish(ctx, topic, body).Err()
}

// MemoryPublisher records events for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Published
}

type Published struct {
	Topic   string
	Payload any
}

func (p *MemoryPublisher) Publish(ctx context.Context, topic string, payload any) error {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Published{Topic: topic, Payload: payload})
	return nil
}

// Topics lists the recorded topics in order. Test helper.
func (p *MemoryPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Topic)
	}
	return out
}

// Last returns the most recent event for a topic. Test helper.
func (p *MemoryPublisher) Last(topic string) (Published, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Topic == topic {
			return p.events[i], true
		}
	}
	return Published{}, false
}
