// Package eventbus implements the in-process publish/subscribe mechanism
// described in spec.md section 4.1: exact-string topic matching, concurrent
// delivery to every handler registered for a topic, and per-handler failure
// isolation so one subscriber's panic or error never affects another or the
// publisher.
//
// Delivery is best-effort and at-most-once per handler per publish. There
// is no persistence: a crash loses in-flight events, and there is no
// ordering guarantee between handlers of the same topic.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Logger is the minimal structured-logging contract the bus needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Handler processes a single delivered event. A returned error is logged
// and otherwise has no effect on other handlers or the publisher.
type Handler func(ctx context.Context, evt cloudevents.Event) error

type subscription struct {
	id      string
	topic   string
	handler Handler
}

// Bus is a topic-keyed, in-process publish/subscribe hub.
type Bus struct {
	logger Logger

	mu   sync.RWMutex
	subs map[string][]subscription
}

// New constructs a Bus. logger may be nil, in which case delivery failures
// are silently discarded (still isolated, just unreported).
func New(logger Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[string][]subscription),
	}
}

// Subscribe registers handler for topic (exact string match, no
// hierarchy) and returns a subscription id usable with Unsubscribe.
func (b *Bus) Subscribe(topic string, handler Handler) string {
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], subscription{id: id, topic: topic, handler: handler})
	return id
}

// Unsubscribe removes a previously registered handler by subscription id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, list := range b.subs {
		for i, s := range list {
			if s.id == id {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers payload to every handler currently registered for
// topic, concurrently. It never returns an error from a subscriber and
// never blocks on a topic with no subscribers.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) {
	b.mu.RLock()
	handlers := make([]subscription, len(b.subs[topic]))
	copy(handlers, b.subs[topic])
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	evt := cloudevents.NewEvent()
	evt.SetID(uuid.NewString())
	evt.SetType(topic)
	evt.SetSource("digitalbeing")
	if err := evt.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		if b.logger != nil {
			b.logger.Error("eventbus: failed to encode payload", "topic", topic, "error", err)
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, s := range handlers {
		go func(s subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					if b.logger != nil {
						b.logger.Error("eventbus: subscriber panicked", "topic", s.topic, "subscription", s.id, "panic", fmt.Sprint(r))
					}
				}
			}()
			if err := s.handler(ctx, evt); err != nil {
				if b.logger != nil {
					b.logger.Warn("eventbus: subscriber returned error", "topic", s.topic, "subscription", s.id, "error", err)
				}
			}
		}(s)
	}
	wg.Wait()
}

// TopicCount returns the number of handlers currently registered for topic;
// mainly useful for tests and the /status introspection endpoint.
func (b *Bus) TopicCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
