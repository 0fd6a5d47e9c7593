// Package events provides the in-process telemetry bus. Pipelines publish
// progress and state-change events; the dashboard and other observers are
// subscribers only.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Topic identifies a class of events on the bus.
type Topic string

// Topics subscribers may rely on.
const (
	TopicAnalyzerStarted     Topic = "analyzer:started"
	TopicAnalyzerProgress    Topic = "analyzer:progress"
	TopicAnalyzerCompleted   Topic = "analyzer:completed"
	TopicAnalyzerIdle        Topic = "analyzer:idle"
	TopicAnalyzerThroughput  Topic = "analyzer:throughput"
	TopicCrfSearcherStarted  Topic = "crf_searcher:started"
	TopicCrfSearcherProgress Topic = "crf_searcher:progress"
	TopicCrfSearcherDone     Topic = "crf_searcher:completed"
	TopicCrfSearcherIdle     Topic = "crf_searcher:idle"
	TopicEncoderStarted      Topic = "encoder:started"
	TopicEncoderProgress     Topic = "encoder:progress"
	TopicEncoderCompleted    Topic = "encoder:completed"
	TopicEncoderFailed       Topic = "encoder:failed"
	TopicEncoderIdle         Topic = "encoder:idle"
	TopicSyncStarted         Topic = "sync:started"
	TopicSyncProgress        Topic = "sync:progress"
	TopicSyncCompleted       Topic = "sync:completed"
	TopicVideoUpserted       Topic = "media:video_upserted"
	TopicVmafUpserted        Topic = "media:vmaf_upserted"
	TopicVideoStateChanged   Topic = "video_state_changed"
	TopicQueueUpdate         Topic = "queue_update"
)

// Event is a published message: a topic plus a typed payload.
type Event struct {
	ID      string
	Topic   Topic
	Payload any
	Time    time.Time
}

// Subscriber receives events matching its topic set on a buffered channel.
// A full channel drops events rather than blocking publishers.
type Subscriber struct {
	ID     string
	topics map[Topic]bool
	Events chan Event
}

// Wants reports whether the subscriber is interested in a topic.
// An empty topic set means all topics.
func (s *Subscriber) Wants(topic Topic) bool {
	return len(s.topics) == 0 || s.topics[topic]
}

// Bus is an in-process publish/subscribe hub.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *slog.Logger
}

// NewBus creates a telemetry bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		logger:      logger.With(slog.String("component", "events")),
	}
}

// Subscribe registers a subscriber for the given topics (none = all).
func (b *Bus) Subscribe(topics ...Topic) *Subscriber {
	sub := &Subscriber{
		ID:     ulid.Make().String(),
		topics: make(map[Topic]bool, len(topics)),
		Events: make(chan Event, 256),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", slog.String("subscriber_id", sub.ID))
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[subscriberID]; ok {
		close(sub.Events)
		delete(b.subscribers, subscriberID)
		b.logger.Debug("subscriber removed", slog.String("subscriber_id", subscriberID))
	}
}

// Publish delivers an event to all matching subscribers. Publishing never
// blocks; slow subscribers lose events.
func (b *Bus) Publish(topic Topic, payload any) {
	event := Event{
		ID:      ulid.Make().String(),
		Topic:   topic,
		Payload: payload,
		Time:    time.Now(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.Wants(topic) {
			continue
		}
		select {
		case sub.Events <- event:
		default:
			b.logger.Warn("subscriber channel full, dropping event",
				slog.String("subscriber_id", sub.ID),
				slog.String("topic", string(topic)),
			)
		}
	}
}
