package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersByTopic(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe(TopicEncoderProgress)

	bus.Publish(TopicAnalyzerProgress, "not for us")
	bus.Publish(TopicEncoderProgress, EncoderProgress{Filename: "a.mkv"})

	event := <-sub.Events
	assert.Equal(t, TopicEncoderProgress, event.Topic)

	select {
	case extra := <-sub.Events:
		t.Fatalf("unexpected event: %v", extra.Topic)
	default:
	}
}

func TestSubscribeWithoutTopicsReceivesAll(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe()

	topics := []Topic{TopicAnalyzerStarted, TopicQueueUpdate, TopicVideoStateChanged}
	for _, topic := range topics {
		bus.Publish(topic, nil)
	}
	for _, want := range topics {
		event := <-sub.Events
		assert.Equal(t, want, event.Topic)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe(TopicQueueUpdate)

	bus.Unsubscribe(sub.ID)
	_, open := <-sub.Events
	assert.False(t, open)

	// Publishing after unsubscribe must not panic on the closed channel.
	require.NotPanics(t, func() {
		bus.Publish(TopicQueueUpdate, nil)
	})
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe(TopicEncoderProgress)

	// Overfill the 256-slot buffer; the overflow is dropped, not queued.
	for i := 0; i < cap(sub.Events)+10; i++ {
		bus.Publish(TopicEncoderProgress, i)
	}
	assert.Len(t, sub.Events, cap(sub.Events))

	first := <-sub.Events
	assert.Equal(t, 0, first.Payload)
}

func TestEventsCarryIDAndTime(t *testing.T) {
	bus := NewBus(nil)
	sub := bus.Subscribe()

	bus.Publish(TopicEncoderStarted, nil)
	event := <-sub.Events
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Time.IsZero())
}
