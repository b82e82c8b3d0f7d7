package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(New(EventJobScheduled, "sweep armed", map[string]string{"job": "late-arrival-sweep"}))

	select {
	case e := <-sub:
		assert.Equal(t, EventJobScheduled, e.Type)
		assert.Equal(t, "sweep armed", e.Message)
		assert.Equal(t, "late-arrival-sweep", e.Metadata["job"])
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero(), "publish stamps the event")
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()

	b.Publish(New(EventMarkWritten, "absent marks written", nil))

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case e := <-sub:
			assert.Equal(t, EventMarkWritten, e.Type)
		case <-time.After(time.Second):
			t.Fatal("event not delivered to all subscribers")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub
	require.False(t, open)
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe() // never drained
	fast := b.Subscribe()

	// Overflow the slow subscriber's buffer
	for i := 0; i < 60; i++ {
		b.Publish(New(EventJobSucceeded, "tick", nil))
	}

	received := 0
	timeout := time.After(time.Second)
	for received < 50 {
		select {
		case <-fast:
			received++
		case <-timeout:
			t.Fatalf("fast subscriber starved after %d events", received)
		}
	}
	_ = slow
}
