package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TopicNoticeRouted, Data: "task"})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		assert.Equal(t, TopicNoticeRouted, e.Type)
		assert.Equal(t, "task", e.Data)
		assert.False(t, e.Time.IsZero())
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"})

	require.Len(t, ch, 1)
	assert.Equal(t, "one", (<-ch).Type)
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: "after"})
}

func TestNopBus(t *testing.T) {
	b := Nop()
	b.Publish(Event{Type: "x"})
	ch, unsub := b.Subscribe(1)
	defer unsub()
	_, ok := <-ch
	assert.False(t, ok)
}
