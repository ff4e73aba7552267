package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	recorded, unsub := b.Subscribe(4, EventRecorded)
	defer unsub()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: TasksRefreshed, Participant: "p1"})
	b.Publish(Event{Type: EventRecorded, Participant: "p1", EventID: "enrollment"})

	got := <-recorded
	assert.Equal(t, "p1", got.Participant)
	assert.Equal(t, "enrollment", got.EventID)
	assert.False(t, got.Time.IsZero())
	assert.Len(t, recorded, 0)
	assert.Len(t, all, 2)
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: EventRecorded})
	b.Publish(Event{Type: EventRecorded})
	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: EventRecorded})
}
