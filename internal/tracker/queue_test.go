package tracker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(id string, t EventType) Event {
	return Event{EventID: id, EventType: t}
}

func TestEventQueue(t *testing.T) {
	t.Run("evicts oldest low priority", func(t *testing.T) {
		q := newEventQueue(3)
		assert.Empty(t, q.push(ev("c1", EventConversion)))
		assert.Empty(t, q.push(ev("k1", EventClick)))
		assert.Empty(t, q.push(ev("k2", EventClick)))

		evicted := q.push(ev("e1", EventError))
		require.Len(t, evicted, 1)
		assert.Equal(t, "k1", evicted[0].EventID)
		assert.Equal(t, []string{"c1", "k2", "e1"}, eventIDs(q.snapshot()))
	})

	t.Run("all high priority evicts oldest", func(t *testing.T) {
		q := newEventQueue(2)
		q.push(ev("c1", EventConversion))
		q.push(ev("c2", EventFormSubmit))
		evicted := q.push(ev("c3", EventError))
		require.Len(t, evicted, 1)
		assert.Equal(t, "c1", evicted[0].EventID)
	})

	t.Run("take and requeue preserve order", func(t *testing.T) {
		q := newEventQueue(10)
		for i := range 5 {
			q.push(ev(fmt.Sprint(i), EventClick))
		}
		batch := q.take(2)
		assert.Equal(t, []string{"0", "1"}, eventIDs(batch))
		q.push(ev("5", EventClick))
		assert.Empty(t, q.requeue(batch))
		assert.Equal(t, []string{"0", "1", "2", "3", "4", "5"}, eventIDs(q.snapshot()))
		assert.Len(t, q.take(100), 6)
		assert.Zero(t, q.len())
	})

	t.Run("requeue over capacity evicts", func(t *testing.T) {
		q := newEventQueue(3)
		q.push(ev("a", EventClick))
		q.push(ev("b", EventClick))
		batch := q.take(2)
		q.push(ev("c", EventConversion))
		q.push(ev("d", EventClick))
		q.push(ev("e", EventClick))

		evicted := q.requeue(batch)
		assert.Equal(t, []string{"a", "b"}, eventIDs(evicted))
		assert.Equal(t, []string{"c", "d", "e"}, eventIDs(q.snapshot()))
	})
}

func TestBackoff(t *testing.T) {
	b := backoff{base: time.Second, max: 5 * time.Second}
	now := time.Now()

	assert.True(t, b.ready(now))
	assert.Equal(t, time.Second, b.fail(now))
	assert.False(t, b.ready(now))
	assert.True(t, b.ready(now.Add(time.Second)))
	assert.Equal(t, 2*time.Second, b.fail(now))
	assert.Equal(t, 4*time.Second, b.fail(now))
	assert.Equal(t, 5*time.Second, b.fail(now))
	assert.Equal(t, 5*time.Second, b.fail(now))

	b.reset()
	assert.True(t, b.ready(now))
	assert.Equal(t, time.Second, b.fail(now))
}
