package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BurningEnlightenment/uni-textboard/internal/snapshot"
)

func TestQueueDrainEmpty(t *testing.T) {
	q := NewQueue()
	assert.Empty(t, q.Drain())
}

func TestQueueDrainDedupsKeepingGreatestLatest(t *testing.T) {
	q := NewQueue()
	q.Push(&snapshot.Snapshot{Name: "hello", Latest: 1000})
	q.Push(&snapshot.Snapshot{Name: "world", Latest: 999})
	q.Push(&snapshot.Snapshot{Name: "hello", Latest: 1005})

	drained := q.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "hello", drained[0].Name)
	assert.Equal(t, uint64(1005), drained[0].Latest)
	assert.Equal(t, "world", drained[1].Name)
}

func TestQueueDrainIsConsumed(t *testing.T) {
	q := NewQueue()
	q.Push(&snapshot.Snapshot{Name: "hello", Latest: 1000})
	require.Len(t, q.Drain(), 1)
	assert.Empty(t, q.Drain())
}

func TestBusBroadcastsToAllRegistered(t *testing.T) {
	bus := NewBus()
	id1, q1 := bus.Register()
	id2, q2 := bus.Register()
	_ = id1

	bus.Broadcast(&snapshot.Snapshot{Name: "hello", Latest: 1000})

	assert.Len(t, q1.Drain(), 1)
	assert.Len(t, q2.Drain(), 1)

	bus.Unregister(id2)
	bus.Broadcast(&snapshot.Snapshot{Name: "hello", Latest: 1001})

	assert.Len(t, q1.Drain(), 1)
	assert.Empty(t, q2.Drain())
}
