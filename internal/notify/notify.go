// Package notify implements the per-connection notification bus (spec
// 4.E): a multi-producer single-consumer unbounded queue of Topic
// Snapshots per connection. The index writer hands each newly
// published snapshot to every registered connection; each connection
// drains its own queue between protocol turns and dedups by topic
// name, keeping the greatest Latest seen in the drained batch.
package notify

import (
	"sync"

	"github.com/BurningEnlightenment/uni-textboard/internal/snapshot"
)

// Queue is one connection's inbox. The zero value is an empty queue
// ready for use; NewQueue returns one. Safe for concurrent Push from many goroutines and
// concurrent Drain from the owning connection goroutine.
type Queue struct {
	mu      sync.Mutex
	pending []*snapshot.Snapshot
}

func NewQueue() *Queue {
	return &Queue{}
}

// Push enqueues snap. Never blocks and never drops: spec 4.E/§5 calls
// for unbounded growth with dedup deferred to drain time.
func (q *Queue) Push(snap *snapshot.Snapshot) {
	q.mu.Lock()
	q.pending = append(q.pending, snap)
	q.mu.Unlock()
}

// Drain removes and returns all queued snapshots, deduplicated by
// topic name (keeping the one with the greatest Latest), sorted
// descending by Latest (spec 4.F.1's notification suffix format).
func (q *Queue) Drain() []*snapshot.Snapshot {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	byName := make(map[string]*snapshot.Snapshot, len(batch))
	for _, snap := range batch {
		if cur, ok := byName[snap.Name]; !ok || snap.Latest > cur.Latest {
			byName[snap.Name] = snap
		}
	}

	out := make([]*snapshot.Snapshot, 0, len(byName))
	for _, snap := range byName {
		out = append(out, snap)
	}
	sortDescendingByLatest(out)

	return out
}

func sortDescendingByLatest(snaps []*snapshot.Snapshot) {
	// insertion sort: batches are tiny (bounded by distinct topics
	// touched between two drains of one connection)
	for i := 1; i < len(snaps); i++ {
		for j := i; j > 0 && snaps[j-1].Latest < snaps[j].Latest; j-- {
			snaps[j-1], snaps[j] = snaps[j], snaps[j-1]
		}
	}
}

// Bus fans out topic-change notifications to every registered
// connection's Queue. Implements index.Notifier.
type Bus struct {
	mu     sync.Mutex
	queues map[uint64]*Queue
	nextID uint64
}

func NewBus() *Bus {
	return &Bus{queues: make(map[uint64]*Queue)}
}

// Register adds a new connection's queue to the fan-out set and
// returns a handle used to unregister it on disconnect.
func (b *Bus) Register() (id uint64, q *Queue) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id = b.nextID
	q = NewQueue()
	b.queues[id] = q
	return id, q
}

// Unregister removes a connection's queue; further broadcasts will not
// reach it.
func (b *Bus) Unregister(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, id)
}

// Broadcast pushes snap onto every currently registered queue.
func (b *Bus) Broadcast(snap *snapshot.Snapshot) {
	b.mu.Lock()
	queues := make([]*Queue, 0, len(b.queues))
	for _, q := range b.queues {
		queues = append(queues, q)
	}
	b.mu.Unlock()

	for _, q := range queues {
		q.Push(snap)
	}
}
