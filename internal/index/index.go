// Package index implements the DbContext (spec 4.D): three coherent,
// copy-on-write snapshots — topics by name, topics by recency, and
// all messages by recency — updated under a single writer mutex while
// readers load the current snapshot references without locking.
//
// The concurrency shape mirrors minimega's ron.Server: plain
// sync.Mutex-protected maps for writer-side bookkeeping (its
// conns/clients/commands locks), generalized here to
// atomic.Pointer-published immutable views so reads never block on
// the writer.
package index

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BurningEnlightenment/uni-textboard/internal/message"
	"github.com/BurningEnlightenment/uni-textboard/internal/snapshot"
	"github.com/BurningEnlightenment/uni-textboard/internal/topicfile"
	"github.com/BurningEnlightenment/uni-textboard/pkg/tblog"
)

var validTopicDirName = regexp.MustCompile(`^[0-9A-Fa-f]{2,}$`)

// Notifier receives a freshly published Topic Snapshot after each
// successful Put. Implemented by notify.Bus; kept as an interface here
// so index has no import-time dependency on the connection layer.
type Notifier interface {
	Broadcast(snap *snapshot.Snapshot)
}

// view is the atomically-swapped bundle of the three coherent
// snapshots. Index never mutates a view in place; Put builds a new one
// and publishes it with a single atomic store.
type view struct {
	byName      map[string]*snapshot.Snapshot
	byRecency   []*snapshot.Snapshot     // descending by Latest
	allMessages []message.Message        // descending by Timestamp
}

// Index is the DbContext: the concurrent topic/message store.
type Index struct {
	dbRoot    string
	topicRoot string

	cur atomic.Pointer[view]

	writeMu sync.Mutex // serializes Put's indexing phase (spec 4.D.3)

	notifier Notifier
}

// Open initializes dbRoot (creating it if absent), loads every valid
// topic directory under dbRoot/topic, and returns a ready Index. See
// spec 4.D.1.
func Open(dbRoot string, notifier Notifier) (*Index, error) {
	info, err := os.Stat(dbRoot)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(dbRoot, 0775); err != nil {
			return nil, fmt.Errorf("index: create db root %v: %w", dbRoot, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("index: stat db root %v: %w", dbRoot, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("index: db root %v is not a directory", dbRoot)
	}

	topicRoot := filepath.Join(dbRoot, "topic")
	if err := os.MkdirAll(topicRoot, 0775); err != nil {
		return nil, fmt.Errorf("index: create topic root %v: %w", topicRoot, err)
	}

	idx := &Index{dbRoot: dbRoot, topicRoot: topicRoot, notifier: notifier}

	v, err := loadInitialView(topicRoot)
	if err != nil {
		return nil, err
	}
	idx.cur.Store(v)

	return idx, nil
}

func loadInitialView(topicRoot string) (*view, error) {
	entries, err := os.ReadDir(topicRoot)
	if err != nil {
		return nil, fmt.Errorf("index: read topic root %v: %w", topicRoot, err)
	}

	byName := make(map[string]*snapshot.Snapshot)
	var byRecency []*snapshot.Snapshot

	for _, e := range entries {
		if !e.IsDir() || !validTopicDirName.MatchString(e.Name()) {
			continue
		}

		dir := filepath.Join(topicRoot, e.Name())
		snap, ok := snapshot.FromDir(dir)
		if !ok {
			tblog.Warnf("index: ignoring invalid topic directory %v", dir)
			continue
		}

		if _, exists := byName[snap.Name]; exists {
			tblog.Warnf("index: duplicate topic name %q from %v, keeping first seen", snap.Name, dir)
			continue
		}

		byName[snap.Name] = snap
		byRecency = append(byRecency, snap)
	}

	sort.SliceStable(byRecency, func(i, j int) bool { return byRecency[i].Latest > byRecency[j].Latest })

	var allMessages []message.Message
	for _, snap := range byRecency {
		allMessages = append(allMessages, snap.Messages...)
	}
	sort.SliceStable(allMessages, func(i, j int) bool { return allMessages[i].Timestamp > allMessages[j].Timestamp })

	return &view{byName: byName, byRecency: byRecency, allMessages: allMessages}, nil
}

// GetTopic returns the current snapshot for name, or nil if unknown.
// Non-blocking: reads the currently published view.
func (idx *Index) GetTopic(name string) *snapshot.Snapshot {
	v := idx.cur.Load()
	return v.byName[name]
}

// TopicsByRecency returns the current topics-by-recency view.
// Callers must not mutate the returned slice.
func (idx *Index) TopicsByRecency() []*snapshot.Snapshot {
	return idx.cur.Load().byRecency
}

// MessagesByRecency returns the current all-messages view.
// Callers must not mutate the returned slice.
func (idx *Index) MessagesByRecency() []message.Message {
	return idx.cur.Load().allMessages
}

// Put persists lines as a new message (Message File I/O, spec 4.B)
// then indexes it under the writer lock (spec 4.D.3), returning the
// updated Topic Snapshot. The notifier (if set) is handed the updated
// snapshot after the index has been published, so every reader that
// can observe the notification can also observe the new state.
func (idx *Index) Put(lines []string) (*snapshot.Snapshot, error) {
	// Phase 1: persistence. No lock held; concurrent Puts may overlap here.
	_, topic, ok := peekTopic(lines)
	if !ok {
		return nil, fmt.Errorf("index: malformed post")
	}

	topicDir := filepath.Join(idx.topicRoot, topicfile.Encode(topic))

	m, err := message.Create(topicDir, lines, nowSeconds)
	if err != nil {
		return nil, fmt.Errorf("index: persist message: %w", err)
	}

	// Phase 2: indexing, serialized by writeMu.
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	old := idx.cur.Load()

	var updated *snapshot.Snapshot
	if existing, has := old.byName[m.Topic]; has {
		// A concurrent first post to this topic may already have read m
		// from disk through FromDir; merging it again would duplicate it.
		present := false
		for _, em := range existing.Messages {
			if em.Path == m.Path {
				present = true
				break
			}
		}
		if present {
			updated = existing
		} else if updated, ok = snapshot.WithAdded(existing, m); !ok {
			return nil, fmt.Errorf("index: internal error merging message into %q", m.Topic)
		}
	} else {
		updated, ok = snapshot.FromDir(filepath.Dir(m.Path))
		if !ok {
			return nil, fmt.Errorf("index: internal error building fresh snapshot for %q", m.Topic)
		}
	}

	allMessages := insertDescending(old.allMessages, m)

	byRecency := make([]*snapshot.Snapshot, 0, len(old.byRecency)+1)
	inserted := false
	for _, s := range old.byRecency {
		if s.Name == updated.Name {
			continue
		}
		if !inserted && updated.Latest >= s.Latest {
			byRecency = append(byRecency, updated)
			inserted = true
		}
		byRecency = append(byRecency, s)
	}
	if !inserted {
		byRecency = append(byRecency, updated)
	}

	byName := make(map[string]*snapshot.Snapshot, len(old.byName)+1)
	for k, v := range old.byName {
		byName[k] = v
	}
	byName[m.Topic] = updated

	idx.cur.Store(&view{
		byName:      byName,
		byRecency:   byRecency,
		allMessages: allMessages,
	})

	if idx.notifier != nil {
		idx.notifier.Broadcast(updated)
	}

	return updated, nil
}

// insertDescending inserts m into a descending-by-timestamp slice,
// scanning from the head — new posts are expected near the front
// (spec 4.D.3).
func insertDescending(msgs []message.Message, m message.Message) []message.Message {
	out := make([]message.Message, 0, len(msgs)+1)
	inserted := false
	for _, existing := range msgs {
		if !inserted && m.Timestamp >= existing.Timestamp {
			out = append(out, m)
			inserted = true
		}
		out = append(out, existing)
	}
	if !inserted {
		out = append(out, m)
	}
	return out
}

func peekTopic(lines []string) (ts uint64, topic string, ok bool) {
	if len(lines) == 0 {
		return 0, "", false
	}
	return message.ParseMetaLine(lines[0])
}

func nowSeconds() uint64 {
	return uint64(time.Now().Unix())
}
