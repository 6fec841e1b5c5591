// Package snapshot implements the immutable Topic Snapshot (spec
// 4.C): a topic's name, backing directory, and messages sorted
// strictly newest-first, never mutated once published.
package snapshot

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurningEnlightenment/uni-textboard/internal/message"
	"github.com/BurningEnlightenment/uni-textboard/internal/topicfile"
	"github.com/BurningEnlightenment/uni-textboard/pkg/tblog"
)

// Snapshot is an immutable view of one topic. Callers must not mutate
// Messages; a Snapshot is shared freely across readers and queues.
type Snapshot struct {
	Name     string
	Dir      string
	Messages []message.Message // sorted strictly newest-first
	Latest   uint64
}

// byTimestampDesc sorts newest-first; ties keep their relative
// insertion order (stable), an arbitrary but deterministic tie rule
// per spec 4.C/4.D.3.
func byTimestampDesc(msgs []message.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp > msgs[j].Timestamp
	})
}

// FromDir decodes dir's base name as a topic name and loads every
// regular file in it as a message. Invalid entries are dropped with a
// warning (spec 4.D.4). ok is false if the directory name doesn't
// decode or no valid message remains — such a snapshot must never be
// exposed to clients.
func FromDir(dir string) (*Snapshot, bool) {
	name, ok := topicfile.Decode(filepath.Base(dir))
	if !ok {
		return nil, false
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		tblog.Warnf("snapshot: read topic dir %v: %v", dir, err)
		return nil, false
	}

	var msgs []message.Message
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}

		path := filepath.Join(dir, e.Name())
		m, ok := message.Load(path, name)
		if !ok {
			continue
		}
		msgs = append(msgs, m)
	}

	if len(msgs) == 0 {
		return nil, false
	}

	byTimestampDesc(msgs)

	return &Snapshot{
		Name:     name,
		Dir:      dir,
		Messages: msgs,
		Latest:   msgs[0].Timestamp,
	}, true
}

// WithAdded returns a new Snapshot with m merged into old's messages
// in descending-timestamp order. Returns ok == false if m doesn't
// belong to old (its path must sit inside old.Dir and its topic must
// equal old.Name) — spec 4.C's invariant for copy-with-added-message.
func WithAdded(old *Snapshot, m message.Message) (*Snapshot, bool) {
	if m.Topic != old.Name {
		return nil, false
	}
	if rel, err := filepath.Rel(old.Dir, m.Path); err != nil || strings.HasPrefix(rel, "..") {
		return nil, false
	}

	merged := make([]message.Message, 0, len(old.Messages)+1)

	inserted := false
	for _, existing := range old.Messages {
		if !inserted && m.Timestamp >= existing.Timestamp {
			merged = append(merged, m)
			inserted = true
		}
		merged = append(merged, existing)
	}
	if !inserted {
		merged = append(merged, m)
	}

	return &Snapshot{
		Name:     old.Name,
		Dir:      old.Dir,
		Messages: merged,
		Latest:   merged[0].Timestamp,
	}, true
}
