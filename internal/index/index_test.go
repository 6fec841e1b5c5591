package index

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BurningEnlightenment/uni-textboard/internal/snapshot"
)

type recordingNotifier struct {
	mu   sync.Mutex
	seen []*snapshot.Snapshot
}

func (r *recordingNotifier) Broadcast(snap *snapshot.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, snap)
}

func TestOpenEmptyRoot(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, nil)
	require.NoError(t, err)
	assert.Empty(t, idx.TopicsByRecency())
	assert.Empty(t, idx.MessagesByRecency())
	assert.Nil(t, idx.GetTopic("hello"))
}

func TestPutCreatesTopicAndNotifies(t *testing.T) {
	dir := t.TempDir()
	n := &recordingNotifier{}
	idx, err := Open(dir, n)
	require.NoError(t, err)

	updated, err := idx.Put([]string{"1 hello", "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello", updated.Name)
	require.Len(t, updated.Messages, 1)

	got := idx.GetTopic("hello")
	require.NotNil(t, got)
	assert.Equal(t, updated.Latest, got.Latest)

	require.Len(t, n.seen, 1)
	assert.Equal(t, "hello", n.seen[0].Name)
}

func TestPutOrdersTopicsByRecency(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, nil)
	require.NoError(t, err)

	_, err = idx.Put([]string{"1 hello", "a"})
	require.NoError(t, err)
	_, err = idx.Put([]string{"1 world", "b"})
	require.NoError(t, err)
	_, err = idx.Put([]string{"1 hello", "c"})
	require.NoError(t, err)

	topics := idx.TopicsByRecency()
	require.Len(t, topics, 2)
	assert.Equal(t, "hello", topics[0].Name)
	assert.Equal(t, "world", topics[1].Name)
	assert.GreaterOrEqual(t, topics[0].Latest, topics[1].Latest)
}

func TestPutAppendsToAllMessages(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, nil)
	require.NoError(t, err)

	_, err = idx.Put([]string{"1 hello", "a"})
	require.NoError(t, err)
	_, err = idx.Put([]string{"1 world", "b"})
	require.NoError(t, err)

	all := idx.MessagesByRecency()
	require.Len(t, all, 2)
}

func TestPutRejectsMalformedPost(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, nil)
	require.NoError(t, err)

	_, err = idx.Put([]string{"not a meta line"})
	assert.Error(t, err)
	assert.Empty(t, idx.TopicsByRecency())
}

func TestConcurrentPutsAreSerializedAndAllSurvive(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, nil)
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := idx.Put([]string{"1 hello", "body"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got := idx.GetTopic("hello")
	require.NotNil(t, got)
	assert.Len(t, got.Messages, n)
	assert.Len(t, idx.MessagesByRecency(), n)
}

func TestReopenReloadsPersistedTopics(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, nil)
	require.NoError(t, err)

	_, err = idx.Put([]string{"1 hello", "a"})
	require.NoError(t, err)
	_, err = idx.Put([]string{"1 world", "b"})
	require.NoError(t, err)

	reopened, err := Open(dir, nil)
	require.NoError(t, err)

	assert.Len(t, reopened.TopicsByRecency(), 2)
	assert.NotNil(t, reopened.GetTopic("hello"))
	assert.NotNil(t, reopened.GetTopic("world"))
}
