package conn

import (
	"bufio"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BurningEnlightenment/uni-textboard/internal/message"
	"github.com/BurningEnlightenment/uni-textboard/internal/notify"
	"github.com/BurningEnlightenment/uni-textboard/internal/snapshot"
)

// fakeIndex is a minimal in-memory stand-in for *index.Index, letting
// these tests pin exact server-assigned timestamps deterministically.
type fakeIndex struct {
	byName map[string]*snapshot.Snapshot
	all    []message.Message
	nextTS uint64
}

func newFakeIndex(startTS uint64) *fakeIndex {
	return &fakeIndex{byName: make(map[string]*snapshot.Snapshot), nextTS: startTS}
}

func (f *fakeIndex) GetTopic(name string) *snapshot.Snapshot { return f.byName[name] }

func (f *fakeIndex) TopicsByRecency() []*snapshot.Snapshot {
	out := make([]*snapshot.Snapshot, 0, len(f.byName))
	for _, s := range f.byName {
		out = append(out, s)
	}
	// simplest stable sort by Latest desc
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Latest < out[j].Latest; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func (f *fakeIndex) MessagesByRecency() []message.Message { return f.all }

func (f *fakeIndex) Put(lines []string) (*snapshot.Snapshot, error) {
	_, topic, ok := message.ParseMetaLine(lines[0])
	if !ok {
		return nil, assertErr("malformed meta line")
	}

	ts := f.nextTS
	f.nextTS++

	rewritten := append([]string{}, lines...)
	rewritten[0] = itoa(ts) + " " + topic

	dir := t_TempMessageFile(rewritten)
	m := message.Message{Topic: topic, Timestamp: ts, Path: dir}

	f.all = append([]message.Message{m}, f.all...)

	old, has := f.byName[topic]
	if !has {
		snap := &snapshot.Snapshot{Name: topic, Messages: []message.Message{m}, Latest: ts}
		f.byName[topic] = snap
		return snap, nil
	}

	updated, ok := snapshot.WithAdded(old, m)
	if !ok {
		return nil, assertErr("merge failed")
	}
	f.byName[topic] = updated
	return updated, nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func itoa(ts uint64) string {
	if ts == 0 {
		return "0"
	}
	var buf []byte
	for ts > 0 {
		buf = append([]byte{byte('0' + ts%10)}, buf...)
		ts /= 10
	}
	return string(buf)
}

// t_TempMessageFile writes lines to a temp file and returns its path.
// The snapshots fakeIndex builds leave Dir empty, so WithAdded rejects
// a second post to the same topic; these wire-level tests post at most
// once per topic.
func t_TempMessageFile(lines []string) string {
	f, err := os.CreateTemp("", "textboard-test-msg-*")
	if err != nil {
		panic(err)
	}
	w := bufio.NewWriter(f)
	for _, l := range lines {
		w.WriteString(l)
		w.WriteByte('\n')
	}
	w.Flush()
	f.Close()
	return f.Name()
}

func setupPipe(t *testing.T, idx Index) (client net.Conn, c *Conn) {
	t.Helper()
	server, clientSide := net.Pipe()
	bus := notify.NewBus()
	engine := New(server, idx, bus)
	go engine.Serve()
	t.Cleanup(func() { clientSide.Close() })
	return clientSide, engine
}

func readResponse(t *testing.T, r *bufio.Reader, lines int) []string {
	t.Helper()
	out := make([]string, 0, lines)
	for i := 0; i < lines; i++ {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		out = append(out, line[:len(line)-1])
	}
	return out
}

func TestListEmptyDatabase(t *testing.T) {
	idx := newFakeIndex(1000)
	client, _ := setupPipe(t, idx)
	defer client.Close()

	client.SetDeadline(time.Now().Add(2 * time.Second))
	_, err := client.Write([]byte("L\n"))
	require.NoError(t, err)

	r := bufio.NewReader(client)
	resp := readResponse(t, r, 1)
	assert.Equal(t, "0", resp[0])
}

func TestPostThenList(t *testing.T) {
	idx := newFakeIndex(1000)
	client, _ := setupPipe(t, idx)
	defer client.Close()
	client.SetDeadline(time.Now().Add(2 * time.Second))

	_, err := client.Write([]byte("P\n1\n2\n0 hello\nworld\n"))
	require.NoError(t, err)

	r := bufio.NewReader(client)

	_, err = client.Write([]byte("L\n"))
	require.NoError(t, err)

	resp := readResponse(t, r, 2)
	assert.Equal(t, "1", resp[0])
	assert.Equal(t, "1000 hello", resp[1])
}

func TestUnknownOpcodeReturnsError(t *testing.T) {
	idx := newFakeIndex(1000)
	client, _ := setupPipe(t, idx)
	defer client.Close()
	client.SetDeadline(time.Now().Add(2 * time.Second))

	_, err := client.Write([]byte("Z\n"))
	require.NoError(t, err)

	r := bufio.NewReader(client)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "E ")
}

func TestTopicUnknownReturnsZero(t *testing.T) {
	idx := newFakeIndex(1000)
	client, _ := setupPipe(t, idx)
	defer client.Close()
	client.SetDeadline(time.Now().Add(2 * time.Second))

	_, err := client.Write([]byte("T ghost\n"))
	require.NoError(t, err)

	r := bufio.NewReader(client)
	resp := readResponse(t, r, 1)
	assert.Equal(t, "0", resp[0])
}

func TestCloseWithArgumentIsRecoverableError(t *testing.T) {
	idx := newFakeIndex(1000)
	client, _ := setupPipe(t, idx)
	defer client.Close()
	client.SetDeadline(time.Now().Add(2 * time.Second))

	_, err := client.Write([]byte("X oops\n"))
	require.NoError(t, err)

	r := bufio.NewReader(client)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "E ")

	// connection should still be alive: L should still work
	_, err = client.Write([]byte("L\n"))
	require.NoError(t, err)
	resp := readResponse(t, r, 1)
	assert.Equal(t, "0", resp[0])
}

func TestSplitIndexBinarySearch(t *testing.T) {
	msgs := []message.Message{
		{Timestamp: 1002}, {Timestamp: 1001}, {Timestamp: 1001}, {Timestamp: 1000},
	}
	assert.Equal(t, 4, splitIndex(msgs, 0))
	assert.Equal(t, 3, splitIndex(msgs, 1001))
	assert.Equal(t, 0, splitIndex(msgs, 2000))
	assert.Equal(t, 1, splitIndex(msgs, 1002))
}
