// Package conn implements the per-connection protocol engine (spec
// 4.F): reads a command line, dispatches to a handler, writes a
// response, then drains and emits any queued topic notifications
// before reading the next command. The accept-loop-per-client and
// teardown shape follows minimega's ron.Server.clientHandler: decode
// one frame, dispatch on a type/opcode switch, classify disconnect
// errors as OK, log anything else.
package conn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"

	"github.com/BurningEnlightenment/uni-textboard/internal/index"
	"github.com/BurningEnlightenment/uni-textboard/internal/message"
	"github.com/BurningEnlightenment/uni-textboard/internal/notify"
	"github.com/BurningEnlightenment/uni-textboard/internal/snapshot"
	"github.com/BurningEnlightenment/uni-textboard/pkg/tblog"
	"github.com/BurningEnlightenment/uni-textboard/pkg/wire"
)

// Index is the subset of *index.Index the engine needs; lets tests use
// a fake index without constructing a real on-disk one.
type Index interface {
	GetTopic(name string) *snapshot.Snapshot
	TopicsByRecency() []*snapshot.Snapshot
	MessagesByRecency() []message.Message
	Put(lines []string) (*snapshot.Snapshot, error)
}

var _ Index = (*index.Index)(nil)

// Conn is one client connection's protocol engine.
type Conn struct {
	ID    uint64
	idx   Index
	bus   *notify.Bus
	queue *notify.Queue

	nc net.Conn
	r  *bufio.Reader
	w  *bufio.Writer
}

// New wraps nc in a protocol engine, registering it with bus so it
// starts receiving topic-change notifications immediately (even
// before its first command). The connection id assigned by the bus is
// also what the listener's live-connection set keys on.
func New(nc net.Conn, idx Index, bus *notify.Bus) *Conn {
	id, queue := bus.Register()
	return &Conn{
		ID:    id,
		idx:   idx,
		bus:   bus,
		queue: queue,
		nc:    nc,
		r:     bufio.NewReader(nc),
		w:     bufio.NewWriter(nc),
	}
}

// Close forcibly terminates the underlying socket, e.g. during server
// shutdown (spec 4.G). Serve's own read loop will then observe the
// close and return.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// Serve runs the READ_COMMAND -> HANDLE -> EMIT_NOTIFICATIONS loop
// until the client closes, sends X, or an unrecoverable I/O error
// occurs (spec 4.F.2). It always deregisters from the bus on return.
func (c *Conn) Serve() {
	defer c.bus.Unregister(c.ID)
	defer c.nc.Close()

	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			if isBenignDisconnect(err) {
				tblog.Debugf("conn %d: disconnected: %v", c.ID, err)
			} else {
				tblog.Errorf("conn %d: read error: %v", c.ID, err)
			}
			return
		}
		line = strings.TrimRight(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		closed, err := c.handle(line)
		if err != nil {
			tblog.Errorf("conn %d: write error: %v", c.ID, err)
			return
		}
		if closed {
			return
		}
	}
}

// handle dispatches one command line, writing its response (and, for
// every command but X, the notification suffix) before returning.
// closed is true once the connection should terminate (successful X).
func (c *Conn) handle(line string) (closed bool, err error) {
	op, arg, hasArg := wire.ParseCommand(line)

	switch op {
	case wire.OpClose:
		if hasArg {
			if werr := wire.WriteError(c.w, "X takes no argument"); werr != nil {
				return false, werr
			}
			return false, c.flushWithNotifications()
		}
		return true, c.w.Flush()

	case wire.OpPost:
		if err := c.handlePost(); err != nil {
			if werr := wire.WriteError(c.w, err.Error()); werr != nil {
				return false, werr
			}
		}
		return false, c.flushWithNotifications()

	case wire.OpList:
		if err := c.handleList(arg, hasArg); err != nil {
			if werr := wire.WriteError(c.w, err.Error()); werr != nil {
				return false, werr
			}
		}
		return false, c.flushWithNotifications()

	case wire.OpTopic:
		if err := c.handleTopic(arg, hasArg); err != nil {
			if werr := wire.WriteError(c.w, err.Error()); werr != nil {
				return false, werr
			}
		}
		return false, c.flushWithNotifications()

	case wire.OpSince:
		if err := c.handleSince(arg, hasArg); err != nil {
			if werr := wire.WriteError(c.w, err.Error()); werr != nil {
				return false, werr
			}
		}
		return false, c.flushWithNotifications()

	default:
		if werr := wire.WriteError(c.w, fmt.Sprintf("unknown opcode %q", string(rune(op)))); werr != nil {
			return false, werr
		}
		return false, c.flushWithNotifications()
	}
}

// handlePost implements P: read the message count, then each
// message's line count and lines, and hand the raw lines to the index
// one message at a time (spec 4.F.1).
func (c *Conn) handlePost() error {
	countLine, err := c.readLine()
	if err != nil {
		return fmt.Errorf("read message count: %v", err)
	}
	count, ok := wire.ReadUint(countLine)
	if !ok {
		return fmt.Errorf("invalid message count %q", countLine)
	}

	for i := uint64(0); i < count; i++ {
		klineStr, err := c.readLine()
		if err != nil {
			return fmt.Errorf("read line count: %v", err)
		}
		k, ok := wire.ReadUint(klineStr)
		if !ok {
			return fmt.Errorf("invalid line count %q", klineStr)
		}
		if k == 0 {
			return fmt.Errorf("message must have at least a meta line")
		}

		lines := make([]string, 0, k)
		for j := uint64(0); j < k; j++ {
			l, err := c.readLine()
			if err != nil {
				return fmt.Errorf("read message line: %v", err)
			}
			lines = append(lines, l)
		}

		if _, err := c.idx.Put(lines); err != nil {
			return fmt.Errorf("post failed: %v", err)
		}
	}

	return nil
}

// handleList implements L [N]: list up to N topics (all if omitted)
// by recency.
func (c *Conn) handleList(arg string, hasArg bool) error {
	topics := c.idx.TopicsByRecency()

	limit := len(topics)
	if hasArg {
		n, ok := wire.ReadUint(arg)
		if !ok {
			return fmt.Errorf("invalid count %q", arg)
		}
		if int(n) < limit {
			limit = int(n)
		}
	}

	if _, err := fmt.Fprintf(c.w, "%d\n", limit); err != nil {
		return err
	}
	for i := 0; i < limit; i++ {
		t := topics[i]
		if _, err := fmt.Fprintf(c.w, "%d %s\n", t.Latest, t.Name); err != nil {
			return err
		}
	}
	return nil
}

// handleTopic implements T <topic>: total line count across all the
// topic's messages, then each message as K + K lines, newest first.
func (c *Conn) handleTopic(arg string, hasArg bool) error {
	if !hasArg || arg == "" {
		return fmt.Errorf("T requires a topic argument")
	}

	snap := c.idx.GetTopic(arg)
	if snap == nil {
		_, err := fmt.Fprintf(c.w, "0\n")
		return err
	}

	total := 0
	blocks := make([][]string, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		lines, err := m.Lines()
		if err != nil {
			return fmt.Errorf("read message: %v", err)
		}
		blocks = append(blocks, lines)
		total += len(lines)
	}

	if _, err := fmt.Fprintf(c.w, "%d\n", total); err != nil {
		return err
	}
	for _, lines := range blocks {
		if err := wire.WriteMessageBlock(c.w, lines); err != nil {
			return err
		}
	}
	return nil
}

// handleSince implements W <ts>: count and emit all messages with
// timestamp >= ts, newest first (spec 4.F.3's binary search).
func (c *Conn) handleSince(arg string, hasArg bool) error {
	if !hasArg {
		return fmt.Errorf("W requires a timestamp argument")
	}
	ts, ok := wire.ReadUint(arg)
	if !ok {
		return fmt.Errorf("invalid timestamp %q", arg)
	}

	all := c.idx.MessagesByRecency()
	limit := splitIndex(all, ts)

	if _, err := fmt.Fprintf(c.w, "%d\n", limit); err != nil {
		return err
	}
	for i := 0; i < limit; i++ {
		lines, err := all[i].Lines()
		if err != nil {
			return fmt.Errorf("read message: %v", err)
		}
		if err := wire.WriteMessageBlock(c.w, lines); err != nil {
			return err
		}
	}
	return nil
}

// splitIndex returns the number of leading elements of msgs (sorted
// descending by Timestamp) with Timestamp >= ts, via binary search.
func splitIndex(msgs []message.Message, ts uint64) int {
	return sort.Search(len(msgs), func(i int) bool {
		return msgs[i].Timestamp < ts
	})
}

// flushWithNotifications drains the connection's notification queue,
// emits the "N <count>" suffix if non-empty, and flushes the output
// buffer — run after every command but X (spec 4.F.1).
func (c *Conn) flushWithNotifications() error {
	drained := c.queue.Drain()
	if len(drained) > 0 {
		if _, err := fmt.Fprintf(c.w, "N %d\n", len(drained)); err != nil {
			return err
		}
		for _, snap := range drained {
			if _, err := fmt.Fprintf(c.w, "%d %s\n", snap.Latest, snap.Name); err != nil {
				return err
			}
		}
	}
	return c.w.Flush()
}

func (c *Conn) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

func isBenignDisconnect(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe")
}
