// Package textclient is the CLI-side counterpart to internal/conn: it
// dials a textboardd instance and speaks the wire protocol from the
// client end (spec 4.F), returning parsed responses instead of raw
// lines. The request/response-over-a-single-connection shape follows
// minimega's miniclient.Conn, generalized from its JSON framing to the
// line protocol shared with the server via pkg/wire.
package textclient

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/BurningEnlightenment/uni-textboard/pkg/wire"
)

// TopicSummary mirrors one line of an L response or an N notification
// block: a topic name and its most recent post timestamp.
type TopicSummary struct {
	Latest uint64
	Name   string
}

// Client holds one connection to a textboardd instance.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// Dial connects to addr ("host:port").
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("textclient: dial %v: %w", addr, err)
	}
	return &Client{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}, nil
}

// Close sends X and closes the underlying connection.
func (c *Client) Close() error {
	fmt.Fprintf(c.w, "X\n")
	c.w.Flush()
	return c.conn.Close()
}

// List runs L [n], returning topics by recency and any queued
// notifications delivered alongside the response.
func (c *Client) List(n int, hasLimit bool) (topics []TopicSummary, notifications []TopicSummary, err error) {
	cmd := "L\n"
	if hasLimit {
		cmd = fmt.Sprintf("L %d\n", n)
	}
	if err := c.send(cmd); err != nil {
		return nil, nil, err
	}

	topics, err = c.readTopicList()
	if err != nil {
		return nil, nil, err
	}
	notifications, err = c.readNotifications()
	return topics, notifications, err
}

// Topic runs T <name>, returning the topic's messages newest first as
// raw line blocks (each block's first line is the message's meta
// line).
func (c *Client) Topic(name string) (blocks [][]string, notifications []TopicSummary, err error) {
	if err := c.send(fmt.Sprintf("T %s\n", name)); err != nil {
		return nil, nil, err
	}

	blocks, err = c.readMessageBlocks()
	if err != nil {
		return nil, nil, err
	}
	notifications, err = c.readNotifications()
	return blocks, notifications, err
}

// Since runs W <ts>, returning every message at or after ts newest
// first (spec 4.F.3).
func (c *Client) Since(ts uint64) (blocks [][]string, notifications []TopicSummary, err error) {
	if err := c.send(fmt.Sprintf("W %d\n", ts)); err != nil {
		return nil, nil, err
	}

	blocks, err = c.readMessageBlocks()
	if err != nil {
		return nil, nil, err
	}
	notifications, err = c.readNotifications()
	return blocks, notifications, err
}

// Post runs P with one message: topic and body are combined into the
// client-side meta line with a placeholder timestamp, which the server
// always rewrites (spec 4.B).
func (c *Client) Post(topic string, body []string) (notifications []TopicSummary, err error) {
	lines := make([]string, 0, len(body)+1)
	lines = append(lines, fmt.Sprintf("0 %s", topic))
	lines = append(lines, body...)

	if _, err := fmt.Fprintf(c.w, "P\n1\n"); err != nil {
		return nil, err
	}
	if err := wire.WriteMessageBlock(c.w, lines); err != nil {
		return nil, err
	}
	if err := c.w.Flush(); err != nil {
		return nil, err
	}

	return c.readNotifications()
}

// Err reports a server error line, if any was read; used by callers
// that expect a zero-length result to mean "no error occurred".
type Err string

func (e Err) Error() string { return string(e) }

func (c *Client) send(cmd string) error {
	if _, err := c.w.WriteString(cmd); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *Client) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return line[:len(line)-1], nil
}

// peekError checks an already-read line and, if it is an "E <reason>"
// response, returns it as an error instead of attempting to parse it
// as data.
func (c *Client) peekError(line string) error {
	if len(line) > 0 && line[0] == 'E' {
		if len(line) > 2 {
			return Err(line[2:])
		}
		return Err("server error")
	}
	return nil
}

func (c *Client) readTopicList() ([]TopicSummary, error) {
	line, err := c.readLine()
	if err != nil {
		return nil, err
	}
	if err := c.peekError(line); err != nil {
		return nil, err
	}

	count, ok := wire.ReadUint(line)
	if !ok {
		return nil, fmt.Errorf("textclient: bad topic count %q", line)
	}

	out := make([]TopicSummary, 0, count)
	for i := uint64(0); i < count; i++ {
		summary, err := c.readTopicSummary()
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

func (c *Client) readTopicSummary() (TopicSummary, error) {
	line, err := c.readLine()
	if err != nil {
		return TopicSummary{}, err
	}
	idx := -1
	for i := 0; i < len(line); i++ {
		if line[i] == ' ' {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return TopicSummary{}, fmt.Errorf("textclient: malformed topic line %q", line)
	}
	ts, ok := wire.ReadUint(line[:idx])
	if !ok {
		return TopicSummary{}, fmt.Errorf("textclient: malformed topic line %q", line)
	}
	return TopicSummary{Latest: ts, Name: line[idx+1:]}, nil
}

func (c *Client) readMessageBlocks() ([][]string, error) {
	line, err := c.readLine()
	if err != nil {
		return nil, err
	}
	if err := c.peekError(line); err != nil {
		return nil, err
	}

	total, ok := wire.ReadUint(line)
	if !ok {
		return nil, fmt.Errorf("textclient: bad total line count %q", line)
	}

	var blocks [][]string
	var consumed uint64
	for consumed < total {
		block, err := c.readOneBlock()
		if err != nil {
			return nil, err
		}
		consumed += uint64(len(block))
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func (c *Client) readOneBlock() ([]string, error) {
	line, err := c.readLine()
	if err != nil {
		return nil, err
	}
	k, ok := wire.ReadUint(line)
	if !ok {
		return nil, fmt.Errorf("textclient: bad block line count %q", line)
	}

	lines := make([]string, 0, k)
	for i := uint64(0); i < k; i++ {
		l, err := c.readLine()
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// readNotifications consumes the optional "N <count>" suffix every
// non-X response carries (spec 4.F.1). No line at all means no
// notifications were queued.
func (c *Client) readNotifications() ([]TopicSummary, error) {
	c.conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	defer c.conn.SetReadDeadline(time.Time{})

	line, err := c.readLine()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}

	if len(line) < 2 || line[0] != 'N' {
		return nil, fmt.Errorf("textclient: expected notification suffix, got %q", line)
	}

	count, ok := wire.ReadUint(line[2:])
	if !ok {
		return nil, fmt.Errorf("textclient: bad notification count %q", line)
	}

	out := make([]TopicSummary, 0, count)
	for i := uint64(0); i < count; i++ {
		summary, err := c.readTopicSummary()
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}
