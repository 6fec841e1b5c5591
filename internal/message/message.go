// Package message implements the on-disk message format: a single
// meta line "<epoch_seconds> <topic>" followed by the message body,
// one line per line, UTF-8, LF-terminated. Messages are written with
// a temp-file-then-atomic-rename sequence, mirroring minimega's
// iomeshage file-transfer code (internal/iomeshage/local.go's touch
// and stream helpers), generalized from transferred files to posted
// messages.
package message

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/BurningEnlightenment/uni-textboard/pkg/tblog"
)

// Message is an immutable record of one post.
type Message struct {
	Topic     string
	Timestamp uint64
	Path      string
}

// Load reads and validates the message file at path, which must sit
// directly under a topic directory whose decoded name equals
// expectedTopic. Any parse, mismatch, or I/O failure is logged at Warn
// and reported via ok == false so the caller drops the entry (spec
// 4.B, 4.D.4): corrupt on-disk data never aborts startup.
func Load(path, expectedTopic string) (m Message, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		tblog.Warnf("message: open %v: %v", path, err)
		return Message{}, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			tblog.Warnf("message: read meta line %v: %v", path, err)
		} else {
			tblog.Warnf("message: empty file %v", path)
		}
		return Message{}, false
	}

	ts, topic, ok := ParseMetaLine(scanner.Text())
	if !ok {
		tblog.Warnf("message: malformed meta line in %v", path)
		return Message{}, false
	}

	if topic != expectedTopic {
		tblog.Warnf("message: topic mismatch in %v: file says %q, directory says %q", path, topic, expectedTopic)
		return Message{}, false
	}

	return Message{Topic: topic, Timestamp: ts, Path: path}, true
}

// Lines reads m's backing file and returns it as whole lines (the
// meta line followed by the body), for re-emission over the wire
// protocol (spec 4.F.1's "K followed by K lines").
func (m Message) Lines() ([]string, error) {
	f, err := os.Open(m.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// ParseMetaLine splits "<epoch_seconds> <topic>" on the first space.
func ParseMetaLine(line string) (ts uint64, topic string, ok bool) {
	idx := strings.IndexByte(line, ' ')
	if idx <= 0 || idx == len(line)-1 {
		return 0, "", false
	}

	ts, err := strconv.ParseUint(line[:idx], 10, 64)
	if err != nil {
		return 0, "", false
	}

	return ts, line[idx+1:], true
}

// Create validates the client-supplied meta line in lines[0], rewrites
// its timestamp to now (the client's timestamp is never trusted — spec
// 4.B), ensures topicDir exists, and writes lines to a freshly created
// file named with a v4 UUID inside topicDir via temp-file-then-rename.
// lines[0] on input must be "<clientTimestamp> <topic>"; the returned
// Message carries the server-assigned timestamp.
func Create(topicDir string, lines []string, now func() uint64) (Message, error) {
	if len(lines) == 0 {
		return Message{}, fmt.Errorf("message: no lines")
	}

	_, topic, ok := ParseMetaLine(lines[0])
	if !ok {
		return Message{}, fmt.Errorf("message: malformed meta line %q", lines[0])
	}

	ts := now()
	rewritten := make([]string, len(lines))
	rewritten[0] = fmt.Sprintf("%d %s", ts, topic)
	copy(rewritten[1:], lines[1:])

	if err := os.MkdirAll(topicDir, 0775); err != nil {
		return Message{}, fmt.Errorf("message: create topic dir %v: %w", topicDir, err)
	}

	tmp, err := os.CreateTemp("", "textboard-msg-*")
	if err != nil {
		return Message{}, fmt.Errorf("message: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := writeLines(tmp, rewritten); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return Message{}, fmt.Errorf("message: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return Message{}, fmt.Errorf("message: close temp file: %w", err)
	}

	finalPath := filepath.Join(topicDir, uuid.NewString())

	if err := renameAtomic(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return Message{}, fmt.Errorf("message: rename into place: %w", err)
	}

	return Message{Topic: topic, Timestamp: ts, Path: finalPath}, nil
}

func writeLines(f *os.File, lines []string) error {
	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.WriteString(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

// renameAtomic renames src to dst, falling back to a non-atomic
// copy-then-remove if the filesystem rejects the atomic rename (e.g.
// a cross-device rename). Spec 4.B/4.D.4: the fallback is logged at
// Warn and durability silently degrades on such filesystems.
func renameAtomic(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	tblog.Warnf("message: atomic rename %v -> %v failed (%v), falling back to copy", src, dst, err)

	in, openErr := os.Open(src)
	if openErr != nil {
		return openErr
	}
	defer in.Close()

	out, createErr := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0664)
	if createErr != nil {
		return createErr
	}

	if _, copyErr := bufio.NewReader(in).WriteTo(out); copyErr != nil {
		out.Close()
		os.Remove(dst)
		return copyErr
	}
	if closeErr := out.Close(); closeErr != nil {
		os.Remove(dst)
		return closeErr
	}

	return os.Remove(src)
}
