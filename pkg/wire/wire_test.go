package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	op, arg, hasArg := ParseCommand("L 10")
	assert.Equal(t, OpList, op)
	assert.Equal(t, "10", arg)
	assert.True(t, hasArg)

	op, arg, hasArg = ParseCommand("L")
	assert.Equal(t, OpList, op)
	assert.Equal(t, "", arg)
	assert.False(t, hasArg)

	op, _, hasArg = ParseCommand("")
	assert.Equal(t, Opcode(0), op)
	assert.False(t, hasArg)

	op, arg, hasArg = ParseCommand("Tfoo")
	assert.Equal(t, OpTopic, op)
	assert.Equal(t, "foo", arg)
	assert.True(t, hasArg)
}

func TestWriteError(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteError(w, "boom"))
	require.NoError(t, w.Flush())
	assert.Equal(t, "E boom\n", buf.String())
}

func TestWriteMessageBlock(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteMessageBlock(w, []string{"1000 foo", "hello"}))
	require.NoError(t, w.Flush())
	assert.Equal(t, "2\n1000 foo\nhello\n", buf.String())
}

func TestReadUint(t *testing.T) {
	n, ok := ReadUint("42")
	assert.True(t, ok)
	assert.Equal(t, uint64(42), n)

	_, ok = ReadUint("-1")
	assert.False(t, ok)

	_, ok = ReadUint("abc")
	assert.False(t, ok)
}
