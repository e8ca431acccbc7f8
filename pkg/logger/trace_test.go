package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadTail(t *testing.T) {
	head, tail := HeadTail("a\r\nb\r\nc", 5)
	assert.Equal(t, []string{"a", "b", "c"}, head)
	assert.Nil(t, tail)

	var lines []string
	for i := 0; i < 12; i++ {
		lines = append(lines, string(rune('a'+i)))
	}
	head, tail = HeadTail(strings.Join(lines, "\n"), 2)
	assert.Equal(t, []string{"a", "b"}, head)
	assert.Equal(t, []string{"k", "l"}, tail)

	head, tail = HeadTail("", 2)
	assert.Nil(t, head)
	assert.Nil(t, tail)
}

func TestTraceReadWritesTraceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace", "read.log")
	require.NoError(t, Init(Config{Level: "info", Output: "console", TraceFile: path}))
	t.Cleanup(func() { _ = Init(Config{Level: "info"}) })

	TraceRead("amf01", "read", []byte("show status\r\nUP\r\namf01#"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"nf":"amf01"`)
	assert.Contains(t, string(data), `"cycle":"read"`)
	assert.Contains(t, string(data), `show status\\r\\nUP`)
}
