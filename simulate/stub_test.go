package simulate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubBeforeAfterFlip(t *testing.T) {
	s, err := NewStubSession("amf01", &StubConfig{
		Mode: "up",
		Replies: []StubReply{
			{Mode: "down", Pattern: "^show registration$", Before: "state: in-service"},
			{Mode: "up", Pattern: "^show registration$", Before: "state: out-of-service", After: "state: in-service"},
			{Pattern: "^show version$", Before: "AMF 1.0"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))

	out, err := s.Command("show registration", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "state: out-of-service", string(out))

	out, err = s.Command("show registration", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "state: in-service", string(out))

	out, _ = s.Command("show version", time.Second)
	assert.Equal(t, "AMF 1.0", string(out))
	out, _ = s.Command("show version", time.Second)
	assert.Equal(t, "AMF 1.0", string(out))

	out, _ = s.Command("reload", time.Second)
	assert.Empty(t, out)
}

func TestStubNotConnected(t *testing.T) {
	s, err := NewStubSession("amf01", &StubConfig{
		Replies: []StubReply{{Pattern: ".*", Before: "x"}},
	})
	require.NoError(t, err)

	out, err := s.Command("show", time.Second)
	assert.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, s.EnterConfigMode())
	assert.False(t, s.InConfigMode())
}

func TestStubConfigModeBookkeeping(t *testing.T) {
	s, err := NewStubSession("amf01", nil)
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.EnterConfigMode())
	assert.True(t, s.InConfigMode())
	require.NoError(t, s.ExitConfigMode(true))
	assert.False(t, s.InConfigMode())
	require.NoError(t, s.Close())
	assert.False(t, s.Connected())
}

func TestStubReplyDelay(t *testing.T) {
	s, err := NewStubSession("amf01", &StubConfig{
		Replies: []StubReply{{Pattern: "slow", Before: "ok", Delay: 30 * time.Millisecond}},
	})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))

	start := time.Now()
	out, err := s.Command("slow", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestStubInvalidPattern(t *testing.T) {
	_, err := NewStubSession("amf01", &StubConfig{Replies: []StubReply{{Pattern: "("}}})
	assert.Error(t, err)

	_, err = NewStubSession("", nil)
	assert.Error(t, err)
}
