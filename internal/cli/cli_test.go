package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/nfregctl/nfregctl/addone/registration/platforms/amf"
)

const testConfig = `{
  "log": {"level": "error"},
  "nfs": {
    "amf01": {"host": "10.0.0.1", "type": "amf"}
  },
  "stub": {
    "replies": [
      {"mode": "up", "pattern": "^show amf registration-status$",
       "before": "registration-status : out-of-service", "after": "registration-status : in-service"},
      {"mode": "show", "pattern": "^show amf registration-status$", "before": "registration-status : in-service"}
    ]
  }
}`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nfregctl.json")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))

	var out bytes.Buffer
	cmd := NewRootCommand("test")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", path}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestUpWithStub(t *testing.T) {
	out, err := execute(t, "--stub", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "amf01")
	assert.Contains(t, out, "[up] Total: 1, Success: 1, Failed: 0, Blocked: 0 => OK")
}

func TestShowPrintsOutputs(t *testing.T) {
	out, err := execute(t, "--stub", "show", "amf01")
	require.NoError(t, err)
	assert.Contains(t, out, "===== amf01 (amf) =====\nregistration-status : in-service\n")
}

func TestNGExitsNonZero(t *testing.T) {
	out, err := execute(t, "--stub", "show", "amf01", "ghost")
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.Code)
	assert.True(t, exitErr.Printed)
	assert.Contains(t, out, "=> NG")
}

func TestMissingConfig(t *testing.T) {
	cmd := NewRootCommand("test")
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "none.json"), "show"})
	cmd.SetOut(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func TestUnknownMode(t *testing.T) {
	_, err := execute(t, "restart")
	assert.Error(t, err)
}

func TestWatchInterruptSkippedOnCleanReturn(t *testing.T) {
	var fired atomic.Bool
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		stopWatch := watchInterrupt(ctx, func() { fired.Store(true) })
		// 与 runFleet 的 defer 顺序一致
		stopWatch()
		cancel()
	}
	time.Sleep(20 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestWatchInterruptFiresOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	called := make(chan struct{})
	stopWatch := watchInterrupt(ctx, func() { close(called) })
	defer stopWatch()

	cancel()
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("interrupt callback not called")
	}
}
