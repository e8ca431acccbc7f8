package registration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nfssh "github.com/nfregctl/nfregctl/pkg/ssh"
	"github.com/nfregctl/nfregctl/simulate"
)

// fakeTerminal 按命令返回脚本化应答，记录调用序列
type fakeTerminal struct {
	replies map[string][]string
	errs    map[string]error
	calls   []string
}

func (f *fakeTerminal) Target() string                    { return "nf01" }
func (f *fakeTerminal) Connect(ctx context.Context) error { return nil }
func (f *fakeTerminal) Close() error                      { return nil }

func (f *fakeTerminal) Command(cmd string, timeout time.Duration) ([]byte, error) {
	f.calls = append(f.calls, cmd)
	if err, ok := f.errs[cmd]; ok {
		return nil, err
	}
	queue := f.replies[cmd]
	if len(queue) == 0 {
		return []byte{}, nil
	}
	out := queue[0]
	if len(queue) > 1 {
		f.replies[cmd] = queue[1:]
	}
	return []byte(out), nil
}

func (f *fakeTerminal) EnterConfigMode() error {
	f.calls = append(f.calls, "<enter>")
	return nil
}

func (f *fakeTerminal) ExitConfigMode(forced bool) error {
	if forced {
		f.calls = append(f.calls, "<abort>")
	} else {
		f.calls = append(f.calls, "<exit>")
	}
	return nil
}

func (f *fakeTerminal) Abort() error {
	f.calls = append(f.calls, "<abort>")
	return nil
}

func testDefaults(configMode bool) Defaults {
	return Defaults{
		RequiresConfigMode: configMode,
		Commands: map[Mode][]string{
			ModeShow: {"show status"},
			ModeUp:   {"enable", "commit"},
			ModeDown: {"disable", "commit"},
			ModeInfo: {"show version"},
		},
		StatusPatterns: map[Status]string{
			StatusBlocked:      `state: blocked`,
			StatusOutOfService: `state: out-of-service`,
			StatusInService:    `state: in-service`,
		},
		CommandTimeout: time.Second,
	}
}

func newTestProcess(t *testing.T, term Terminal, configMode bool) *Process {
	t.Helper()
	p, err := NewProcess("amf", term, testDefaults(configMode))
	require.NoError(t, err)
	return p
}

func TestParseStatusOrder(t *testing.T) {
	p := newTestProcess(t, &fakeTerminal{}, false)

	assert.Equal(t, StatusInService, p.ParseStatus("state: in-service"))
	assert.Equal(t, StatusOutOfService, p.ParseStatus("state: out-of-service"))
	assert.Equal(t, StatusBlocked, p.ParseStatus("state: in-service\nstate: blocked"))
	assert.Equal(t, StatusUnknown, p.ParseStatus("garbage"))
}

func TestRunUpChangesState(t *testing.T) {
	term := &fakeTerminal{replies: map[string][]string{
		"show status": {"state: out-of-service", "state: in-service"},
	}}
	out := newTestProcess(t, term, true).Run(context.Background(), ModeUp)

	assert.Equal(t, ResultSuccess, out.Result)
	assert.Equal(t, StatusOutOfService, out.Before)
	assert.Equal(t, StatusInService, out.After)
	assert.True(t, out.Changed)
	assert.Equal(t, []string{"show status", "<enter>", "enable", "commit", "<exit>", "show status"}, term.calls)
}

func TestRunUpAlreadyInService(t *testing.T) {
	term := &fakeTerminal{replies: map[string][]string{"show status": {"state: in-service"}}}
	out := newTestProcess(t, term, true).Run(context.Background(), ModeUp)

	assert.Equal(t, ResultSuccess, out.Result)
	assert.False(t, out.Changed)
	assert.Equal(t, []string{"show status"}, term.calls)
}

func TestRunDownBlockedBeforeChange(t *testing.T) {
	term := &fakeTerminal{replies: map[string][]string{"show status": {"state: blocked"}}}
	out := newTestProcess(t, term, true).Run(context.Background(), ModeDown)

	assert.Equal(t, ResultBlocked, out.Result)
	assert.Equal(t, []string{"show status"}, term.calls)
}

func TestRunUpBlockedAfterChange(t *testing.T) {
	term := &fakeTerminal{replies: map[string][]string{
		"show status": {"state: out-of-service", "state: blocked"},
	}}
	out := newTestProcess(t, term, false).Run(context.Background(), ModeUp)

	assert.Equal(t, ResultBlocked, out.Result)
	assert.Equal(t, StatusBlocked, out.After)
	assert.NotContains(t, term.calls, "<enter>")
}

func TestRunUpUnchangedFails(t *testing.T) {
	term := &fakeTerminal{replies: map[string][]string{"show status": {"state: out-of-service"}}}
	out := newTestProcess(t, term, false).Run(context.Background(), ModeUp)

	assert.Equal(t, ResultFailed, out.Result)
	assert.Contains(t, out.Message, "out-of-service")
}

func TestRunTimeoutForcesExit(t *testing.T) {
	term := &fakeTerminal{
		replies: map[string][]string{"show status": {"state: out-of-service"}},
		errs: map[string]error{"enable": &nfssh.CommandTimeoutError{
			Command: "enable", Timeout: time.Second, Err: errors.New("socket timed out"),
		}},
	}
	out := newTestProcess(t, term, true).Run(context.Background(), ModeUp)

	assert.Equal(t, ResultFailed, out.Result)
	assert.Equal(t, "socket timed out", out.Message)
	assert.Equal(t, []string{"show status", "<enter>", "enable", "<abort>"}, term.calls)
}

func TestRunShowAndInfo(t *testing.T) {
	term := &fakeTerminal{replies: map[string][]string{
		"show status":  {"state: in-service"},
		"show version": {"AMF 23.1"},
	}}
	p := newTestProcess(t, term, true)

	show := p.Run(context.Background(), ModeShow)
	assert.Equal(t, ResultSuccess, show.Result)
	assert.Equal(t, StatusInService, show.After)

	info := p.Run(context.Background(), ModeInfo)
	assert.Equal(t, ResultSuccess, info.Result)
	assert.Equal(t, "AMF 23.1", info.Output)

	list := p.Run(context.Background(), ModeList)
	assert.Equal(t, ResultSkipped, list.Result)
}

func TestRunWithStubSession(t *testing.T) {
	stub, err := simulate.NewStubSession("smf01", &simulate.StubConfig{
		Mode: "down",
		Replies: []simulate.StubReply{
			{Mode: "down", Pattern: "^show status$", Before: "state: in-service", After: "state: out-of-service"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, stub.Connect(context.Background()))

	out := newTestProcess(t, stub, true).Run(context.Background(), ModeDown)
	assert.Equal(t, ResultSuccess, out.Result)
	assert.Equal(t, StatusInService, out.Before)
	assert.Equal(t, StatusOutOfService, out.After)
	assert.False(t, stub.InConfigMode())
}

func TestNewProcessInvalidPattern(t *testing.T) {
	def := testDefaults(false)
	def.StatusPatterns[StatusBlocked] = "("
	_, err := NewProcess("amf", &fakeTerminal{}, def)
	assert.Error(t, err)
}
