package simulate

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nfssh "github.com/nfregctl/nfregctl/pkg/ssh"
)

func startServer(t *testing.T, cfg *ServerConfig) (*Server, int) {
	t.Helper()
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv, srv.Addr().(*net.TCPAddr).Port
}

func amfDevice() DeviceConfig {
	return DeviceConfig{
		Banner:       "Welcome to AMF simulator\nLast login: never",
		Prompt:       "amf01#",
		PromptEscape: "\x1b[?7h",
		EnterCLI:     "configure",
		ExitCLI:      "exit",
		AbortCLI:     "end",
		StatusCLI:    "show registration",
		StatusFormat: "Registration : {state}",
		State:        "out-of-service",
		Transitions:  map[string]string{"registration in-service": "in-service"},
		Commands:     map[string]string{"show version": "AMF 23.1\nbuild 42"},
	}
}

func newEngine(t *testing.T, port int, password string) *nfssh.Session {
	t.Helper()
	s, err := nfssh.NewSession("amf01", &nfssh.SessionOptions{
		Store: nfssh.StaticStore{"amf01": {
			Host: "127.0.0.1", Port: port, Username: "amf01", Password: password,
		}},
		ModeCommands:   nfssh.ModeCommands{Enter: "configure", Exit: "exit", Abort: "end"},
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return s
}

func TestServerSessionRoundTrip(t *testing.T) {
	srv, port := startServer(t, &ServerConfig{Devices: map[string]DeviceConfig{"amf01": amfDevice()}})
	s := newEngine(t, port, "nova")
	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	assert.Equal(t, "amf01#", s.Prompt())

	out, err := s.Command("show registration", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Registration : out-of-service", string(out))

	out, err = s.Command("show version", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "AMF 23.1\r\nbuild 42", string(out))

	// 普通模式下状态命令不生效
	out, err = s.Command("registration in-service", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "% Unknown command", string(out))

	require.NoError(t, s.EnterConfigMode())
	assert.Equal(t, "amf01(config)#", s.Prompt())
	assert.Equal(t, nfssh.ModeConfig, s.Mode())

	out, err = s.Command("registration in-service", 5*time.Second)
	require.NoError(t, err)
	assert.Empty(t, out)

	require.NoError(t, s.ExitConfigMode(false))
	assert.Equal(t, "amf01#", s.Prompt())

	out, err = s.Command("show registration", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Registration : in-service", string(out))
	assert.Equal(t, "in-service", srv.State("amf01"))
}

func TestServerAbortLeavesConfigMode(t *testing.T) {
	_, port := startServer(t, &ServerConfig{Devices: map[string]DeviceConfig{"amf01": amfDevice()}})
	s := newEngine(t, port, "nova")
	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	require.NoError(t, s.EnterConfigMode())
	require.NoError(t, s.ExitConfigMode(true))
	assert.Equal(t, nfssh.ModeNormal, s.Mode())
	assert.Equal(t, "amf01#", s.Prompt())
}

func TestServerCommandTimeout(t *testing.T) {
	dev := amfDevice()
	dev.Delay = 300 * time.Millisecond
	_, port := startServer(t, &ServerConfig{Devices: map[string]DeviceConfig{"amf01": dev}})
	s := newEngine(t, port, "nova")
	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	_, err := s.Command("show version", 50*time.Millisecond)
	var timeoutErr *nfssh.CommandTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "show version", timeoutErr.Command)
}

func TestServerRejectsBadPassword(t *testing.T) {
	_, port := startServer(t, &ServerConfig{Password: "secret"})
	s := newEngine(t, port, "nova")

	err := s.Connect(context.Background())
	var connectErr *nfssh.SessionConnectError
	require.ErrorAs(t, err, &connectErr)
	assert.False(t, s.Connected())
}

func TestServerUnknownDeviceUsesUserPrompt(t *testing.T) {
	_, port := startServer(t, nil)
	s := newEngine(t, port, "nova")
	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	assert.Equal(t, "amf01#", s.Prompt())
	out, err := s.Command("show anything", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "% Unknown command", string(out))
}

func TestServerPersistsHostKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "host_ecdsa.pem")
	first, err := NewServer(&ServerConfig{HostKeyPath: path})
	require.NoError(t, err)
	second, err := NewServer(&ServerConfig{HostKeyPath: path})
	require.NoError(t, err)

	assert.Equal(t,
		first.hostKey.PublicKey().Marshal(),
		second.hostKey.PublicKey().Marshal())
	assert.Equal(t, "ecdsa-sha2-nistp256", first.hostKey.PublicKey().Type())
}

func TestServerDefaultListen(t *testing.T) {
	srv, port := startServer(t, nil)
	assert.NotZero(t, port)
	host, _, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
}
