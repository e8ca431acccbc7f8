package service

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfregctl/nfregctl/addone/registration"
	_ "github.com/nfregctl/nfregctl/addone/registration/platforms/amf"
	_ "github.com/nfregctl/nfregctl/addone/registration/platforms/smf"
	"github.com/nfregctl/nfregctl/internal/config"
	"github.com/nfregctl/nfregctl/internal/database"
	"github.com/nfregctl/nfregctl/simulate"
)

func stubConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		NFs: map[string]config.NFConfig{
			"amf01": {Host: "10.0.0.1", Port: 22, Type: "amf"},
			"smf01": {Host: "10.0.0.2", Port: 22, Type: "smf"},
		},
		Stub: simulate.StubConfig{
			Replies: []simulate.StubReply{
				{Mode: "up", Pattern: "^show amf registration-status$",
					Before: "registration-status : out-of-service", After: "registration-status : in-service"},
				{Mode: "down", Pattern: "^show amf registration-status$",
					Before: "registration-status : blocked"},
				{Pattern: "^show smf service status$", Before: "Service status: running"},
				{Pattern: "^show version$", Before: "AMF 23.1"},
			},
		},
		Storage: config.StorageConfig{Report: config.ReportConfig{
			Backend: "local", BaseDir: filepath.Join(t.TempDir(), "reports"), Prefix: "runs",
		}},
	}
}

func TestRunUpWithStub(t *testing.T) {
	svc := NewFleetService(stubConfig(t))

	report, err := svc.Run(context.Background(), &RunRequest{Mode: registration.ModeUp, Stub: true})
	require.NoError(t, err)

	assert.Equal(t, "OK", report.Status)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Success)
	assert.NotEmpty(t, report.ID)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "amf01", report.Results[0].NF)
	assert.True(t, report.Results[0].Changed)
	assert.False(t, report.Results[1].Changed)
	assert.Equal(t, 0, svc.Tracker().Active())
}

func TestRunCountsFailures(t *testing.T) {
	cfg := stubConfig(t)
	cfg.NFs["upf01"] = config.NFConfig{Host: "10.0.0.3", Type: "upf"}
	svc := NewFleetService(cfg)

	report, err := svc.Run(context.Background(), &RunRequest{
		Mode: registration.ModeShow, Stub: true, NFs: []string{"amf01", "ghost", "upf01"},
	})
	require.NoError(t, err)

	assert.Equal(t, "NG", report.Status)
	assert.Equal(t, 1, report.Success)
	assert.Equal(t, 2, report.Failed)
	assert.Contains(t, report.Results[1].Message, "ghost")
	assert.Contains(t, report.Results[2].Message, "nf type not found")
}

func TestBlockedStatusPolicy(t *testing.T) {
	svc := NewFleetService(stubConfig(t))

	down, err := svc.Run(context.Background(), &RunRequest{Mode: registration.ModeDown, Stub: true, NFs: []string{"amf01"}})
	require.NoError(t, err)
	assert.Equal(t, 1, down.Blocked)
	assert.Equal(t, "OK", down.Status)

	cfg := stubConfig(t)
	cfg.Stub.Replies[0].Before = "registration-status : blocked"
	svc.SetConfig(cfg)
	up, err := svc.Run(context.Background(), &RunRequest{Mode: registration.ModeUp, Stub: true, NFs: []string{"amf01"}})
	require.NoError(t, err)
	assert.Equal(t, 1, up.Blocked)
	assert.Equal(t, "NG", up.Status)
}

func TestRunRejectsInvalidModeAndConcurrentRuns(t *testing.T) {
	svc := NewFleetService(stubConfig(t))

	_, err := svc.Run(context.Background(), &RunRequest{Mode: "restart"})
	assert.Error(t, err)

	require.True(t, svc.sem.TryAcquire(1))
	_, err = svc.Run(context.Background(), &RunRequest{Mode: registration.ModeShow, Stub: true})
	assert.ErrorIs(t, err, ErrRunInProgress)
	svc.sem.Release(1)
}

func TestRunPersistsHistoryAndReport(t *testing.T) {
	require.NoError(t, database.InitSQLite(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "runs.db")}))
	t.Cleanup(func() { _ = database.Close() })

	cfg := stubConfig(t)
	cfg.Storage.Report.Enabled = true
	svc := NewFleetService(cfg)

	report, err := svc.Run(context.Background(), &RunRequest{Mode: registration.ModeInfo, Stub: true, NFs: []string{"amf01"}})
	require.NoError(t, err)

	run, err := database.GetRun(report.ID)
	require.NoError(t, err)
	assert.Equal(t, "info", run.Mode)
	require.Len(t, run.Results, 1)
	assert.Contains(t, run.Results[0].Output, "AMF 23.1")

	require.True(t, strings.HasPrefix(report.ReportURI, "file://"))
	data, err := os.ReadFile(strings.TrimPrefix(report.ReportURI, "file://"))
	require.NoError(t, err)
	assert.Contains(t, string(data), report.ID)
}

func TestRunUpOverSSH(t *testing.T) {
	srv, err := simulate.NewServer(&simulate.ServerConfig{Devices: map[string]simulate.DeviceConfig{
		"amf01": {
			Prompt:       "amf01#",
			PromptEscape: "\x1b[?7h",
			EnterCLI:     "config",
			ExitCLI:      "end",
			AbortCLI:     "abort",
			StatusCLI:    "show amf registration-status",
			StatusFormat: "registration-status : {state}",
			State:        "out-of-service",
			Transitions: map[string]string{
				"amf-service registration enable":  "in-service",
				"amf-service registration disable": "out-of-service",
			},
			Commands: map[string]string{"commit": "Commit complete."},
		},
	}})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	port := srv.Addr().(*net.TCPAddr).Port
	cfg := &config.Config{
		SSH: config.SSHConfig{ConnectTimeout: 5 * time.Second, Term: "vt100", TermWidth: 200, TermHeight: 48, LineEnding: "\n"},
		NFs: map[string]config.NFConfig{
			"amf01": {Host: "127.0.0.1", Port: port, Username: "amf01", Password: "nova", Type: "amf"},
		},
	}
	svc := NewFleetService(cfg)

	report, err := svc.Run(context.Background(), &RunRequest{Mode: registration.ModeUp})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, registration.ResultSuccess, report.Results[0].Result, report.Results[0].Message)
	assert.Equal(t, registration.StatusInService, report.Results[0].After)
	assert.Equal(t, "in-service", srv.State("amf01"))
	assert.Equal(t, "OK", report.Status)
	assert.Equal(t, 0, svc.Tracker().Active())
}
