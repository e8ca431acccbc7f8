package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfregctl/nfregctl/internal/config"
)

func TestLocalReportWriter(t *testing.T) {
	base := t.TempDir()
	cfg := &config.Config{Storage: config.StorageConfig{Report: config.ReportConfig{BaseDir: base, Prefix: "Fleet Runs"}}}
	w := NewReportWriter(cfg)

	started := time.Date(2026, 10, 19, 8, 30, 5, 0, time.Local)
	obj, err := w.Write(context.Background(), ReportMeta{RunID: "abc", Mode: "up", Started: started, Backend: "local"}, []byte(`{"ok":true}`), "")
	require.NoError(t, err)

	want := filepath.Join(base, "fleet_runs", "20261019", "up_083005_abc.json")
	assert.Equal(t, "file://"+want, obj.URI)
	assert.Equal(t, "application/json", obj.ContentType)
	assert.True(t, strings.HasPrefix(obj.Checksum, "sha256:"))
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))
}

func TestMinioFallsBackToLocal(t *testing.T) {
	base := t.TempDir()
	cfg := &config.Config{Storage: config.StorageConfig{
		Report: config.ReportConfig{Backend: "minio", BaseDir: base},
	}}
	w := NewReportWriter(cfg)

	obj, err := w.Write(context.Background(), ReportMeta{RunID: "r1", Mode: "down", Backend: "minio"}, []byte("{}"), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(obj.URI, "file://"+base))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "amf_01", slug(" AMF/01 "))
	assert.Equal(t, "unknown", slug("***"))
}
