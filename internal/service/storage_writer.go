package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nfregctl/nfregctl/internal/config"
	"github.com/nfregctl/nfregctl/pkg/logger"
)

// ReportWriter 运行报告写入器
type ReportWriter interface {
	Write(ctx context.Context, meta ReportMeta, data []byte, contentType string) (StoredObject, error)
}

// ReportMeta 报告元数据，决定存储路径
type ReportMeta struct {
	RunID   string
	Mode    string
	Started time.Time
	Backend string // local|minio
}

// StoredObject 已写入对象
type StoredObject struct {
	URI         string `json:"uri"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	ContentType string `json:"content_type"`
}

// NewReportWriter 根据配置创建写入器（委派到本地或 MinIO）
func NewReportWriter(cfg *config.Config) ReportWriter {
	dw := &DelegatingReportWriter{local: &LocalReportWriter{cfg: cfg}}
	if strings.EqualFold(cfg.Storage.Report.Backend, "minio") {
		dw.minio = initMinioWriter(cfg)
	}
	return dw
}

// DelegatingReportWriter 按后端路由写入，MinIO 失败时回退本地
type DelegatingReportWriter struct {
	local *LocalReportWriter
	minio *MinioReportWriter
}

func (w *DelegatingReportWriter) Write(ctx context.Context, meta ReportMeta, data []byte, contentType string) (StoredObject, error) {
	backend := strings.ToLower(strings.TrimSpace(meta.Backend))
	if backend != "minio" {
		return w.local.Write(ctx, meta, data, contentType)
	}
	if w.minio == nil {
		logger.Warn("MinIO backend selected but client not initialized; falling back to local")
		obj, lerr := w.local.Write(ctx, meta, data, contentType)
		if lerr != nil {
			return StoredObject{}, fmt.Errorf("minio client not initialized; local fallback failed: %w", lerr)
		}
		return obj, nil
	}
	obj, err := w.minio.Write(ctx, meta, data, contentType)
	if err != nil {
		logger.WithError(err).Warn("MinIO write failed; falling back to local")
		objLocal, lerr := w.local.Write(ctx, meta, data, contentType)
		if lerr != nil {
			return StoredObject{}, fmt.Errorf("minio write failed: %v; local fallback failed: %w", err, lerr)
		}
		return objLocal, nil
	}
	return obj, nil
}

// objectParts 报告路径：prefix / YYYYMMDD / <mode>_<HHMMSS>_<runid>.json
func objectParts(cfg *config.Config, meta ReportMeta) ([]string, string) {
	var parts []string
	if p := strings.TrimSpace(cfg.Storage.Report.Prefix); p != "" {
		parts = append(parts, slug(p))
	}
	started := meta.Started
	if started.IsZero() {
		started = time.Now()
	}
	parts = append(parts, started.Format("20060102"))
	filename := fmt.Sprintf("%s_%s_%s.json", slug(meta.Mode), started.Format("150405"), slug(meta.RunID))
	return parts, filename
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func orDefault(contentType string) string {
	if contentType != "" {
		return contentType
	}
	return "application/json"
}

// LocalReportWriter 本地文件写入
type LocalReportWriter struct {
	cfg *config.Config
}

func (w *LocalReportWriter) Write(ctx context.Context, meta ReportMeta, data []byte, contentType string) (StoredObject, error) {
	baseDir := strings.TrimSpace(w.cfg.Storage.Report.BaseDir)
	if baseDir == "" {
		baseDir = "./data/reports"
	}
	parts, filename := objectParts(w.cfg, meta)
	dirPath := filepath.Join(append([]string{baseDir}, parts...)...)
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return StoredObject{}, fmt.Errorf("failed to create dir: %w", err)
	}

	fullPath := filepath.Join(dirPath, filename)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return StoredObject{}, fmt.Errorf("failed to write file: %w", err)
	}
	return StoredObject{
		URI:         "file://" + fullPath,
		Size:        int64(len(data)),
		Checksum:    checksum(data),
		ContentType: orDefault(contentType),
	}, nil
}

// MinioReportWriter MinIO 对象存储写入
type MinioReportWriter struct {
	cfg           *config.Config
	client        *minio.Client
	endpoint      string
	bucketEnsured bool
}

// initMinioWriter 初始化 MinIO 客户端，配置不完整时返回 nil
func initMinioWriter(cfg *config.Config) *MinioReportWriter {
	host := strings.TrimSpace(cfg.Storage.Minio.Host)
	port := cfg.Storage.Minio.Port
	if host == "" || port <= 0 {
		logger.Warn("MinIO configuration incomplete; host/port missing")
		return nil
	}
	endpoint := net.JoinHostPort(host, fmt.Sprint(port))

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.Storage.Minio.AccessKey, cfg.Storage.Minio.SecretKey, ""),
		Secure:    cfg.Storage.Minio.Secure,
		Transport: transport,
	})
	if err != nil {
		logger.WithError(err).Error("MinIO client initialization failed")
		return nil
	}
	return &MinioReportWriter{cfg: cfg, client: client, endpoint: endpoint}
}

// Write 将报告写入 MinIO，失败时有限重试
func (w *MinioReportWriter) Write(ctx context.Context, meta ReportMeta, data []byte, contentType string) (StoredObject, error) {
	if w == nil || w.client == nil {
		return StoredObject{}, fmt.Errorf("minio client not initialized")
	}
	bucket := strings.TrimSpace(w.cfg.Storage.Minio.Bucket)
	if bucket == "" {
		return StoredObject{}, fmt.Errorf("minio bucket not configured")
	}

	parts, filename := objectParts(w.cfg, meta)
	objectName := path.Join(append(parts, filename)...)
	ct := orDefault(contentType)

	if !w.bucketEnsured {
		if err := w.ensureBucket(ctx, bucket, 2); err != nil {
			return StoredObject{}, fmt.Errorf("minio ensure bucket failed: %w", err)
		}
		w.bucketEnsured = true
	}

	var lastErr error
	for _, wait := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		attemptCtx, cancel := attemptContext(ctx, 10*time.Second)
		_, err := w.client.PutObject(attemptCtx, bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: ct})
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		time.Sleep(wait)
	}
	if lastErr != nil {
		return StoredObject{}, fmt.Errorf("minio put object failed after retries: %w", lastErr)
	}

	return StoredObject{
		URI:         "minio://" + path.Join(bucket, objectName),
		Size:        int64(len(data)),
		Checksum:    checksum(data),
		ContentType: ct,
	}, nil
}

// ensureBucket 校验并创建 bucket，支持有限重试
func (w *MinioReportWriter) ensureBucket(parent context.Context, bucket string, retries int) error {
	var lastErr error
	for i := 0; i <= retries; i++ {
		ctx, cancel := attemptContext(parent, 10*time.Second)
		exists, err := w.client.BucketExists(ctx, bucket)
		if err == nil && !exists {
			err = w.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
		}
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if parent.Err() != nil {
			break
		}
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	return lastErr
}

// attemptContext 构造限时上下文，尊重父上下文的剩余截止时间
func attemptContext(parent context.Context, prefer time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok {
		if remain := time.Until(deadline); remain < prefer {
			return context.WithDeadline(parent, deadline)
		}
	}
	return context.WithTimeout(parent, prefer)
}

var slugRe = regexp.MustCompile(`[^a-z0-9._-]+`)

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "/", "_", "\\", "_").Replace(s)
	s = slugRe.ReplaceAllString(s, "")
	if s == "" {
		s = "unknown"
	}
	return s
}
