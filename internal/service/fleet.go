package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/nfregctl/nfregctl/addone/registration"
	"github.com/nfregctl/nfregctl/internal/config"
	"github.com/nfregctl/nfregctl/internal/database"
	"github.com/nfregctl/nfregctl/internal/model"
	"github.com/nfregctl/nfregctl/pkg/logger"
	nfssh "github.com/nfregctl/nfregctl/pkg/ssh"
	"github.com/nfregctl/nfregctl/simulate"
)

// ErrRunInProgress 已有运行在进行
var ErrRunInProgress = errors.New("another run is in progress")

// RunRequest 批量运行请求；NFs 为空时处理全部已配置 NF
type RunRequest struct {
	Mode registration.Mode `json:"mode"`
	NFs  []string          `json:"nfs"`
	Stub bool              `json:"stub"`
}

// RunReport 批量运行结果
type RunReport struct {
	ID        string                  `json:"id"`
	Mode      registration.Mode       `json:"mode"`
	Status    string                  `json:"status"`
	Stub      bool                    `json:"stub"`
	Total     int                     `json:"total"`
	Success   int                     `json:"success"`
	Failed    int                     `json:"failed"`
	Blocked   int                     `json:"blocked"`
	Skipped   int                     `json:"skipped"`
	StartTime time.Time               `json:"start_time"`
	EndTime   time.Time               `json:"end_time"`
	Duration  time.Duration           `json:"duration"`
	Results   []*registration.Outcome `json:"results"`
	ReportURI string                  `json:"report_uri,omitempty"`
}

// OK 总体状态是否为 OK
func (r *RunReport) OK() bool {
	return r.Status == model.RunStatusOK
}

// TerminalFactory 为单个 NF 创建会话
type TerminalFactory func(cfg *config.Config, name string, def registration.Defaults, stub bool, mode registration.Mode) (registration.Terminal, error)

// FleetService 依次处理 NF 并汇总结果，同一时间只允许一个运行
type FleetService struct {
	mu       sync.RWMutex
	cfg      *config.Config
	sem      *semaphore.Weighted
	tracker  *nfssh.Tracker
	writer   ReportWriter
	terminal TerminalFactory
}

// NewFleetService 创建批量运行服务
func NewFleetService(cfg *config.Config) *FleetService {
	return &FleetService{
		cfg:      cfg,
		sem:      semaphore.NewWeighted(1),
		tracker:  nfssh.NewTracker(),
		writer:   NewReportWriter(cfg),
		terminal: NewTerminal,
	}
}

// WithTerminalFactory 替换会话工厂
func (s *FleetService) WithTerminalFactory(f TerminalFactory) *FleetService {
	s.terminal = f
	return s
}

// SetConfig 配置热更新，对下一次运行生效
func (s *FleetService) SetConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.writer = NewReportWriter(cfg)
}

// Config 当前配置
func (s *FleetService) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Tracker 当前运行打开的会话
func (s *FleetService) Tracker() *nfssh.Tracker {
	return s.tracker
}

// Shutdown 关闭所有打开的会话
func (s *FleetService) Shutdown() error {
	return s.tracker.CloseAll()
}

// Run 顺序处理每个 NF，单个 NF 失败不影响其余 NF
func (s *FleetService) Run(ctx context.Context, req *RunRequest) (*RunReport, error) {
	if req == nil {
		return nil, errors.New("nil run request")
	}
	if _, ok := registration.ParseMode(string(req.Mode)); !ok {
		return nil, fmt.Errorf("invalid mode %q", req.Mode)
	}
	if !s.sem.TryAcquire(1) {
		return nil, ErrRunInProgress
	}
	defer s.sem.Release(1)

	s.mu.RLock()
	cfg, writer := s.cfg, s.writer
	s.mu.RUnlock()

	names := req.NFs
	if len(names) == 0 {
		names = cfg.NFNames()
	}
	stub := req.Stub || cfg.Stub.Enable

	report := &RunReport{
		ID:        uuid.New().String(),
		Mode:      req.Mode,
		Stub:      stub,
		StartTime: time.Now(),
	}
	log := logger.WithFields(logrus.Fields{"run": report.ID, "mode": req.Mode, "stub": stub})
	log.WithField("nfs", strings.Join(names, ",")).Info("Fleet: run started")

	for _, name := range names {
		outcome := s.runOne(ctx, cfg, name, req.Mode, stub)
		report.Results = append(report.Results, outcome)
		switch outcome.Result {
		case registration.ResultSuccess:
			report.Success++
		case registration.ResultBlocked:
			report.Blocked++
		case registration.ResultSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}

	report.Total = len(report.Results)
	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(report.StartTime)
	report.Status = runStatus(req.Mode, report)

	s.persist(ctx, cfg, writer, report)

	log.WithFields(logrus.Fields{
		"status":  report.Status,
		"total":   report.Total,
		"success": report.Success,
		"failed":  report.Failed,
		"blocked": report.Blocked,
	}).Info("Fleet: run finished")
	return report, nil
}

// runStatus 有失败，或 up 模式下有 blocked 时为 NG
func runStatus(mode registration.Mode, r *RunReport) string {
	if r.Failed > 0 || (mode == registration.ModeUp && r.Blocked > 0) {
		return model.RunStatusNG
	}
	return model.RunStatusOK
}

func (s *FleetService) runOne(ctx context.Context, cfg *config.Config, name string, mode registration.Mode, stub bool) *registration.Outcome {
	start := time.Now()
	out := &registration.Outcome{NF: name, Mode: mode}
	failed := func(err error) *registration.Outcome {
		out.Result = registration.ResultFailed
		out.Message = err.Error()
		out.Duration = time.Since(start)
		logger.WithField("nf", name).WithError(err).Error("Fleet: nf failed")
		return out
	}

	if err := ctx.Err(); err != nil {
		return failed(err)
	}
	nf, ok := cfg.NF(name)
	if !ok {
		return failed(&nfssh.ConfigLookupError{Target: name})
	}
	out.Type = nf.Type

	def, err := cfg.NFType(nf.Type)
	if err != nil {
		return failed(err)
	}

	term, err := s.terminal(cfg, name, def, stub, mode)
	if err != nil {
		return failed(err)
	}
	session, tracked := term.(*nfssh.Session)
	if tracked {
		s.tracker.Track(session)
	}
	defer func() {
		var cerr error
		if tracked {
			cerr = s.tracker.Release(session)
		} else {
			cerr = term.Close()
		}
		if cerr != nil {
			logger.WithField("nf", name).WithError(cerr).Warn("Fleet: close failed")
		}
	}()

	if err := term.Connect(ctx); err != nil {
		return failed(err)
	}

	proc, err := registration.NewProcess(nf.Type, term, def)
	if err != nil {
		return failed(err)
	}
	return proc.Run(ctx, mode)
}

// NewTerminal 默认会话工厂：模拟会话或真实 SSH 会话
func NewTerminal(cfg *config.Config, name string, def registration.Defaults, stub bool, mode registration.Mode) (registration.Terminal, error) {
	if stub {
		stubCfg := cfg.Stub
		stubCfg.Mode = string(mode)
		session, err := simulate.NewStubSession(name, &stubCfg)
		if err != nil {
			return nil, err
		}
		return session, nil
	}

	sshCfg := cfg.SSH
	session, err := nfssh.NewSession(name, &nfssh.SessionOptions{
		Store:    cfg,
		Resolver: nfssh.NewProxyResolver(cfg.BastionTemplates()),
		NewTransport: func() nfssh.Transport {
			return nfssh.NewSSHTransport(&nfssh.Config{
				ConnectTimeout: sshCfg.ConnectTimeout,
				KeepAlive:      sshCfg.KeepAliveInterval,
			})
		},
		ModeCommands: nfssh.ModeCommands{
			Enter: def.ConfigEnterCLI,
			Exit:  def.ConfigExitCLI,
			Abort: def.ConfigAbortCLI,
		},
		ConnectTimeout: sshCfg.ConnectTimeout,
		PTY:            cfg.PTY(),
		LineEnding:     sshCfg.LineEnding,
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// persist 写入运行历史与报告，失败只记录日志
func (s *FleetService) persist(ctx context.Context, cfg *config.Config, writer ReportWriter, report *RunReport) {
	if cfg.Storage.Report.Enabled && writer != nil {
		data, err := json.MarshalIndent(report, "", "  ")
		if err == nil {
			var obj StoredObject
			obj, err = writer.Write(ctx, ReportMeta{
				RunID:   report.ID,
				Mode:    string(report.Mode),
				Started: report.StartTime,
				Backend: cfg.Storage.Report.Backend,
			}, data, "application/json")
			if err == nil {
				report.ReportURI = obj.URI
			}
		}
		if err != nil {
			logger.WithError(err).Warn("Fleet: report write failed")
		}
	}

	if database.Enabled() {
		if err := database.SaveRun(toModel(report)); err != nil {
			logger.WithError(err).Warn("Fleet: run history save failed")
		}
	}
}

func toModel(r *RunReport) *model.Run {
	run := &model.Run{
		ID:        r.ID,
		Mode:      string(r.Mode),
		Status:    r.Status,
		Stub:      r.Stub,
		Total:     r.Total,
		Success:   r.Success,
		Failed:    r.Failed,
		Blocked:   r.Blocked,
		Skipped:   r.Skipped,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		Duration:  r.Duration.Milliseconds(),
	}
	for _, o := range r.Results {
		run.Results = append(run.Results, model.RunResult{
			RunID:    r.ID,
			NF:       o.NF,
			Type:     o.Type,
			Result:   string(o.Result),
			Before:   string(o.Before),
			After:    string(o.After),
			Changed:  o.Changed,
			Message:  o.Message,
			Output:   o.Output,
			Duration: o.Duration.Milliseconds(),
		})
	}
	return run
}
