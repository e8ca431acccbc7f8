package registration

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nfregctl/nfregctl/pkg/logger"
	nfssh "github.com/nfregctl/nfregctl/pkg/ssh"
)

// 状态匹配顺序
var statusOrder = []Status{StatusBlocked, StatusOutOfService, StatusInService}

type statusPattern struct {
	status Status
	re     *regexp.Regexp
}

// Process 单个 NF 的注册流程，驱动一个已连接的 Terminal
type Process struct {
	nf       string
	nfType   string
	term     Terminal
	def      Defaults
	patterns []statusPattern
	log      *logrus.Entry
}

// NewProcess 创建注册流程，状态正则非法时返回错误
func NewProcess(nfType string, term Terminal, def Defaults) (*Process, error) {
	p := &Process{
		nf:     term.Target(),
		nfType: nfType,
		term:   term,
		def:    def,
		log:    logger.WithFields(logrus.Fields{"nf": term.Target(), "type": nfType}),
	}
	if p.def.CommandTimeout <= 0 {
		p.def.CommandTimeout = DefaultCommandTimeout
	}
	for _, st := range statusOrder {
		expr, ok := def.StatusPatterns[st]
		if !ok || expr == "" {
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("status pattern %s for %s: %w", st, nfType, err)
		}
		p.patterns = append(p.patterns, statusPattern{status: st, re: re})
	}
	return p, nil
}

// ParseStatus 按 blocked、out-of-service、in-service 顺序匹配，首个命中者胜出
func (p *Process) ParseStatus(output string) Status {
	for _, sp := range p.patterns {
		if sp.re.MatchString(output) {
			return sp.status
		}
	}
	return StatusUnknown
}

// Run 执行指定模式
func (p *Process) Run(ctx context.Context, mode Mode) *Outcome {
	start := time.Now()
	out := &Outcome{NF: p.nf, Type: p.nfType, Mode: mode}

	switch mode {
	case ModeShow:
		p.runShow(out)
	case ModeInfo, ModeList:
		p.runCollect(ctx, mode, out)
	case ModeUp:
		p.runChange(ctx, StatusInService, mode, out)
	case ModeDown:
		p.runChange(ctx, StatusOutOfService, mode, out)
	default:
		p.fail(out, fmt.Errorf("unsupported mode %q", mode))
	}

	out.Duration = time.Since(start)
	p.log.WithFields(logrus.Fields{
		"mode":   mode,
		"result": out.Result,
		"before": out.Before,
		"after":  out.After,
	}).Info("Registration: done")
	return out
}

func (p *Process) runShow(out *Outcome) {
	status, text, err := p.status()
	if err != nil {
		p.fail(out, err)
		return
	}
	out.Before, out.After = status, status
	out.Output = text
	out.Result = ResultSuccess
}

func (p *Process) runCollect(ctx context.Context, mode Mode, out *Outcome) {
	cmds := p.def.Commands[mode]
	if len(cmds) == 0 {
		out.Result = ResultSkipped
		out.Message = fmt.Sprintf("no %s commands for %s", mode, p.nfType)
		return
	}
	var parts []string
	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			p.fail(out, err)
			return
		}
		resp, err := p.term.Command(cmd, p.def.CommandTimeout)
		if err != nil {
			p.fail(out, err)
			return
		}
		parts = append(parts, string(resp))
	}
	out.Output = strings.Join(parts, "\r\n")
	out.Result = ResultSuccess
}

// runChange show → 必要时进入配置模式 → 下发命令 → 退出 → 再次 show 确认
func (p *Process) runChange(ctx context.Context, desired Status, mode Mode, out *Outcome) {
	before, _, err := p.status()
	if err != nil {
		p.fail(out, err)
		return
	}
	out.Before = before

	switch before {
	case desired:
		out.After = before
		out.Result = ResultSuccess
		out.Message = "already " + string(desired)
		return
	case StatusBlocked:
		out.After = before
		out.Result = ResultBlocked
		out.Message = "registration blocked"
		return
	}

	if err := p.apply(ctx, mode); err != nil {
		p.fail(out, err)
		return
	}

	after, text, err := p.status()
	if err != nil {
		p.fail(out, err)
		return
	}
	out.After = after
	out.Changed = after != before
	switch after {
	case desired:
		out.Result = ResultSuccess
	case StatusBlocked:
		out.Result = ResultBlocked
		out.Message = "registration blocked"
	default:
		out.Result = ResultFailed
		out.Message = fmt.Sprintf("status %s after %s", after, mode)
		logger.DebugCommandOutput(p.nf, p.showCommand(), text, 5)
	}
}

// apply 下发状态命令；任一步失败时强制退出配置模式
func (p *Process) apply(ctx context.Context, mode Mode) error {
	cmds := p.def.Commands[mode]
	if len(cmds) == 0 {
		return fmt.Errorf("no %s commands for %s", mode, p.nfType)
	}

	if p.def.RequiresConfigMode {
		if err := p.term.EnterConfigMode(); err != nil {
			p.forceExit()
			return fmt.Errorf("enter config mode: %w", err)
		}
	}
	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			p.forceExit()
			return err
		}
		if _, err := p.term.Command(cmd, p.def.CommandTimeout); err != nil {
			p.forceExit()
			return err
		}
	}
	if p.def.RequiresConfigMode {
		if err := p.term.ExitConfigMode(false); err != nil {
			p.forceExit()
			return fmt.Errorf("exit config mode: %w", err)
		}
	}
	return nil
}

func (p *Process) forceExit() {
	if !p.def.RequiresConfigMode {
		return
	}
	if err := p.term.ExitConfigMode(true); err != nil {
		p.log.WithError(err).Warn("Registration: forced exit failed")
	}
}

func (p *Process) showCommand() string {
	if cmds := p.def.Commands[ModeShow]; len(cmds) > 0 {
		return cmds[0]
	}
	return ""
}

func (p *Process) status() (Status, string, error) {
	cmd := p.showCommand()
	if cmd == "" {
		return StatusUnknown, "", fmt.Errorf("no status command for %s", p.nfType)
	}
	resp, err := p.term.Command(cmd, p.def.CommandTimeout)
	if err != nil {
		return StatusUnknown, "", err
	}
	text := string(resp)
	return p.ParseStatus(text), text, nil
}

func (p *Process) fail(out *Outcome, err error) {
	out.Result = ResultFailed
	out.Message = err.Error()

	var timeoutErr *nfssh.CommandTimeoutError
	if errors.As(err, &timeoutErr) {
		p.log.WithFields(logrus.Fields{
			"command": timeoutErr.Command,
			"timeout": timeoutErr.Timeout.String(),
		}).Error("Registration: command timed out, abandoning NF")
		return
	}
	p.log.WithError(err).Error("Registration: failed")
}
