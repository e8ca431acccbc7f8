package simulate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nfregctl/nfregctl/pkg/logger"
)

// StubReply 一条预置应答
// 首次命中返回 Before 并翻转状态，之后命中返回 After（为空时仍返回 Before）
type StubReply struct {
	Mode    string        `mapstructure:"mode" json:"mode"`
	Pattern string        `mapstructure:"pattern" json:"pattern"`
	Before  string        `mapstructure:"before" json:"before"`
	After   string        `mapstructure:"after" json:"after"`
	Delay   time.Duration `mapstructure:"delay" json:"delay"`
}

// StubConfig 模拟会话配置
type StubConfig struct {
	Enable  bool          `mapstructure:"enable" json:"enable"`
	Mode    string        `mapstructure:"mode" json:"mode"`
	Delay   time.Duration `mapstructure:"delay" json:"delay"`
	Replies []StubReply   `mapstructure:"replies" json:"replies"`
}

type stubEntry struct {
	reply   StubReply
	re      *regexp.Regexp
	flipped bool
}

// StubSession 与 ssh.Session 公共契约一致的模拟会话，不做任何网络 I/O
type StubSession struct {
	target    string
	mode      string
	delay     time.Duration
	entries   []*stubEntry
	connected bool
	config    bool
	mu        sync.Mutex
	log       *logrus.Entry
}

// NewStubSession 创建模拟会话，正则非法时返回错误
func NewStubSession(target string, cfg *StubConfig) (*StubSession, error) {
	if strings.TrimSpace(target) == "" {
		return nil, errors.New("stub: empty target")
	}
	s := &StubSession{
		target: target,
		log:    logger.WithFields(logrus.Fields{"nf": target, "stub": true}),
	}
	if cfg == nil {
		return s, nil
	}
	s.mode = cfg.Mode
	s.delay = cfg.Delay
	for i, r := range cfg.Replies {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("stub reply %d: invalid pattern %q: %w", i, r.Pattern, err)
		}
		s.entries = append(s.entries, &stubEntry{reply: r, re: re})
	}
	return s, nil
}

// Target 目标名
func (s *StubSession) Target() string { return s.target }

// Connected 是否已连接
func (s *StubSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// InConfigMode 是否处于配置模式
func (s *StubSession) InConfigMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

func (s *StubSession) Connect(ctx context.Context) error {
	if err := s.sleep(ctx, s.delay); err != nil {
		return err
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.log.Debug("Stub: connected")
	return nil
}

// Command 按模式与正则查找应答，未命中或未连接返回空
func (s *StubSession) Command(cmd string, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return []byte{}, nil
	}
	var out string
	delay := s.delay
	for _, e := range s.entries {
		if e.reply.Mode != "" && e.reply.Mode != s.mode {
			continue
		}
		if !e.re.MatchString(cmd) {
			continue
		}
		out = e.reply.Before
		if e.flipped && e.reply.After != "" {
			out = e.reply.After
		}
		e.flipped = true
		if e.reply.Delay > 0 {
			delay = e.reply.Delay
		}
		break
	}
	s.mu.Unlock()

	_ = s.sleep(context.Background(), delay)
	s.log.WithField("cmd", cmd).Debugf("Stub: reply %d bytes", len(out))
	return []byte(out), nil
}

func (s *StubSession) EnterConfigMode() error {
	return s.setConfig(true)
}

func (s *StubSession) ExitConfigMode(forced bool) error {
	return s.setConfig(false)
}

func (s *StubSession) Abort() error {
	return s.setConfig(false)
}

func (s *StubSession) Close() error {
	_ = s.sleep(context.Background(), s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.config = false
	return nil
}

func (s *StubSession) setConfig(on bool) error {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return nil
	}
	_ = s.sleep(context.Background(), s.delay)
	s.mu.Lock()
	s.config = on
	s.mu.Unlock()
	return nil
}

func (s *StubSession) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
