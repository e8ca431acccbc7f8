package ssh

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nfregctl/nfregctl/pkg/logger"
)

const (
	// DefaultCommandTimeout 单条命令等待提示符的默认时长
	DefaultCommandTimeout = 10 * time.Second
	// DefaultConnectTimeout 认证与首次读取的默认时长
	DefaultConnectTimeout = 10 * time.Second

	recvSize = 4096
)

// Mode 会话所处的 CLI 模式
type Mode int

const (
	ModeNormal Mode = iota
	ModeConfig
)

func (m Mode) String() string {
	if m == ModeConfig {
		return "configuration"
	}
	return "normal"
}

// Target 单个 NF 的连接配置
type Target struct {
	Host     string
	Port     int
	Username string
	KeyFile  string
	Password string
	Bastion  string
}

// TargetStore 按目标名查找连接配置
type TargetStore interface {
	Target(name string) (*Target, error)
}

// StaticStore 基于 map 的 TargetStore
type StaticStore map[string]Target

// Target 未找到时返回 *ConfigLookupError
func (s StaticStore) Target(name string) (*Target, error) {
	if t, ok := s[name]; ok {
		return &t, nil
	}
	if t, ok := s[strings.ToLower(name)]; ok {
		return &t, nil
	}
	return nil, &ConfigLookupError{Target: name}
}

// ModeCommands 配置模式进入/退出/强制中止命令（厂商相关）
type ModeCommands struct {
	Enter string
	Exit  string
	Abort string
}

// SessionOptions 会话选项
type SessionOptions struct {
	Store          TargetStore
	Resolver       *ProxyResolver
	NewTransport   func() Transport
	ModeCommands   ModeCommands
	ConnectTimeout time.Duration
	PTY            *PTYConfig
	// LineEnding 命令结束符，默认 "\n"
	LineEnding string
}

// Session 与单个 NF 的交互式 Shell 会话
// 同一会话上的操作必须由调用方串行执行；Close 可由其他协程并发调用
type Session struct {
	target string
	opts   SessionOptions
	log    *logrus.Entry

	mu      sync.Mutex // 保护 tp channel prompt mode
	tp      Transport
	channel Channel
	prompt  string
	mode    Mode
}

// NewSession 创建会话，不做任何网络 I/O
func NewSession(target string, opts *SessionOptions) (*Session, error) {
	if strings.TrimSpace(target) == "" {
		return nil, ErrEmptyTarget
	}
	s := &Session{
		target: target,
		log:    logger.WithField("nf", target),
		mode:   ModeNormal,
	}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.ConnectTimeout <= 0 {
		s.opts.ConnectTimeout = DefaultConnectTimeout
	}
	if s.opts.LineEnding == "" {
		s.opts.LineEnding = "\n"
	}
	if s.opts.NewTransport == nil {
		timeout := s.opts.ConnectTimeout
		s.opts.NewTransport = func() Transport {
			return NewSSHTransport(&Config{ConnectTimeout: timeout})
		}
	}
	return s, nil
}

// Target 会话目标名
func (s *Session) Target() string { return s.target }

// Prompt 最近一次识别到的提示符
func (s *Session) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

// Mode 当前 CLI 模式
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) setMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

// Connected 通道存在且未关闭
func (s *Session) Connected() bool {
	return s.liveChannel() != nil
}

// liveChannel 返回未关闭的通道，否则返回 nil
func (s *Session) liveChannel() Channel {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch == nil || ch.Closed() {
		return nil
	}
	return ch
}

// Connect 解析代理、认证、打开 Shell，并通过首次读取记录初始提示符
func (s *Session) Connect(ctx context.Context) error {
	if s.opts.Store == nil {
		return &ConfigLookupError{Target: s.target}
	}
	target, err := s.opts.Store.Target(s.target)
	if err != nil {
		return err
	}

	resolver := s.opts.Resolver
	if resolver == nil {
		resolver = NewProxyResolver(nil)
	}
	proxy, err := resolver.Resolve(target.Bastion, target.Host, target.Port)
	if err != nil {
		return &SessionConnectError{Target: s.target, Err: err}
	}

	tp := s.opts.NewTransport()
	s.mu.Lock()
	s.tp = tp
	s.mu.Unlock()
	info := &ConnectionInfo{
		Host:     target.Host,
		Port:     target.Port,
		Username: target.Username,
		Password: target.Password,
		KeyFile:  target.KeyFile,
	}
	if err := tp.Connect(ctx, info, proxy); err != nil {
		_ = tp.Close()
		return &SessionConnectError{Target: s.target, Err: err}
	}

	channel, err := tp.InvokeShell(s.opts.PTY)
	if err != nil {
		_ = tp.Close()
		return &SessionConnectError{Target: s.target, Err: err}
	}
	s.mu.Lock()
	s.channel = channel
	s.mode = ModeNormal
	s.mu.Unlock()

	channel.SetTimeout(s.opts.ConnectTimeout)
	err = s.ReadFirst()
	channel.SetTimeout(0)
	if err != nil {
		_ = s.Close()
		return &SessionConnectError{Target: s.target, Err: err}
	}

	s.log.WithField("prompt", s.Prompt()).Info("Session: connected")
	return nil
}

// Command 发送命令并读取到提示符再次出现为止，返回去除回显与提示符的输出。
// 未连接时直接返回空结果。通道读超时在返回前总会复位为无限期。
func (s *Session) Command(cmd string, timeout time.Duration) ([]byte, error) {
	ch := s.liveChannel()
	if ch == nil {
		s.log.Debugf("Session: not connected, skip command %q", cmd)
		return []byte{}, nil
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	ch.SetTimeout(timeout)
	defer ch.SetTimeout(0)

	if _, err := ch.Send(s.frame(cmd)); err != nil {
		return nil, fmt.Errorf("send %q to %s: %w", cmd, s.target, err)
	}

	out, err := s.read(ch)
	if err != nil {
		if isTimeout(err) {
			return nil, &CommandTimeoutError{Command: cmd, Timeout: timeout, Err: err}
		}
		return nil, fmt.Errorf("read response of %q from %s: %w", cmd, s.target, err)
	}
	logger.DebugCommandOutput(s.target, cmd, string(out), 5)
	return out, nil
}

// EnterConfigMode 进入配置模式并重新同步提示符；已处于配置模式时不做任何事
func (s *Session) EnterConfigMode() error {
	if !s.Connected() {
		s.log.Debug("Session: not connected, skip enter config mode")
		return nil
	}
	if s.Mode() == ModeConfig {
		return nil
	}
	if s.opts.ModeCommands.Enter == "" {
		return ErrConfigModeUnsupported
	}
	if err := s.modeExchange(s.opts.ModeCommands.Enter); err != nil {
		return err
	}
	s.setMode(ModeConfig)
	s.log.WithField("prompt", s.Prompt()).Debug("Session: entered config mode")
	return nil
}

// ExitConfigMode 退出配置模式；forced 时改走 Abort
func (s *Session) ExitConfigMode(forced bool) error {
	if !s.Connected() {
		s.log.Debug("Session: not connected, skip exit config mode")
		return nil
	}
	if forced {
		return s.Abort()
	}
	if s.Mode() == ModeNormal {
		return nil
	}
	if err := s.modeExchange(s.opts.ModeCommands.Exit); err != nil {
		return err
	}
	s.setMode(ModeNormal)
	s.log.WithField("prompt", s.Prompt()).Debug("Session: exited config mode")
	return nil
}

// Abort 强制中止配置模式，无论远端应答如何本地都回到普通模式
func (s *Session) Abort() error {
	if !s.Connected() {
		s.log.Debug("Session: not connected, skip abort")
		return nil
	}
	if s.Mode() == ModeNormal {
		return nil
	}
	err := s.modeExchange(s.opts.ModeCommands.Abort)
	s.setMode(ModeNormal)
	if err != nil {
		s.log.WithError(err).Warn("Session: abort not acknowledged")
		return err
	}
	s.log.WithField("prompt", s.Prompt()).Debug("Session: config mode aborted")
	return nil
}

// modeExchange 发送模式切换命令，并以首次读取方式同步新提示符
func (s *Session) modeExchange(cmd string) error {
	ch := s.liveChannel()
	if ch == nil {
		return nil
	}
	ch.SetTimeout(DefaultCommandTimeout)
	defer ch.SetTimeout(0)

	if _, err := ch.Send(s.frame(cmd)); err != nil {
		return fmt.Errorf("send %q to %s: %w", cmd, s.target, err)
	}
	if err := s.readFirst(ch); err != nil {
		if isTimeout(err) {
			return &CommandTimeoutError{Command: cmd, Timeout: DefaultCommandTimeout, Err: err}
		}
		return err
	}
	return nil
}

// ReadFirst 读取一块数据，以其最后一行更新提示符，内容作为横幅丢弃。
// 若最后一行尚无提示符（以换行结尾或只有转义序列）则继续读取。
func (s *Session) ReadFirst() error {
	ch := s.liveChannel()
	if ch == nil {
		return nil
	}
	return s.readFirst(ch)
}

func (s *Session) readFirst(ch Channel) error {
	var buf bytes.Buffer
	defer func() { logger.TraceRead(s.target, "first", buf.Bytes()) }()

	var prompt string
	for {
		chunk, err := ch.Recv(recvSize)
		buf.Write(chunk)
		if len(chunk) > 0 {
			if prompt = ExtractPrompt(lastLine(buf.Bytes())); prompt != "" {
				break
			}
		}
		if err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.prompt = prompt
	s.mu.Unlock()
	return nil
}

// Read 累计读取直到最后一行等于已记录的提示符，
// 返回去掉首行回显与末行提示符的内容
func (s *Session) Read() ([]byte, error) {
	ch := s.liveChannel()
	if ch == nil {
		return []byte{}, nil
	}
	return s.read(ch)
}

func (s *Session) read(ch Channel) ([]byte, error) {
	prompt := s.Prompt()
	var buf bytes.Buffer
	defer func() { logger.TraceRead(s.target, "read", buf.Bytes()) }()

	for {
		chunk, err := ch.Recv(recvSize)
		if len(chunk) > 0 {
			buf.Write(chunk)
			if promptReached(buf.Bytes(), prompt) {
				break
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return stripEchoAndPrompt(buf.Bytes()), nil
}

// Close 先关闭可用的通道，再关闭底层传输；可重复调用，可与进行中的读取并发
func (s *Session) Close() error {
	s.mu.Lock()
	ch, tp := s.channel, s.tp
	s.channel = nil
	s.mode = ModeNormal
	s.mu.Unlock()

	var err error
	if ch != nil && !ch.Closed() {
		err = ch.Close()
	}
	if tp != nil {
		if tpErr := tp.Close(); tpErr != nil && err == nil {
			err = tpErr
		}
	}
	return err
}

// frame 普通命令追加结束符；以控制字符开头的命令（如 \x03）原样发送
func (s *Session) frame(cmd string) []byte {
	if cmd != "" && cmd[0] < 0x20 {
		return []byte(cmd)
	}
	return []byte(cmd + s.opts.LineEnding)
}
