package simulate

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/nfregctl/nfregctl/pkg/logger"
)

const (
	defaultPassword   = "nova"
	unknownCommand    = "% Unknown command"
	statusPlaceholder = "{state}"
)

// DeviceConfig 模拟 NF 的 CLI 行为，设备以登录用户名选择
type DeviceConfig struct {
	Banner       string `mapstructure:"banner" json:"banner"`
	Prompt       string `mapstructure:"prompt" json:"prompt"`
	ConfigPrompt string `mapstructure:"config_prompt" json:"config_prompt"`
	// PromptEscape 每次输出提示符前附加的控制序列，例如 "\x1b[?7h"
	PromptEscape string `mapstructure:"prompt_escape" json:"prompt_escape"`

	EnterCLI string `mapstructure:"enter_cli" json:"enter_cli"`
	ExitCLI  string `mapstructure:"exit_cli" json:"exit_cli"`
	AbortCLI string `mapstructure:"abort_cli" json:"abort_cli"`

	StatusCLI    string `mapstructure:"status_cli" json:"status_cli"`
	StatusFormat string `mapstructure:"status_format" json:"status_format"`
	State        string `mapstructure:"state" json:"state"`
	// Transitions 命令 -> 新状态；设备有配置模式时仅在配置模式下生效
	Transitions map[string]string `mapstructure:"transitions" json:"transitions"`
	Commands    map[string]string `mapstructure:"commands" json:"commands"`
	// Delay 每条命令应答前的延时
	Delay time.Duration `mapstructure:"delay" json:"delay"`
}

// ServerConfig 模拟服务配置
type ServerConfig struct {
	Listen      string                  `mapstructure:"listen" json:"listen"`
	Password    string                  `mapstructure:"password" json:"password"`
	HostKeyPath string                  `mapstructure:"host_key_path" json:"host_key_path"`
	Devices     map[string]DeviceConfig `mapstructure:"devices" json:"devices"`
}

// Server 模拟 NF 的 SSH 服务
// 每条命令的应答（回显 + 输出 + 提示符）一次写出
type Server struct {
	cfg      ServerConfig
	hostKey  ssh.Signer
	listener net.Listener

	mu     sync.Mutex
	states map[string]string
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer 创建模拟服务并准备 host key
func NewServer(cfg *ServerConfig) (*Server, error) {
	s := &Server{
		states: make(map[string]string),
		conns:  make(map[net.Conn]struct{}),
	}
	if cfg != nil {
		s.cfg = *cfg
	}
	if s.cfg.Password == "" {
		s.cfg.Password = defaultPassword
	}
	if s.cfg.Listen == "" {
		s.cfg.Listen = "127.0.0.1:0"
	}
	for name, dev := range s.cfg.Devices {
		s.states[strings.ToLower(name)] = dev.State
	}

	signer, err := loadOrCreateHostKey(s.cfg.HostKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init host key: %w", err)
	}
	s.hostKey = signer
	return s, nil
}

// loadOrCreateHostKey 未指定路径时生成临时 ECDSA P-256 密钥；指定路径则优先加载，不存在时生成并持久化
func loadOrCreateHostKey(path string) (ssh.Signer, error) {
	if path != "" {
		if bs, err := os.ReadFile(path); err == nil {
			signer, err := ssh.ParsePrivateKey(bs)
			if err == nil {
				logger.WithField("file", path).Debug("Simulate: host key loaded")
				return signer, nil
			}
			logger.WithError(err).Warn("Simulate: host key parse failed, regenerating")
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to ensure host key dir: %w", err)
		}
		if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write host key: %w", err)
		}
		logger.WithField("file", path).Info("Simulate: host key generated")
	}
	return ssh.ParsePrivateKey(pemBytes)
}

// Start 开始监听并在后台接受连接
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.listener = ln
	logger.WithFields(logrus.Fields{"addr": ln.Addr().String(), "devices": s.deviceNames()}).Info("Simulate: server started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					time.Sleep(200 * time.Millisecond)
					continue
				}
				// listener closed
				return
			}
			if !s.trackConn(conn) {
				_ = conn.Close()
				return
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.untrackConn(c)
				s.handleConn(c)
			}(conn)
		}
	}()
	return nil
}

// Addr 实际监听地址
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop 关闭监听与所有活动连接并等待处理协程退出
func (s *Server) Stop() {
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	logger.Info("Simulate: server stopped")
}

// State 设备当前状态
func (s *Server) State(device string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[strings.ToLower(device)]
}

func (s *Server) setState(device, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[strings.ToLower(device)] = state
}

func (s *Server) trackConn(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrackConn(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) deviceNames() []string {
	names := make([]string, 0, len(s.cfg.Devices))
	for name := range s.cfg.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// device 按用户名查找设备，未配置时返回以用户名为提示符的通用设备
func (s *Server) device(user string) DeviceConfig {
	dev, ok := s.cfg.Devices[user]
	if !ok {
		dev, ok = s.cfg.Devices[strings.ToLower(user)]
	}
	if !ok {
		dev = DeviceConfig{}
	}
	if dev.Prompt == "" {
		dev.Prompt = user + "#"
	}
	if dev.EnterCLI != "" && dev.ConfigPrompt == "" {
		dev.ConfigPrompt = strings.TrimRight(dev.Prompt, "#> ") + "(config)#"
	}
	return dev
}

func (s *Server) handleConn(nc net.Conn) {
	srvCfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == s.cfg.Password {
				return nil, nil
			}
			logger.WithField("user", meta.User()).Debug("Simulate: auth failed (password)")
			return nil, fmt.Errorf("access denied")
		},
		KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(meta.User(), "Authentication", []string{"Password:"}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) > 0 && answers[0] == s.cfg.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied")
		},
		// 接受任意公钥
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	srvCfg.AddHostKey(s.hostKey)

	conn, chans, reqs, err := ssh.NewServerConn(nc, srvCfg)
	if err != nil {
		logger.WithError(err).WithField("remote", nc.RemoteAddr().String()).Debug("Simulate: SSH handshake failed")
		_ = nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			logger.WithError(err).Warn("Simulate: channel accept failed")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleSession(channel, requests, conn.User())
		}()
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request, user string) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req", "window-change", "env":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(requests)
			newShell(s, channel, user).run()
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

// shell 单个交互式会话
type shell struct {
	srv    *Server
	ch     ssh.Channel
	user   string
	dev    DeviceConfig
	config bool
	log    *logrus.Entry
}

func newShell(srv *Server, ch ssh.Channel, user string) *shell {
	return &shell{
		srv:  srv,
		ch:   ch,
		user: user,
		dev:  srv.device(user),
		log:  logger.WithField("device", user),
	}
}

func (sh *shell) prompt() string {
	p := sh.dev.Prompt
	if sh.config {
		p = sh.dev.ConfigPrompt
	}
	return sh.dev.PromptEscape + p
}

func (sh *shell) write(s string) {
	if _, err := io.WriteString(sh.ch, s); err != nil {
		sh.log.WithError(err).Debug("Simulate: write failed")
	}
}

func (sh *shell) run() {
	banner := ""
	if sh.dev.Banner != "" {
		banner = ensureCRLF(sh.dev.Banner)
	}
	sh.write(banner + sh.prompt())
	sh.log.Debug("Simulate: shell started")

	reader := bufio.NewReader(sh.ch)
	var line []byte
	var lastCR bool
	for {
		b, err := reader.ReadByte()
		if err != nil {
			if err != io.EOF {
				sh.log.WithError(err).Debug("Simulate: session read error")
			}
			return
		}
		switch {
		case b == '\n' && lastCR:
			lastCR = false
			continue
		case b == '\r' || b == '\n':
			lastCR = b == '\r'
			if !sh.handle(string(line)) {
				return
			}
			line = line[:0]
		case b == 0x03:
			lastCR = false
			line = line[:0]
			sh.interrupt()
		default:
			lastCR = false
			line = append(line, b)
		}
	}
}

// interrupt Ctrl-C：在配置模式下若 abort_cli 为 \x03 则直接退出配置模式
func (sh *shell) interrupt() {
	if sh.config && sh.dev.AbortCLI == "\x03" {
		sh.config = false
	}
	sh.write("^C\r\n" + sh.prompt())
}

// handle 处理一行命令，返回 false 表示会话结束
func (sh *shell) handle(cmd string) bool {
	cmd = strings.TrimSpace(cmd)
	if sh.dev.Delay > 0 {
		time.Sleep(sh.dev.Delay)
	}
	echo := cmd + "\r\n"
	if cmd == "" {
		sh.write(echo + sh.prompt())
		return true
	}
	sh.log.WithField("cmd", cmd).Debug("Simulate: input")

	switch {
	case sh.dev.EnterCLI != "" && cmd == sh.dev.EnterCLI:
		sh.config = true
		sh.write(echo + sh.prompt())
		return true
	case sh.config && (cmd == sh.dev.ExitCLI || cmd == sh.dev.AbortCLI):
		sh.config = false
		sh.write(echo + sh.prompt())
		return true
	case !sh.config && equalAny(cmd, "exit", "quit", "logout"):
		sh.write(echo)
		return false
	case sh.dev.StatusCLI != "" && cmd == sh.dev.StatusCLI:
		sh.write(echo + ensureCRLF(sh.status()) + sh.prompt())
		return true
	}

	if state, ok := sh.dev.Transitions[cmd]; ok && (sh.dev.EnterCLI == "" || sh.config) {
		sh.srv.setState(sh.user, state)
		sh.log.WithField("state", state).Debug("Simulate: state changed")
		sh.write(echo + sh.prompt())
		return true
	}
	if out, ok := sh.dev.Commands[cmd]; ok {
		sh.write(echo + ensureCRLF(out) + sh.prompt())
		return true
	}
	sh.write(echo + unknownCommand + "\r\n" + sh.prompt())
	return true
}

func (sh *shell) status() string {
	format := sh.dev.StatusFormat
	if format == "" {
		format = "state: " + statusPlaceholder
	}
	return strings.ReplaceAll(format, statusPlaceholder, sh.srv.State(sh.user))
}

// ensureCRLF 统一为 CRLF 并保证以行结束符结尾
func ensureCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	if !strings.HasSuffix(s, "\r\n") {
		s += "\r\n"
	}
	return s
}

func equalAny(s string, opts ...string) bool {
	for _, o := range opts {
		if strings.EqualFold(strings.TrimSpace(s), o) {
			return true
		}
	}
	return false
}
