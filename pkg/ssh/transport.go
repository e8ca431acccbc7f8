package ssh

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/nfregctl/nfregctl/pkg/logger"
)

// Config SSH传输配置
type Config struct {
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

// ConnectionInfo SSH连接信息
type ConnectionInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

// Address 返回 host:port
func (i *ConnectionInfo) Address() string {
	port := i.Port
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(i.Host, strconv.Itoa(port))
}

// PTYConfig 伪终端参数
type PTYConfig struct {
	Term   string
	Width  int
	Height int
}

// Transport 已认证的底层连接，Session 以组合方式持有
type Transport interface {
	// Connect 建立认证连接；conn 非空时在其上握手（代理通道），否则直连
	Connect(ctx context.Context, info *ConnectionInfo, conn net.Conn) error
	InvokeShell(pty *PTYConfig) (Channel, error)
	Close() error
}

// SSHTransport 基于 x/crypto/ssh 的传输实现
type SSHTransport struct {
	config *Config
	client *ssh.Client
	mutex  sync.Mutex
	stop   chan struct{}
}

// NewSSHTransport 创建SSH传输
func NewSSHTransport(config *Config) *SSHTransport {
	if config == nil {
		config = &Config{}
	}
	return &SSHTransport{config: config}
}

// clientConfig 构建客户端配置，兼容网络设备常见的旧算法
func (t *SSHTransport) clientConfig(info *ConnectionInfo) (*ssh.ClientConfig, error) {
	auth, err := authMethods(info)
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            info.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         t.config.ConnectTimeout,
		Config: ssh.Config{
			KeyExchanges: []string{
				"curve25519-sha256",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
				"diffie-hellman-group-exchange-sha256",
				"diffie-hellman-group-exchange-sha1",
			},
			Ciphers: []string{
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"chacha20-poly1305@openssh.com",
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-cbc",
				"3des-cbc",
			},
			MACs: []string{
				"hmac-sha2-256-etm@openssh.com",
				"hmac-sha2-256",
				"hmac-sha1",
				"hmac-sha1-96",
			},
		},
		HostKeyAlgorithms: []string{
			"ssh-ed25519",
			"ecdsa-sha2-nistp256",
			"ecdsa-sha2-nistp384",
			"ecdsa-sha2-nistp521",
			"rsa-sha2-256",
			"rsa-sha2-512",
			"ssh-rsa",
		},
	}, nil
}

// authMethods 密钥优先，其次密码与 keyboard-interactive
func authMethods(info *ConnectionInfo) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if info.KeyFile != "" {
		signer, err := LoadPrivateKey(info.KeyFile, DefaultPassphrasePrompt)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if info.Password != "" {
		password := info.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication method for user %q", info.Username)
	}
	return methods, nil
}

// Connect 建立SSH连接
func (t *SSHTransport) Connect(ctx context.Context, info *ConnectionInfo, conn net.Conn) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	sshConfig, err := t.clientConfig(info)
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return err
	}

	address := info.Address()
	if conn == nil {
		dialer := &net.Dialer{Timeout: t.config.ConnectTimeout}
		conn, err = dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return fmt.Errorf("failed to dial: %w", err)
		}
	}

	client, err := handshake(ctx, conn, address, sshConfig, t.config.ConnectTimeout)
	if err != nil {
		_ = conn.Close()
		return err
	}
	t.client = client
	t.stop = make(chan struct{})

	if t.config.KeepAlive > 0 {
		go t.keepAlive(client, t.stop)
	}
	return nil
}

// handshake 在 conn 上完成握手与认证；代理通道不支持 deadline，故以计时器兜底
func handshake(ctx context.Context, conn net.Conn, address string, cfg *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, cfg)
		if err != nil {
			done <- result{err: fmt.Errorf("failed to create SSH connection: %w", err)}
			return
		}
		done <- result{client: ssh.NewClient(sshConn, chans, reqs)}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case r := <-done:
		return r.client, r.err
	case <-expired:
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s timed out after %s", address, timeout)
	case <-ctx.Done():
		_ = conn.Close()
		return nil, ctx.Err()
	}
}

// InvokeShell 请求 PTY 并启动交互式 Shell
func (t *SSHTransport) InvokeShell(pty *PTYConfig) (Channel, error) {
	t.mutex.Lock()
	client := t.client
	t.mutex.Unlock()
	if client == nil {
		return nil, fmt.Errorf("SSH connection not established")
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if pty == nil {
		pty = &PTYConfig{}
	}
	width, height := pty.Width, pty.Height
	if width <= 0 {
		width = 200
	}
	if height <= 0 {
		height = 24
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	// 终端类型回退：优先配置值，再尝试 vt100/xterm/dumb
	terms := []string{"vt100", "xterm", "dumb"}
	if pty.Term != "" {
		terms = append([]string{pty.Term}, terms...)
	}
	var ptyErr error
	for _, term := range terms {
		if ptyErr = session.RequestPty(term, height, width, modes); ptyErr == nil {
			break
		}
	}
	if ptyErr != nil {
		session.Close()
		return nil, fmt.Errorf("failed to request pty: %w", ptyErr)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdout: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}
	return newShellChannel(session, stdin, stdout), nil
}

// Close 关闭SSH连接；未建立连接时直接返回
func (t *SSHTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

// keepAlive 定期发送保活请求，失败即退出
func (t *SSHTransport) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(t.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				logger.Debugf("keepalive to %s stopped: %v", client.RemoteAddr(), err)
				return
			}
		}
	}
}
