package ssh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/nfregctl/nfregctl/pkg/logger"
)

// ProxyResolver 根据跳板机名称解析 ProxyCommand 并打开代理通道
type ProxyResolver struct {
	// Bastions 跳板机名称 -> 命令模板（%h 主机、%p 端口）
	Bastions map[string]string
	// Spawn 打开代理通道，默认 StartProxyCommand
	Spawn func(command string) (net.Conn, error)
}

// NewProxyResolver 创建代理解析器
func NewProxyResolver(bastions map[string]string) *ProxyResolver {
	return &ProxyResolver{Bastions: bastions, Spawn: StartProxyCommand}
}

// Resolve 未指定跳板机时返回 nil（直连）；
// 跳板机未配置或代理进程启动失败统一返回 *ProxyResolutionError，不重试
func (r *ProxyResolver) Resolve(bastion, host string, port int) (net.Conn, error) {
	bastion = strings.TrimSpace(bastion)
	if bastion == "" {
		return nil, nil
	}
	if port <= 0 {
		port = 22
	}

	tpl, ok := r.lookup(bastion)
	if !ok {
		logger.Warnf("Proxy: bastion %q not found in configuration", bastion)
		return nil, &ProxyResolutionError{Bastion: bastion, Err: errUnknownBastion}
	}

	command := ExpandProxyCommand(tpl, host, port)
	spawn := r.Spawn
	if spawn == nil {
		spawn = StartProxyCommand
	}
	conn, err := spawn(command)
	if err != nil {
		logger.Warnf("Proxy: bastion %q spawn %q failed: %v", bastion, command, err)
		return nil, &ProxyResolutionError{Bastion: bastion, Err: err}
	}
	logger.Debugf("Proxy: bastion %q channel opened: %s", bastion, command)
	return conn, nil
}

func (r *ProxyResolver) lookup(bastion string) (string, bool) {
	if r == nil || r.Bastions == nil {
		return "", false
	}
	if tpl, ok := r.Bastions[bastion]; ok {
		return tpl, true
	}
	// 配置键经 viper 小写化
	tpl, ok := r.Bastions[strings.ToLower(bastion)]
	return tpl, ok
}

// ExpandProxyCommand 替换模板中的 %h 与 %p
func ExpandProxyCommand(tpl, host string, port int) string {
	return strings.NewReplacer("%h", host, "%p", strconv.Itoa(port)).Replace(tpl)
}

// StartProxyCommand 启动代理进程，并将其 stdin/stdout 作为 net.Conn 返回
func StartProxyCommand(command string) (net.Conn, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse proxy command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("empty proxy command")
	}

	cmd := exec.Command(args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := logger.WarnWriter()
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		_ = stderr.Close()
		return nil, fmt.Errorf("start proxy command: %w", err)
	}
	return &proxyConn{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr, command: command}, nil
}

// proxyConn 代理进程的标准输入输出，生命周期由所属传输负责
type proxyConn struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.Closer
	command string

	once sync.Once
	err  error
}

func (c *proxyConn) Read(b []byte) (int, error)  { return c.stdout.Read(b) }
func (c *proxyConn) Write(b []byte) (int, error) { return c.stdin.Write(b) }

// Close 关闭管道并结束代理进程
func (c *proxyConn) Close() error {
	c.once.Do(func() {
		_ = c.stdin.Close()
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		if err := c.cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				c.err = err
			}
		}
		_ = c.stderr.Close()
	})
	return c.err
}

func (c *proxyConn) LocalAddr() net.Addr  { return proxyAddr(c.command) }
func (c *proxyConn) RemoteAddr() net.Addr { return proxyAddr(c.command) }

// 管道不支持超时
func (c *proxyConn) SetDeadline(t time.Time) error      { return nil }
func (c *proxyConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *proxyConn) SetWriteDeadline(t time.Time) error { return nil }

type proxyAddr string

func (a proxyAddr) Network() string { return "proxycommand" }
func (a proxyAddr) String() string  { return string(a) }
