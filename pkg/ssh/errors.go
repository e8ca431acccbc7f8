package ssh

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyTarget 会话目标名为空
	ErrEmptyTarget = errors.New("target identifier is required")
	// ErrConfigModeUnsupported 未配置进入配置模式的命令
	ErrConfigModeUnsupported = errors.New("config mode command not configured")

	errUnknownBastion = errors.New("bastion not configured")
)

// ConfigLookupError 目标配置不存在（调用方配置错误，不重试）
type ConfigLookupError struct {
	Target string
}

func (e *ConfigLookupError) Error() string {
	return fmt.Sprintf("target %q not found in configuration", e.Target)
}

// ProxyResolutionError 跳板机代理通道打开失败（未知跳板机或代理进程启动失败）
type ProxyResolutionError struct {
	Bastion string
	Err     error
}

func (e *ProxyResolutionError) Error() string {
	return fmt.Sprintf("failed to open proxy channel via bastion %q", e.Bastion)
}

func (e *ProxyResolutionError) Unwrap() error { return e.Err }

// SessionConnectError 认证或传输建立失败
type SessionConnectError struct {
	Target string
	Err    error
}

func (e *SessionConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Target, e.Err)
}

func (e *SessionConnectError) Unwrap() error { return e.Err }

// CommandTimeoutError 超时内未再次出现提示符
// Error() 直接返回底层读超时的文案
type CommandTimeoutError struct {
	Command string
	Timeout time.Duration
	Err     error
}

func (e *CommandTimeoutError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("command %q timed out after %s", e.Command, e.Timeout)
}

func (e *CommandTimeoutError) Unwrap() error { return e.Err }

// ReadTimeoutError 通道读超时，实现 net.Error
type ReadTimeoutError struct {
	After time.Duration
}

func (e *ReadTimeoutError) Error() string {
	return fmt.Sprintf("read timed out after %s", e.After)
}

func (e *ReadTimeoutError) Timeout() bool   { return true }
func (e *ReadTimeoutError) Temporary() bool { return true }

// isTimeout 判断是否为读超时（兼容其他实现 Timeout() 的错误）
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}
