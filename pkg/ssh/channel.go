package ssh

import (
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Channel 交互式 Shell 通道
// SetTimeout(0) 表示读操作无限期阻塞
type Channel interface {
	SetTimeout(d time.Duration)
	// Recv 阻塞直到收到一块数据或超时（返回 *ReadTimeoutError）
	Recv(n int) ([]byte, error)
	Send(p []byte) (int, error)
	Closed() bool
	Close() error
}

// shellChannel 基于 ssh.Session 的 Shell 通道
// 由单个读协程把 stdout 数据块推送到 chunks，Recv 按超时等待
type shellChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser

	chunks  chan []byte
	done    chan struct{}
	pending []byte
	readErr error

	mu      sync.Mutex
	timeout time.Duration
	closed  bool
	eof     bool
}

func newShellChannel(session *ssh.Session, stdin io.WriteCloser, stdout io.Reader) *shellChannel {
	c := &shellChannel{
		session: session,
		stdin:   stdin,
		chunks:  make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	go c.pump(stdout)
	return c
}

func (c *shellChannel) pump(stdout io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case c.chunks <- chunk:
			case <-c.done:
				err = io.EOF
			}
		}
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.eof = true
			c.mu.Unlock()
			close(c.chunks)
			return
		}
	}
}

func (c *shellChannel) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

func (c *shellChannel) Recv(n int) ([]byte, error) {
	if n <= 0 {
		n = 4096
	}
	if len(c.pending) > 0 {
		return c.take(c.pending, n), nil
	}

	c.mu.Lock()
	timeout := c.timeout
	c.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case chunk, ok := <-c.chunks:
		if !ok {
			c.mu.Lock()
			err := c.readErr
			c.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return nil, err
		}
		return c.take(chunk, n), nil
	case <-expired:
		return nil, &ReadTimeoutError{After: timeout}
	}
}

// take 返回最多 n 字节，剩余部分留给下一次 Recv
func (c *shellChannel) take(chunk []byte, n int) []byte {
	if len(chunk) > n {
		c.pending = chunk[n:]
		return chunk[:n]
	}
	c.pending = nil
	return chunk
}

func (c *shellChannel) Send(p []byte) (int, error) {
	return c.stdin.Write(p)
}

func (c *shellChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || (c.eof && len(c.pending) == 0 && len(c.chunks) == 0)
}

func (c *shellChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)

	_ = c.stdin.Close()
	return c.session.Close()
}
