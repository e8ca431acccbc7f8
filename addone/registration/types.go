package registration

import (
	"context"
	"time"
)

// Mode 运行模式
type Mode string

const (
	ModeUp   Mode = "up"
	ModeDown Mode = "down"
	ModeShow Mode = "show"
	ModeInfo Mode = "info"
	ModeList Mode = "list"
)

// Modes 全部合法模式
var Modes = []Mode{ModeUp, ModeDown, ModeShow, ModeInfo, ModeList}

// ParseMode 解析模式名
func ParseMode(s string) (Mode, bool) {
	for _, m := range Modes {
		if string(m) == s {
			return m, true
		}
	}
	return "", false
}

// Status NF 注册状态
type Status string

const (
	StatusInService    Status = "in-service"
	StatusOutOfService Status = "out-of-service"
	StatusBlocked      Status = "blocked"
	StatusUnknown      Status = "unknown"
)

// Result 单个 NF 的处理结果
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailed  Result = "failed"
	ResultBlocked Result = "blocked"
	ResultSkipped Result = "skipped"
)

// Terminal 注册流程驱动的会话，*ssh.Session 与 *simulate.StubSession 均满足
type Terminal interface {
	Target() string
	Connect(ctx context.Context) error
	Command(cmd string, timeout time.Duration) ([]byte, error)
	EnterConfigMode() error
	ExitConfigMode(forced bool) error
	Abort() error
	Close() error
}

// Outcome 单个 NF 一次运行的结果
type Outcome struct {
	NF       string        `json:"nf"`
	Type     string        `json:"type"`
	Mode     Mode          `json:"mode"`
	Result   Result        `json:"result"`
	Before   Status        `json:"before,omitempty"`
	After    Status        `json:"after,omitempty"`
	Changed  bool          `json:"changed"`
	Output   string        `json:"output,omitempty"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}
