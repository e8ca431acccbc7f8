package registration

import (
	"time"
)

// DefaultCommandTimeout 插件未指定时的命令超时
const DefaultCommandTimeout = 10 * time.Second

// Defaults NF 类型的厂商 CLI 约定
type Defaults struct {
	ConfigEnterCLI     string
	ConfigExitCLI      string
	ConfigAbortCLI     string
	RequiresConfigMode bool
	// Commands 各模式发送的命令；ModeShow 的第一条为状态查询命令
	Commands map[Mode][]string
	// StatusPatterns 状态 -> 正则，按 blocked、out-of-service、in-service 顺序匹配
	StatusPatterns map[Status]string
	CommandTimeout time.Duration
}

// Override 配置文件 nf_types 中对插件默认值的覆盖，空值表示不覆盖
type Override struct {
	ConfigEnterCLI     string              `mapstructure:"config_enter_cli" json:"config_enter_cli,omitempty"`
	ConfigExitCLI      string              `mapstructure:"config_exit_cli" json:"config_exit_cli,omitempty"`
	ConfigAbortCLI     string              `mapstructure:"config_abort_cli" json:"config_abort_cli,omitempty"`
	RequiresConfigMode *bool               `mapstructure:"requires_config_mode" json:"requires_config_mode,omitempty"`
	Commands           map[string][]string `mapstructure:"commands" json:"commands,omitempty"`
	StatusPatterns     map[string]string   `mapstructure:"status_patterns" json:"status_patterns,omitempty"`
	CommandTimeout     time.Duration       `mapstructure:"command_timeout" json:"command_timeout,omitempty"`
}

// Plugin NF 类型插件
type Plugin interface {
	// Name 插件名称（如 amf、smf）
	Name() string
	Defaults() Defaults
}

// Merge 以覆盖项合并插件默认值，不修改入参
func Merge(d Defaults, o *Override) Defaults {
	merged := d
	merged.Commands = make(map[Mode][]string, len(d.Commands))
	for m, cmds := range d.Commands {
		merged.Commands[m] = append([]string(nil), cmds...)
	}
	merged.StatusPatterns = make(map[Status]string, len(d.StatusPatterns))
	for s, p := range d.StatusPatterns {
		merged.StatusPatterns[s] = p
	}
	if merged.CommandTimeout <= 0 {
		merged.CommandTimeout = DefaultCommandTimeout
	}
	if o == nil {
		return merged
	}

	if o.ConfigEnterCLI != "" {
		merged.ConfigEnterCLI = o.ConfigEnterCLI
	}
	if o.ConfigExitCLI != "" {
		merged.ConfigExitCLI = o.ConfigExitCLI
	}
	if o.ConfigAbortCLI != "" {
		merged.ConfigAbortCLI = o.ConfigAbortCLI
	}
	if o.RequiresConfigMode != nil {
		merged.RequiresConfigMode = *o.RequiresConfigMode
	}
	for m, cmds := range o.Commands {
		merged.Commands[Mode(m)] = append([]string(nil), cmds...)
	}
	for s, p := range o.StatusPatterns {
		merged.StatusPatterns[Status(s)] = p
	}
	if o.CommandTimeout > 0 {
		merged.CommandTimeout = o.CommandTimeout
	}
	return merged
}
