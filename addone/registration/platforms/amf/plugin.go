package amf

import (
	"time"

	"github.com/nfregctl/nfregctl/addone/registration"
)

// Plugin AMF 插件：状态变更需在配置模式下执行并 commit
type Plugin struct{}

func (p *Plugin) Name() string { return "amf" }

func (p *Plugin) Defaults() registration.Defaults {
	return registration.Defaults{
		ConfigEnterCLI:     "config",
		ConfigExitCLI:      "end",
		ConfigAbortCLI:     "abort",
		RequiresConfigMode: true,
		Commands: map[registration.Mode][]string{
			registration.ModeShow: {"show amf registration-status"},
			registration.ModeUp:   {"amf-service registration enable", "commit"},
			registration.ModeDown: {"amf-service registration disable", "commit"},
			registration.ModeInfo: {"show version", "show amf registration-status"},
			registration.ModeList: {"show running-config amf-service"},
		},
		StatusPatterns: map[registration.Status]string{
			registration.StatusBlocked:      `(?im)registration-status\s*:\s*blocked`,
			registration.StatusOutOfService: `(?im)registration-status\s*:\s*(out-of-service|disabled)`,
			registration.StatusInService:    `(?im)registration-status\s*:\s*(in-service|enabled)`,
		},
		CommandTimeout: 30 * time.Second,
	}
}

func init() {
	registration.Register("amf", &Plugin{})
}
