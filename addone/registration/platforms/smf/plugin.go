package smf

import (
	"time"

	"github.com/nfregctl/nfregctl/addone/registration"
)

// Plugin SMF 插件：状态变更在普通模式下直接执行
type Plugin struct{}

func (p *Plugin) Name() string { return "smf" }

func (p *Plugin) Defaults() registration.Defaults {
	return registration.Defaults{
		RequiresConfigMode: false,
		Commands: map[registration.Mode][]string{
			registration.ModeShow: {"show smf service status"},
			registration.ModeUp:   {"smf service start"},
			registration.ModeDown: {"smf service stop"},
			registration.ModeInfo: {"show smf info"},
			registration.ModeList: {"show smf sessions summary"},
		},
		StatusPatterns: map[registration.Status]string{
			registration.StatusBlocked:      `(?im)service status\s*:\s*(blocked|maintenance)`,
			registration.StatusOutOfService: `(?im)service status\s*:\s*(stopped|out-of-service)`,
			registration.StatusInService:    `(?im)service status\s*:\s*(running|in-service)`,
		},
		CommandTimeout: 20 * time.Second,
	}
}

func init() {
	registration.Register("smf", &Plugin{})
}
