package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfregctl/nfregctl/addone/registration"
	"github.com/nfregctl/nfregctl/internal/service"
	"github.com/nfregctl/nfregctl/pkg/logger"
)

var modeShort = map[registration.Mode]string{
	registration.ModeUp:   "bring NFs into service",
	registration.ModeDown: "take NFs out of service",
	registration.ModeShow: "show NF registration status",
	registration.ModeInfo: "collect NF information",
	registration.ModeList: "list NF configuration",
}

func newRunCommand(mode registration.Mode, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   string(mode) + " [nf...]",
		Short: modeShort[mode],
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFleet(cmd, opts, mode, args)
		},
	}
}

func runFleet(cmd *cobra.Command, opts *options, mode registration.Mode, nfs []string) error {
	closeDB, err := openDatabase(opts.cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	fleet := service.NewFleetService(opts.cfg)
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	// 中断时关闭所有打开的会话，阻塞中的读取随之返回
	stopWatch := watchInterrupt(ctx, func() { interrupted(fleet) })
	defer stopWatch()

	report, err := fleet.Run(ctx, &service.RunRequest{Mode: mode, NFs: nfs, Stub: opts.stub})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch mode {
	case registration.ModeShow, registration.ModeInfo, registration.ModeList:
		if err := service.RenderOutputs(out, report); err != nil {
			return err
		}
	}
	if err := service.RenderSummary(out, report); err != nil {
		return err
	}
	if report.ReportURI != "" {
		fmt.Fprintf(out, "report: %s\n", report.ReportURI)
	}

	if !report.OK() {
		return &ExitError{Code: 1, Err: fmt.Errorf("%s finished %s", mode, report.Status), Printed: true}
	}
	return nil
}

// watchInterrupt ctx 取消时调用 onInterrupt；返回的 stop 注销回调，
// 须在 ctx 的 cancel 之前调用
func watchInterrupt(ctx context.Context, onInterrupt func()) func() bool {
	return context.AfterFunc(ctx, onInterrupt)
}

func interrupted(fleet *service.FleetService) {
	logger.Warn("Interrupted, closing open sessions")
	if err := fleet.Shutdown(); err != nil {
		logger.WithError(err).Warn("Session close failed")
	}
}
