package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfregctl/nfregctl/pkg/logger"
	"github.com/nfregctl/nfregctl/simulate"
)

func newSimulateCommand(opts *options) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "run the fake NF SSH server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			simCfg := opts.cfg.Simulate
			if listen != "" {
				simCfg.Listen = listen
			}
			srv, err := simulate.NewServer(&simCfg)
			if err != nil {
				return err
			}
			if err := srv.Start(); err != nil {
				return err
			}
			defer srv.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "simulate: listening on %s (%d devices)\n", srv.Addr(), len(simCfg.Devices))
			logger.WithField("addr", srv.Addr().String()).Info("Simulate: started")

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			<-ctx.Done()
			logger.Info("Simulate: stopping")
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override simulate.listen")
	return cmd
}
