package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func addServeCommand(rootCmd *cobra.Command, rt *cliState) {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the expiry scheduler",
		Long: `Run the HTTP API.

The expiry calendar is warmed up at startup and on the configured schedule,
and lapsed broker sessions are swept daily. Broker login redirects are
served on /zerodha/callback and /fyers/auth.`,
		Example: `  quicktrade serve
  quicktrade serve --addr 0.0.0.0:8000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := rt.app
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = app.Config.Server.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched, err := app.Scheduler()
			if err != nil {
				return err
			}
			server := app.Server()

			sched.Start(ctx)
			defer sched.Stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.Start(addr)
			})
			g.Go(func() error {
				<-gctx.Done()
				app.Logger.Info().Msg("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().String("addr", "", "listen address (default: server.addr)")
	rootCmd.AddCommand(cmd)
}
