package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reqgate/internal/config"
	httpserver "github.com/fyrsmithlabs/reqgate/internal/http"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var (
		host    string
		port    int
		noWatch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local gate daemon",
		Long: `Run an HTTP daemon exposing the gate, requirement status and session
lifecycle. The policy is reloaded when a config file changes.

Examples:
  reqgate serve
  reqgate serve --port 9292 --no-watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, opts, func(a *app) error {
				sc := a.engine.Policy().Server
				if host != "" {
					sc.Host = host
				}
				if port != 0 {
					sc.Port = port
				}
				metrics := httpserver.NewHTTPMetrics(a.telemetry.Meter(httpserver.InstrumentationName), a.logger)
				srv, err := httpserver.NewServer(a.engine, a.logger, &httpserver.Config{
					Host:            sc.Host,
					Port:            sc.Port,
					ShutdownTimeout: sc.ShutdownTimeout,
					Telemetry:       a.telemetry,
				}, metrics)
				if err != nil {
					return err
				}

				if !noWatch {
					w, err := config.NewWatcher(a.engine.ConfigPaths())
					if err != nil {
						a.logger.Warn(ctx, "config watcher unavailable, reload with POST /api/v1/reload", zap.Error(err))
					} else {
						w.Start(ctx)
						defer w.Stop()
						go httpserver.WatchConfig(ctx, w, a.engine, a.logger)
					}
				}

				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start() }()

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
				}
				return srv.Shutdown(context.WithoutCancel(ctx))
			})
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default: server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default: server.port)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload when config files change")
	return cmd
}
