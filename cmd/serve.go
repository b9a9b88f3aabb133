package cmd

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/lvcoi/clipfetch/internal/web"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := opts.services(false)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = svc.Config.Addr()
			}

			ctx := cmd.Context()
			svc.Start(ctx)
			defer svc.Stop()

			server, err := web.NewServer(web.Options{
				Service: svc.Orchestrator,
				Events:  http.HandlerFunc(svc.Hub.HandleWS),
				Pending: svc.Lifecycle.Pending,
				Logger:  svc.Logger,
			})
			if err != nil {
				return err
			}
			svc.Logger.Info("serving",
				"addr", addr,
				"downloads_dir", svc.Orchestrator.OutputDir(),
				"retention", svc.Orchestrator.Retention(),
			)
			err = server.ListenAndServe(ctx, addr)
			if errors.Is(err, context.Canceled) {
				svc.Logger.Info("shutting down")
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default HOST:PORT from config)")
	return cmd
}
