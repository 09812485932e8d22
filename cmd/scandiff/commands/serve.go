package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/censys/scandiff/pkg/api"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the snapshot upload and diff HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, repo, err := a.open()
			if err != nil {
				return err
			}
			defer repo.Close()

			origins, _ := cmd.Flags().GetStringSlice("cors-origin")
			handler := api.Routes(api.NewHandler(svc, a.log), a.log, origins...)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.log.WithField("db", a.cfg.DBPath).Info("snapshot store ready")
			return api.NewServer(a.cfg.HTTP.Addr, handler, a.log).Run(ctx)
		},
	}

	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().StringSlice("cors-origin", nil, "allowed CORS origin (repeatable, \"*\" for any)")
	_ = a.v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	return cmd
}
