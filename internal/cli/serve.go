package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/revpad/internal/api"
	"github.com/sprite-ai/revpad/internal/metrics"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start an HTTP server exposing the revpad review engine.

Endpoints:
  GET    /health                   Health check
  GET    /metrics                  Prometheus metrics
  GET    /api/languages            Supported languages
  GET    /api/rules                Rule catalog (?language=)
  POST   /api/analyze              Review a source
  POST   /api/reviews              Save a review
  GET    /api/reviews              List saved reviews
  GET    /api/reviews/{id}         Fetch a saved review
  DELETE /api/reviews/{id}         Delete a saved review
  GET    /api/reviews/{id}/export  Export a saved review (?format=)
  GET    /api/ws                   WebSocket review session`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			a.metrics = metrics.New()
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := api.New(api.Options{
				Config:   cfg,
				Analyzer: a.analyzer(),
				Store:    st,
				Metrics:  a.metrics,
				Logger:   a.logger,
			})
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "address to listen on (default server.addr)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default server.port)")
	return cmd
}
