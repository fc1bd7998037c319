package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"varianthunter/internal/adapters/httpapi"
	"varianthunter/internal/blob"
	"varianthunter/internal/export"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if addr != "" {
					a.cfg.HTTP.Addr = addr
				}
				return serve(ctx, a)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

func serve(parent context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := blob.Open(ctx, a.cfg.Export)
	if err != nil {
		return err
	}
	exporter := export.NewExporter(a.svc, store, export.WithLogger(a.logger.WithComponent("export")))
	worker := export.NewWorker(exporter, 0)
	worker.Start()

	gin.SetMode(gin.ReleaseMode)
	server := httpapi.NewServer(a.svc, exporter, worker, a.logger.WithComponent("http"))
	httpServer := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           server.Router(httpapi.Options{Metrics: a.cfg.HTTP.Metrics}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server listening", "addr", httpServer.Addr, "export_driver", string(store.Driver()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down")
		err := httpServer.Shutdown(shutdownCtx)
		if werr := worker.Stop(shutdownCtx); werr != nil && err == nil {
			err = werr
		}
		if ferr := a.persister.Flush(shutdownCtx); ferr != nil {
			a.logger.Error("final session flush failed", "error", ferr)
		}
		return err
	})
	return g.Wait()
}
