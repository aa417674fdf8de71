package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/docextract/internal/pipeline"
	"github.com/joseph-ayodele/docextract/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the review API, metrics and gRPC health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		// re-extraction needs provider credentials; serve without it otherwise
		var proc *pipeline.Processor
		if p, perr := a.processor(ctx); perr == nil {
			proc = p
		} else {
			logger.Warn("serve.reextract_disabled", "error", perr)
		}
		svc, err := a.review(proc)
		if err != nil {
			return err
		}

		httpSrv := &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           server.NewHTTPServer(svc, a.metrics, logger).Handler(cfg.Server.CORSOrigins...),
			ReadHeaderTimeout: 10 * time.Second,
		}
		grpcSrv, health := server.NewGRPCServer()
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Error("serve.grpc.listen_failed", "addr", cfg.Server.GRPCAddr, "error", err)
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("serve.http.listening", "addr", cfg.Server.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			logger.Info("serve.grpc.listening", "addr", cfg.Server.GRPCAddr)
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("serve.shutting_down")
			health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("serve.http.shutdown_failed", "error", err)
			}
			grpcSrv.GracefulStop()
			return nil
		})
		return g.Wait()
	},
}
