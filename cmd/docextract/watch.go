package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docextract/internal/async"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/ingest"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch local directories and extract new documents as they arrive",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		dirs, _ := cmd.Flags().GetStringSlice("dir")
		prefix, _ := cmd.Flags().GetString("prefix")
		debounce, _ := cmd.Flags().GetDuration("debounce")
		scan, _ := cmd.Flags().GetBool("scan")

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		proc, err := a.processor(ctx)
		if err != nil {
			return err
		}
		if err := a.router.EnsureContainer(ctx, cfg.Storage.InputContainer); err != nil {
			return err
		}

		queue := async.NewProcessorQueue(proc, logger,
			async.WithWorkers(cfg.Pipeline.DocumentWorkers),
			async.WithProcessTimeout(30*time.Minute),
			async.WithResultHandler(func(r entity.DocumentResult) {
				if r.Error != "" {
					logger.Warn("watch.document.failed", "key", r.Key, "code", r.ErrorCode, "error", r.Error)
				}
			}),
		)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			queue.Shutdown(shutdownCtx)
		}()

		events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
			Roots:       dirs,
			InitialScan: scan,
			Debounce:    debounce,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		logger.Info("watch.started", "dirs", dirs, "container", cfg.Storage.InputContainer, "prefix", prefix)
		ingest.NewInbox(a.store, queue, cfg.Storage.InputContainer, prefix, logger).Run(ctx, events, errs)
		logger.Info("watch.stopping")
		return nil
	},
}

func init() {
	watchCmd.Flags().StringSlice("dir", []string{"."}, "directories to watch (recursive)")
	watchCmd.Flags().String("prefix", "inbox/", "key prefix for uploaded documents")
	watchCmd.Flags().Duration("debounce", 500*time.Millisecond, "quiet period before a changed file is submitted")
	watchCmd.Flags().Bool("scan", false, "submit files already present in the directories")
}
