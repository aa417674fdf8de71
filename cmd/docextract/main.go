package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docextract/internal/common"
)

var (
	cfg    *common.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:          "docextract",
	Short:        "Confidence-gated document extraction and review",
	Long:         "Rasterizes documents, extracts fields with a vision model, routes results by confidence and backs the correction workflow.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c := common.LoadConfig()
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c
		logger = newLogger(os.Stdout, cfg.LogLevel)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractCmd, watchCmd, reconcileCmd, editCmd, reextractCmd, publishCmd, exportCmd, serveCmd, runsCmd)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// exitCode is 2 for configuration errors and 1 for anything else.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case common.IsCode(err, common.CodeConfig):
		return 2
	default:
		return 1
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}
