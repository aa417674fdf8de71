package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract every document under a prefix of the input container",
	Long: "Runs the batch pipeline over the input container. Document failures are " +
		"reported in the summary and do not change the exit status.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		prefix, _ := cmd.Flags().GetString("input")
		asJSON, _ := cmd.Flags().GetBool("json")
		if cmd.Flags().Changed("threshold") {
			th, _ := cmd.Flags().GetFloat64("threshold")
			v := common.NewValidator()
			v.Field("threshold", th, common.HalfOpenUnit)
			if err := common.ValidateAndReturnError(v); err != nil {
				return err
			}
			cfg.Pipeline.Threshold = th
		}

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		proc, err := a.processor(ctx)
		if err != nil {
			return err
		}
		history, closeHistory, err := a.history(ctx)
		if err != nil {
			logger.Warn("history.unavailable", "error", err)
			history, closeHistory = nil, func() {}
		}
		defer closeHistory()

		var recorder pipeline.RunRecorder
		if history != nil {
			recorder = history
		}
		runner := pipeline.NewRunner(proc, a.store, cfg.Pipeline.DocumentWorkers, recorder, logger)
		sum, err := runner.Run(ctx, prefix)
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		}
		formatSummary(cmd.OutOrStdout(), sum)
		return nil
	},
}

func init() {
	extractCmd.Flags().String("input", "", "key prefix inside the input container")
	extractCmd.Flags().Float64("threshold", constants.DefaultConfidenceThreshold, "minimum field confidence for the high tier")
	extractCmd.Flags().Bool("json", false, "print the run summary as JSON")
}

func formatSummary(w io.Writer, sum entity.RunSummary) {
	fmt.Fprintf(w, "run %s  prefix=%q  threshold=%.2f  took=%s\n",
		sum.RunID, sum.Prefix, sum.Threshold, sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "documents=%d pages=%d errored_pages=%d high=%d low=%d empty=%d failed=%d tokens=%d/%d\n",
		sum.Documents, sum.Pages, sum.ErroredPages,
		sum.Tiers[constants.TierHigh], sum.Tiers[constants.TierLow],
		sum.Empty, sum.Failed, sum.Usage.InputTokens, sum.Usage.OutputTokens)
	if sum.Cancelled {
		fmt.Fprintln(w, "run was cancelled before all documents were scheduled")
	}
	if len(sum.Results) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATUS\tTIER\tPAGES\tERRORED\tERROR")
	for _, r := range sum.Results {
		msg := r.Error
		if r.ErrorCode != "" {
			msg = r.ErrorCode + ": " + msg
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", r.Key, r.Status, dash(string(r.Tier)), r.Pages, r.ErroredPages, msg)
	}
	_ = tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
