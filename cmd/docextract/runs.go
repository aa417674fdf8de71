package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/repository"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect batch run history",
}

func openRuns(cmd *cobra.Command) (repository.RunRepository, func(), error) {
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	repo, closeRepo, err := a.history(cmd.Context())
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	if repo == nil {
		a.Close()
		return nil, nil, common.ConfigErrorf("HISTORY_DSN is not set")
	}
	return repo, func() { closeRepo(); a.Close() }, nil
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		repo, done, err := openRuns(cmd)
		if err != nil {
			return err
		}
		defer done()
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := repo.ListRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its per-document results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, done, err := openRuns(cmd)
		if err != nil {
			return err
		}
		defer done()
		run, err := repo.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		}
		formatSummary(cmd.OutOrStdout(), run)
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs")
	runsShowCmd.Flags().Bool("json", false, "print the run as JSON")
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
}

func formatRunsList(w io.Writer, runs []entity.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tPREFIX\tDOCS\tHIGH\tLOW\tEMPTY\tFAILED")
	for _, r := range runs {
		id := r.RunID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			id, r.StartedAt.Format("2006-01-02 15:04"), dash(r.Prefix), r.Documents,
			r.Tiers[constants.TierHigh], r.Tiers[constants.TierLow], r.Empty, r.Failed)
	}
	_ = tw.Flush()
}
