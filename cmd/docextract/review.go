package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/ledger"
	"github.com/joseph-ayodele/docextract/internal/reconcile"
	"github.com/joseph-ayodele/docextract/internal/review"
)

func reviewService(cmd *cobra.Command, withExtractor bool) (*review.Service, func(), error) {
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	var svc *review.Service
	if withExtractor {
		proc, perr := a.processor(cmd.Context())
		if perr != nil {
			a.Close()
			return nil, nil, perr
		}
		svc, err = a.review(proc)
	} else {
		svc, err = a.review(nil)
	}
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return svc, a.Close, nil
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Pair sources with result artifacts in a tier",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tier, err := tierFlag(mustString(cmd, "tier"))
		if err != nil {
			return err
		}
		svc, done, err := reviewService(cmd, false)
		if err != nil {
			return err
		}
		defer done()
		res, err := svc.List(cmd.Context(), tier)
		if err != nil {
			return err
		}
		formatReconcile(cmd.OutOrStdout(), res)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <stem>",
	Short: "Apply field corrections to a document",
	Long:  "Each --set takes page:Field=value with a 1-based page number. An empty value marks the field absent.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := tierFlag(mustString(cmd, "tier"))
		if err != nil {
			return err
		}
		sets, _ := cmd.Flags().GetStringArray("set")
		edits, err := parseEdits(sets)
		if err != nil {
			return err
		}
		svc, done, err := reviewService(cmd, false)
		if err != nil {
			return err
		}
		defer done()
		doc, err := svc.SubmitEdits(cmd.Context(), tier, args[0], edits)
		if err != nil {
			return err
		}
		formatIssues(cmd.OutOrStdout(), doc.Issues)
		return nil
	},
}

var reextractCmd = &cobra.Command{
	Use:   "reextract <stem>",
	Short: "Re-run the model on the errored pages of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := tierFlag(mustString(cmd, "tier"))
		if err != nil {
			return err
		}
		svc, done, err := reviewService(cmd, true)
		if err != nil {
			return err
		}
		defer done()
		doc, err := svc.Reextract(cmd.Context(), tier, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d pages, mean confidence %.2f, tier %s\n", doc.Stem, len(doc.Records), doc.Stats.Mean*100, doc.Tier)
		if doc.Location != tier {
			fmt.Fprintf(cmd.OutOrStdout(), "moved %s -> %s\n", tier, doc.Location)
		}
		return nil
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish [stem...]",
	Short: "Copy reviewed documents to the final container",
	Long:  "Publishes the named documents, or every matched document of the tier when none are named.",
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := tierFlag(mustString(cmd, "tier"))
		if err != nil {
			return err
		}
		svc, done, err := reviewService(cmd, false)
		if err != nil {
			return err
		}
		defer done()
		report, err := svc.Publish(cmd.Context(), tier, args)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(report)
		}
		formatPublish(cmd.OutOrStdout(), report)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a review workbook for a tier",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tier, err := tierFlag(mustString(cmd, "tier"))
		if err != nil {
			return err
		}
		out := mustString(cmd, "out")
		if out == "" {
			out = string(tier) + "_confidence.xlsx"
		}
		svc, done, err := reviewService(cmd, false)
		if err != nil {
			return err
		}
		defer done()
		data, err := svc.ExportXLSX(cmd.Context(), tier)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return common.WrapError(err, "write workbook")
		}
		logger.Info("review.export.written", "tier", tier, "path", out, "bytes", len(data))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{reconcileCmd, editCmd, reextractCmd, publishCmd, exportCmd} {
		c.Flags().String("tier", "low", "confidence tier: high or low")
	}
	editCmd.Flags().StringArray("set", nil, "page:Field=value (repeatable)")
	publishCmd.Flags().Bool("json", false, "print the report as JSON")
	exportCmd.Flags().StringP("out", "o", "", "output path (default <tier>_confidence.xlsx)")
}

func mustString(cmd *cobra.Command, name string) string {
	s, _ := cmd.Flags().GetString(name)
	return s
}

// parseEdits turns page:Field=value arguments into 0-based page edits.
func parseEdits(sets []string) (map[int]ledger.Edits, error) {
	if len(sets) == 0 {
		return nil, common.ValidationErrorf("at least one --set is required")
	}
	out := map[int]ledger.Edits{}
	for _, s := range sets {
		page, rest, ok := strings.Cut(s, ":")
		if !ok {
			return nil, common.ValidationErrorf("edit %q: want page:Field=value", s)
		}
		n, err := strconv.Atoi(strings.TrimSpace(page))
		if err != nil || n < 1 {
			return nil, common.ValidationErrorf("edit %q: page must be a positive number", s)
		}
		field, value, ok := strings.Cut(rest, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, common.ValidationErrorf("edit %q: want page:Field=value", s)
		}
		if out[n-1] == nil {
			out[n-1] = ledger.Edits{}
		}
		out[n-1][field] = value
	}
	return out, nil
}

func formatReconcile(w io.Writer, res reconcile.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEM\tSOURCE\tRESULT\tMODIFIED")
	for _, p := range res.Matched {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Stem, p.Source.Key, p.Result.Key, p.Result.LastModified.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
	if len(res.SourceOnly) > 0 {
		fmt.Fprintf(w, "source only: %s\n", strings.Join(res.SourceOnly, ", "))
	}
	if len(res.ResultOnly) > 0 {
		fmt.Fprintf(w, "result only: %s\n", strings.Join(res.ResultOnly, ", "))
	}
	for _, stem := range slices.Sorted(maps.Keys(res.Duplicates)) {
		fmt.Fprintf(w, "duplicate %s: discarded %s\n", stem, strings.Join(res.Duplicates[stem], ", "))
	}
}

func formatIssues(w io.Writer, issues []ledger.ValidationIssue) {
	if len(issues) == 0 {
		fmt.Fprintln(w, "saved; all required fields present")
		return
	}
	fmt.Fprintf(w, "saved; %d required fields missing:\n", len(issues))
	for _, is := range issues {
		fmt.Fprintf(w, "  page %d: %s\n", is.Page, is.Field)
	}
}

func formatPublish(w io.Writer, r review.PublishReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEM\tSTATUS\tDETAIL")
	for _, it := range r.Items {
		detail := it.Error
		if detail == "" && len(it.Issues) > 0 {
			detail = fmt.Sprintf("%d missing required fields", len(it.Issues))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", it.Stem, it.Status, detail)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "published=%d failed=%d\n", r.Published, r.Failed)
}
