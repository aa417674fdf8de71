package entity

import (
	"time"

	"github.com/joseph-ayodele/docextract/constants"
)

// DocumentResult is the per-document outcome row of a batch run.
type DocumentResult struct {
	Key          string              `json:"key"`
	ID           DocumentID          `json:"id"`
	Status       constants.RunStatus `json:"status"`
	Tier         constants.Tier      `json:"tier,omitempty"`
	Pages        int                 `json:"pages"`
	ErroredPages int                 `json:"errored_pages"`
	DroppedPages int                 `json:"dropped_pages"` // removed by the category gate
	SourceKey    string              `json:"source_key,omitempty"`
	ResultKey    string              `json:"result_key,omitempty"`
	Usage        Usage               `json:"usage"`
	Error        string              `json:"error,omitempty"`
	ErrorCode    string              `json:"error_code,omitempty"`
	Duration     time.Duration       `json:"duration"`
}

// RunSummary aggregates one batch run. It is reduced from the per-document
// results after all workers finish.
type RunSummary struct {
	RunID        string                 `json:"run_id"`
	Prefix       string                 `json:"prefix"`
	Threshold    float64                `json:"threshold"`
	StartedAt    time.Time              `json:"started_at"`
	FinishedAt   time.Time              `json:"finished_at"`
	Documents    int                    `json:"documents"`
	Pages        int                    `json:"pages"`
	ErroredPages int                    `json:"errored_pages"`
	Empty        int                    `json:"empty"`
	Failed       int                    `json:"failed"`
	Tiers        map[constants.Tier]int `json:"tiers"`
	Usage        Usage                  `json:"usage"`
	Cancelled    bool                   `json:"cancelled,omitempty"`
	Results      []DocumentResult       `json:"results,omitempty"`
}

// Summarize reduces results into s.
func (s *RunSummary) Summarize(results []DocumentResult) {
	s.Tiers = make(map[constants.Tier]int, len(constants.AllTiers))
	for _, t := range constants.AllTiers {
		s.Tiers[t] = 0
	}
	s.Results = results
	s.Documents = len(results)
	for _, r := range results {
		s.Pages += r.Pages
		s.ErroredPages += r.ErroredPages
		s.Usage = s.Usage.Add(r.Usage)
		switch r.Status {
		case constants.RunStatusOK:
			s.Tiers[r.Tier]++
		case constants.RunStatusEmpty:
			s.Empty++
		case constants.RunStatusFailed:
			s.Failed++
		}
	}
}
