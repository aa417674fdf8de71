package review

import (
	"context"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/ledger"
	"github.com/joseph-ayodele/docextract/internal/reconcile"
)

type PublishStatus string

const (
	Published     PublishStatus = "published"
	PublishFailed PublishStatus = "failed"
)

type PublishItem struct {
	Stem      string                   `json:"stem"`
	Status    PublishStatus            `json:"status"`
	SourceKey string                   `json:"source_key,omitempty"`
	ResultKey string                   `json:"result_key,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Issues    []ledger.ValidationIssue `json:"issues,omitempty"` // advisory
}

type PublishReport struct {
	Items     []PublishItem `json:"items"`
	Published int           `json:"published"`
	Failed    int           `json:"failed"`
}

// Publish copies matched documents of a tier to the final container. An
// empty stems list publishes every matched document. A failing item is
// reported and the rest continue.
func (s *Service) Publish(ctx context.Context, tier constants.Tier, stems []string) (PublishReport, error) {
	res, err := s.List(ctx, tier)
	if err != nil {
		return PublishReport{}, err
	}
	if err := s.router.EnsureContainer(ctx, s.cfg.FinalContainer); err != nil {
		return PublishReport{}, err
	}

	pairs := res.Matched
	var missing []string
	if len(stems) > 0 {
		pairs, missing = selectPairs(res.Matched, stems)
	}

	report := PublishReport{Items: make([]PublishItem, 0, len(pairs)+len(missing))}
	for _, p := range pairs {
		item := s.publishOne(ctx, tier, p)
		if item.Status == Published {
			report.Published++
		} else {
			report.Failed++
		}
		report.Items = append(report.Items, item)
	}
	for _, stem := range missing {
		report.Failed++
		report.Items = append(report.Items, PublishItem{
			Stem:   stem,
			Status: PublishFailed,
			Error:  common.NotFoundf("%s document %q", tier, stem).Error(),
		})
	}
	s.logger.Info("review.publish.done", "tier", tier, "published", report.Published, "failed", report.Failed)
	return report, nil
}

func (s *Service) publishOne(ctx context.Context, tier constants.Tier, p reconcile.Pair) PublishItem {
	ctx = context.WithoutCancel(ctx)
	unlock := s.locks.Lock(lockKey(tier, p.Stem))
	defer unlock()

	item := PublishItem{Stem: p.Stem, Status: PublishFailed}
	fail := func(err error) PublishItem {
		item.Error = err.Error()
		s.logger.Error("review.publish.item_failed", "tier", tier, "stem", p.Stem, "error", err)
		return item
	}

	src, err := s.store.Get(ctx, s.cfg.Container, p.Source.Key)
	if err != nil {
		return fail(err)
	}
	doc, err := s.load(ctx, tier, p)
	if err != nil {
		return fail(err)
	}
	csv, err := doc.Artifact.Marshal()
	if err != nil {
		return fail(err)
	}

	final := s.router.Final(entity.ParseDocumentID(p.Source.Key), tier)
	if _, err := s.store.Put(ctx, s.cfg.FinalContainer, final.Source, src, mimetype.Detect(src).String()); err != nil {
		return fail(err)
	}
	if _, err := s.store.Put(ctx, s.cfg.FinalContainer, final.Result, csv, constants.ContentTypeCSV); err != nil {
		return fail(err)
	}
	item.Status = Published
	item.SourceKey, item.ResultKey = final.Source, final.Result
	item.Issues = doc.Issues
	return item
}

func selectPairs(matched []reconcile.Pair, stems []string) ([]reconcile.Pair, []string) {
	byStem := make(map[string]reconcile.Pair, len(matched))
	for _, p := range matched {
		byStem[p.Stem] = p
	}
	var out []reconcile.Pair
	var missing []string
	seen := make(map[string]struct{}, len(stems))
	for _, st := range stems {
		if _, dup := seen[st]; dup {
			continue
		}
		seen[st] = struct{}{}
		if p, ok := byStem[st]; ok {
			out = append(out, p)
		} else {
			missing = append(missing, st)
		}
	}
	return out, missing
}
