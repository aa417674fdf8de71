// Package reconcile matches source documents with their extraction artifacts by stem.
package reconcile

import (
	"slices"
	"sort"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

// Policy decides what happens when several objects on one side share a stem.
type Policy int

const (
	// LatestModified keeps the most recently modified object. Equal
	// timestamps fall back to the lexicographically greatest key.
	LatestModified Policy = iota
	// RejectAmbiguous fails the reconciliation and names the stems.
	RejectAmbiguous
)

func (p Policy) String() string {
	switch p {
	case LatestModified:
		return "latest-modified"
	case RejectAmbiguous:
		return "reject-ambiguous"
	}
	return "unknown"
}

// ParsePolicy maps a flag value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "latest", "latest-modified":
		return LatestModified, nil
	case "reject", "reject-ambiguous":
		return RejectAmbiguous, nil
	}
	return 0, common.ConfigErrorf("unknown duplicate-stem policy %q", s)
}

type Pair struct {
	Stem   string            `json:"stem"`
	Source entity.ObjectInfo `json:"source"`
	Result entity.ObjectInfo `json:"result"`
}

// Result groups the outcome. All slices are sorted by stem.
type Result struct {
	Matched    []Pair              `json:"matched"`
	SourceOnly []string            `json:"source_only"`
	ResultOnly []string            `json:"result_only"`
	Duplicates map[string][]string `json:"duplicates,omitempty"` // stem -> discarded keys
}

// Reconcile pairs sources and results by stem. Output does not depend on the
// order of either input.
func Reconcile(sources, results []entity.ObjectInfo, policy Policy) (Result, error) {
	dups := map[string][]string{}
	src, err := index(sources, policy, dups)
	if err != nil {
		return Result{}, err
	}
	res, err := index(results, policy, dups)
	if err != nil {
		return Result{}, err
	}

	out := Result{
		Matched:    []Pair{},
		SourceOnly: []string{},
		ResultOnly: []string{},
	}
	for stem, s := range src {
		if r, ok := res[stem]; ok {
			out.Matched = append(out.Matched, Pair{Stem: stem, Source: s, Result: r})
		} else {
			out.SourceOnly = append(out.SourceOnly, stem)
		}
	}
	for stem := range res {
		if _, ok := src[stem]; !ok {
			out.ResultOnly = append(out.ResultOnly, stem)
		}
	}
	sort.Slice(out.Matched, func(i, j int) bool { return out.Matched[i].Stem < out.Matched[j].Stem })
	slices.Sort(out.SourceOnly)
	slices.Sort(out.ResultOnly)
	if len(dups) > 0 {
		for stem := range dups {
			slices.Sort(dups[stem])
		}
		out.Duplicates = dups
	}
	return out, nil
}

func index(objs []entity.ObjectInfo, policy Policy, dups map[string][]string) (map[string]entity.ObjectInfo, error) {
	m := make(map[string]entity.ObjectInfo, len(objs))
	var ambiguous []string
	for _, o := range objs {
		stem := entity.Stem(o.Key)
		cur, ok := m[stem]
		if !ok {
			m[stem] = o
			continue
		}
		if policy == RejectAmbiguous {
			ambiguous = append(ambiguous, stem)
			continue
		}
		keep, drop := cur, o
		if newer(o, cur) {
			keep, drop = o, cur
		}
		m[stem] = keep
		dups[stem] = append(dups[stem], drop.Key)
	}
	if len(ambiguous) > 0 {
		slices.Sort(ambiguous)
		ambiguous = slices.Compact(ambiguous)
		return nil, common.ValidationErrorf("ambiguous stems: %s", strings.Join(ambiguous, ", "))
	}
	return m, nil
}

func newer(a, b entity.ObjectInfo) bool {
	if !a.LastModified.Equal(b.LastModified) {
		return a.LastModified.After(b.LastModified)
	}
	return a.Key > b.Key
}
