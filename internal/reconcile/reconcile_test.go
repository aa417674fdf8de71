package reconcile

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

func obj(key string, mod int) entity.ObjectInfo {
	return entity.ObjectInfo{Key: key, LastModified: time.Unix(int64(mod), 0).UTC()}
}

func TestReconcile_Basic(t *testing.T) {
	sources := []entity.ObjectInfo{obj("low_confidence/source/a.pdf", 1), obj("low_confidence/source/b.pdf", 1)}
	results := []entity.ObjectInfo{obj("low_confidence/processed_result/b.csv", 2), obj("low_confidence/processed_result/c.csv", 2)}

	res, err := Reconcile(sources, results, LatestModified)
	require.NoError(t, err)
	require.Len(t, res.Matched, 1)
	assert.Equal(t, "b", res.Matched[0].Stem)
	assert.Equal(t, "low_confidence/source/b.pdf", res.Matched[0].Source.Key)
	assert.Equal(t, "low_confidence/processed_result/b.csv", res.Matched[0].Result.Key)
	assert.Equal(t, []string{"a"}, res.SourceOnly)
	assert.Equal(t, []string{"c"}, res.ResultOnly)
	assert.Nil(t, res.Duplicates)
}

func TestReconcile_Empty(t *testing.T) {
	res, err := Reconcile(nil, nil, LatestModified)
	require.NoError(t, err)
	assert.Empty(t, res.Matched)
	assert.NotNil(t, res.SourceOnly)
}

func TestReconcile_OrderIndependent(t *testing.T) {
	var sources, results []entity.ObjectInfo
	for i, s := range []string{"a", "b", "c", "d", "e", "f"} {
		sources = append(sources, obj("src/"+s+".pdf", i))
		if i%2 == 0 {
			results = append(results, obj("res/"+s+".csv", i))
		}
	}
	results = append(results, obj("res/z.csv", 0), obj("res2/a.csv", 99))

	want, err := Reconcile(sources, results, LatestModified)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		rng.Shuffle(len(sources), func(a, b int) { sources[a], sources[b] = sources[b], sources[a] })
		rng.Shuffle(len(results), func(a, b int) { results[a], results[b] = results[b], results[a] })
		got, err := Reconcile(sources, results, LatestModified)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, "res2/a.csv", want.Matched[0].Result.Key)
	assert.Equal(t, []string{"res/a.csv"}, want.Duplicates["a"])
}

func TestReconcile_DuplicatePolicies(t *testing.T) {
	sources := []entity.ObjectInfo{obj("x/inv.pdf", 5), obj("y/inv.png", 9)}
	results := []entity.ObjectInfo{obj("r/inv.csv", 1)}

	res, err := Reconcile(sources, results, LatestModified)
	require.NoError(t, err)
	require.Len(t, res.Matched, 1)
	assert.Equal(t, "y/inv.png", res.Matched[0].Source.Key)
	assert.Equal(t, []string{"x/inv.pdf"}, res.Duplicates["inv"])

	_, err = Reconcile(sources, results, RejectAmbiguous)
	require.Error(t, err)
	assert.True(t, common.IsCode(err, common.CodeValidation))
	assert.Contains(t, err.Error(), "inv")
}

func TestReconcile_TieBreakByKey(t *testing.T) {
	sources := []entity.ObjectInfo{obj("b/doc.pdf", 3), obj("a/doc.pdf", 3)}
	res, err := Reconcile(sources, nil, LatestModified)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc"}, res.SourceOnly)
	assert.Equal(t, []string{"a/doc.pdf"}, res.Duplicates["doc"])
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, LatestModified, p)
	p, err = ParsePolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, RejectAmbiguous, p)
	assert.Equal(t, "reject-ambiguous", p.String())
	_, err = ParsePolicy("first")
	assert.Error(t, err)
}
