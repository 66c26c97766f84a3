package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/surfacer/internal/config"
	"github.com/lazypower/surfacer/internal/store"
)

func gated(id string, score float64) GatedCandidate {
	return GatedCandidate{
		ScoredCandidate: scoredCandidate(id, score, score),
		Tier:            TierFull,
	}
}

func TestResolveClearWinner(t *testing.T) {
	d := NewDisambiguator(config.Default().Stitch)
	c := Context{}

	picked, cluster := d.Resolve(c, []GatedCandidate{
		gated("a", 0.90),
		gated("b", 0.70),
	})
	require.Len(t, picked, 1)
	assert.False(t, cluster)
	assert.Equal(t, "a", picked[0].Memory.ID)
}

func TestResolveNearTieCluster(t *testing.T) {
	d := NewDisambiguator(config.Default().Stitch)
	c := Context{}

	picked, cluster := d.Resolve(c, []GatedCandidate{
		gated("a", 0.80),
		gated("b", 0.75),
		gated("c", 0.73),
		gated("d", 0.72),
	})
	assert.True(t, cluster)
	require.Len(t, picked, 3) // bounded by cluster_max
	assert.Equal(t, "a", picked[0].Memory.ID)
}

func TestResolveEmptyAndSingle(t *testing.T) {
	d := NewDisambiguator(config.Default().Stitch)
	c := Context{}

	picked, cluster := d.Resolve(c, nil)
	assert.Nil(t, picked)
	assert.False(t, cluster)

	picked, cluster = d.Resolve(c, []GatedCandidate{gated("only", 0.5)})
	require.Len(t, picked, 1)
	assert.False(t, cluster)
}

func TestResolveDepartmentBoostBreaksCrossDepartmentTie(t *testing.T) {
	// Three budget-approval memories from different departments. The
	// requester is in IT, so the context boost separates the IT answer far
	// enough for a clear single winner.
	cfg := config.Default()
	scorer := NewScorer(cfg.Scoring)
	gate := NewGate(cfg.Gate, cfg.Retrieval.SimilarityFloor, false, nil)
	d := NewDisambiguator(cfg.Stitch)

	now := time.Now().UnixMilli()
	mk := func(id, dept string, sim float64) store.Candidate {
		m := freshMemory(now)
		m.ID = id
		m.Departments = []string{dept}
		m.RelatedWorkflows = []string{"budget-approval"}
		m.AuthorityScore = 0.8
		return store.Candidate{Memory: m, Similarity: sim, Access: store.AccessAllow}
	}

	c := Context{
		User:    store.User{Department: "it"},
		Signals: Signals{IntentClass: IntentTaskExecution},
	}
	scored := scorer.ScoreAll(c, []store.Candidate{
		mk("it-budget", "it", 0.89),
		mk("marketing-budget", "marketing", 0.82),
		mk("engineering-budget", "engineering", 0.76),
	}, now)
	survivors := gate.Apply(scored, store.ThresholdState{})
	require.NotEmpty(t, survivors)

	picked, cluster := d.Resolve(c, survivors)
	require.Len(t, picked, 1)
	assert.False(t, cluster)
	assert.Equal(t, "it-budget", picked[0].Memory.ID)
}

func TestRankTieBreakChain(t *testing.T) {
	d := NewDisambiguator(config.Default().Stitch)
	c := Context{User: store.User{Department: "it"}}

	older := int64(1000)
	newer := int64(2000)

	a := gated("a", 0.70)
	a.Memory.Departments = []string{"finance"}

	b := gated("b", 0.70)
	b.Memory.Departments = []string{"it"}

	// Same score and department: authority decides.
	cHigh := gated("c", 0.70)
	cHigh.Memory.Departments = []string{"it"}
	cHigh.Memory.AuthorityScore = 0.9

	// Same score, department, authority: recency of use decides.
	dRecent := gated("d", 0.70)
	dRecent.Memory.Departments = []string{"it"}
	dRecent.Memory.AuthorityScore = 0.9
	dRecent.Memory.LastAccessed = &newer

	dOld := gated("e", 0.70)
	dOld.Memory.Departments = []string{"it"}
	dOld.Memory.AuthorityScore = 0.9
	dOld.Memory.LastAccessed = &older

	ranked := d.Rank(c, []GatedCandidate{a, b, cHigh, dRecent, dOld})
	ids := make([]string, len(ranked))
	for i := range ranked {
		ids[i] = ranked[i].Memory.ID
	}
	assert.Equal(t, []string{"d", "e", "c", "b", "a"}, ids)
}

func TestRankDeterministic(t *testing.T) {
	d := NewDisambiguator(config.Default().Stitch)
	c := Context{}

	in := []GatedCandidate{gated("z", 0.7), gated("a", 0.7), gated("m", 0.7)}
	first := d.Rank(c, in)
	for i := 0; i < 20; i++ {
		again := d.Rank(c, in)
		require.Equal(t, first, again)
	}
	// Identical in every dimension: id keeps the order total.
	assert.Equal(t, "a", first[0].Memory.ID)
}
