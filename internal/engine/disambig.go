package engine

import (
	"sort"

	"github.com/lazypower/surfacer/internal/config"
)

// Disambiguator picks between multiple gate survivors for the same query.
// Fully deterministic: identical inputs produce identical output.
type Disambiguator struct {
	cfg config.StitchConfig
}

// NewDisambiguator creates a disambiguator. The gap rule and cluster size
// share the stitch config block since both shape multi-candidate output.
func NewDisambiguator(cfg config.StitchConfig) *Disambiguator {
	return &Disambiguator{cfg: cfg}
}

// Rank orders survivors by the tie-break chain: composite score, requester
// department match, authority, recency of use, and finally memory id so
// the order is total.
func (d *Disambiguator) Rank(c Context, survivors []GatedCandidate) []GatedCandidate {
	ranked := make([]GatedCandidate, len(survivors))
	copy(ranked, survivors)

	sort.Slice(ranked, func(i, j int) bool {
		a, b := &ranked[i], &ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		am := a.Memory.DepartmentMatch(c.User.Department)
		bm := b.Memory.DepartmentMatch(c.User.Department)
		if am != bm {
			return am > bm
		}
		if a.Memory.AuthorityScore != b.Memory.AuthorityScore {
			return a.Memory.AuthorityScore > b.Memory.AuthorityScore
		}
		al, bl := lastAccessedOf(&a.ScoredCandidate), lastAccessedOf(&b.ScoredCandidate)
		if al != bl {
			return al > bl
		}
		return a.Memory.ID < b.Memory.ID
	})
	return ranked
}

// Resolve applies the gap rule to the ranked survivors: a clear winner
// surfaces alone, near-ties come back as a small cluster for the delivery
// layer to present as a choice.
func (d *Disambiguator) Resolve(c Context, survivors []GatedCandidate) (picked []GatedCandidate, cluster bool) {
	ranked := d.Rank(c, survivors)
	if len(ranked) == 0 {
		return nil, false
	}
	if len(ranked) == 1 {
		return ranked[:1], false
	}

	if ranked[0].Score-ranked[1].Score >= d.cfg.GapRule {
		return ranked[:1], false
	}

	max := d.cfg.ClusterMax
	if max <= 0 {
		max = 3
	}
	// Only keep candidates near-tied with the leader.
	end := 1
	for end < len(ranked) && end < max {
		if ranked[0].Score-ranked[end].Score >= d.cfg.GapRule {
			break
		}
		end++
	}
	return ranked[:end], end > 1
}

func lastAccessedOf(c *ScoredCandidate) int64 {
	if c.Memory.LastAccessed == nil {
		return 0
	}
	return *c.Memory.LastAccessed
}
