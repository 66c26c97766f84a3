package engine

import (
	"sort"

	"github.com/lazypower/surfacer/internal/config"
	"github.com/lazypower/surfacer/internal/store"
)

// StitchResult is an ordered multi-memory answer. Confidence carries
// weakest-link semantics: the minimum of the member scores.
type StitchResult struct {
	Members    []GatedCandidate
	Confidence float64
}

// Stitcher assembles workflow chains out of gate survivors.
type Stitcher struct {
	cfg config.StitchConfig
}

// NewStitcher creates a stitcher.
func NewStitcher(cfg config.StitchConfig) *Stitcher {
	return &Stitcher{cfg: cfg}
}

// Stitch tries to assemble a coherent workflow chain. It returns ok=false
// when no valid chain of at least two memories exists, in which case the
// caller falls back to single-memory surfacing.
//
// Hard constraints: at most MaxMemories members; the requester holds full
// (unredacted) access to every member, where a member failing that is excluded,
// not the whole stitch; every member unexpired at stitch time. A chain
// whose members share no department pairwise is rejected as incoherent.
func (s *Stitcher) Stitch(c Context, survivors []GatedCandidate, now int64) (StitchResult, bool) {
	// Permission intersection and freshness come first so excluded members
	// never influence the dependency graph.
	var eligible []GatedCandidate
	for _, cand := range survivors {
		if cand.Access != store.AccessAllow {
			continue
		}
		if cand.Memory.Expired(now) {
			continue
		}
		if len(cand.Memory.RelatedWorkflows) == 0 {
			continue
		}
		eligible = append(eligible, cand)
	}
	if len(eligible) < 2 {
		return StitchResult{}, false
	}

	// Connected component over shared relatedWorkflows references, seeded
	// from the highest-scoring eligible candidate.
	seed := 0
	for i := range eligible {
		if eligible[i].Score > eligible[seed].Score {
			seed = i
		}
	}

	inChain := map[int]bool{seed: true}
	queue := []int{seed}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for i := range eligible {
			if inChain[i] {
				continue
			}
			if workflowsOverlap(eligible[cur].Memory.RelatedWorkflows, eligible[i].Memory.RelatedWorkflows) {
				inChain[i] = true
				queue = append(queue, i)
			}
		}
	}
	if len(inChain) < 2 {
		return StitchResult{}, false
	}

	var chain []GatedCandidate
	for i := range eligible {
		if inChain[i] {
			chain = append(chain, eligible[i])
		}
	}

	// Declared step order first, score descending as the fallback, id as
	// the final tie-break.
	sort.Slice(chain, func(i, j int) bool {
		a, b := &chain[i], &chain[j]
		as, bs := a.Memory.WorkflowStep, b.Memory.WorkflowStep
		if as > 0 && bs > 0 && as != bs {
			return as < bs
		}
		if (as > 0) != (bs > 0) {
			return as > 0 // explicit steps come before unordered members
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Memory.ID < b.Memory.ID
	})

	max := s.cfg.MaxMemories
	if max <= 0 || max > 5 {
		max = 5
	}
	if len(chain) > max {
		chain = chain[:max]
	}
	if len(chain) < 2 {
		return StitchResult{}, false
	}

	if !coherent(chain) {
		return StitchResult{}, false
	}

	confidence := chain[0].Score
	for _, m := range chain[1:] {
		if m.Score < confidence {
			confidence = m.Score
		}
	}
	return StitchResult{Members: chain, Confidence: confidence}, true
}

func workflowsOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// coherent reports whether any pair of chain members shares a department,
// a cheap proxy for "these belong together".
func coherent(chain []GatedCandidate) bool {
	for i := 0; i < len(chain); i++ {
		for j := i + 1; j < len(chain); j++ {
			for _, da := range chain[i].Memory.Departments {
				for _, db := range chain[j].Memory.Departments {
					if da == db {
						return true
					}
				}
			}
		}
	}
	return false
}
