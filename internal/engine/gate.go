package engine

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/lazypower/surfacer/internal/config"
	"github.com/lazypower/surfacer/internal/store"
)

// Tier is the presentation band a surfaced candidate falls into.
type Tier int

const (
	TierSuppressed Tier = iota
	TierRelated         // "related" suggestion only, never primary
	TierIndicator       // surfaced with an explicit confidence indicator
	TierFull            // surfaced immediately, full content
)

// GatedCandidate is a scored candidate with its surface/suppress decision.
type GatedCandidate struct {
	ScoredCandidate
	Tier Tier
}

// Gate maps scores to surface/suppress decisions using the configured
// bands, the memory's sensitivity class, and the user's adaptive state.
type Gate struct {
	cfg    config.GateConfig
	floor  float64 // retrieval floor, re-enforced here as defense in depth
	debug  bool
	logger *zap.Logger
}

// NewGate creates a threshold gate.
func NewGate(cfg config.GateConfig, retrievalFloor float64, debug bool, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{cfg: cfg, floor: retrievalFloor, debug: debug, logger: logger}
}

// AdaptiveDelta converts accumulated feedback into a threshold shift.
// Positive feedback lowers the effective threshold by up to MaxLower;
// negative raises it by up to MaxRaise. Each event moves the needle a
// little, so trust builds and erodes gradually.
func (g *Gate) AdaptiveDelta(st store.ThresholdState) float64 {
	lower := 0.01 * float64(st.Positive)
	if lower > g.cfg.MaxLower {
		lower = g.cfg.MaxLower
	}
	raise := 0.02 * float64(st.Negative)
	if raise > g.cfg.MaxRaise {
		raise = g.cfg.MaxRaise
	}
	return raise - lower
}

// EffectiveThreshold is the surface/suppress boundary for one memory class
// under the user's adaptive state. Clamped to the configured range; the
// critical classes additionally never drop below the critical floor, no
// matter how much positive feedback has accumulated.
func (g *Gate) EffectiveThreshold(st store.ThresholdState, critical bool) float64 {
	t := g.cfg.RelatedBand + g.AdaptiveDelta(st)
	if t < g.cfg.ClampMin {
		t = g.cfg.ClampMin
	}
	if t > g.cfg.ClampMax {
		t = g.cfg.ClampMax
	}
	if critical && t < g.cfg.CriticalFloor {
		t = g.cfg.CriticalFloor
	}
	return t
}

// Apply gates every scored candidate. Survivors come back ordered by score
// descending (id as final tie-break); suppressed candidates are dropped.
//
// A candidate whose raw similarity is below the retrieval floor reaching
// this point is a programming defect: the retriever must have excluded it.
// Debug builds panic; production suppresses and logs.
func (g *Gate) Apply(candidates []ScoredCandidate, st store.ThresholdState) []GatedCandidate {
	var out []GatedCandidate
	for _, c := range candidates {
		if c.Similarity < g.floor {
			if g.debug {
				panic(fmt.Sprintf("gate: candidate %s below retrieval floor (%.3f < %.3f)",
					c.Memory.ID, c.Similarity, g.floor))
			}
			g.logger.Error("candidate below retrieval floor reached gate, suppressing",
				zap.String("memory_id", c.Memory.ID),
				zap.Float64("similarity", c.Similarity))
			continue
		}

		threshold := g.EffectiveThreshold(st, c.Memory.Critical())
		if c.Score < threshold {
			continue
		}

		out = append(out, GatedCandidate{ScoredCandidate: c, Tier: g.tier(c.Score)})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Memory.ID < out[j].Memory.ID
	})
	return out
}

func (g *Gate) tier(score float64) Tier {
	switch {
	case score >= g.cfg.FullBand:
		return TierFull
	case score >= g.cfg.IndicatorBand:
		return TierIndicator
	default:
		// Below the related band the candidate only got here because the
		// user's adaptive threshold dropped under it; surface as related.
		return TierRelated
	}
}
