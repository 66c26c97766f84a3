package engine

import (
	"math"
	"time"

	"github.com/lazypower/surfacer/internal/config"
	"github.com/lazypower/surfacer/internal/store"
)

// recencyHalfLife drives the lastAccessed reward in the timing score.
const recencyHalfLife = 90 * 24 * time.Hour

// ScoredCandidate is a candidate with its composite confidence score.
type ScoredCandidate struct {
	store.Candidate
	Score       float64
	ContextFit  float64
	TimingScore float64
}

// Scorer assigns composite confidence scores. Pure: scoring never touches
// the store and never mutates usage stats.
type Scorer struct {
	cfg config.ScoringConfig
}

// NewScorer creates a relevance scorer with the given weights.
func NewScorer(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the composite score for one candidate:
//
//	score = wS*similarity + wC*contextFit + wT*timingScore
//
// then applies the lazy usage-decay multiplier when the memory's accept
// rate has fallen below the configured floor. The decayed value is
// computed here every time, never written back.
func (s *Scorer) Score(c Context, cand store.Candidate, now int64) ScoredCandidate {
	fit := s.contextFit(c, &cand.Memory)
	timing := s.timingScore(&cand.Memory, now)

	score := s.cfg.SimilarityWeight*cand.Similarity +
		s.cfg.ContextWeight*fit +
		s.cfg.TimingWeight*timing

	if cand.Memory.AcceptRate < s.cfg.AcceptRateFloor {
		score *= s.cfg.UsageDecayFactor
	}
	score = clamp01(score)

	return ScoredCandidate{
		Candidate:   cand,
		Score:       score,
		ContextFit:  fit,
		TimingScore: timing,
	}
}

// ScoreAll scores every candidate, preserving input order.
func (s *Scorer) ScoreAll(c Context, candidates []store.Candidate, now int64) []ScoredCandidate {
	scored := make([]ScoredCandidate, 0, len(candidates))
	for _, cand := range candidates {
		scored = append(scored, s.Score(c, cand, now))
	}
	return scored
}

// contextFit blends department match, intent alignment, and authority.
func (s *Scorer) contextFit(c Context, m *store.Memory) float64 {
	dept := m.DepartmentMatch(c.User.Department)
	align := intentAlignment(c.Signals.IntentClass, m)
	fit := 0.5*dept + 0.3*align + 0.2*clamp01(m.AuthorityScore)
	return clamp01(fit)
}

// intentAlignment maps the classified intent onto the memory's shape:
// workflow-linked memories serve task execution, critical classes serve
// policy and access questions.
func intentAlignment(intent string, m *store.Memory) float64 {
	switch intent {
	case IntentTaskExecution:
		if len(m.RelatedWorkflows) > 0 {
			return 1.0
		}
		return 0.5
	case IntentPolicyClarification:
		if m.Sensitivity == store.SensitivityLegal {
			return 1.0
		}
		return 0.5
	case IntentAccessRequest:
		if m.Sensitivity == store.SensitivitySecurity {
			return 1.0
		}
		return 0.5
	case IntentInformationSeeking, IntentTroubleshooting:
		return 0.75
	default:
		return 0.5
	}
}

// timingScore rewards recently used memories and penalizes those nearing
// expiration. Linear expiry decay starts at 80% of the policy lifetime.
func (s *Scorer) timingScore(m *store.Memory, now int64) float64 {
	ref := m.CreatedAt
	if m.LastAccessed != nil {
		ref = *m.LastAccessed
	}
	age := float64(now - ref)
	if age < 0 {
		age = 0
	}
	recency := math.Pow(0.5, age/float64(recencyHalfLife.Milliseconds()))
	if recency < 0.1 {
		recency = 0.1
	}

	expiry := 1.0
	if m.ExpiresAt > 0 && m.ExpiresAt > m.CreatedAt {
		lifetime := float64(m.ExpiresAt - m.CreatedAt)
		elapsed := float64(now - m.CreatedAt)
		if frac := elapsed / lifetime; frac > 0.8 {
			expiry = 1.0 - (frac-0.8)/0.2
			if expiry < 0 {
				expiry = 0
			}
		}
	}

	return clamp01(recency * expiry)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
