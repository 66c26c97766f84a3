package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/surfacer/internal/store"
)

// Presentation methods.
const (
	MethodInline  = "inline"
	MethodTooltip = "tooltip"
	MethodSidebar = "sidebar"
	MethodNone    = "none"
)

// Decision modes.
const (
	ModeSingle         = "single"
	ModeDisambiguation = "disambiguation"
	ModeStitched       = "stitched"
	ModeSuppressed     = "suppressed"
)

// SurfacedMemory is one memory reference in a decision. Redacted entries
// carry no answer payload; bridge markers flag transition points inside a
// stitched chain.
type SurfacedMemory struct {
	ID       string  `json:"id"`
	Question string  `json:"question"`
	Answer   string  `json:"answer,omitempty"`
	Score    float64 `json:"score"`
	Redacted bool    `json:"redacted,omitempty"`
	Bridge   bool    `json:"bridge,omitempty"`
}

// SurfacingDecision is the immutable output of one evaluation.
type SurfacingDecision struct {
	ShouldSurface bool             `json:"should_surface"`
	Memories      []SurfacedMemory `json:"memories,omitempty"`
	Confidence    float64          `json:"confidence"`
	Method        string           `json:"method"`
	Mode          string           `json:"mode"`
	Indicator     bool             `json:"confidence_indicator,omitempty"`
	Fingerprint   string           `json:"context_fingerprint,omitempty"`
}

func suppressed() SurfacingDecision {
	return SurfacingDecision{ShouldSurface: false, Method: MethodNone, Mode: ModeSuppressed}
}

// fullMethods maps platform to the primary presentation method.
var fullMethods = map[string]string{
	PlatformSlack:   MethodInline,
	PlatformEmail:   MethodSidebar,
	PlatformForm:    MethodTooltip,
	PlatformBrowser: MethodSidebar,
	PlatformOther:   MethodTooltip,
}

func methodFor(platform string, tier Tier) string {
	if tier == TierRelated {
		return MethodTooltip // related suggestions never take the primary slot
	}
	if m, ok := fullMethods[platform]; ok {
		return m
	}
	return MethodTooltip
}

// Evaluate runs the full decision pipeline for one interaction. Internal
// failures (unknown platform, store timeout, store outage) degrade to a
// suppressed decision; the caller cannot distinguish them from a
// legitimate low-confidence suppression, and that is deliberate.
func (e *Engine) Evaluate(ctx context.Context, ev RawEvent) (SurfacingDecision, error) {
	start := time.Now()
	now := start.UnixMilli()

	ectx, err := e.extractor.Extract(ctx, ev)
	if err != nil && !errors.Is(err, ErrUnknownPlatform) {
		e.logger.Warn("context extraction failed, suppressing",
			zap.String("fingerprint", ectx.Fingerprint()), zap.Error(err))
		return e.finish(suppressed(), ectx, start)
	}

	candidates, err := e.retriever.Retrieve(ctx, ectx, now)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return suppressed(), err // caller went away, nothing to log
		case errors.Is(err, ErrRetrievalTimeout):
			e.collector.ObserveRetrievalTimeout()
			e.logger.Warn("retrieval timed out, failing closed",
				zap.String("fingerprint", ectx.Fingerprint()))
		default:
			e.logger.Warn("retrieval failed, failing closed",
				zap.String("fingerprint", ectx.Fingerprint()), zap.Error(err))
		}
		return e.finish(suppressed(), ectx, start)
	}
	if len(candidates) == 0 {
		return e.finish(suppressed(), ectx, start)
	}

	scored := e.scorer.ScoreAll(ectx, candidates, now)

	st, err := e.db.GetThresholdState(ectx.User.ID, ectx.Fingerprint())
	if err != nil {
		e.logger.Warn("adaptive state lookup failed, using defaults", zap.Error(err))
		st = store.ThresholdState{}
	}

	survivors := e.gate.Apply(scored, st)
	if len(survivors) == 0 {
		return e.finish(suppressed(), ectx, start)
	}

	// Workflow queries with no dominant single answer go to the stitcher.
	if ectx.Signals.WorkflowStage && survivors[0].Score < e.cfg.Stitch.SoloScore {
		if result, ok := e.stitcher.Stitch(ectx, survivors, now); ok {
			return e.finish(e.stitchedDecision(ectx, result), ectx, start)
		}
	}

	picked, cluster := e.disambiguator.Resolve(ectx, survivors)
	if len(picked) == 0 {
		return e.finish(suppressed(), ectx, start)
	}

	mode := ModeSingle
	if cluster {
		mode = ModeDisambiguation
	}
	top := picked[0]
	decision := SurfacingDecision{
		ShouldSurface: true,
		Memories:      surfacedList(picked, false),
		Confidence:    top.Score,
		Method:        methodFor(ectx.Platform, top.Tier),
		Mode:          mode,
		Indicator:     top.Tier == TierIndicator || top.Tier == TierRelated,
		Fingerprint:   ectx.Fingerprint(),
	}
	return e.finish(decision, ectx, start)
}

func (e *Engine) stitchedDecision(c Context, result StitchResult) SurfacingDecision {
	return SurfacingDecision{
		ShouldSurface: true,
		Memories:      surfacedList(result.Members, true),
		Confidence:    result.Confidence,
		Method:        methodFor(c.Platform, TierFull),
		Mode:          ModeStitched,
		Indicator:     result.Confidence < e.cfg.Gate.FullBand,
		Fingerprint:   c.Fingerprint(),
	}
}

func surfacedList(members []GatedCandidate, bridges bool) []SurfacedMemory {
	out := make([]SurfacedMemory, 0, len(members))
	for i, m := range members {
		sm := SurfacedMemory{
			ID:       m.Memory.ID,
			Question: m.Memory.CanonicalQuestion,
			Answer:   m.Memory.Answer,
			Score:    m.Score,
			Bridge:   bridges && i > 0,
		}
		if m.Access == store.AccessRedact {
			sm.Answer = ""
			sm.Redacted = true
		}
		out = append(out, sm)
	}
	return out
}

func (e *Engine) finish(d SurfacingDecision, c Context, start time.Time) (SurfacingDecision, error) {
	if d.Fingerprint == "" {
		d.Fingerprint = c.Fingerprint()
	}
	e.collector.ObserveEvaluation(d.Mode, len(d.Memories), time.Since(start))
	e.logger.Debug("evaluation complete",
		zap.String("fingerprint", d.Fingerprint),
		zap.String("mode", d.Mode),
		zap.Bool("surfaced", d.ShouldSurface),
		zap.Float64("confidence", d.Confidence),
		zap.Int("memories", len(d.Memories)),
		zap.Duration("elapsed", time.Since(start)))
	return d, nil
}
