package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/lazypower/surfacer/internal/store"
)

// Platforms the extractor recognizes.
const (
	PlatformSlack   = "slack"
	PlatformEmail   = "email"
	PlatformForm    = "form"
	PlatformBrowser = "browser"
	PlatformOther   = "other"
)

// Intent taxonomy. Classification below minIntentConfidence collapses to
// IntentOther with zero confidence.
const (
	IntentInformationSeeking  = "information_seeking"
	IntentTaskExecution       = "task_execution"
	IntentAccessRequest       = "access_request"
	IntentPolicyClarification = "policy_clarification"
	IntentTroubleshooting     = "troubleshooting"
	IntentOther               = "other"
)

const minIntentConfidence = 0.3

// ErrUnknownPlatform means the event carried no platform metadata.
var ErrUnknownPlatform = errors.New("unknown platform")

// RawEvent is one interaction as delivered by the outside world.
type RawEvent struct {
	Platform string
	RawInput string
	UserID   string
}

// Signals are the derived, per-confidence context signals.
type Signals struct {
	AppDetectionConfidence float64 `json:"app_detection_confidence"`
	IntentClass            string  `json:"intent_class"`
	IntentConfidence       float64 `json:"intent_confidence"`
	TemporalUrgency        float64 `json:"temporal_urgency"`
	WorkflowStage          bool    `json:"workflow_stage"`
	WorkflowConfidence     float64 `json:"workflow_confidence"`
}

// Context is the structured view of one interaction. Created per request,
// never persisted; only Fingerprint() leaves the decision's lifetime.
type Context struct {
	Platform string
	RawInput string
	User     store.User
	Signals  Signals
}

// Fingerprint returns an anonymized digest of the context suitable for
// feedback correlation and logs. Raw input and user id never appear in it.
func (c *Context) Fingerprint() string {
	h := sha256.Sum256([]byte(c.Platform + "|" + c.Signals.IntentClass))
	return hex.EncodeToString(h[:8])
}

// Directory resolves user ids to identities. Implemented by the store;
// external deployments plug in their own.
type Directory interface {
	ResolveUser(ctx context.Context, userID string) (store.User, error)
}

var knownPlatforms = map[string]bool{
	PlatformSlack:   true,
	PlatformEmail:   true,
	PlatformForm:    true,
	PlatformBrowser: true,
	PlatformOther:   true,
}

// intentKeywords drive the fixed-taxonomy classifier. Each hit votes for
// its class; confidence is the winning share of total hits.
var intentKeywords = map[string][]string{
	IntentInformationSeeking:  {"what", "where", "who", "when", "which", "explain", "describe", "overview"},
	IntentTaskExecution:       {"how", "submit", "create", "start", "complete", "process", "steps", "approval", "request", "workflow"},
	IntentAccessRequest:       {"access", "permission", "grant", "unlock", "credentials", "login", "account"},
	IntentPolicyClarification: {"policy", "allowed", "rule", "compliance", "legal", "guideline", "regulation"},
	IntentTroubleshooting:     {"error", "broken", "failed", "fix", "issue", "problem", "debug", "wrong"},
}

var urgencyKeywords = []string{"urgent", "asap", "immediately", "deadline", "today", "now", "critical"}

// workflowKeywords signal a multi-step workflow query, the stitcher trigger.
var workflowKeywords = []string{"process", "steps", "workflow", "procedure", "approval", "then", "chain", "end-to-end"}

// Extractor turns raw interaction events into structured contexts.
type Extractor struct {
	directory Directory
}

// NewExtractor creates a context extractor backed by the given directory.
func NewExtractor(directory Directory) *Extractor {
	return &Extractor{directory: directory}
}

// Extract builds a Context from a raw event. An unrecognized user degrades
// to a minimally privileged context rather than failing the evaluation;
// missing platform metadata degrades to "other" with zero app confidence.
func (e *Extractor) Extract(ctx context.Context, ev RawEvent) (Context, error) {
	out := Context{RawInput: ev.RawInput}

	platform := strings.ToLower(strings.TrimSpace(ev.Platform))
	switch {
	case platform == "":
		out.Platform = PlatformOther
		out.Signals.AppDetectionConfidence = 0
	case knownPlatforms[platform]:
		out.Platform = platform
		out.Signals.AppDetectionConfidence = 1.0
	default:
		out.Platform = PlatformOther
		out.Signals.AppDetectionConfidence = 0
	}

	user, err := e.directory.ResolveUser(ctx, ev.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrUnknownUser) {
			return out, err
		}
		// Least privilege: keep the id for feedback routing, nothing else.
		user = store.User{ID: ev.UserID, Clearance: store.ClearancePublic}
	}
	out.User = user

	out.Signals.IntentClass, out.Signals.IntentConfidence = classifyIntent(ev.RawInput)
	out.Signals.TemporalUrgency = urgencyScore(ev.RawInput)
	out.Signals.WorkflowStage, out.Signals.WorkflowConfidence = workflowSignal(ev.RawInput)

	if platform == "" {
		return out, ErrUnknownPlatform
	}
	return out, nil
}

// classifyIntent votes keyword hits into the taxonomy. Ties break in a
// fixed class order so classification stays deterministic.
func classifyIntent(input string) (string, float64) {
	tokens := tokenize(input)
	if len(tokens) == 0 {
		return IntentOther, 0
	}

	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}

	order := []string{
		IntentTroubleshooting,
		IntentAccessRequest,
		IntentPolicyClarification,
		IntentTaskExecution,
		IntentInformationSeeking,
	}

	total := 0
	hits := make(map[string]int)
	for class, words := range intentKeywords {
		for _, w := range words {
			if tokenSet[w] {
				hits[class]++
				total++
			}
		}
	}
	if total == 0 {
		return IntentOther, 0
	}

	best, bestHits := IntentOther, 0
	for _, class := range order {
		if hits[class] > bestHits {
			best, bestHits = class, hits[class]
		}
	}

	confidence := float64(bestHits) / float64(total)
	// Single-hit queries still carry signal; scale by coverage so a lone
	// stopword match doesn't claim full confidence.
	if bestHits == 1 && total == 1 {
		confidence = 0.6
	}
	if confidence < minIntentConfidence {
		return IntentOther, 0
	}
	return best, confidence
}

func urgencyScore(input string) float64 {
	tokens := tokenize(input)
	for _, t := range tokens {
		for _, u := range urgencyKeywords {
			if t == u {
				return 1.0
			}
		}
	}
	return 0
}

func workflowSignal(input string) (bool, float64) {
	tokens := tokenize(input)
	hits := 0
	for _, t := range tokens {
		for _, w := range workflowKeywords {
			if t == w {
				hits++
				break
			}
		}
	}
	if hits == 0 {
		return false, 0
	}
	conf := 0.5 + 0.25*float64(hits-1)
	if conf > 1 {
		conf = 1
	}
	return true, conf
}
