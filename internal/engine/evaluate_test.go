package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lazypower/surfacer/internal/config"
	"github.com/lazypower/surfacer/internal/store"
)

// newTestEngine seeds a corpus, builds the TF-IDF embedder over it, and
// wires a full engine. Vectors are written after every memory exists since
// the fallback vocabulary depends on the whole corpus.
func newTestEngine(t *testing.T, users []store.User, memories []*store.Memory) (*Engine, *store.DB) {
	t.Helper()
	db := testStore(t)

	for _, u := range users {
		require.NoError(t, db.PutUser(u))
	}
	for _, m := range memories {
		m.Status = store.StatusApproved
		require.NoError(t, db.CreateMemory(m))
	}

	emb, err := NewTFIDFEmbedder(db, 256)
	require.NoError(t, err)
	ctx := context.Background()
	for _, m := range memories {
		vec, err := emb.Embed(ctx, EmbeddingText(m))
		require.NoError(t, err)
		require.NoError(t, db.SaveVector(m.ID, vec, emb.Model()))
	}

	cfg := config.Default()
	eng := New(db, emb, cfg, zap.NewNop(), nil)
	return eng, db
}

func surfacingFixture(t *testing.T) (*Engine, *store.DB) {
	users := []store.User{
		{ID: "dana", Role: "engineer", Department: "it", Clearance: store.ClearanceInternal},
		{ID: "pat", Role: "temp", Department: "it", Clearance: store.ClearancePublic},
	}
	memories := []*store.Memory{
		{
			ID:                "vendor",
			CanonicalQuestion: "How do I submit a vendor onboarding request?",
			Answer:            "Open the vendor portal and file the onboarding form.",
			Departments:       []string{"it"},
			MinClearance:      store.ClearanceInternal,
			RelatedWorkflows:  []string{"vendor-onboarding"},
			AuthorityScore:    0.9,
		},
		{
			ID:                "cafeteria",
			CanonicalQuestion: "Where is the cafeteria menu published?",
			Answer:            "On the intranet food page.",
			MinClearance:      store.ClearancePublic,
		},
		{
			ID:                "incident",
			CanonicalQuestion: "Who is the security incident escalation contact?",
			Answer:            "Page the on-call security lead.",
			Departments:       []string{"it"},
			MinClearance:      store.ClearanceConfidential,
			RedactBelow:       true,
			Sensitivity:       store.SensitivitySecurity,
			AuthorityScore:    0.9,
		},
	}
	return newTestEngine(t, users, memories)
}

func TestEvaluateSurfacesMatch(t *testing.T) {
	eng, _ := surfacingFixture(t)

	d, err := eng.Evaluate(context.Background(), RawEvent{
		Platform: "slack",
		RawInput: "How do I submit a vendor onboarding request?",
		UserID:   "dana",
	})
	require.NoError(t, err)

	assert.True(t, d.ShouldSurface)
	assert.Equal(t, ModeSingle, d.Mode)
	assert.Equal(t, MethodInline, d.Method)
	require.Len(t, d.Memories, 1)
	assert.Equal(t, "vendor", d.Memories[0].ID)
	assert.NotEmpty(t, d.Memories[0].Answer)
	assert.GreaterOrEqual(t, d.Confidence, 0.85)
	assert.False(t, d.Indicator)
	assert.NotEmpty(t, d.Fingerprint)
}

func TestEvaluateDeterministic(t *testing.T) {
	eng, _ := surfacingFixture(t)

	ev := RawEvent{
		Platform: "slack",
		RawInput: "How do I submit a vendor onboarding request?",
		UserID:   "dana",
	}
	first, err := eng.Evaluate(context.Background(), ev)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := eng.Evaluate(context.Background(), ev)
		require.NoError(t, err)

		// Scores drift by nanoseconds of recency between calls; everything
		// discrete must be byte-for-byte identical.
		assert.Equal(t, first.ShouldSurface, again.ShouldSurface)
		assert.Equal(t, first.Mode, again.Mode)
		assert.Equal(t, first.Method, again.Method)
		assert.Equal(t, first.Fingerprint, again.Fingerprint)
		require.Len(t, again.Memories, len(first.Memories))
		for j := range first.Memories {
			assert.Equal(t, first.Memories[j].ID, again.Memories[j].ID)
			assert.InDelta(t, first.Memories[j].Score, again.Memories[j].Score, 1e-6)
		}
		assert.InDelta(t, first.Confidence, again.Confidence, 1e-6)
	}
}

func TestEvaluateSuppressesNoMatch(t *testing.T) {
	eng, _ := surfacingFixture(t)

	d, err := eng.Evaluate(context.Background(), RawEvent{
		Platform: "slack",
		RawInput: "zebra telescope xylophone",
		UserID:   "dana",
	})
	require.NoError(t, err)

	assert.False(t, d.ShouldSurface)
	assert.Equal(t, ModeSuppressed, d.Mode)
	assert.Equal(t, MethodNone, d.Method)
	assert.Empty(t, d.Memories)
}

func TestEvaluateRedactsBelowClearance(t *testing.T) {
	eng, _ := surfacingFixture(t)

	d, err := eng.Evaluate(context.Background(), RawEvent{
		Platform: "slack",
		RawInput: "Who is the security incident escalation contact?",
		UserID:   "dana", // internal, one level short of confidential
	})
	require.NoError(t, err)

	require.True(t, d.ShouldSurface)
	require.Len(t, d.Memories, 1)
	assert.Equal(t, "incident", d.Memories[0].ID)
	assert.True(t, d.Memories[0].Redacted)
	assert.Empty(t, d.Memories[0].Answer, "redacted memories must not leak content")
}

func TestEvaluateDeniesTwoLevelsShort(t *testing.T) {
	eng, _ := surfacingFixture(t)

	d, err := eng.Evaluate(context.Background(), RawEvent{
		Platform: "slack",
		RawInput: "Who is the security incident escalation contact?",
		UserID:   "pat", // public, two levels short
	})
	require.NoError(t, err)

	for _, m := range d.Memories {
		assert.NotEqual(t, "incident", m.ID)
	}
}

func TestEvaluateUnknownUserSeesOnlyPublic(t *testing.T) {
	eng, _ := surfacingFixture(t)

	d, err := eng.Evaluate(context.Background(), RawEvent{
		Platform: "slack",
		RawInput: "How do I submit a vendor onboarding request?",
		UserID:   "total-stranger",
	})
	require.NoError(t, err)

	// The vendor memory needs internal clearance; an unknown requester
	// degrades to public and must not see it.
	for _, m := range d.Memories {
		assert.NotEqual(t, "vendor", m.ID)
	}
}

func TestEvaluateCallerCancel(t *testing.T) {
	eng, _ := surfacingFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := eng.Evaluate(ctx, RawEvent{
		Platform: "slack",
		RawInput: "How do I submit a vendor onboarding request?",
		UserID:   "dana",
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, d.ShouldSurface)
}

func TestEvaluateMissingPlatformStillEvaluates(t *testing.T) {
	eng, _ := surfacingFixture(t)

	d, err := eng.Evaluate(context.Background(), RawEvent{
		RawInput: "How do I submit a vendor onboarding request?",
		UserID:   "dana",
	})
	require.NoError(t, err)

	// Degraded platform metadata lowers confidence signals but does not
	// block surfacing; the fallback method applies.
	require.True(t, d.ShouldSurface)
	assert.Equal(t, MethodTooltip, d.Method)
}

func TestEvaluateStitchesWorkflowChain(t *testing.T) {
	users := []store.User{
		{ID: "dana", Role: "engineer", Department: "it", Clearance: store.ClearanceInternal},
	}
	memories := []*store.Memory{
		{
			ID:                "step1",
			CanonicalQuestion: "How do I start the laptop refresh process?",
			Answer:            "File the refresh request.",
			Departments:       []string{"it"},
			MinClearance:      store.ClearanceInternal,
			RelatedWorkflows:  []string{"laptop-refresh"},
			WorkflowStep:      1,
			AuthorityScore:    0.4,
		},
		{
			ID:                "step2",
			CanonicalQuestion: "Who approves the laptop refresh process request?",
			Answer:            "Your manager approves it.",
			Departments:       []string{"it"},
			MinClearance:      store.ClearanceInternal,
			RelatedWorkflows:  []string{"laptop-refresh"},
			WorkflowStep:      2,
			AuthorityScore:    0.4,
		},
	}
	eng, _ := newTestEngine(t, users, memories)

	d, err := eng.Evaluate(context.Background(), RawEvent{
		Platform: "slack",
		RawInput: "what are the steps of the laptop refresh process workflow",
		UserID:   "dana",
	})
	require.NoError(t, err)

	require.True(t, d.ShouldSurface)
	assert.Equal(t, ModeStitched, d.Mode)
	require.Len(t, d.Memories, 2)
	assert.Equal(t, "step1", d.Memories[0].ID)
	assert.Equal(t, "step2", d.Memories[1].ID)
	assert.False(t, d.Memories[0].Bridge)
	assert.True(t, d.Memories[1].Bridge)

	// Weakest link: confidence can never exceed either member's score.
	for _, m := range d.Memories {
		assert.LessOrEqual(t, d.Confidence, m.Score)
	}
}
