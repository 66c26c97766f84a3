package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lazypower/surfacer/internal/config"
	"github.com/lazypower/surfacer/internal/store"
)

var (
	// ErrRetrievalTimeout means the memory store missed its deadline.
	// The evaluation fails closed: nothing is surfaced, nothing is retried.
	ErrRetrievalTimeout = errors.New("retrieval timeout")

	// ErrStoreUnavailable covers every other store failure on the query path.
	ErrStoreUnavailable = errors.New("memory store unavailable")
)

// MemoryStore is the consumed query interface. It returns only approved,
// unexpired memories that the requesting user may see, never below the
// similarity floor.
type MemoryStore interface {
	SearchSimilar(ctx context.Context, query []float64, f store.SearchFilters, k int) ([]store.Candidate, error)
}

// Retriever embeds the raw input and queries the memory store under a
// bounded deadline.
type Retriever struct {
	store    MemoryStore
	embedder Embedder
	cfg      config.RetrievalConfig
}

// NewRetriever creates a candidate retriever.
func NewRetriever(ms MemoryStore, embedder Embedder, cfg config.RetrievalConfig) *Retriever {
	return &Retriever{store: ms, embedder: embedder, cfg: cfg}
}

// Retrieve returns up to k candidates above the similarity floor that the
// requesting user may see. The store call runs under its own deadline and
// off the caller's goroutine, so a hung store can neither block the
// evaluation past the timeout nor hold any engine state while waiting.
func (r *Retriever) Retrieve(ctx context.Context, c Context, now int64) ([]store.Candidate, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrStoreUnavailable)
	}

	queryVec, err := r.embedder.Embed(ctx, c.RawInput)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	timeout := time.Duration(r.cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	searchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	filters := store.SearchFilters{
		User:  c.User,
		Now:   now,
		Floor: r.cfg.SimilarityFloor,
	}
	k := r.cfg.K
	if k <= 0 {
		k = 20
	}

	type result struct {
		candidates []store.Candidate
		err        error
	}
	ch := make(chan result, 1)
	go func() {
		cands, err := r.store.SearchSimilar(searchCtx, queryVec, filters, k)
		ch <- result{cands, err}
	}()

	var candidates []store.Candidate
	select {
	case <-searchCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err() // caller canceled, not a store fault
		}
		return nil, ErrRetrievalTimeout
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return nil, ErrRetrievalTimeout
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, res.err)
		}
		candidates = res.candidates
	}

	// Defense in depth: the store already filters, but a candidate below
	// the floor or invisible to this user must never reach scoring.
	filtered := candidates[:0]
	for _, cand := range candidates {
		if cand.Similarity < r.cfg.SimilarityFloor {
			continue
		}
		if cand.Memory.EvaluateAccess(c.User) == store.AccessDeny {
			continue
		}
		filtered = append(filtered, cand)
	}
	return filtered, nil
}
