package store

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Candidate is a retrievable memory with its raw query similarity.
type Candidate struct {
	Memory     Memory
	Similarity float64
	Access     Access // allow or redact; denied candidates never leave the store
}

// SearchFilters bound what a similarity search may return.
type SearchFilters struct {
	User  User    // requester; denied memories are filtered before return
	Now   int64   // unix ms used for the expiration check
	Floor float64 // hard similarity floor, candidates below it are dropped
}

// SearchSimilar returns the top-k approved, unexpired, access-eligible
// memories by cosine similarity to the query embedding. Results are ordered
// by similarity descending with memory id as the final tie-break, so equal
// inputs produce equal output.
func (db *DB) SearchSimilar(ctx context.Context, query []float64, f SearchFilters, k int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vectors, err := db.AllVectors()
	if err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	memories, err := db.ListApproved(f.Now)
	if err != nil {
		return nil, fmt.Errorf("list approved: %w", err)
	}
	byID := make(map[string]Memory, len(memories))
	for _, m := range memories {
		byID[m.ID] = m
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, v := range vectors {
		m, ok := byID[v.MemoryID]
		if !ok {
			continue // vector for a non-retrievable memory
		}
		access := m.EvaluateAccess(f.User)
		if access == AccessDeny {
			continue
		}
		sim := CosineSimilarity(query, v.Embedding)
		if sim < f.Floor {
			continue
		}
		candidates = append(candidates, Candidate{Memory: m, Similarity: sim, Access: access})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].Memory.ID < candidates[j].Memory.ID
	})

	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Works on unnormalized vectors; mismatched lengths score zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
