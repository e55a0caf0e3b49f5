package pipeline

import (
	"sort"

	"incident-orchestrator/internal/domain"
)

// FuseFunc merges N ranked document runs into a single ranked list of at
// most k documents.
type FuseFunc func(runs [][]domain.Document, k int, c float64) []domain.Document

// Fuse combines ranked runs with Reciprocal Rank Fusion: every document at
// 1-based rank r in a run contributes 1/(c+r) to its identifier's score.
// RRF needs only ranks, never calibrated relevance scores, which makes it
// safe to combine heterogeneous sources such as vector similarity and BM25.
//
// The output preserves first-seen run order among the kept identifiers
// instead of re-sorting emitted documents by fused score: after selecting
// the top-k identifiers, the runs are re-walked in their original order and
// each kept document is emitted the first time it appears.
func Fuse(runs [][]domain.Document, k int, c float64) []domain.Document {
	if k <= 0 || len(runs) == 0 {
		return nil
	}

	// Pass 1: accumulate reciprocal-rank scores per identifier. A document
	// appearing twice within the same run contributes both ranks.
	scores := make(map[string]float64)
	order := make([]string, 0)
	for _, run := range runs {
		for rank, doc := range run {
			id := doc.ID()
			if _, seen := scores[id]; !seen {
				order = append(order, id)
			}
			scores[id] += 1.0 / (c + float64(rank+1))
		}
	}

	// Select the keep set: top-k identifiers by fused score. Ties keep
	// first-seen order so selection stays deterministic.
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})
	if len(order) > k {
		order = order[:k]
	}
	keep := make(map[string]struct{}, len(order))
	for _, id := range order {
		keep[id] = struct{}{}
	}

	// Pass 2: re-walk the runs and emit kept documents in first-seen order.
	out := make([]domain.Document, 0, k)
	emitted := make(map[string]struct{}, k)
	for _, run := range runs {
		for _, doc := range run {
			id := doc.ID()
			if _, ok := keep[id]; !ok {
				continue
			}
			if _, dup := emitted[id]; dup {
				continue
			}
			out = append(out, doc)
			emitted[id] = struct{}{}
			if len(out) >= k {
				return out
			}
		}
	}
	return out
}
