package pipeline

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"incident-orchestrator/internal/domain"
)

// RetrieveStage fans the planned queries out to the vector searcher,
// deduplicates the merged results, and optionally fuses in a lexical (BM25)
// run via Reciprocal Rank Fusion.
type RetrieveStage struct {
	vector  domain.VectorSearcher
	lexical domain.LexicalSearcher
	fuse    FuseFunc
	policy  Policy
	logger  *slog.Logger
}

// NewRetrieveStage builds the retriever. The lexical searcher may be nil;
// a nil fuse function defaults to RRF.
func NewRetrieveStage(
	vector domain.VectorSearcher,
	lexical domain.LexicalSearcher,
	fuse FuseFunc,
	policy Policy,
	logger *slog.Logger,
) *RetrieveStage {
	if fuse == nil {
		fuse = Fuse
	}
	return &RetrieveStage{vector: vector, lexical: lexical, fuse: fuse, policy: policy, logger: logger}
}

func (s *RetrieveStage) Name() string { return "retrieve" }

func (s *RetrieveStage) Run(ctx context.Context, st *State) (Outcome, error) {
	topK := s.policy.TopK
	filter := s.buildFilter(st)

	// Vector searches for the expanded queries run concurrently. Results
	// are collected by query index so the merge below sees them in
	// submission order; the first-seen dedup tie-break must not depend on
	// goroutine completion order.
	runs := make([][]domain.Document, len(st.Queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range st.Queries {
		g.Go(func() error {
			docs, err := s.vector.Search(gctx, q, filter)
			if err != nil {
				return err
			}
			if len(docs) > topK {
				docs = docs[:topK]
			}
			runs[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Vector search is the primary path: any failure aborts retrieval.
		st.Docs = nil
		st.fail(s.Name(), err)
		st.setMetric("docs", 0)
		return Divert, nil
	}

	var merged []domain.Document
	for _, run := range runs {
		merged = append(merged, run...)
	}
	deduped := uniqueByID(merged)

	useRRF := s.policy.UseRRF && s.lexical != nil
	final := deduped
	if len(final) > topK {
		final = final[:topK]
	}

	if useRRF {
		// The lexical run is an enhancement, deliberately issued for the
		// original query only, and its failure never aborts retrieval.
		lexDocs, err := s.lexical.Search(ctx, st.Queries[0], topK)
		if err != nil {
			s.logger.Warn("lexical_search_failed",
				slog.String("query", st.Queries[0]),
				slog.String("error", err.Error()))
			useRRF = false
		} else {
			if len(lexDocs) > topK {
				lexDocs = lexDocs[:topK]
			}
			final = s.fuse([][]domain.Document{final, lexDocs}, topK, s.policy.RRFC)
		}
	}

	st.Docs = final
	st.setMetric("docs", len(final))
	st.setMetric("rrf_on", useRRF)
	s.logger.Info("retrieval_completed",
		slog.Int("query_count", len(st.Queries)),
		slog.Int("doc_count", len(final)),
		slog.Bool("rrf_on", useRRF))
	return Continue, nil
}

// buildFilter turns high-confidence extraction results into a per-call
// search filter. Low-confidence extractions are ignored rather than risking
// an over-narrow search.
func (s *RetrieveStage) buildFilter(st *State) *domain.SearchFilter {
	var f domain.SearchFilter
	for _, entry := range st.Extracted {
		conf, _ := entry["confidence"].(float64)
		if conf <= s.policy.MinConfidence {
			continue
		}
		if f.Hostname == "" {
			if v, ok := entry["hostname"].(string); ok {
				f.Hostname = v
			}
		}
		if f.Service == "" {
			if v, ok := entry["service"].(string); ok {
				f.Service = v
			}
		}
		if f.ErrorCode == "" {
			if v, ok := entry["error_code"].(string); ok {
				f.ErrorCode = v
			}
		}
	}
	if f.Empty() {
		return nil
	}
	st.setMetric("filter_applied", true)
	return &f
}

// uniqueByID drops documents whose resolved identifier was already seen,
// preserving first-seen order. This is the plain global dedup, distinct from
// the rank-aware dedup inside RRF.
func uniqueByID(docs []domain.Document) []domain.Document {
	seen := make(map[string]struct{}, len(docs))
	out := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		id := d.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, d)
	}
	return out
}
