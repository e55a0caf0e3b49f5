package pipeline

import "fmt"

// Policy holds the tunable knobs for one pipeline configuration. The zero
// value is not useful; start from DefaultPolicy and override.
type Policy struct {
	// UseHyDE generates a hypothetical answer passage as an extra retrieval
	// query on the deep route.
	UseHyDE bool
	// UseMultiQuery generates paraphrased retrieval queries on the deep route.
	UseMultiQuery bool
	// MultiQueryAlts is the number of paraphrases requested.
	MultiQueryAlts int

	// TopK caps the retrieved document set.
	TopK int
	// UseRRF fuses vector results with the lexical run via Reciprocal Rank
	// Fusion. Requires a lexical searcher to be configured.
	UseRRF bool
	// RRFC is the RRF damping constant. Standard value is 60.
	RRFC float64
	// MinConfidence gates whether extraction results are turned into a
	// metadata search filter.
	MinConfidence float64

	// MaxCtxChars bounds the assembled context block.
	MaxCtxChars int
	// StrictCitation appends a disclaimer when the answer shows no citation
	// trace. A crude textual heuristic, not a citation verifier.
	StrictCitation bool
	// FallbackText is the answer used when generation fails.
	FallbackText string

	// MinDocs and MinAnswerLen are the advisory validation thresholds.
	MinDocs      int
	MinAnswerLen int
}

// DefaultPolicy returns the defaults used when a knob is left unset.
func DefaultPolicy() Policy {
	return Policy{
		MultiQueryAlts: 2,
		TopK:           8,
		RRFC:           60.0,
		MinConfidence:  0.7,
		MaxCtxChars:    6000,
		StrictCitation: true,
		FallbackText:   "The system is busy; here is a brief conclusion for now, a full report will follow.",
		MinDocs:        2,
		MinAnswerLen:   40,
	}
}

// Validate checks that the policy values are within acceptable ranges.
func (p Policy) Validate() error {
	if p.TopK <= 0 {
		return fmt.Errorf("topK must be positive, got %d", p.TopK)
	}
	if p.MultiQueryAlts < 0 {
		return fmt.Errorf("multiQueryAlts must be non-negative, got %d", p.MultiQueryAlts)
	}
	if p.RRFC <= 0 {
		return fmt.Errorf("rrf constant must be positive, got %f", p.RRFC)
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("minConfidence must be in [0.0, 1.0], got %f", p.MinConfidence)
	}
	if p.MaxCtxChars <= 0 {
		return fmt.Errorf("maxCtxChars must be positive, got %d", p.MaxCtxChars)
	}
	if p.MinDocs < 0 {
		return fmt.Errorf("minDocs must be non-negative, got %d", p.MinDocs)
	}
	if p.MinAnswerLen < 0 {
		return fmt.Errorf("minAnswerLen must be non-negative, got %d", p.MinAnswerLen)
	}
	return nil
}

// maxQueries is the cap on the retrieval query list for this policy:
// the original query, the paraphrases, and headroom for the HyDE passage.
func (p Policy) maxQueries() int {
	n := 1 + p.MultiQueryAlts
	if p.UseHyDE {
		n += 2
	}
	return n
}
