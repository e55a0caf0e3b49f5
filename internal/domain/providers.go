package domain

import "context"

// CompletionClient defines the capability to send a prompt to an LLM and
// receive the generated text.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// VectorEncoder defines the interface for generating embeddings.
type VectorEncoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// SearchFilter narrows a single vector search to chunks matching the given
// entity fields. The filter is a per-call parameter, never provider state, so
// concurrent searches with different filters stay independent.
type SearchFilter struct {
	Hostname  string
	Service   string
	ErrorCode string
}

// Empty reports whether the filter constrains nothing.
func (f SearchFilter) Empty() bool {
	return f.Hostname == "" && f.Service == "" && f.ErrorCode == ""
}

// VectorSearcher is the primary retrieval path: semantic search over the
// incident knowledge base. A nil filter means an unfiltered search.
type VectorSearcher interface {
	Search(ctx context.Context, query string, filter *SearchFilter) ([]Document, error)
}

// LexicalSearcher is the optional keyword (BM25) retrieval path, used only to
// enrich vector results via rank fusion. Failures here are never fatal.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]Document, error)
}

// ExtractedRecord is one structured-extraction result for a raw log or alert
// text.
type ExtractedRecord struct {
	RawText    string
	Entities   map[string]any
	Confidence float64
}

// Extractor mines structured incident facts (hostname, service, error code,
// resource usage) out of unstructured texts.
type Extractor interface {
	BatchExtract(ctx context.Context, texts []string) ([]ExtractedRecord, error)
}
