package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"incident-orchestrator/internal/domain"
)

// Route is the planner's decision on how much query-expansion work to do
// before retrieval.
type Route string

const (
	RouteFast Route = "fast"
	RouteDeep Route = "deep"
)

// maxRawTextChars caps each raw input text mined for structured facts.
const maxRawTextChars = 5000

// rawKey is the private sub-key carrying the raw extraction payload inside
// each extracted-data entry.
const rawKey = "_raw"

// State is the mutable record threaded through all pipeline stages. It is
// created once per request, owned exclusively by that request's flow, and
// never shared.
type State struct {
	// Query is the original user query, immutable after creation.
	Query string
	// RawTexts are optional unstructured inputs to mine for structured facts.
	RawTexts []string
	// Extracted holds one entry per raw text: extracted fields plus a
	// confidence score and the raw payload under the "_raw" sub-key.
	Extracted []map[string]any
	// Route is decided once by the plan stage.
	Route Route
	// Queries are the retrieval queries; index 0 is always Query verbatim.
	Queries []string
	// Docs are the deduplicated, ranked candidates after retrieval.
	Docs []domain.Document
	// Context is the assembled text block derived from Docs.
	Context string
	// Answer is the final or fallback answer text.
	Answer string
	// Err signals a stage failure in "<stage>_error: <message>" form. Its
	// presence is the sole signal used for conditional routing.
	Err string
	// Metrics accumulates counters and flags written by each stage.
	Metrics map[string]any
}

// NewState builds a request state from the inbound query and optional raw
// texts. The query must be non-empty after trimming; raw texts are trimmed,
// blank entries dropped, and each capped at maxRawTextChars runes.
func NewState(query string, rawTexts []string) (*State, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, fmt.Errorf("query cannot be empty or whitespace only")
	}

	var texts []string
	for _, t := range rawTexts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if r := []rune(t); len(r) > maxRawTextChars {
			t = string(r[:maxRawTextChars])
		}
		texts = append(texts, t)
	}

	return &State{
		Query:    trimmed,
		RawTexts: texts,
		Route:    RouteFast,
		Metrics:  map[string]any{},
	}, nil
}

// fail records a stage failure in the canonical error format.
func (s *State) fail(stage string, err error) {
	s.Err = fmt.Sprintf("%s_error: %v", stage, err)
}

// setMetric writes one metrics entry, allocating the map on first use (a
// restored snapshot may carry a nil map).
func (s *State) setMetric(key string, value any) {
	if s.Metrics == nil {
		s.Metrics = map[string]any{}
	}
	s.Metrics[key] = value
}

// Snapshot serializes the state to a plain mapping keyed by field name, fit
// for checkpoint storage. The mapping round-trips through JSON.
func (s *State) Snapshot() map[string]any {
	docs := make([]map[string]any, 0, len(s.Docs))
	for _, d := range s.Docs {
		docs = append(docs, map[string]any{
			"content":  d.Content,
			"metadata": d.Metadata,
		})
	}
	return map[string]any{
		"query":          s.Query,
		"raw_texts":      s.RawTexts,
		"extracted_data": s.Extracted,
		"route":          string(s.Route),
		"queries":        s.Queries,
		"docs":           docs,
		"context":        s.Context,
		"answer":         s.Answer,
		"error":          s.Err,
		"metrics":        s.Metrics,
	}
}

// Restore rebuilds a State from a snapshot previously produced by Snapshot
// (possibly after a JSON round trip through a checkpoint store).
func Restore(snapshot map[string]any) (*State, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	var dto struct {
		Query     string           `json:"query"`
		RawTexts  []string         `json:"raw_texts"`
		Extracted []map[string]any `json:"extracted_data"`
		Route     string           `json:"route"`
		Queries   []string         `json:"queries"`
		Docs      []struct {
			Content  string         `json:"content"`
			Metadata map[string]any `json:"metadata"`
		} `json:"docs"`
		Context string         `json:"context"`
		Answer  string         `json:"answer"`
		Error   string         `json:"error"`
		Metrics map[string]any `json:"metrics"`
	}
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if strings.TrimSpace(dto.Query) == "" {
		return nil, fmt.Errorf("snapshot has no query")
	}

	st := &State{
		Query:     dto.Query,
		RawTexts:  dto.RawTexts,
		Extracted: dto.Extracted,
		Route:     Route(dto.Route),
		Queries:   dto.Queries,
		Context:   dto.Context,
		Answer:    dto.Answer,
		Err:       dto.Error,
		Metrics:   dto.Metrics,
	}
	if st.Route == "" {
		st.Route = RouteFast
	}
	if st.Metrics == nil {
		st.Metrics = map[string]any{}
	}
	for _, d := range dto.Docs {
		st.Docs = append(st.Docs, domain.Document{Content: d.Content, Metadata: d.Metadata})
	}
	return st, nil
}
