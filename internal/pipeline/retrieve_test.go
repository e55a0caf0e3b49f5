package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-orchestrator/internal/domain"
)

type fakeVector struct {
	mu      sync.Mutex
	byQuery map[string][]domain.Document
	err     error
	filters []*domain.SearchFilter
}

func (f *fakeVector) Search(ctx context.Context, query string, filter *domain.SearchFilter) ([]domain.Document, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.byQuery[query], nil
}

type fakeLexical struct {
	docs    []domain.Document
	err     error
	queries []string
}

func (f *fakeLexical) Search(ctx context.Context, query string, topK int) ([]domain.Document, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func retrievalState(t *testing.T, queries ...string) *State {
	t.Helper()
	st := mustState(t, queries[0])
	st.Queries = queries
	return st
}

func TestRetrieveDeduplicatesAcrossQueries(t *testing.T) {
	vec := &fakeVector{byQuery: map[string][]domain.Document{
		"original query text": {doc("a"), doc("b")},
		"paraphrase":          {doc("b"), doc("c")},
	}}
	stage := NewRetrieveStage(vec, nil, nil, DefaultPolicy(), discardLogger())

	st := retrievalState(t, "original query text", "paraphrase")
	outcome, err := stage.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, Continue, outcome)

	assert.Equal(t, []string{"a", "b", "c"}, ids(st.Docs))
	assert.Equal(t, 3, st.Metrics["docs"])
	assert.Equal(t, false, st.Metrics["rrf_on"])
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	policy := DefaultPolicy()
	policy.TopK = 2
	vec := &fakeVector{byQuery: map[string][]domain.Document{
		"the only query here": {doc("a"), doc("b"), doc("c"), doc("d")},
	}}
	stage := NewRetrieveStage(vec, nil, nil, policy, discardLogger())

	st := retrievalState(t, "the only query here")
	_, err := stage.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(st.Docs))
}

func TestRetrieveVectorFailureIsFatal(t *testing.T) {
	vec := &fakeVector{err: errors.New("connection refused")}
	stage := NewRetrieveStage(vec, nil, nil, DefaultPolicy(), discardLogger())

	st := retrievalState(t, "any query at all")
	outcome, err := stage.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, Divert, outcome)
	assert.True(t, strings.HasPrefix(st.Err, "retrieve_error: "), "got %q", st.Err)
	assert.Empty(t, st.Docs)
	assert.Equal(t, 0, st.Metrics["docs"])
}

func TestRetrieveLexicalFailureIsSoft(t *testing.T) {
	vec := &fakeVector{byQuery: map[string][]domain.Document{
		"resilient query text": {doc("a")},
	}}
	lex := &fakeLexical{err: errors.New("index rebuilding")}
	stage := NewRetrieveStage(vec, lex, nil, DefaultPolicy(), discardLogger())

	st := retrievalState(t, "resilient query text")
	outcome, err := stage.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, Continue, outcome)
	assert.Empty(t, st.Err)
	assert.Equal(t, []string{"a"}, ids(st.Docs))
	assert.Equal(t, false, st.Metrics["rrf_on"])
}

func TestRetrieveFusesLexicalRun(t *testing.T) {
	vec := &fakeVector{byQuery: map[string][]domain.Document{
		"hybrid query text ok": {doc("v1"), doc("shared")},
	}}
	lex := &fakeLexical{docs: []domain.Document{doc("shared"), doc("l1")}}
	stage := NewRetrieveStage(vec, lex, nil, DefaultPolicy(), discardLogger())

	st := retrievalState(t, "hybrid query text ok", "expansion text")
	_, err := stage.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, true, st.Metrics["rrf_on"])
	// Fusion emits kept documents in first-seen run order.
	assert.Equal(t, []string{"v1", "shared", "l1"}, ids(st.Docs))
	// The lexical run is issued for the original query only.
	assert.Equal(t, []string{"hybrid query text ok"}, lex.queries)
}

func TestRetrieveRRFDisabledByPolicy(t *testing.T) {
	policy := DefaultPolicy()
	policy.UseRRF = false
	vec := &fakeVector{byQuery: map[string][]domain.Document{
		"no fusion query text": {doc("a")},
	}}
	lex := &fakeLexical{docs: []domain.Document{doc("l1")}}
	stage := NewRetrieveStage(vec, lex, nil, policy, discardLogger())

	st := retrievalState(t, "no fusion query text")
	_, err := stage.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Empty(t, lex.queries)
	assert.Equal(t, []string{"a"}, ids(st.Docs))
}

func TestRetrieveBuildsFilterFromConfidentExtractions(t *testing.T) {
	vec := &fakeVector{byQuery: map[string][]domain.Document{
		"filtered query text!": {doc("a")},
	}}
	stage := NewRetrieveStage(vec, nil, nil, DefaultPolicy(), discardLogger())

	st := retrievalState(t, "filtered query text!")
	st.Extracted = []map[string]any{
		{"hostname": "ignored-host", "confidence": 0.5},
		{"hostname": "web-01", "service": "payments-api", "confidence": 0.9},
		{"error_code": "E5001", "confidence": 0.8},
	}

	_, err := stage.Run(context.Background(), st)
	require.NoError(t, err)

	require.Len(t, vec.filters, 1)
	filter := vec.filters[0]
	require.NotNil(t, filter)
	assert.Equal(t, "web-01", filter.Hostname)
	assert.Equal(t, "payments-api", filter.Service)
	assert.Equal(t, "E5001", filter.ErrorCode)
	assert.Equal(t, true, st.Metrics["filter_applied"])
}

func TestRetrieveNoFilterWhenLowConfidence(t *testing.T) {
	vec := &fakeVector{byQuery: map[string][]domain.Document{
		"unfiltered query ok!": {doc("a")},
	}}
	stage := NewRetrieveStage(vec, nil, nil, DefaultPolicy(), discardLogger())

	st := retrievalState(t, "unfiltered query ok!")
	st.Extracted = []map[string]any{{"hostname": "web-01", "confidence": 0.7}}

	_, err := stage.Run(context.Background(), st)
	require.NoError(t, err)

	require.Len(t, vec.filters, 1)
	assert.Nil(t, vec.filters[0])
	assert.NotContains(t, st.Metrics, "filter_applied")
}
