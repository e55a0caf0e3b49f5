package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-orchestrator/internal/domain"
)

type fakeExtractor struct {
	records []domain.ExtractedRecord
	err     error
}

func (f *fakeExtractor) BatchExtract(ctx context.Context, texts []string) ([]domain.ExtractedRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type captureRecorder struct {
	mu        sync.Mutex
	stages    []string
	diverted  map[string]bool
	terminals []string
}

func newCaptureRecorder() *captureRecorder {
	return &captureRecorder{diverted: map[string]bool{}}
}

func (r *captureRecorder) StageCompleted(stage string, _ time.Duration, diverted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
	r.diverted[stage] = diverted
}

func (r *captureRecorder) RunCompleted(terminal string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminals = append(r.terminals, terminal)
}

type captureSaver struct {
	threads   []string
	snapshots []map[string]any
}

func (s *captureSaver) Save(ctx context.Context, threadID string, snapshot map[string]any) error {
	s.threads = append(s.threads, threadID)
	s.snapshots = append(s.snapshots, snapshot)
	return nil
}

func happyDeps() Deps {
	return Deps{
		LLM: &fakeLLM{reply: "Answer grounded in [inc-1]."},
		Vector: &fakeVector{byQuery: map[string][]domain.Document{
			"為什麼系統會出現異常": {doc("inc-1"), doc("inc-2")},
		}},
	}
}

func TestRunSuccessPathTerminatesAtValidate(t *testing.T) {
	rec := newCaptureRecorder()
	o := New(happyDeps(), DefaultPolicy(), discardLogger(), WithRecorder(rec))

	st := mustState(t, "為什麼系統會出現異常")
	result, err := o.Run(context.Background(), st, RunOptions{})
	require.NoError(t, err)

	// The ambiguous Chinese query routes deep, retrieval sees the original
	// query first, and the run ends on the success terminal.
	assert.Equal(t, RouteDeep, result.Route)
	assert.Equal(t, "為什麼系統會出現異常", result.Queries[0])
	assert.Equal(t, "Answer grounded in [inc-1].", result.Answer)
	assert.Empty(t, result.Err)
	assert.Equal(t, "validate", result.Metrics["terminal_stage"])
	assert.Equal(t, []string{"plan", "retrieve", "synthesize", "validate"}, rec.stages)
	assert.Equal(t, []string{"validate"}, rec.terminals)
}

func TestRunGeneratesRequestID(t *testing.T) {
	o := New(happyDeps(), DefaultPolicy(), discardLogger())

	st := mustState(t, "為什麼系統會出現異常")
	result, err := o.Run(context.Background(), st, RunOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Metrics["request_id"])
}

func TestRunRetrievalFailureEndsOnErrorHandler(t *testing.T) {
	deps := happyDeps()
	deps.Vector = &fakeVector{err: errors.New("vector store unavailable")}
	rec := newCaptureRecorder()
	o := New(deps, DefaultPolicy(), discardLogger(), WithRecorder(rec))

	st := mustState(t, "為什麼系統會出現異常")
	result, err := o.Run(context.Background(), st, RunOptions{})
	require.NoError(t, err)

	assert.Contains(t, result.Err, "retrieve_error")
	assert.Empty(t, result.Docs)
	assert.Contains(t, result.Answer, "Retrieval from the incident knowledge base failed")
	assert.Equal(t, "error_handler", result.Metrics["terminal_stage"])
	assert.True(t, rec.diverted["retrieve"])
	// Synthesize and validate never run on the error path.
	assert.NotContains(t, rec.stages, "synthesize")
	assert.NotContains(t, rec.stages, "validate")
}

func TestRunExtractFailureSkipsStraightToErrorHandler(t *testing.T) {
	deps := happyDeps()
	deps.Extractor = &fakeExtractor{err: errors.New("parser blew up")}
	o := New(deps, DefaultPolicy(), discardLogger())

	st, err := NewState("為什麼系統會出現異常", []string{"ERROR host=web-01"})
	require.NoError(t, err)

	result, rerr := o.Run(context.Background(), st, RunOptions{})
	require.NoError(t, rerr)

	assert.Contains(t, result.Err, "extract_error")
	assert.Contains(t, result.Answer, "Structured extraction")
	assert.Equal(t, "error_handler", result.Metrics["terminal_stage"])
	// Plan never ran, so no retrieval queries were produced.
	assert.Empty(t, result.Queries)
}

func TestRunExtractFeedsRetrievalFilter(t *testing.T) {
	vec := &fakeVector{byQuery: map[string][]domain.Document{
		"為什麼系統會出現異常": {doc("inc-1"), doc("inc-2")},
	}}
	deps := happyDeps()
	deps.Vector = vec
	deps.Extractor = &fakeExtractor{records: []domain.ExtractedRecord{{
		RawText:    "ERROR host=web-01 service=payments-api",
		Entities:   map[string]any{"hostname": "web-01", "service": "payments-api"},
		Confidence: 0.9,
	}}}
	o := New(deps, DefaultPolicy(), discardLogger())

	st, err := NewState("為什麼系統會出現異常", []string{"ERROR host=web-01 service=payments-api"})
	require.NoError(t, err)

	result, rerr := o.Run(context.Background(), st, RunOptions{})
	require.NoError(t, rerr)

	assert.Empty(t, result.Err)
	require.NotEmpty(t, vec.filters)
	require.NotNil(t, vec.filters[0])
	assert.Equal(t, "web-01", vec.filters[0].Hostname)
	require.Len(t, result.Extracted, 1)
	assert.Equal(t, "ERROR host=web-01 service=payments-api", result.Extracted[0]["_raw"])
}

func TestRunSynthesizeFallbackSurvivesErrorHandler(t *testing.T) {
	deps := happyDeps()
	deps.LLM = &fakeLLM{err: errors.New("model timeout")}
	policy := DefaultPolicy()
	o := New(deps, policy, discardLogger())

	st := mustState(t, "為什麼系統會出現異常")
	result, err := o.Run(context.Background(), st, RunOptions{})
	require.NoError(t, err)

	assert.Contains(t, result.Err, "synthesize_error")
	assert.Equal(t, policy.FallbackText, result.Answer)
	assert.Equal(t, true, result.Metrics["fallback_preserved"])
	assert.Equal(t, "error_handler", result.Metrics["terminal_stage"])
}

func TestRunSavesCheckpointsPerStage(t *testing.T) {
	saver := &captureSaver{}
	o := New(happyDeps(), DefaultPolicy(), discardLogger(), WithCheckpointSaver(saver))

	st := mustState(t, "為什麼系統會出現異常")
	_, err := o.Run(context.Background(), st, RunOptions{ThreadID: "th-1"})
	require.NoError(t, err)

	// One snapshot per executed stage, all under the same thread.
	require.Len(t, saver.snapshots, 4)
	for _, thread := range saver.threads {
		assert.Equal(t, "th-1", thread)
	}
	assert.Equal(t, "為什麼系統會出現異常", saver.snapshots[0]["query"])

	// The last snapshot can be restored into a terminal state.
	restored, err := Restore(saver.snapshots[len(saver.snapshots)-1])
	require.NoError(t, err)
	assert.Equal(t, "Answer grounded in [inc-1].", restored.Answer)
}

func TestRunNoCheckpointsWithoutThreadID(t *testing.T) {
	saver := &captureSaver{}
	o := New(happyDeps(), DefaultPolicy(), discardLogger(), WithCheckpointSaver(saver))

	st := mustState(t, "為什麼系統會出現異常")
	_, err := o.Run(context.Background(), st, RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, saver.snapshots)
}
