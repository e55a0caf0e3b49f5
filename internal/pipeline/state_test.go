package pipeline

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-orchestrator/internal/domain"
)

func TestNewStateValidation(t *testing.T) {
	_, err := NewState("", nil)
	require.Error(t, err)

	_, err = NewState("   \t\n", nil)
	require.Error(t, err)

	st, err := NewState("  why is it slow  ", nil)
	require.NoError(t, err)
	assert.Equal(t, "why is it slow", st.Query)
	assert.Equal(t, RouteFast, st.Route)
	assert.NotNil(t, st.Metrics)
}

func TestNewStateRawTextHandling(t *testing.T) {
	long := strings.Repeat("字", maxRawTextChars+100)

	st, err := NewState("q is long enough", []string{" first ", "", "  ", long})
	require.NoError(t, err)

	require.Len(t, st.RawTexts, 2)
	assert.Equal(t, "first", st.RawTexts[0])
	assert.Equal(t, maxRawTextChars, len([]rune(st.RawTexts[1])))
}

func TestFailFormat(t *testing.T) {
	st, err := NewState("some query here", nil)
	require.NoError(t, err)

	st.fail("retrieve", assert.AnError)
	assert.True(t, strings.HasPrefix(st.Err, "retrieve_error: "), "got %q", st.Err)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	st, err := NewState("db timeout on payments", []string{"ERROR host=web-01"})
	require.NoError(t, err)
	st.Route = RouteDeep
	st.Queries = []string{"db timeout on payments", "paraphrase"}
	st.Extracted = []map[string]any{{"hostname": "web-01", "confidence": 0.9, "_raw": "ERROR host=web-01"}}
	st.Docs = []domain.Document{{Content: "doc body", Metadata: map[string]any{"id": "d1", "title": "T"}}}
	st.Context = "[T]\ndoc body\n"
	st.Answer = "the answer"
	st.setMetric("docs", 1)

	// A checkpoint store round trip goes through JSON.
	raw, err := json.Marshal(st.Snapshot())
	require.NoError(t, err)
	var snapshot map[string]any
	require.NoError(t, json.Unmarshal(raw, &snapshot))

	restored, err := Restore(snapshot)
	require.NoError(t, err)

	assert.Equal(t, st.Query, restored.Query)
	assert.Equal(t, st.RawTexts, restored.RawTexts)
	assert.Equal(t, RouteDeep, restored.Route)
	assert.Equal(t, st.Queries, restored.Queries)
	assert.Equal(t, st.Context, restored.Context)
	assert.Equal(t, st.Answer, restored.Answer)
	require.Len(t, restored.Docs, 1)
	assert.Equal(t, "doc body", restored.Docs[0].Content)
	assert.Equal(t, "d1", restored.Docs[0].ID())
	require.Len(t, restored.Extracted, 1)
	assert.Equal(t, "web-01", restored.Extracted[0]["hostname"])
}

func TestRestoreRejectsEmptyQuery(t *testing.T) {
	_, err := Restore(map[string]any{"answer": "orphan"})
	require.Error(t, err)
}

func TestRestoreDefaults(t *testing.T) {
	restored, err := Restore(map[string]any{"query": "bare"})
	require.NoError(t, err)
	assert.Equal(t, RouteFast, restored.Route)
	assert.NotNil(t, restored.Metrics)
}

func TestSnapshotKeys(t *testing.T) {
	st, err := NewState("key check query", nil)
	require.NoError(t, err)

	snap := st.Snapshot()
	for _, key := range []string{
		"query", "raw_texts", "extracted_data", "route", "queries",
		"docs", "context", "answer", "error", "metrics",
	} {
		assert.Contains(t, snap, key)
	}
}
