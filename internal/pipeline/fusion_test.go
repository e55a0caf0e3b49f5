package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-orchestrator/internal/domain"
)

func doc(id string) domain.Document {
	return domain.Document{Content: "content of " + id, Metadata: map[string]any{"id": id}}
}

func ids(docs []domain.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID())
	}
	return out
}

func TestFuseDeterministic(t *testing.T) {
	runs := [][]domain.Document{
		{doc("a"), doc("b"), doc("c")},
		{doc("c"), doc("d")},
	}

	first := Fuse(runs, 3, 60)
	second := Fuse(runs, 3, 60)
	assert.Equal(t, ids(first), ids(second))
}

func TestFuseCardinality(t *testing.T) {
	runs := [][]domain.Document{
		{doc("a"), doc("b")},
		{doc("b"), doc("c")},
	}

	fused := Fuse(runs, 2, 60)
	assert.Len(t, fused, 2)

	// k larger than the unique id count returns every unique id once.
	fused = Fuse(runs, 10, 60)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids(fused))
}

func TestFuseSharedDocRanksFirst(t *testing.T) {
	runs := [][]domain.Document{
		{doc("a"), doc("shared")},
		{doc("shared"), doc("b")},
	}

	fused := Fuse(runs, 1, 60)
	require.Len(t, fused, 1)
	assert.Equal(t, "shared", fused[0].ID())
}

func TestFuseTieBreakKeepsFirstSeenOrder(t *testing.T) {
	// a and b receive identical scores (ranks 1 and 2 in mirrored runs), so
	// the first-seen document must come out first.
	runs := [][]domain.Document{
		{doc("a"), doc("b")},
		{doc("b"), doc("a")},
	}

	fused := Fuse(runs, 2, 60)
	assert.Equal(t, []string{"a", "b"}, ids(fused))
}

func TestFuseWithinRunDuplicateContributesBothRanks(t *testing.T) {
	// "dup" appears twice in one run, earning two rank contributions, and
	// must beat a single top-ranked competitor in the other run.
	runs := [][]domain.Document{
		{doc("dup"), doc("dup")},
		{doc("solo")},
	}

	fused := Fuse(runs, 1, 60)
	require.Len(t, fused, 1)
	assert.Equal(t, "dup", fused[0].ID())
}

func TestFuseEmitsEachIDOnce(t *testing.T) {
	runs := [][]domain.Document{
		{doc("a"), doc("b")},
		{doc("a"), doc("b")},
	}

	fused := Fuse(runs, 4, 60)
	assert.Equal(t, []string{"a", "b"}, ids(fused))
}

func TestFuseDegenerateInputs(t *testing.T) {
	assert.Nil(t, Fuse(nil, 5, 60))
	assert.Nil(t, Fuse([][]domain.Document{{doc("a")}}, 0, 60))
	assert.Empty(t, Fuse([][]domain.Document{{}, {}}, 5, 60))
}

func TestFuseContentHashIdentity(t *testing.T) {
	// Documents without an id fall back to a content hash, so identical
	// content in different runs still fuses into one entry.
	plain := func(content string) domain.Document {
		return domain.Document{Content: content}
	}
	runs := [][]domain.Document{
		{plain("pool exhausted")},
		{plain("pool exhausted"), plain("other")},
	}

	fused := Fuse(runs, 5, 60)
	assert.Len(t, fused, 2)
}
