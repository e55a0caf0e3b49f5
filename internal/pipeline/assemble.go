package pipeline

import (
	"fmt"
	"strings"

	"incident-orchestrator/internal/domain"
)

// AssembleContext serializes ranked documents into one bounded text block
// for model consumption. Each document becomes a "[<title>]\n<content>\n"
// block; blocks are emitted in input order and a block that would push the
// cumulative length past maxChars is dropped along with everything after it.
// A block is always either fully included or fully excluded, and identical
// input yields byte-identical output.
func AssembleContext(docs []domain.Document, maxChars int) string {
	var b strings.Builder
	used := 0
	for i, d := range docs {
		block := fmt.Sprintf("[%s]\n%s\n", blockTitle(d, i+1), strings.TrimSpace(d.Content))
		if used+len(block) > maxChars {
			break
		}
		b.WriteString(block)
		used += len(block)
	}
	return b.String()
}

// blockTitle resolves the display title for a document at 1-based position n,
// in priority order title, source, id, then a positional placeholder.
func blockTitle(d domain.Document, n int) string {
	for _, key := range []string{"title", "source", "id"} {
		if v := d.MetaString(key); v != "" {
			return v
		}
	}
	return fmt.Sprintf("doc%d", n)
}
