package domain

import (
	"fmt"
	"hash/fnv"
)

// Document is a single retrieval result. Metadata carries whatever the
// backing index stores alongside the text (id, title, source, score, ...).
type Document struct {
	Content  string
	Metadata map[string]any
}

// ID returns the best-effort unique identifier for the document, resolved in
// priority order metadata.id, metadata._id, hash of the content. Two
// documents are considered the same iff their resolved identifiers are equal.
func (d Document) ID() string {
	if id := metaString(d.Metadata, "id"); id != "" {
		return id
	}
	if id := metaString(d.Metadata, "_id"); id != "" {
		return id
	}
	h := fnv.New64a()
	h.Write([]byte(d.Content))
	return fmt.Sprintf("%016x", h.Sum64())
}

// MetaString returns the metadata value for key rendered as a string, or ""
// when the key is absent or nil.
func (d Document) MetaString(key string) string {
	return metaString(d.Metadata, key)
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
