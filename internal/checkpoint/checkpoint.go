// Package checkpoint persists pipeline state snapshots keyed by a
// caller-supplied thread id, so an interrupted or completed run can be
// inspected and resumed. The stored value is the plain field-name mapping
// produced by the pipeline state's Snapshot.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Store saves and loads state snapshots. Load returns (nil, nil) when the
// thread id has no snapshot.
type Store interface {
	Save(ctx context.Context, threadID string, snapshot map[string]any) error
	Load(ctx context.Context, threadID string) (map[string]any, error)
	Delete(ctx context.Context, threadID string) error
}

// MemoryStore is an in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]byte)}
}

func (s *MemoryStore) Save(ctx context.Context, threadID string, snapshot map[string]any) error {
	if threadID == "" {
		return fmt.Errorf("thread id is required")
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	s.mu.Lock()
	s.snapshots[threadID] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, threadID string) (map[string]any, error) {
	s.mu.RLock()
	raw, ok := s.snapshots[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var snapshot map[string]any
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snapshot, nil
}

func (s *MemoryStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	delete(s.snapshots, threadID)
	s.mu.Unlock()
	return nil
}
