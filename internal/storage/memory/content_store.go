package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/ondemand-crawler/internal/content"
)

// ContentStore keeps content in-memory for development and tests. Upsert holds
// the write lock across the key check and insert, so concurrent callers with
// the same external id observe a single winner.
type ContentStore struct {
	mu         sync.RWMutex
	nextID     int64
	byID       map[int64]content.Content
	byExternal map[string]int64
	now        func() time.Time
}

// NewContentStore constructs an empty ContentStore.
func NewContentStore() *ContentStore {
	return &ContentStore{
		byID:       make(map[int64]content.Content),
		byExternal: make(map[string]int64),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Upsert inserts candidate unless its external id is already known.
func (s *ContentStore) Upsert(_ context.Context, candidate content.Content) (content.Content, bool, error) {
	if err := candidate.Validate(); err != nil {
		return content.Content{}, false, fmt.Errorf("upsert content: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byExternal[candidate.ExternalID]; ok {
		return cloneContent(s.byID[id]), false, nil
	}
	s.nextID++
	record := cloneContent(candidate)
	record.ID = s.nextID
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	s.byID[record.ID] = record
	s.byExternal[record.ExternalID] = record.ID
	return cloneContent(record), true, nil
}

// GetByIDs returns the stored records for ids in request order, skipping
// unknown ids.
func (s *ContentStore) GetByIDs(_ context.Context, ids []int64) ([]content.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]content.Content, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if record, ok := s.byID[id]; ok {
			out = append(out, cloneContent(record))
		}
	}
	return out, nil
}

// Len reports the number of stored records.
func (s *ContentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func cloneContent(c content.Content) content.Content {
	cp := c
	cp.Topics = slices.Clone(c.Topics)
	if cp.Topics == nil {
		cp.Topics = []string{}
	}
	if c.RawMetadata != nil {
		cp.RawMetadata = append(json.RawMessage(nil), c.RawMetadata...)
	}
	if c.PublishedAt != nil {
		ts := *c.PublishedAt
		cp.PublishedAt = &ts
	}
	return cp
}
