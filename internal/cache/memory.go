package cache

import (
	"context"
	"slices"
	"sync"

	"github.com/uayebforever/clan-stats/internal/timeperiod"
)

// MemoryBackend is an in-memory backend for tests and one-shot runs.
type MemoryBackend[R Record] struct {
	mu      sync.RWMutex
	metas   map[string]EntryMeta
	records map[string]map[string]R
	values  map[string]StampedValue
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend[R Record]() *MemoryBackend[R] {
	return &MemoryBackend[R]{
		metas:   make(map[string]EntryMeta),
		records: make(map[string]map[string]R),
		values:  make(map[string]StampedValue),
	}
}

// ReadMeta returns a copy of the metadata for key or nil if absent.
func (b *MemoryBackend[R]) ReadMeta(_ context.Context, key string) (*EntryMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	meta, ok := b.metas[key]
	if !ok {
		return nil, nil
	}
	meta.Coverage = slices.Clone(meta.Coverage)
	return &meta, nil
}

// WriteMeta stores a copy of meta.
func (b *MemoryBackend[R]) WriteMeta(_ context.Context, key string, meta *EntryMeta) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := *meta
	stored.Coverage = slices.Clone(meta.Coverage)
	b.metas[key] = stored
	return nil
}

// AddRecords stores records not yet present for their timestamp.
func (b *MemoryBackend[R]) AddRecords(_ context.Context, key string, records []R) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, ok := b.records[key]
	if !ok {
		stored = make(map[string]R)
		b.records[key] = stored
	}

	added := 0
	for _, r := range records {
		id := recordID(r.Timestamp())
		if _, exists := stored[id]; exists {
			continue
		}
		stored[id] = r
		added++
	}
	return added, nil
}

// Records returns the records of key within period, ascending.
func (b *MemoryBackend[R]) Records(_ context.Context, key string, period timeperiod.Period) ([]R, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []R
	for _, r := range b.records[key] {
		if period.Contains(r.Timestamp()) {
			out = append(out, r)
		}
	}
	sortByTimestamp(out)
	return out, nil
}

// CountRecords returns the number of stored records for key.
func (b *MemoryBackend[R]) CountRecords(_ context.Context, key string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records[key]), nil
}

// Keys lists keys with metadata, sorted.
func (b *MemoryBackend[R]) Keys(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.metas))
	for k := range b.metas {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

// GetValue returns a stored value or nil.
func (b *MemoryBackend[R]) GetValue(_ context.Context, bucket, id string) (*StampedValue, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	v, ok := b.values[bucket+"/"+id]
	if !ok {
		return nil, nil
	}
	v.Data = slices.Clone(v.Data)
	return &v, nil
}

// PutValue replaces a stored value.
func (b *MemoryBackend[R]) PutValue(_ context.Context, bucket, id string, value StampedValue) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	value.Data = slices.Clone(value.Data)
	b.values[bucket+"/"+id] = value
	return nil
}

// Close is a no-op.
func (b *MemoryBackend[R]) Close() error { return nil }

// Reset clears all entries.
func (b *MemoryBackend[R]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metas = make(map[string]EntryMeta)
	b.records = make(map[string]map[string]R)
	b.values = make(map[string]StampedValue)
}

// Seed stores coverage and records for key directly (for testing).
func (b *MemoryBackend[R]) Seed(key string, coverage []timeperiod.Period, records ...R) {
	_ = b.WriteMeta(context.Background(), key, &EntryMeta{Coverage: coverage})
	_, _ = b.AddRecords(context.Background(), key, records)
}

func sortByTimestamp[R Record](records []R) {
	slices.SortFunc(records, func(a, b R) int {
		return a.Timestamp().Compare(b.Timestamp())
	})
}
