package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/uayebforever/clan-stats/internal/timeperiod"
)

// KeyStatus summarises what a backend holds for one key.
type KeyStatus struct {
	Key         string              `json:"key"`
	Coverage    []timeperiod.Period `json:"coverage"`
	Covered     time.Duration       `json:"covered"`
	Records     int                 `json:"records"`
	UpdatedAt   time.Time           `json:"updated_at"`
	ForbiddenAt *time.Time          `json:"forbidden_at,omitempty"`
}

// Scan returns the status of every key stored in backend, ordered by key.
func Scan[R Record](ctx context.Context, backend Backend[R]) ([]KeyStatus, error) {
	keys, err := backend.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	out := make([]KeyStatus, 0, len(keys))
	for _, key := range keys {
		meta, err := backend.ReadMeta(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read meta of %s: %w", key, err)
		}
		if meta == nil {
			continue
		}
		count, err := backend.CountRecords(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("count records of %s: %w", key, err)
		}
		status := KeyStatus{
			Key:         key,
			Coverage:    meta.Coverage,
			Records:     count,
			UpdatedAt:   meta.UpdatedAt,
			ForbiddenAt: meta.ForbiddenAt,
		}
		for _, p := range meta.Coverage {
			status.Covered += p.Length()
		}
		out = append(out, status)
	}
	return out, nil
}
