// Package cache provides a time-range coverage cache in front of a slow,
// paginated upstream source.
//
// # Overview
//
// Each key (a player and game mode, for example) owns one timeline. The
// cache remembers which spans of that timeline have already been fetched
// and, for a new request, asks upstream only for the spans still missing:
//
//	coverage:   [----A----)          [----B----)
//	request:         [=========================)
//	fetched:              [xxxxxxxxxx)
//
// A span that was fetched and returned no records is still covered: the
// absence of data is a cached fact, distinct from "never asked".
//
// # Storage
//
// Records are stored under their own timestamp. A record already stored for
// a timestamp is never overwritten (first write wins), since upstream data for
// a fixed instant does not change. The coverage of each key is persisted next
// to its records in EntryMeta, so a cold process can tell covered-but-empty
// spans from unknown ones. Backends exist for memory, JSON files, SQLite (via
// gorm) and valkey.
//
// # Refreshing
//
// ActivityCache always answers exactly the range it is asked for. Deciding
// which range is worth asking for is the job of Refresher, which applies a
// RefreshPolicy: refresh the newest data once it is stale, backfill older
// data only when a caller asks for history beyond what is covered, and back
// off from keys upstream refuses to serve.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/uayebforever/clan-stats/internal/timeperiod"
)

// Record is a value with an intrinsic position on the time axis.
type Record interface {
	Timestamp() time.Time
}

// Key identifies one independent timeline.
type Key interface {
	comparable
	// CacheKey returns the stable string form used by durable backends.
	CacheKey() string
}

// Getter fetches the records of key in [start, end) from upstream.
type Getter[K Key, R Record] func(ctx context.Context, key K, start, end time.Time) ([]R, error)

// EntryMeta is persisted alongside the records of a key.
type EntryMeta struct {
	Coverage    []timeperiod.Period `json:"coverage"`
	UpdatedAt   time.Time           `json:"updated_at"`
	ForbiddenAt *time.Time          `json:"forbidden_at,omitempty"`
}

// StampedValue is an opaque value with the time it was stored.
type StampedValue struct {
	StoredAt time.Time `json:"stored_at"`
	Data     []byte    `json:"data"`
}

// ValueStore keeps single values whose freshness is judged by the caller.
type ValueStore interface {
	// GetValue returns the stored value or nil if absent.
	GetValue(ctx context.Context, bucket, id string) (*StampedValue, error)
	PutValue(ctx context.Context, bucket, id string, value StampedValue) error
}

// Backend is the durable store behind an ActivityCache.
type Backend[R Record] interface {
	ValueStore

	// ReadMeta returns the metadata for key or nil if the key is unknown.
	ReadMeta(ctx context.Context, key string) (*EntryMeta, error)

	// WriteMeta replaces the metadata for key.
	WriteMeta(ctx context.Context, key string, meta *EntryMeta) error

	// AddRecords stores records that have no entry yet for their timestamp
	// and returns how many were added.
	AddRecords(ctx context.Context, key string, records []R) (int, error)

	// Records returns the records of key within period, ascending by
	// timestamp.
	Records(ctx context.Context, key string, period timeperiod.Period) ([]R, error)

	// CountRecords returns how many records are stored for key.
	CountRecords(ctx context.Context, key string) (int, error)

	// Keys lists every key with metadata.
	Keys(ctx context.Context) ([]string, error)

	Close() error
}

// recordID is the canonical storage id of a timestamp.
func recordID(ts time.Time) string {
	return strconv.FormatInt(ts.UnixNano(), 10)
}
