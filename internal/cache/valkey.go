package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/uayebforever/clan-stats/internal/timeperiod"
)

// DefaultValkeyConnectTimeout bounds the initial ping.
const DefaultValkeyConnectTimeout = 5 * time.Second

// ValkeyConfig holds the connection settings for a valkey server.
type ValkeyConfig struct {
	Address        string
	Password       string
	DB             int
	KeyPrefix      string
	ConnectTimeout time.Duration
}

// ValkeyBackend stores cache entries in a valkey server:
//
//	<prefix>:keys               set of cache keys
//	<prefix>:meta:<key>         JSON EntryMeta
//	<prefix>:records:<key>      hash of timestamp id -> JSON record
//	<prefix>:value:<bucket>:<id> JSON StampedValue
type ValkeyBackend[R Record] struct {
	inner     valkeylib.Client
	keyPrefix string
}

// NewValkeyBackend connects to the server and verifies it with a ping.
func NewValkeyBackend[R Record](cfg ValkeyConfig) (*ValkeyBackend[R], error) {
	opts := valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	inner, err := valkeylib.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultValkeyConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := inner.Do(ctx, inner.B().Ping().Build()).Error(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("failed to ping valkey (timeout: %v): %w", timeout, err)
	}

	prefix := cfg.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &ValkeyBackend[R]{inner: inner, keyPrefix: prefix}, nil
}

// key builds a prefixed key from parts.
func (b *ValkeyBackend[R]) key(parts ...string) string {
	return b.keyPrefix + strings.Join(parts, ":")
}

// ReadMeta returns the metadata for key or nil if absent.
func (b *ValkeyBackend[R]) ReadMeta(ctx context.Context, key string) (*EntryMeta, error) {
	data, err := b.inner.Do(ctx, b.inner.B().Get().Key(b.key("meta", key)).Build()).AsBytes()
	if valkeylib.IsValkeyNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var meta EntryMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode meta for %s: %w", key, err)
	}
	return &meta, nil
}

// WriteMeta replaces the metadata for key and registers the key.
func (b *ValkeyBackend[R]) WriteMeta(ctx context.Context, key string, meta *EntryMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	cmds := valkeylib.Commands{
		b.inner.B().Set().Key(b.key("meta", key)).Value(valkeylib.BinaryString(data)).Build(),
		b.inner.B().Sadd().Key(b.key("keys")).Member(key).Build(),
	}
	for _, resp := range b.inner.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return err
		}
	}
	return nil
}

// AddRecords stores records with HSETNX so existing timestamps are kept.
func (b *ValkeyBackend[R]) AddRecords(ctx context.Context, key string, records []R) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	hashKey := b.key("records", key)
	cmds := make(valkeylib.Commands, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return 0, err
		}
		cmds = append(cmds, b.inner.B().Hsetnx().Key(hashKey).
			Field(recordID(r.Timestamp())).
			Value(valkeylib.BinaryString(payload)).
			Build())
	}

	added := 0
	for _, resp := range b.inner.DoMulti(ctx, cmds...) {
		set, err := resp.AsBool()
		if err != nil {
			return added, err
		}
		if set {
			added++
		}
	}
	return added, nil
}

// Records returns the records of key within period, ascending.
func (b *ValkeyBackend[R]) Records(ctx context.Context, key string, period timeperiod.Period) ([]R, error) {
	fields, err := b.inner.Do(ctx, b.inner.B().Hgetall().Key(b.key("records", key)).Build()).AsStrMap()
	if err != nil {
		return nil, err
	}

	lo, hi := period.Start().UnixNano(), period.End().UnixNano()
	var out []R
	for id, payload := range fields {
		ts, err := strconv.ParseInt(id, 10, 64)
		if err != nil || ts < lo || ts >= hi {
			continue
		}
		var r R
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("decode record %s/%s: %w", key, id, err)
		}
		out = append(out, r)
	}
	sortByTimestamp(out)
	return out, nil
}

// CountRecords returns how many records are stored for key.
func (b *ValkeyBackend[R]) CountRecords(ctx context.Context, key string) (int, error) {
	n, err := b.inner.Do(ctx, b.inner.B().Hlen().Key(b.key("records", key)).Build()).AsInt64()
	return int(n), err
}

// Keys lists every registered key, sorted.
func (b *ValkeyBackend[R]) Keys(ctx context.Context) ([]string, error) {
	keys, err := b.inner.Do(ctx, b.inner.B().Smembers().Key(b.key("keys")).Build()).AsStrSlice()
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

// GetValue returns a stored value or nil.
func (b *ValkeyBackend[R]) GetValue(ctx context.Context, bucket, id string) (*StampedValue, error) {
	data, err := b.inner.Do(ctx, b.inner.B().Get().Key(b.key("value", bucket, id)).Build()).AsBytes()
	if valkeylib.IsValkeyNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var value StampedValue
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("decode value %s/%s: %w", bucket, id, err)
	}
	return &value, nil
}

// PutValue replaces a stored value.
func (b *ValkeyBackend[R]) PutValue(ctx context.Context, bucket, id string, value StampedValue) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return b.inner.Do(ctx, b.inner.B().Set().Key(b.key("value", bucket, id)).Value(valkeylib.BinaryString(data)).Build()).Error()
}

// Close closes the connection.
func (b *ValkeyBackend[R]) Close() error {
	b.inner.Close()
	return nil
}
