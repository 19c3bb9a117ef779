package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/uayebforever/clan-stats/internal/timeperiod"
)

type entryRow struct {
	Key       string    `gorm:"primaryKey;column:cache_key"`
	Meta      []byte    `gorm:"column:meta"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (entryRow) TableName() string { return "cache_entries" }

type recordRow struct {
	Key     string `gorm:"primaryKey;column:cache_key"`
	TS      int64  `gorm:"primaryKey;column:ts;autoIncrement:false"`
	Payload []byte `gorm:"column:payload"`
}

func (recordRow) TableName() string { return "cache_records" }

type valueRow struct {
	Bucket   string    `gorm:"primaryKey;column:bucket"`
	ID       string    `gorm:"primaryKey;column:id"`
	StoredAt time.Time `gorm:"column:stored_at"`
	Data     []byte    `gorm:"column:data"`
}

func (valueRow) TableName() string { return "cache_values" }

// GormBackend stores cache entries in SQL tables.
type GormBackend[R Record] struct {
	db *gorm.DB
}

// NewGormBackend wraps db and migrates the cache tables.
func NewGormBackend[R Record](ctx context.Context, db *gorm.DB) (*GormBackend[R], error) {
	if err := db.WithContext(ctx).AutoMigrate(&entryRow{}, &recordRow{}, &valueRow{}); err != nil {
		return nil, fmt.Errorf("migrate cache tables: %w", err)
	}
	return &GormBackend[R]{db: db}, nil
}

// ReadMeta returns the metadata for key or nil if absent.
func (b *GormBackend[R]) ReadMeta(ctx context.Context, key string) (*EntryMeta, error) {
	var row entryRow
	err := b.db.WithContext(ctx).Where("cache_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var meta EntryMeta
	if err := json.Unmarshal(row.Meta, &meta); err != nil {
		return nil, fmt.Errorf("decode meta for %s: %w", key, err)
	}
	return &meta, nil
}

// WriteMeta upserts the metadata for key.
func (b *GormBackend[R]) WriteMeta(ctx context.Context, key string, meta *EntryMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return b.db.WithContext(ctx).Save(&entryRow{Key: key, Meta: data, UpdatedAt: meta.UpdatedAt}).Error
}

// AddRecords inserts records, ignoring timestamps already present.
func (b *GormBackend[R]) AddRecords(ctx context.Context, key string, records []R) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([]recordRow, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return 0, err
		}
		rows = append(rows, recordRow{Key: key, TS: r.Timestamp().UnixNano(), Payload: payload})
	}

	result := b.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, 200)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

// Records returns the records of key within period, ascending.
func (b *GormBackend[R]) Records(ctx context.Context, key string, period timeperiod.Period) ([]R, error) {
	var rows []recordRow
	err := b.db.WithContext(ctx).
		Where("cache_key = ? AND ts >= ? AND ts < ?", key, period.Start().UnixNano(), period.End().UnixNano()).
		Order("ts").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]R, 0, len(rows))
	for _, row := range rows {
		var r R
		if err := json.Unmarshal(row.Payload, &r); err != nil {
			return nil, fmt.Errorf("decode record %s/%d: %w", key, row.TS, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// CountRecords returns how many records are stored for key.
func (b *GormBackend[R]) CountRecords(ctx context.Context, key string) (int, error) {
	var n int64
	err := b.db.WithContext(ctx).Model(&recordRow{}).Where("cache_key = ?", key).Count(&n).Error
	return int(n), err
}

// Keys lists every key with metadata, sorted.
func (b *GormBackend[R]) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := b.db.WithContext(ctx).Model(&entryRow{}).Order("cache_key").Pluck("cache_key", &keys).Error
	return keys, err
}

// GetValue returns a stored value or nil.
func (b *GormBackend[R]) GetValue(ctx context.Context, bucket, id string) (*StampedValue, error) {
	var row valueRow
	err := b.db.WithContext(ctx).Where("bucket = ? AND id = ?", bucket, id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &StampedValue{StoredAt: row.StoredAt, Data: row.Data}, nil
}

// PutValue upserts a stored value.
func (b *GormBackend[R]) PutValue(ctx context.Context, bucket, id string, value StampedValue) error {
	return b.db.WithContext(ctx).Save(&valueRow{
		Bucket:   bucket,
		ID:       id,
		StoredAt: value.StoredAt,
		Data:     value.Data,
	}).Error
}

// Close closes the underlying connection pool.
func (b *GormBackend[R]) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
