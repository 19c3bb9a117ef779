package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/uayebforever/clan-stats/internal/core"
	"github.com/uayebforever/clan-stats/internal/timeperiod"
)

const (
	metaFileName = "meta.json"
	valuesDir    = "_values"
)

// FilesystemBackend stores JSON files on disk, one directory per key:
//
//	<root>/<key>/meta.json
//	<root>/<key>/YYYY/MM/YYYY-MM-DD.json
//	<root>/_values/<bucket>/<id>.json
//
// Day files hold the records whose timestamp falls on that UTC day.
type FilesystemBackend[R Record] struct {
	root      string
	clock     clockwork.Clock
	writeLock sync.Mutex
}

type metaFilePayload struct {
	Key string `json:"key"`
	EntryMeta
}

type dayFilePayload[R Record] struct {
	DataDate      string       `json:"data_date"`
	FetchedOnDate string       `json:"fetched_on_date"`
	Records       map[string]R `json:"records"`
}

// NewFilesystemBackend creates a backend rooted at root, or at the default
// cache directory when root is empty. clock stamps the fetch date of day
// files; nil means the wall clock.
func NewFilesystemBackend[R Record](root string, clock clockwork.Clock) *FilesystemBackend[R] {
	if root == "" {
		root = core.CacheRoot()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FilesystemBackend[R]{root: root, clock: clock}
}

// Root returns the cache directory.
func (b *FilesystemBackend[R]) Root() string {
	return b.root
}

func (b *FilesystemBackend[R]) keyDir(key string) string {
	return filepath.Join(b.root, url.PathEscape(key))
}

// Path returns the day file holding records of key at day.
func (b *FilesystemBackend[R]) Path(key string, day time.Time) string {
	day = day.UTC()
	return filepath.Join(
		b.keyDir(key),
		day.Format("2006"),
		day.Format("01"),
		day.Format(core.APIDateFmt)+".json",
	)
}

// ReadMeta returns the metadata for key or nil if absent.
func (b *FilesystemBackend[R]) ReadMeta(_ context.Context, key string) (*EntryMeta, error) {
	var payload metaFilePayload
	found, err := readJSON(filepath.Join(b.keyDir(key), metaFileName), &payload)
	if err != nil || !found {
		return nil, err
	}
	return &payload.EntryMeta, nil
}

// WriteMeta persists the metadata atomically.
func (b *FilesystemBackend[R]) WriteMeta(_ context.Context, key string, meta *EntryMeta) error {
	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	return writeJSON(filepath.Join(b.keyDir(key), metaFileName), metaFilePayload{Key: key, EntryMeta: *meta})
}

// AddRecords merges records into their day files, keeping existing ones.
func (b *FilesystemBackend[R]) AddRecords(_ context.Context, key string, records []R) (int, error) {
	byDay := make(map[string][]R)
	for _, r := range records {
		day := r.Timestamp().UTC().Format(core.APIDateFmt)
		byDay[day] = append(byDay[day], r)
	}

	b.writeLock.Lock()
	defer b.writeLock.Unlock()

	added := 0
	for dayStr, dayRecords := range byDay {
		day, err := time.Parse(core.APIDateFmt, dayStr)
		if err != nil {
			return added, err
		}
		path := b.Path(key, day)

		payload, err := b.readDay(path)
		if err != nil {
			return added, err
		}
		if payload.Records == nil {
			payload.Records = make(map[string]R)
		}
		payload.DataDate = dayStr

		changed := false
		for _, r := range dayRecords {
			id := recordID(r.Timestamp())
			if _, exists := payload.Records[id]; exists {
				continue
			}
			payload.Records[id] = r
			changed = true
			added++
		}
		if !changed {
			continue
		}
		payload.FetchedOnDate = b.clock.Now().UTC().Format(core.APIDateFmt)
		if err := writeJSON(path, payload); err != nil {
			return added, err
		}
	}
	return added, nil
}

// Records returns the records of key within period, ascending.
func (b *FilesystemBackend[R]) Records(_ context.Context, key string, period timeperiod.Period) ([]R, error) {
	var out []R
	err := b.walkDays(key, func(day time.Time, path string) error {
		dayPeriod, _ := timeperiod.New(day, timeperiod.Day)
		if !dayPeriod.Overlaps(period) {
			return nil
		}
		payload, err := b.readDay(path)
		if err != nil {
			return err
		}
		for _, r := range payload.Records {
			if period.Contains(r.Timestamp()) {
				out = append(out, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByTimestamp(out)
	return out, nil
}

// CountRecords returns how many records are stored for key.
func (b *FilesystemBackend[R]) CountRecords(_ context.Context, key string) (int, error) {
	total := 0
	err := b.walkDays(key, func(_ time.Time, path string) error {
		payload, err := b.readDay(path)
		if err != nil {
			return err
		}
		total += len(payload.Records)
		return nil
	})
	return total, err
}

// Keys lists every key directory that has a metadata file.
func (b *FilesystemBackend[R]) Keys(_ context.Context) ([]string, error) {
	dirs, err := os.ReadDir(b.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, dir := range dirs {
		if !dir.IsDir() || dir.Name() == valuesDir {
			continue
		}
		var payload metaFilePayload
		found, err := readJSON(filepath.Join(b.root, dir.Name(), metaFileName), &payload)
		if err != nil || !found {
			continue
		}
		keys = append(keys, payload.Key)
	}
	slices.Sort(keys)
	return keys, nil
}

// GetValue returns a stored value or nil.
func (b *FilesystemBackend[R]) GetValue(_ context.Context, bucket, id string) (*StampedValue, error) {
	var value StampedValue
	found, err := readJSON(b.valuePath(bucket, id), &value)
	if err != nil || !found {
		return nil, err
	}
	return &value, nil
}

// PutValue replaces a stored value.
func (b *FilesystemBackend[R]) PutValue(_ context.Context, bucket, id string, value StampedValue) error {
	b.writeLock.Lock()
	defer b.writeLock.Unlock()
	return writeJSON(b.valuePath(bucket, id), value)
}

// Close is a no-op.
func (b *FilesystemBackend[R]) Close() error { return nil }

func (b *FilesystemBackend[R]) valuePath(bucket, id string) string {
	return filepath.Join(b.root, valuesDir, url.PathEscape(bucket), url.PathEscape(id)+".json")
}

func (b *FilesystemBackend[R]) readDay(path string) (dayFilePayload[R], error) {
	var payload dayFilePayload[R]
	if _, err := readJSON(path, &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

// walkDays calls fn for every day file of key in date order.
func (b *FilesystemBackend[R]) walkDays(key string, fn func(day time.Time, path string) error) error {
	keyDir := b.keyDir(key)
	yearDirs, err := os.ReadDir(keyDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, yearDir := range yearDirs {
		if !yearDir.IsDir() || len(yearDir.Name()) != 4 {
			continue
		}

		yearPath := filepath.Join(keyDir, yearDir.Name())
		monthDirs, err := os.ReadDir(yearPath)
		if err != nil {
			return err
		}

		for _, monthDir := range monthDirs {
			if !monthDir.IsDir() || len(monthDir.Name()) != 2 {
				continue
			}

			monthPath := filepath.Join(yearPath, monthDir.Name())
			files, err := os.ReadDir(monthPath)
			if err != nil {
				return err
			}

			for _, file := range files {
				if filepath.Ext(file.Name()) != ".json" || len(file.Name()) < 10 {
					continue
				}
				day, err := time.Parse(core.APIDateFmt, file.Name()[:10])
				if err != nil {
					continue
				}
				if err := fn(day, filepath.Join(monthPath, file.Name())); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// readJSON decodes path into v, reporting false if the file does not exist.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("corrupt cache file %s: %w", path, err)
	}
	return true, nil
}

// writeJSON writes v to a temp file and renames it over path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
