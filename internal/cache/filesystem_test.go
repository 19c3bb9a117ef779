package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/uayebforever/clan-stats/internal/core"
	"github.com/uayebforever/clan-stats/internal/timeperiod"
)

func TestFilesystemBackendDayFiles(t *testing.T) {
	tmpDir := t.TempDir()
	backend := NewFilesystemBackend[sample](tmpDir, nil)
	ctx := context.Background()

	records := []sample{
		{At: h(1), Value: "a"},
		{At: h(23), Value: "b"},
		{At: h(25), Value: "c"},
	}
	added, err := backend.AddRecords(ctx, "test:x", records)
	if err != nil {
		t.Fatalf("AddRecords failed: %v", err)
	}
	if added != 3 {
		t.Errorf("Expected 3 records added, got %d", added)
	}

	for _, day := range []string{"2024-05-01", "2024-05-02"} {
		d, _ := time.Parse(core.APIDateFmt, day)
		if _, err := os.Stat(backend.Path("test:x", d)); err != nil {
			t.Errorf("Expected day file for %s: %v", day, err)
		}
	}

	// Existing records are kept.
	added, err = backend.AddRecords(ctx, "test:x", []sample{{At: h(1), Value: "replacement"}})
	if err != nil {
		t.Fatalf("AddRecords failed: %v", err)
	}
	if added != 0 {
		t.Errorf("Expected duplicate to be ignored, got %d added", added)
	}

	got, err := backend.Records(ctx, "test:x", timeperiod.MustBetween(h(0), h(24)))
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(got))
	}
	if got[0].Value != "a" || got[1].Value != "b" {
		t.Errorf("Expected [a b], got [%s %s]", got[0].Value, got[1].Value)
	}
}

func TestFilesystemBackendCorruptFile(t *testing.T) {
	tmpDir := t.TempDir()
	backend := NewFilesystemBackend[sample](tmpDir, nil)

	path := backend.Path("test:x", t0)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(`[{"id": 1}`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	_, err := backend.Records(context.Background(), "test:x", timeperiod.MustBetween(h(0), h(24)))
	if err == nil || !strings.Contains(err.Error(), "corrupt cache file") {
		t.Errorf("Expected corrupt cache file error, got %v", err)
	}
}

func TestFilesystemBackendAtomicWrite(t *testing.T) {
	tmpDir := t.TempDir()
	backend := NewFilesystemBackend[sample](tmpDir, nil)

	if _, err := backend.AddRecords(context.Background(), "test:x", []sample{{At: h(1)}}); err != nil {
		t.Fatalf("AddRecords failed: %v", err)
	}

	expectedPath := backend.Path("test:x", t0)
	if _, err := os.Stat(expectedPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("Expected .tmp file to be removed after write")
	}
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Error("Expected main file to exist")
	}
}

func TestFilesystemBackendFetchedOnDateUsesClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 30, 23, 0, 0, 0, time.UTC))
	backend := NewFilesystemBackend[sample](t.TempDir(), clock)

	if _, err := backend.AddRecords(context.Background(), "test:x", []sample{{At: h(1)}}); err != nil {
		t.Fatalf("AddRecords failed: %v", err)
	}

	data, err := os.ReadFile(backend.Path("test:x", t0))
	if err != nil {
		t.Fatalf("Failed to read day file: %v", err)
	}
	var payload struct {
		DataDate      string `json:"data_date"`
		FetchedOnDate string `json:"fetched_on_date"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("Failed to decode day file: %v", err)
	}
	if payload.DataDate != "2024-05-01" {
		t.Errorf("data_date = %s, want 2024-05-01", payload.DataDate)
	}
	if payload.FetchedOnDate != "2024-06-30" {
		t.Errorf("fetched_on_date = %s, want 2024-06-30", payload.FetchedOnDate)
	}
}

func TestFilesystemBackendPath(t *testing.T) {
	backend := NewFilesystemBackend[sample]("/test/cache", nil)

	tests := []struct {
		key      string
		date     string
		expected string
	}{
		{"activities:3:1:0", "2024-07-15", "/test/cache/activities:3:1:0/2024/07/2024-07-15.json"},
		{"activities:3:1:0", "2023-01-01", "/test/cache/activities:3:1:0/2023/01/2023-01-01.json"},
		{"a/b", "2024-12-31", "/test/cache/a%2Fb/2024/12/2024-12-31.json"},
	}

	for _, tt := range tests {
		day, _ := time.Parse(core.APIDateFmt, tt.date)
		got := backend.Path(tt.key, day)
		if got != tt.expected {
			t.Errorf("Path(%s, %s) = %s, want %s", tt.key, tt.date, got, tt.expected)
		}
	}
}

func TestFilesystemBackendKeys(t *testing.T) {
	backend := NewFilesystemBackend[sample](t.TempDir(), nil)
	ctx := context.Background()

	keys, err := backend.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Expected no keys in an empty cache, got %v", keys)
	}

	for _, key := range []string{"test:b", "test:a/1"} {
		if err := backend.WriteMeta(ctx, key, &EntryMeta{UpdatedAt: t0}); err != nil {
			t.Fatalf("WriteMeta failed: %v", err)
		}
	}
	// Values and record-only directories are not keys.
	if err := backend.PutValue(ctx, "players", "1", StampedValue{StoredAt: t0}); err != nil {
		t.Fatalf("PutValue failed: %v", err)
	}
	if _, err := backend.AddRecords(ctx, "test:c", []sample{{At: h(1)}}); err != nil {
		t.Fatalf("AddRecords failed: %v", err)
	}

	keys, err = backend.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if strings.Join(keys, ",") != "test:a/1,test:b" {
		t.Errorf("Keys() = %v, want [test:a/1 test:b]", keys)
	}
}
