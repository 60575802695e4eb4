package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/hahplan/internal/store"
)

func ids(infos []store.RecordInfo) []string {
	out := make([]string, len(infos))
	for n, info := range infos {
		out[n] = info.ID
	}
	return out
}

func sameIDs(t *testing.T, got []store.RecordInfo, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, ids(got))
	}
	for n := range want {
		if got[n].ID != want[n] {
			t.Fatalf("Expected %v, got %v", want, ids(got))
		}
	}
}

func testInfos(now time.Time) []store.RecordInfo {
	return []store.RecordInfo{
		{ID: "run1", CreatedAt: now.AddDate(0, 0, -10)}, // 10 days old
		{ID: "run2", CreatedAt: now.AddDate(0, 0, -5)},  // 5 days old
		{ID: "run3", CreatedAt: now.AddDate(0, 0, -1)},  // 1 day old
		{ID: "run4", CreatedAt: now.AddDate(0, 0, -30)}, // 30 days old
	}
}

func TestSelectRecordsForDeletion_ByAge(t *testing.T) {
	now := time.Now()

	// Delete solutions older than 7 days, oldest first
	toDelete := selectRecordsForDeletion(testInfos(now), 0, 7, now)

	sameIDs(t, toDelete, "run4", "run1")
}

func TestSelectRecordsForDeletion_ByCount(t *testing.T) {
	now := time.Now()

	// Keep only the newest 2
	toDelete := selectRecordsForDeletion(testInfos(now), 2, 0, now)

	sameIDs(t, toDelete, "run4", "run1")
}

func TestSelectRecordsForDeletion_Combined(t *testing.T) {
	now := time.Now()

	// Keep 3, but nothing older than 7 days: run1 is both in the newest 3
	// and expired, run4 is both surplus and expired.
	toDelete := selectRecordsForDeletion(testInfos(now), 3, 7, now)

	sameIDs(t, toDelete, "run4", "run1")

	toDelete = selectRecordsForDeletion(testInfos(now), 1, 2, now)
	sameIDs(t, toDelete, "run4", "run1", "run2")
}

func TestSelectRecordsForDeletion_NothingToDelete(t *testing.T) {
	now := time.Now()

	if got := selectRecordsForDeletion(testInfos(now), 10, 0, now); len(got) != 0 {
		t.Errorf("Expected nothing to delete, got %v", ids(got))
	}
	if got := selectRecordsForDeletion(testInfos(now), 0, 60, now); len(got) != 0 {
		t.Errorf("Expected nothing to delete, got %v", ids(got))
	}
	if got := selectRecordsForDeletion(nil, 1, 1, now); len(got) != 0 {
		t.Errorf("Expected nothing to delete, got %v", ids(got))
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.bytes); got != tt.expected {
			t.Errorf("formatBytes(%d) = %s, want %s", tt.bytes, got, tt.expected)
		}
	}
}

func TestGetDirSize(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(tmpDir, "a.json"), make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(tmpDir, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b.jsonl"), make([]byte, 50), 0644); err != nil {
		t.Fatal(err)
	}

	size, err := getDirSize(tmpDir)
	if err != nil {
		t.Fatalf("getDirSize failed: %v", err)
	}
	if size != 150 {
		t.Errorf("Expected 150 bytes, got %d", size)
	}

	if _, err := getDirSize(filepath.Join(tmpDir, "missing")); err == nil {
		t.Error("Expected error for missing directory")
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("abc"); got != "abc" {
		t.Errorf("Short ids stay unchanged, got %s", got)
	}
	if got := shortID("0123456789abcdef"); got != "0123456789ab..." {
		t.Errorf("Unexpected truncation: %s", got)
	}
}
