package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestTraceWriter_WriteAndRead(t *testing.T) {
	tmpDir := t.TempDir()
	id := "run-trace"

	writer, err := NewTraceWriter(tmpDir, id, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	entries := []TraceEntry{
		{Sequence: 1, Objective: 1200, Nodes: 3, ElapsedSeconds: 0.01, Timestamp: time.Now()},
		{Sequence: 2, Objective: 950.5, Nodes: 17, ElapsedSeconds: 0.2, Timestamp: time.Now()},
		{Sequence: 3, Objective: 923.394, Nodes: 40, ElapsedSeconds: 0.5, Timestamp: time.Now()},
	}
	for _, entry := range entries {
		if err := writer.Write(entry); err != nil {
			t.Fatalf("Failed to write entry: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	expected := filepath.Join(tmpDir, "solutions", id, "trace.jsonl")
	if writer.Path() != expected {
		t.Errorf("Path = %s, want %s", writer.Path(), expected)
	}

	got, err := ReadTrace(tmpDir, id)
	if err != nil {
		t.Fatalf("ReadTrace failed: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("Expected %d entries, got %d", len(entries), len(got))
	}
	for i := range entries {
		if got[i].Sequence != entries[i].Sequence || got[i].Objective != entries[i].Objective || got[i].Nodes != entries[i].Nodes {
			t.Errorf("Entry %d mismatch: expected %+v, got %+v", i, entries[i], got[i])
		}
	}
}

func TestTraceWriter_Append(t *testing.T) {
	tmpDir := t.TempDir()

	for round := 1; round <= 2; round++ {
		w, err := NewTraceWriter(tmpDir, "run", true)
		if err != nil {
			t.Fatalf("NewTraceWriter failed: %v", err)
		}
		if err := w.Write(TraceEntry{Sequence: round, Objective: float64(100 - round)}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	got, err := ReadTrace(tmpDir, "run")
	if err != nil {
		t.Fatalf("ReadTrace failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 appended entries, got %d", len(got))
	}

	// Truncate mode starts over.
	w, err := NewTraceWriter(tmpDir, "run", false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	w.Close()
	got, err = ReadTrace(tmpDir, "run")
	if err != nil {
		t.Fatalf("ReadTrace failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty trace after truncate, got %d", len(got))
	}
}

func TestTraceWriter_Concurrent(t *testing.T) {
	tmpDir := t.TempDir()
	w, err := NewTraceWriter(tmpDir, "run", false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for k := 0; k < 25; k++ {
				if err := w.Write(TraceEntry{Sequence: g*25 + k}); err != nil {
					t.Errorf("Write failed: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	w.Close()

	got, err := ReadTrace(tmpDir, "run")
	if err != nil {
		t.Fatalf("ReadTrace failed: %v", err)
	}
	if len(got) != 200 {
		t.Errorf("Expected 200 entries, got %d", len(got))
	}
}

func TestReadTrace_NotFound(t *testing.T) {
	_, err := ReadTrace(t.TempDir(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected NotFoundError, got %v", err)
	}
}

func TestDecodeTrace_Malformed(t *testing.T) {
	_, err := decodeTrace(strings.NewReader("{\"sequence\":1}\n\nnot json\n"))
	if err == nil {
		t.Fatal("Expected error for malformed line")
	}
	if !strings.Contains(err.Error(), "line 3") {
		t.Errorf("Error should name the line: %v", err)
	}
}

func TestReadTrace_Unreadable(t *testing.T) {
	tmpDir := t.TempDir()
	dir := filepath.Join(tmpDir, "solutions", "run", "trace.jsonl")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadTrace(tmpDir, "run"); err == nil {
		t.Error("Expected error when trace path is a directory")
	}
}

func TestFSStore_Tracer(t *testing.T) {
	fs, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	var tracer Tracer = fs

	writer, err := tracer.OpenTrace("run")
	if err != nil {
		t.Fatalf("OpenTrace failed: %v", err)
	}
	if err := writer.Write(TraceEntry{Sequence: 1, Objective: 42}); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := tracer.LoadTrace("run")
	if err != nil {
		t.Fatalf("LoadTrace failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Objective != 42 {
		t.Errorf("Unexpected entries: %+v", entries)
	}
}
