package main

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/conclave/internal/config"
	"github.com/mtzanidakis/conclave/internal/store"
	"github.com/mtzanidakis/conclave/internal/swarm"
)

func TestParseAgentSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		shared  string
		want    swarm.AgentTask
		wantErr bool
	}{
		{"full", "fast:analyst:summarize the log", "", swarm.AgentTask{Model: "fast", Role: "analyst", Task: "summarize the log"}, false},
		{"task with colons", "deep:writer:Title: a story: part 2", "", swarm.AgentTask{Model: "deep", Role: "writer", Task: "Title: a story: part 2"}, false},
		{"shared task", "fast:critic", "review this", swarm.AgentTask{Model: "fast", Role: "critic", Task: "review this"}, false},
		{"empty model uses default", ":critic:x", "", swarm.AgentTask{Role: "critic", Task: "x"}, false},
		{"no role separator", "fast", "x", swarm.AgentTask{}, true},
		{"no task anywhere", "fast:critic", "", swarm.AgentTask{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAgentSpec(tt.spec, tt.shared)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAgentSpec(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseAgentSpec(%q) = %+v, want %+v", tt.spec, got, tt.want)
			}
		})
	}
}

func TestBuildTasks(t *testing.T) {
	tasks, err := buildTasks(nil, "brainstorm", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 3 || tasks[2].Task != "brainstorm" || tasks[0].Model != "" {
		t.Errorf("unexpected copies: %+v", tasks)
	}

	tasks, err = buildTasks([]string{"a:r", "b:r:own task"}, "shared", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Task != "shared" || tasks[1].Task != "own task" {
		t.Errorf("specs should win over count: %+v", tasks)
	}

	if _, err := buildTasks(nil, "", 1); err == nil {
		t.Error("expected error with nothing to run")
	}
	if _, err := buildTasks(nil, "x", 0); err == nil {
		t.Error("expected error for zero count")
	}
}

func TestConfiguredBackends(t *testing.T) {
	cfg := &config.Config{Models: map[string]string{
		"deep":    "opus",
		"fast":    "haiku",
		"default": "opus",
	}}
	got := strings.Join(configuredBackends(cfg), ",")
	if got != "opus,haiku" {
		t.Errorf("expected distinct backends in alias order, got %s", got)
	}
}

func TestRunEntryID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"runs/abc.json", "abc"},
		{"./runs/abc.json", "abc"},
		{"/runs/abc.json", "abc"},
		{"runs/nested/abc.json", ""},
		{"runs/abc.txt", ""},
		{"other/abc.json", ""},
		{"abc.json", ""},
		{"runs/", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := runEntryID(tt.input); got != tt.want {
				t.Errorf("runEntryID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1610612736, "1.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatSize(tt.bytes); got != tt.want {
				t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	done := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	runs := []*store.Run{
		{
			ID: "r1", Name: "weekly", Kind: "pipeline", Status: store.RunStatusCompleted,
			Report: "all good", Succeeded: 2,
			StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), CompletedAt: &done,
			Phases: []store.PhaseRecord{{Name: "research", Mode: swarm.ModeParallel, Report: "facts"}},
		},
		{ID: "r2", Name: "adhoc", Kind: "batch", Status: store.RunStatusFailed, Failed: 1, StartedAt: done},
	}

	path := filepath.Join(t.TempDir(), "history.tar.zst")
	if err := writeArchive(path, runs); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	got, err := readArchive(path)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(got))
	}
	if got[0].ID != "r1" || got[0].Report != "all good" || len(got[0].Phases) != 1 || got[0].Phases[0].Report != "facts" {
		t.Errorf("unexpected first run: %+v", got[0])
	}
	if got[0].CompletedAt == nil || !got[0].CompletedAt.Equal(done) {
		t.Errorf("expected completed_at preserved, got %v", got[0].CompletedAt)
	}
	if got[1].Status != store.RunStatusFailed || got[1].CompletedAt != nil {
		t.Errorf("unexpected second run: %+v", got[1])
	}
}

func TestReadArchiveSkipsForeignEntries(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(zw)
	entries := map[string]string{
		"README":       "not a run",
		"runs/ok.json": `{"id":"ok","name":"n","kind":"batch","status":"completed","started_at":"2026-01-01T00:00:00Z"}`,
	}
	for name, content := range entries {
		tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))})
		tw.Write([]byte(content))
	}
	tw.Close()
	zw.Close()

	path := filepath.Join(t.TempDir(), "mixed.tar.zst")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	runs, err := readArchive(path)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "ok" {
		t.Errorf("expected only the run entry, got %+v", runs)
	}
}

func TestReadArchiveInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.zst")
	if err := os.WriteFile(path, []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readArchive(path); err == nil {
		t.Error("expected error for invalid archive")
	}
	if _, err := readArchive(filepath.Join(t.TempDir(), "missing.tar.zst")); err == nil {
		t.Error("expected error for missing file")
	}
}
