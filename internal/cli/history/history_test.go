package history_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kizuna/internal/cli/history"
)

func appendRaw(t *testing.T, path, raw string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open for raw append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(raw); err != nil {
		t.Fatalf("raw append: %v", err)
	}
}

func entry(cmd string, exitCode int) history.Entry {
	return history.Entry{
		Command:    cmd,
		Timestamp:  time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
		ExitCode:   exitCode,
		DurationMS: 42,
	}
}

func TestAppendAndReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history")

	log, err := history.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, cmd := range []string{"discover", "send --file a.txt --peer laptop", "status"} {
		if err := log.Append(entry(cmd, 0)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	reloaded, err := history.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reloaded.Len() != 3 {
		t.Fatalf("len = %d, want 3", reloaded.Len())
	}
	recent := reloaded.Recent(2)
	if recent[0].Command != "status" || recent[1].Command != "send --file a.txt --peer laptop" {
		t.Fatalf("recent = %v", recent)
	}
}

func TestRetentionCapsEntries(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history")
	log, err := history.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < history.MaxEntries+25; i++ {
		if err := log.Append(entry(fmt.Sprintf("discover --timeout %d", i), 0)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if log.Len() != history.MaxEntries {
		t.Fatalf("len = %d, want %d", log.Len(), history.MaxEntries)
	}

	reloaded, err := history.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reloaded.Len() != history.MaxEntries {
		t.Fatalf("reloaded len = %d, want %d", reloaded.Len(), history.MaxEntries)
	}
	if got := reloaded.Recent(1)[0].Command; got != fmt.Sprintf("discover --timeout %d", history.MaxEntries+24) {
		t.Fatalf("newest = %q", got)
	}
}

func TestCorruptLinesAreSkipped(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history")
	log, err := history.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := log.Append(entry("status", 0)); err != nil {
		t.Fatalf("append: %v", err)
	}
	appendRaw(t, path, "{not json\n\n")
	if err := log.Append(entry("discover", 0)); err != nil {
		t.Fatalf("append: %v", err)
	}

	reloaded, err := history.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reloaded.Len() != 2 {
		t.Fatalf("len = %d, want corrupt line skipped", reloaded.Len())
	}
}

func TestSearchFuzzyAndDeduplicated(t *testing.T) {
	t.Parallel()
	log, err := history.Open(filepath.Join(t.TempDir(), "history"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, cmd := range []string{"discover --type laptop", "status", "discover --type laptop", "send --file a.txt"} {
		if err := log.Append(entry(cmd, 0)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got := log.Search("dscvr", 5)
	if len(got) != 1 || got[0] != "discover --type laptop" {
		t.Fatalf("search = %v", got)
	}
	all := log.Search("", 0)
	if len(all) != 3 {
		t.Fatalf("deduplicated = %v", all)
	}
}

func TestSuggestNextPrefersRecent(t *testing.T) {
	t.Parallel()
	log, err := history.Open(filepath.Join(t.TempDir(), "history"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, cmd := range []string{"send --file old.txt", "status", "send --file new.txt"} {
		if err := log.Append(entry(cmd, 0)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got := log.SuggestNext("send", 10)
	if len(got) != 2 || got[0] != "send --file new.txt" {
		t.Fatalf("suggestions = %v", got)
	}
}
