package history

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sahilm/fuzzy"

	apperrors "kizuna/internal/platform/errors"
)

// MaxEntries bounds the history file; older entries roll off.
const MaxEntries = 1000

// Entry is one executed command.
type Entry struct {
	Command    string    `json:"command"`
	Timestamp  time.Time `json:"timestamp"`
	ExitCode   int       `json:"exit_code"`
	DurationMS int64     `json:"duration_ms"`
}

// Log is an append-mostly JSONL command history. Unparseable lines are
// skipped on load so a corrupt tail never blocks the CLI.
type Log struct {
	path string

	mu      sync.Mutex
	entries []Entry
}

// DefaultPath places the history next to the config file.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", apperrors.IO(err)
	}
	return filepath.Join(dir, "kizuna", "history"), nil
}

// Open loads the history file, creating its directory if needed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.IO(err)
	}
	log := &Log{path: path}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return log, nil
	}
	if err != nil {
		return nil, apperrors.IO(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if json.Unmarshal([]byte(line), &entry) != nil {
			continue
		}
		log.entries = append(log.entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.IO(err)
	}
	if len(log.entries) > MaxEntries {
		log.entries = log.entries[len(log.entries)-MaxEntries:]
	}
	return log, nil
}

// Append records one command and persists immediately. When the file is at
// capacity the whole file is rewritten without the oldest entries.
func (l *Log) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	if len(l.entries) > MaxEntries {
		l.entries = l.entries[len(l.entries)-MaxEntries:]
		return l.rewriteLocked()
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return apperrors.IO(err)
	}
	defer f.Close()
	line, err := json.Marshal(entry)
	if err != nil {
		return apperrors.IO(err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return apperrors.IO(err)
	}
	return nil
}

func (l *Log) rewriteLocked() error {
	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return apperrors.IO(err)
	}
	w := bufio.NewWriter(f)
	for _, entry := range l.entries {
		line, err := json.Marshal(entry)
		if err != nil {
			f.Close()
			return apperrors.IO(err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return apperrors.IO(err)
	}
	if err := f.Close(); err != nil {
		return apperrors.IO(err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return apperrors.IO(err)
	}
	return nil
}

// Clear drops all entries and truncates the file.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	return l.rewriteLocked()
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, 0, n)
	for i := len(l.entries) - 1; i >= len(l.entries)-n; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// Len reports stored entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Search fuzzy-matches past commands, best match first, deduplicated.
func (l *Log) Search(query string, limit int) []string {
	l.mu.Lock()
	seen := map[string]struct{}{}
	var commands []string
	for i := len(l.entries) - 1; i >= 0; i-- {
		cmd := l.entries[i].Command
		if _, dup := seen[cmd]; dup {
			continue
		}
		seen[cmd] = struct{}{}
		commands = append(commands, cmd)
	}
	l.mu.Unlock()

	if query == "" {
		if limit > 0 && len(commands) > limit {
			commands = commands[:limit]
		}
		return commands
	}
	matches := fuzzy.Find(query, commands)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Str)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// SuggestNext proposes completions for a partial command line: commands that
// share the typed prefix, most recent first.
func (l *Log) SuggestNext(partial string, limit int) []string {
	partial = strings.TrimSpace(partial)
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := map[string]struct{}{}
	var out []string
	for i := len(l.entries) - 1; i >= 0; i-- {
		cmd := l.entries[i].Command
		if partial != "" && !strings.HasPrefix(cmd, partial) {
			continue
		}
		if _, dup := seen[cmd]; dup {
			continue
		}
		seen[cmd] = struct{}{}
		out = append(out, cmd)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
