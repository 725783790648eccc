package components

import (
	"time"

	"kizuna/internal/domain"
)

const logRingCap = 1000

// LogLevel classifies a log ring entry.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
	LevelDebug   LogLevel = "debug"
)

// LogEntry is one line in the operation log ring.
type LogEntry struct {
	Timestamp   time.Time
	Level       LogLevel
	OperationID domain.OperationID
	Message     string
}

// LogRing is a bounded FIFO of log entries. When full, pushing evicts the
// oldest entry.
type LogRing struct {
	entries []LogEntry
	start   int
	count   int
}

// NewLogRing returns an empty ring with the default 1000-entry capacity.
func NewLogRing() *LogRing {
	return &LogRing{entries: make([]LogEntry, logRingCap)}
}

// Push appends one entry, evicting the oldest when full.
func (r *LogRing) Push(e LogEntry) {
	if r.count < len(r.entries) {
		r.entries[(r.start+r.count)%len(r.entries)] = e
		r.count++
		return
	}
	r.entries[r.start] = e
	r.start = (r.start + 1) % len(r.entries)
}

// Len returns the number of entries held.
func (r *LogRing) Len() int { return r.count }

// Tail returns up to n entries, oldest first, ending at the newest.
func (r *LogRing) Tail(n int) []LogEntry {
	if n > r.count {
		n = r.count
	}
	out := make([]LogEntry, 0, n)
	for i := r.count - n; i < r.count; i++ {
		out = append(out, r.entries[(r.start+i)%len(r.entries)])
	}
	return out
}
