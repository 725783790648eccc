package components

import (
	"strconv"
	"testing"
	"time"
)

func TestSparklineWindowIsBounded(t *testing.T) {
	t.Parallel()

	s := NewSparkline()
	for i := 0; i < 90; i++ {
		s.Push(float64(i))
	}
	if s.Len() != 60 {
		t.Fatalf("len = %d, want 60", s.Len())
	}
	if s.Current() != 89 {
		t.Fatalf("current = %v, want 89", s.Current())
	}
	// Oldest surviving sample is 30; the mean of 30..89 is 59.5.
	if got := s.Average(); got != 59.5 {
		t.Fatalf("average = %v, want 59.5", got)
	}
}

func TestSparklineTotalCountsEvictedSamples(t *testing.T) {
	t.Parallel()

	s := NewSparkline()
	for i := 0; i < 100; i++ {
		s.Push(1)
	}
	if s.Total() != 100 {
		t.Fatalf("total = %v, want 100", s.Total())
	}
}

func TestSparklineRenderWidthMatchesSamples(t *testing.T) {
	t.Parallel()

	s := NewSparkline()
	s.Push(0)
	s.Push(50)
	s.Push(100)
	line := []rune(s.Render())
	if len(line) != 3 {
		t.Fatalf("render width = %d, want 3", len(line))
	}
	if line[0] != '▁' || line[2] != '█' {
		t.Fatalf("render = %q, want lowest then highest block", string(line))
	}
}

func TestLogRingEvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	r := NewLogRing()
	for i := 0; i < 1005; i++ {
		r.Push(LogEntry{Timestamp: time.Unix(int64(i), 0), Message: strconv.Itoa(i)})
	}
	if r.Len() != 1000 {
		t.Fatalf("len = %d, want 1000", r.Len())
	}
	tail := r.Tail(1000)
	if tail[0].Message != "5" {
		t.Fatalf("oldest = %q, want %q", tail[0].Message, "5")
	}
	if tail[len(tail)-1].Message != "1004" {
		t.Fatalf("newest = %q, want %q", tail[len(tail)-1].Message, "1004")
	}
}

func TestLogRingTailReturnsNewestSuffix(t *testing.T) {
	t.Parallel()

	r := NewLogRing()
	for i := 0; i < 10; i++ {
		r.Push(LogEntry{Message: strconv.Itoa(i)})
	}
	tail := r.Tail(3)
	if len(tail) != 3 {
		t.Fatalf("tail len = %d, want 3", len(tail))
	}
	if tail[0].Message != "7" || tail[2].Message != "9" {
		t.Fatalf("tail = %v, want 7..9", tail)
	}
}
