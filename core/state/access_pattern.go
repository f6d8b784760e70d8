package state

import (
	"bytes"
	"sort"
	"sync"
	"time"
)

// PatternType classifies the dominant shape of recent key access.
type PatternType uint8

const (
	PatternRandom PatternType = iota
	PatternSequential
	PatternHotSpot
	PatternTemporal
	PatternRange
)

func (p PatternType) String() string {
	switch p {
	case PatternSequential:
		return "Sequential"
	case PatternHotSpot:
		return "HotSpot"
	case PatternTemporal:
		return "Temporal"
	case PatternRange:
		return "Range"
	default:
		return "Random"
	}
}

// AccessStats summarizes the keys a StatisticsRecorder has observed.
type AccessStats struct {
	TotalAccesses   uint64
	UniqueKeys      uint64
	SequentialRatio float64
	HotKeyRatio     float64
	AverageGapMs    float64
	AccessFrequency float64 // accesses per second over the observed window
}

// StatisticsRecorder is a concrete AccessRecorder: it counts per-key
// access frequency and inter-access gaps to classify the workload's
// access pattern, the seam a caller wires into NewTrie via
// WithAccessRecorder when it wants visibility instead of the no-op
// default.
type StatisticsRecorder struct {
	mu sync.Mutex

	counts     map[string]uint64
	lastKey    string
	haveLast   bool
	firstSeen  time.Time
	lastSeen   time.Time
	total      uint64
	sequential uint64 // consecutive accesses where key > lastKey lexicographically
	gapTotalMs float64
	gapCount   uint64
}

func NewStatisticsRecorder() *StatisticsRecorder {
	return &StatisticsRecorder{counts: make(map[string]uint64)}
}

func (s *StatisticsRecorder) RecordRead(key []byte)  { s.record(key) }
func (s *StatisticsRecorder) RecordWrite(key []byte) { s.record(key) }

func (s *StatisticsRecorder) record(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	k := string(key)

	s.total++
	s.counts[k]++
	if s.firstSeen.IsZero() {
		s.firstSeen = now
	}
	if s.haveLast {
		s.gapTotalMs += float64(now.Sub(s.lastSeen).Microseconds()) / 1000.0
		s.gapCount++
		if bytes.Compare(key, []byte(s.lastKey)) > 0 {
			s.sequential++
		}
	}
	s.lastKey = k
	s.haveLast = true
	s.lastSeen = now
}

// Stats snapshots the statistics gathered so far.
func (s *StatisticsRecorder) Stats() AccessStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := AccessStats{TotalAccesses: s.total, UniqueKeys: uint64(len(s.counts))}
	if s.total == 0 {
		return stats
	}

	if s.gapCount > 0 {
		stats.SequentialRatio = float64(s.sequential) / float64(s.gapCount)
		stats.AverageGapMs = s.gapTotalMs / float64(s.gapCount)
	}

	var maxCount uint64
	for _, c := range s.counts {
		if c > maxCount {
			maxCount = c
		}
	}
	stats.HotKeyRatio = float64(maxCount) / float64(s.total)

	if elapsed := s.lastSeen.Sub(s.firstSeen).Seconds(); elapsed > 0 {
		stats.AccessFrequency = float64(s.total) / elapsed
	}

	return stats
}

// DetectPattern classifies the dominant access shape from the current
// snapshot. Thresholds are heuristic, not a statistical model: a single
// key's share of all accesses above 0.5 reads as a hot spot, a
// predominantly ascending key order above 0.7 reads as sequential,
// anything else reads as random.
func (s *StatisticsRecorder) DetectPattern() PatternType {
	stats := s.Stats()
	switch {
	case stats.HotKeyRatio > 0.5:
		return PatternHotSpot
	case stats.SequentialRatio > 0.7:
		return PatternSequential
	default:
		return PatternRandom
	}
}

// TopKeys returns up to n keys ordered by descending access count, for
// surfacing the hottest keys in a diagnostics view.
func (s *StatisticsRecorder) TopKeys(n int) []string {
	s.mu.Lock()
	type kv struct {
		key   string
		count uint64
	}
	entries := make([]kv, 0, len(s.counts))
	for k, c := range s.counts {
		entries = append(entries, kv{k, c})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].key < entries[j].key
	})
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = entries[i].key
	}
	return out
}
