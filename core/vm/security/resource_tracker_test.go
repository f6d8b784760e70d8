package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTracker_AllowBelowWarnThreshold(t *testing.T) {
	tr := NewTracker()
	tr.Add(Usage{MemoryBytes: 50}, time.Now())
	d := tr.Evaluate(ResourceLimits{MaxMemoryBytes: 100}, false)
	require.Equal(t, ActionAllow, d.Kind)
}

func TestTracker_WarnAboveThreshold(t *testing.T) {
	tr := NewTracker()
	tr.Add(Usage{MemoryBytes: 85}, time.Now())
	d := tr.Evaluate(ResourceLimits{MaxMemoryBytes: 100}, false)
	require.Equal(t, ActionWarn, d.Kind)
}

func TestTracker_ThrottleNearLimit(t *testing.T) {
	tr := NewTracker()
	tr.Add(Usage{MemoryBytes: 97}, time.Now())
	d := tr.Evaluate(ResourceLimits{MaxMemoryBytes: 100}, false)
	require.Equal(t, ActionThrottle, d.Kind)
	require.Greater(t, d.DelayMs, uint64(0))
}

func TestTracker_DenyOverLimitPreExecution(t *testing.T) {
	tr := NewTracker()
	tr.Add(Usage{MemoryBytes: 150}, time.Now())
	d := tr.Evaluate(ResourceLimits{MaxMemoryBytes: 100}, false)
	require.Equal(t, ActionDeny, d.Kind)
	require.Contains(t, d.Reason, "memory")
}

func TestTracker_TerminateOverLimitMidExecution(t *testing.T) {
	tr := NewTracker()
	tr.Add(Usage{MemoryBytes: 150}, time.Now())
	d := tr.Evaluate(ResourceLimits{MaxMemoryBytes: 100}, true)
	require.Equal(t, ActionTerminate, d.Kind)
}

func TestTracker_UnsetLimitIsUnbounded(t *testing.T) {
	tr := NewTracker()
	tr.Add(Usage{MemoryBytes: 1 << 40}, time.Now())
	d := tr.Evaluate(ResourceLimits{}, false)
	require.Equal(t, ActionAllow, d.Kind)
}

func TestTracker_ChecksFieldsInOrderAndShortCircuits(t *testing.T) {
	tr := NewTracker()
	tr.Add(Usage{MemoryBytes: 150, CPUTimeMs: 150}, time.Now())
	d := tr.Evaluate(ResourceLimits{MaxMemoryBytes: 100, MaxCPUTimeMs: 100}, false)
	require.Equal(t, ActionDeny, d.Kind)
	require.Contains(t, d.Reason, "memory")
}

func TestTracker_PeakTracksMaximum(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	tr.Add(Usage{MemoryBytes: 100}, now)
	tr.Add(Usage{MemoryBytes: 50}, now.Add(time.Second))
	require.Equal(t, uint64(150), tr.Current().MemoryBytes)
	require.Equal(t, uint64(150), tr.Peak().MemoryBytes)
}

func TestTracker_HistoryPrunesOutsideRetention(t *testing.T) {
	tr := NewTracker()
	tr.retention = time.Minute
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.Add(Usage{MemoryBytes: 10}, base)
	tr.Add(Usage{MemoryBytes: 10}, base.Add(2*time.Minute))
	require.Len(t, tr.History(), 1)
}

func TestGlobalPool_ContextCap(t *testing.T) {
	pool := NewGlobalPool()
	pool.MaxContexts = 1
	require.True(t, pool.Enter())
	require.False(t, pool.Enter())
	pool.Leave()
	require.True(t, pool.Enter())
}

func TestGlobalPool_MemoryCap(t *testing.T) {
	pool := NewGlobalPool()
	pool.MaxTotalMemory = 100
	pool.Add(Usage{MemoryBytes: 90})
	d := pool.Check(Usage{MemoryBytes: 20})
	require.Equal(t, ActionDeny, d.Kind)
}

func TestFakeExponentialBackoff_MonotonicInExcess(t *testing.T) {
	low := fakeExponentialBackoff(10, 50, 5)
	high := fakeExponentialBackoff(10, 50, 50)
	require.GreaterOrEqual(t, high, low)
}
