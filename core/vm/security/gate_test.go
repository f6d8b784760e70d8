package security

import (
	"testing"
	"time"

	"github.com/dotlanth/dotvm/dotvmerr"
	"github.com/stretchr/testify/require"
)

func newTestGate() (*Gate, *Manager) {
	mgr := NewManager(false)
	pool := NewGlobalPool()
	return NewGate(mgr, pool), mgr
}

// S5 — capability denial: a dot with no capabilities at all fails every
// opcode with CapabilityNotFound.
func TestGate_CapabilityDenialWithNoCapabilities(t *testing.T) {
	gate, _ := newTestGate()
	ctx := GateContext{DotID: "dot-empty", SecurityLevel: SecurityMaximum, Tracker: NewTracker()}

	_, err := gate.Check(ctx, OpcodeType{Category: "Database", Operation: "Read"})
	require.Error(t, err)
	require.True(t, dotvmerr.Is(err, dotvmerr.KindCapabilityNotFound))
}

// Property 10 — capability expiration: an opcode call 1ms after
// expiration fails with CapabilityExpired.
func TestGate_CapabilityExpiredOneMillisecondLate(t *testing.T) {
	gate, mgr := newTestGate()
	grantedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expiry := grantedAt.Add(time.Second)
	mgr.Grant("dot-a", &Capability{
		ID:                    "c1",
		OpcodeType:            OpcodeType{Category: "Arithmetic"},
		Expiration:            &expiry,
		RequiredSecurityLevel: SecurityDevelopment,
	})

	checkAt := expiry.Add(time.Millisecond)
	gate.WithClock(func() time.Time { return checkAt })
	ctx := GateContext{DotID: "dot-a", SecurityLevel: SecurityMaximum, Tracker: NewTracker()}

	_, err := gate.Check(ctx, OpcodeType{Category: "Arithmetic"})
	require.Error(t, err)
	require.True(t, dotvmerr.Is(err, dotvmerr.KindCapabilityExpired))
}

func TestGate_ExactExpirationMomentIsExpired(t *testing.T) {
	gate, mgr := newTestGate()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr.Grant("dot-a", &Capability{
		ID:         "c1",
		OpcodeType: OpcodeType{Category: "Arithmetic"},
		Expiration: &now,
	})
	gate.WithClock(func() time.Time { return now })

	_, err := gate.Check(GateContext{DotID: "dot-a", Tracker: NewTracker()}, OpcodeType{Category: "Arithmetic"})
	require.True(t, dotvmerr.Is(err, dotvmerr.KindCapabilityExpired))
}

func TestGate_SecurityLevelMismatchIsDenied(t *testing.T) {
	gate, mgr := newTestGate()
	mgr.Grant("dot-a", &Capability{
		ID:                    "c1",
		OpcodeType:            OpcodeType{Category: "System"},
		RequiredSecurityLevel: SecurityMaximum,
	})

	_, err := gate.Check(GateContext{DotID: "dot-a", SecurityLevel: SecurityStandard, Tracker: NewTracker()}, OpcodeType{Category: "System"})
	require.Error(t, err)
	require.True(t, dotvmerr.Is(err, dotvmerr.KindCapabilityDenied))
}

func TestGate_CustomSecurityLevelAlwaysAccepted(t *testing.T) {
	gate, mgr := newTestGate()
	mgr.Grant("dot-a", &Capability{
		ID:                    "c1",
		OpcodeType:            OpcodeType{Category: "System"},
		RequiredSecurityLevel: SecurityMaximum,
	})

	_, err := gate.Check(GateContext{DotID: "dot-a", SecurityLevel: SecurityCustom, Tracker: NewTracker()}, OpcodeType{Category: "System"})
	require.NoError(t, err)
}

func TestGate_ResourceLimitExceededDenies(t *testing.T) {
	gate, mgr := newTestGate()
	mgr.Grant("dot-a", &Capability{
		ID:                    "c1",
		OpcodeType:            OpcodeType{Category: "Arithmetic"},
		RequiredSecurityLevel: SecurityDevelopment,
		ResourceLimits:        ResourceLimits{MaxMemoryBytes: 100},
	})

	tracker := NewTracker()
	tracker.Add(Usage{MemoryBytes: 200}, time.Now())
	_, err := gate.Check(GateContext{DotID: "dot-a", SecurityLevel: SecurityMaximum, Tracker: tracker}, OpcodeType{Category: "Arithmetic"})
	require.Error(t, err)
	require.True(t, dotvmerr.Is(err, dotvmerr.KindResourceLimitExceeded))
}

func TestGate_SuccessfulCheckBumpsUsage(t *testing.T) {
	gate, mgr := newTestGate()
	capv := &Capability{
		ID:                    "c1",
		OpcodeType:            OpcodeType{Category: "Arithmetic"},
		RequiredSecurityLevel: SecurityDevelopment,
	}
	mgr.Grant("dot-a", capv)

	require.Equal(t, uint64(0), capv.UsageCount())
	_, err := gate.Check(GateContext{DotID: "dot-a", SecurityLevel: SecurityMaximum, Tracker: NewTracker()}, OpcodeType{Category: "Arithmetic"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), capv.UsageCount())
}

func TestGate_GlobalPoolContextCapDenies(t *testing.T) {
	mgr := NewManager(false)
	pool := NewGlobalPool()
	pool.MaxContexts = 1
	require.True(t, pool.Enter())
	gate := NewGate(mgr, pool)

	mgr.Grant("dot-a", &Capability{ID: "c1", OpcodeType: OpcodeType{Category: "Arithmetic"}})
	_, err := gate.Check(GateContext{DotID: "dot-a", SecurityLevel: SecurityMaximum, Tracker: NewTracker()}, OpcodeType{Category: "Arithmetic"})
	require.Error(t, err)
	require.True(t, dotvmerr.Is(err, dotvmerr.KindResourceLimitExceeded))
}
