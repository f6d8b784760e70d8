// Package security implements the opcode authorization gate: capability
// lookup, expiration and security-level checks, resource accounting, and
// the global context pool, run in order before any opcode executes.
package security

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SecurityLevel is the authorization tier a context carries and a
// capability requires. Maximum, High, Standard and Development form a
// total order; Custom sits outside it and always satisfies a dominance
// check regardless of which side carries it.
type SecurityLevel uint8

const (
	SecurityDevelopment SecurityLevel = iota
	SecurityStandard
	SecurityHigh
	SecurityMaximum
	SecurityCustom
)

func (s SecurityLevel) String() string {
	switch s {
	case SecurityDevelopment:
		return "Development"
	case SecurityStandard:
		return "Standard"
	case SecurityHigh:
		return "High"
	case SecurityMaximum:
		return "Maximum"
	case SecurityCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// Dominates reports whether s is at least as privileged as required under
// Maximum > High > Standard > Development; either side being Custom
// always passes, since Custom sits outside the linear hierarchy.
func (s SecurityLevel) Dominates(required SecurityLevel) bool {
	if s == SecurityCustom || required == SecurityCustom {
		return true
	}
	return s >= required
}

// OpcodeType identifies what a capability authorizes. Category is the
// opcode's broad partition (Arithmetic, Database, State, ...); Operation
// further discriminates categories that need it (Database's Read/Write/
// Query/Batch), and is empty for categories that don't.
type OpcodeType struct {
	Category  string
	Operation string
}

// ResourceLimits bounds what a capability's holder may consume.
type ResourceLimits struct {
	MaxMemoryBytes      uint64
	MaxCPUTimeMs        uint64
	MaxInstructionCount uint64
	MaxFileDescriptors  uint64
	MaxNetworkBytes     uint64
	MaxStorageBytes     uint64
	MaxCallStackDepth   uint64
}

// Capability authorizes a dot to execute a specific opcode type within
// resource limits, for a bounded lifetime.
type Capability struct {
	ID                    string
	OpcodeType            OpcodeType
	Permissions           []string
	ResourceLimits        ResourceLimits
	Expiration            *time.Time
	RequiredSecurityLevel SecurityLevel
	Delegatable           bool

	usageCount atomic.Uint64
	lastUsed   atomic.Int64 // unix nanos; 0 means never used
}

// Expired reports whether the capability's expiration, if any, is at or
// before now.
func (c *Capability) Expired(now time.Time) bool {
	return c.Expiration != nil && !c.Expiration.After(now)
}

// UsageCount returns the number of times this capability has been
// successfully exercised.
func (c *Capability) UsageCount() uint64 { return c.usageCount.Load() }

// LastUsed returns the last time bumpUsage was called, or the zero time
// if never used.
func (c *Capability) LastUsed() time.Time {
	nanos := c.lastUsed.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// bumpUsage records one successful use. It's best-effort: losing a race
// under contention is acceptable since usage accounting isn't a
// security-critical invariant.
func (c *Capability) bumpUsage(now time.Time) {
	c.usageCount.Add(1)
	c.lastUsed.Store(now.UnixNano())
}

// Template instantiates capabilities with a fixed shape (opcode type,
// default permissions, default limits, default lifetime, required
// security level) — the mechanism behind names like "arithmetic_basic",
// "database_read", "system_admin".
type Template struct {
	Name                  string
	OpcodeType            OpcodeType
	Permissions           []string
	ResourceLimits        ResourceLimits
	DefaultLifetime       time.Duration // zero means no expiration
	RequiredSecurityLevel SecurityLevel
	Delegatable           bool
}

// Instantiate builds a concrete Capability from t, stamping a fresh ID and
// computing an absolute expiration from now + DefaultLifetime.
func (t Template) Instantiate(now time.Time) *Capability {
	capv := &Capability{
		ID:                    uuid.NewString(),
		OpcodeType:            t.OpcodeType,
		Permissions:           append([]string(nil), t.Permissions...),
		ResourceLimits:        t.ResourceLimits,
		RequiredSecurityLevel: t.RequiredSecurityLevel,
		Delegatable:           t.Delegatable,
	}
	if t.DefaultLifetime > 0 {
		exp := now.Add(t.DefaultLifetime)
		capv.Expiration = &exp
	}
	return capv
}

// Built-in capability templates. Resource limits are conservative
// defaults; callers construct their own Template for anything bespoke.
var (
	TemplateArithmeticBasic = Template{
		Name:       "arithmetic_basic",
		OpcodeType: OpcodeType{Category: "Arithmetic"},
		Permissions: []string{"execute"},
		ResourceLimits: ResourceLimits{
			MaxMemoryBytes:      1 << 20,
			MaxCPUTimeMs:        100,
			MaxInstructionCount: 1_000_000,
			MaxCallStackDepth:   64,
		},
		RequiredSecurityLevel: SecurityDevelopment,
	}

	TemplateDatabaseRead = Template{
		Name:       "database_read",
		OpcodeType: OpcodeType{Category: "Database", Operation: "Read"},
		Permissions: []string{"execute", "read"},
		ResourceLimits: ResourceLimits{
			MaxMemoryBytes:      16 << 20,
			MaxCPUTimeMs:        500,
			MaxInstructionCount: 5_000_000,
			MaxStorageBytes:     64 << 20,
			MaxCallStackDepth:   128,
		},
		RequiredSecurityLevel: SecurityStandard,
	}

	TemplateDatabaseWrite = Template{
		Name:       "database_write",
		OpcodeType: OpcodeType{Category: "Database", Operation: "Write"},
		Permissions: []string{"execute", "read", "write"},
		ResourceLimits: ResourceLimits{
			MaxMemoryBytes:      16 << 20,
			MaxCPUTimeMs:        500,
			MaxInstructionCount: 5_000_000,
			MaxStorageBytes:     128 << 20,
			MaxCallStackDepth:   128,
		},
		RequiredSecurityLevel: SecurityHigh,
	}

	TemplateSystemAdmin = Template{
		Name:       "system_admin",
		OpcodeType: OpcodeType{Category: "System"},
		Permissions: []string{"execute", "read", "write", "admin"},
		ResourceLimits: ResourceLimits{
			MaxMemoryBytes:      256 << 20,
			MaxCPUTimeMs:        5000,
			MaxInstructionCount: 100_000_000,
			MaxFileDescriptors:  256,
			MaxNetworkBytes:     256 << 20,
			MaxStorageBytes:     1 << 30,
			MaxCallStackDepth:   256,
		},
		RequiredSecurityLevel: SecurityMaximum,
		Delegatable:           false,
	}
)

// Manager owns the capability set, keyed by dot_id. Writes (grant/revoke)
// take the exclusive lock; the hot read path (capability lookup during
// gating) clones the per-dot slice under a read lock and releases it
// before validation runs, so a slow validation never blocks a concurrent
// grant or revoke.
type Manager struct {
	mu           sync.RWMutex
	byDot        map[string][]*Capability
	allowDelegate bool
}

// NewManager builds an empty capability manager. allowDelegation gates
// whether Delegate succeeds at all — delegation is off by default.
func NewManager(allowDelegation bool) *Manager {
	return &Manager{byDot: make(map[string][]*Capability), allowDelegate: allowDelegation}
}

// Grant adds capv to dotID's capability set.
func (m *Manager) Grant(dotID string, capv *Capability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byDot[dotID] = append(m.byDot[dotID], capv)
}

// Revoke removes the capability with the given ID from dotID's set, if
// present.
func (m *Manager) Revoke(dotID string, capabilityID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.byDot[dotID]
	for i, c := range list {
		if c.ID == capabilityID {
			m.byDot[dotID] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Delegate grants a copy of an existing delegatable capability to another
// dot. Fails if delegation is disabled on this manager or the source
// capability isn't delegatable.
func (m *Manager) Delegate(fromDot, toDot, capabilityID string) (*Capability, bool) {
	if !m.allowDelegate {
		return nil, false
	}
	m.mu.RLock()
	var src *Capability
	for _, c := range m.byDot[fromDot] {
		if c.ID == capabilityID {
			src = c
			break
		}
	}
	m.mu.RUnlock()
	if src == nil || !src.Delegatable {
		return nil, false
	}

	delegated := &Capability{
		ID:                    uuid.NewString(),
		OpcodeType:            src.OpcodeType,
		Permissions:           append([]string(nil), src.Permissions...),
		ResourceLimits:        src.ResourceLimits,
		Expiration:            src.Expiration,
		RequiredSecurityLevel: src.RequiredSecurityLevel,
		Delegatable:           src.Delegatable,
	}
	m.Grant(toDot, delegated)
	return delegated, true
}

// lookup clones dotID's capability slice under a read lock, then releases
// it — the hot path never holds the lock during validation.
func (m *Manager) lookup(dotID string) []*Capability {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.byDot[dotID]
	out := make([]*Capability, len(list))
	copy(out, list)
	return out
}

// Find returns the capability authorizing opcodeType for dotID, if any.
func (m *Manager) Find(dotID string, opcodeType OpcodeType) (*Capability, bool) {
	for _, c := range m.lookup(dotID) {
		if c.OpcodeType == opcodeType {
			return c, true
		}
	}
	return nil, false
}
