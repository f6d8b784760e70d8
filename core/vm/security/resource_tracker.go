package security

import (
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

// Usage is one resource snapshot or delta: memory, cpu_ms, instruction
// count, file descriptors, network bytes, storage bytes, and call stack
// depth, in the order the gate's resource check walks them.
type Usage struct {
	MemoryBytes      uint64
	CPUTimeMs        uint64
	InstructionCount uint64
	FileDescriptors  uint64
	NetworkBytes     uint64
	StorageBytes     uint64
	CallStackDepth   uint64
}

func (u Usage) add(d Usage) Usage {
	return Usage{
		MemoryBytes:      u.MemoryBytes + d.MemoryBytes,
		CPUTimeMs:        u.CPUTimeMs + d.CPUTimeMs,
		InstructionCount: u.InstructionCount + d.InstructionCount,
		FileDescriptors:  u.FileDescriptors + d.FileDescriptors,
		NetworkBytes:     u.NetworkBytes + d.NetworkBytes,
		StorageBytes:     u.StorageBytes + d.StorageBytes,
		CallStackDepth:   d.CallStackDepth, // depth is a high-water mark per frame, not cumulative
	}
}

func maxUsage(a, b Usage) Usage {
	max := func(x, y uint64) uint64 {
		if x > y {
			return x
		}
		return y
	}
	return Usage{
		MemoryBytes:      max(a.MemoryBytes, b.MemoryBytes),
		CPUTimeMs:        max(a.CPUTimeMs, b.CPUTimeMs),
		InstructionCount: max(a.InstructionCount, b.InstructionCount),
		FileDescriptors:  max(a.FileDescriptors, b.FileDescriptors),
		NetworkBytes:     max(a.NetworkBytes, b.NetworkBytes),
		StorageBytes:     max(a.StorageBytes, b.StorageBytes),
		CallStackDepth:   max(a.CallStackDepth, b.CallStackDepth),
	}
}

// ActionKind is the resource check's verdict for one evaluation.
type ActionKind uint8

const (
	ActionAllow ActionKind = iota
	ActionWarn
	ActionThrottle
	ActionDeny
	ActionTerminate
)

func (a ActionKind) String() string {
	switch a {
	case ActionAllow:
		return "Allow"
	case ActionWarn:
		return "Warn"
	case ActionThrottle:
		return "Throttle"
	case ActionDeny:
		return "Deny"
	case ActionTerminate:
		return "Terminate"
	default:
		return "Unknown"
	}
}

// Decision is the resource check's result: Allow/Warn carry no payload,
// Throttle carries a delay, Deny/Terminate carry a reason.
type Decision struct {
	Kind    ActionKind
	DelayMs uint64
	Reason  string
}

// warnThreshold is the fraction of a limit at which usage starts
// degrading gracefully instead of being flatly allowed.
const warnThreshold = 0.8

// throttleThreshold is the fraction at which a Warn escalates to a
// Throttle with a computed delay, still short of outright denial.
const throttleThreshold = 0.95

// historyEntry is one retained usage sample.
type historyEntry struct {
	at    time.Time
	usage Usage
}

// Tracker accumulates one execution context's resource usage, keeps a
// bounded-retention history, and evaluates that usage against a
// capability's limits — the per-context half of the gate's resource
// check; GlobalPool (below) is the cross-context half.
type Tracker struct {
	mu        sync.Mutex
	current   Usage
	peak      Usage
	history   []historyEntry
	retention time.Duration
}

// NewTracker builds a tracker with the default 5-minute retention window.
func NewTracker() *Tracker {
	return &Tracker{retention: 5 * time.Minute}
}

// Add folds delta into current usage, updates the peak, and records a
// history sample, pruning samples older than the retention window.
func (t *Tracker) Add(delta Usage, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = t.current.add(delta)
	t.peak = maxUsage(t.peak, t.current)
	t.history = append(t.history, historyEntry{at: now, usage: t.current})
	t.prune(now)
}

func (t *Tracker) prune(now time.Time) {
	cutoff := now.Add(-t.retention)
	i := 0
	for i < len(t.history) && t.history[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.history = append([]historyEntry(nil), t.history[i:]...)
	}
}

// Current returns a snapshot of cumulative usage so far.
func (t *Tracker) Current() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Peak returns the highest usage observed in any field.
func (t *Tracker) Peak() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peak
}

// History returns the retained usage samples, oldest first.
func (t *Tracker) History() []Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Usage, len(t.history))
	for i, h := range t.history {
		out[i] = h.usage
	}
	return out
}

// field pairs one resource's current/limit values with a name used in
// Deny/Terminate reasons.
type field struct {
	name    string
	current uint64
	limit   uint64
}

// Evaluate checks current usage against limits in the gate's fixed order
// (memory, cpu_ms, instruction_count, fd, network, storage, call stack
// depth) and returns the first non-Allow verdict. midExecution selects
// whether an over-limit field terminates a running frame (true) or denies
// the call outright before it starts (false).
func (t *Tracker) Evaluate(limits ResourceLimits, midExecution bool) Decision {
	current := t.Current()

	fields := []field{
		{"memory", current.MemoryBytes, limits.MaxMemoryBytes},
		{"cpu_ms", current.CPUTimeMs, limits.MaxCPUTimeMs},
		{"instruction_count", current.InstructionCount, limits.MaxInstructionCount},
		{"file_descriptors", current.FileDescriptors, limits.MaxFileDescriptors},
		{"network_bytes", current.NetworkBytes, limits.MaxNetworkBytes},
		{"storage_bytes", current.StorageBytes, limits.MaxStorageBytes},
		{"call_stack_depth", current.CallStackDepth, limits.MaxCallStackDepth},
	}

	for _, f := range fields {
		if f.limit == 0 {
			continue // unset limit means unbounded for that resource
		}
		ratio := float64(f.current) / float64(f.limit)
		switch {
		case ratio >= 1.0:
			reason := fmt.Sprintf("%s usage %d exceeds limit %d", f.name, f.current, f.limit)
			if midExecution {
				return Decision{Kind: ActionTerminate, Reason: reason}
			}
			return Decision{Kind: ActionDeny, Reason: reason}
		case ratio >= throttleThreshold:
			excess := f.current - uint64(throttleThreshold*float64(f.limit))
			delay := fakeExponentialBackoff(10, f.limit/100+1, excess)
			return Decision{Kind: ActionThrottle, DelayMs: delay}
		case ratio >= warnThreshold:
			return Decision{Kind: ActionWarn, Reason: fmt.Sprintf("%s usage at %.0f%% of limit", f.name, ratio*100)}
		}
	}
	return Decision{Kind: ActionAllow}
}

// fakeExponentialBackoff approximates factorMs * e**(excess/denom) with the
// same Taylor-expansion technique as EIP-4844's blob gas pricing curve,
// adapted to compute a millisecond throttle delay instead of a gas price.
func fakeExponentialBackoff(factorMs, denom, excess uint64) uint64 {
	if denom == 0 {
		denom = 1
	}
	factor := uint256.NewInt(factorMs)
	d := uint256.NewInt(denom)

	numerator := uint256.NewInt(excess)
	output := uint256.NewInt(0)
	numeratorAccum := new(uint256.Int)
	_, overflow := numeratorAccum.MulOverflow(factor, d)
	if overflow {
		return factorMs
	}
	divisor := new(uint256.Int)
	for i := 1; numeratorAccum.Sign() > 0 && i < 64; i++ {
		var of bool
		_, of = output.AddOverflow(output, numeratorAccum)
		if of {
			break
		}
		_, of = divisor.MulOverflow(d, uint256.NewInt(uint64(i)))
		if of {
			break
		}
		_, of = numeratorAccum.MulDivOverflow(numeratorAccum, numerator, divisor)
		if of {
			break
		}
	}
	return output.Div(output, d).Uint64()
}

// GlobalPool enforces caps shared across every execution context in the
// process: aggregate memory/CPU/network usage and the number of
// concurrently active contexts, the cross-context half of the gate's
// resource check.
type GlobalPool struct {
	mu             sync.Mutex
	activeContexts int
	totalMemory    uint64
	totalCPUMs     uint64
	totalNetwork   uint64

	MaxContexts     int
	MaxTotalMemory  uint64
	MaxTotalCPUMs   uint64
	MaxTotalNetwork uint64
}

// NewGlobalPool builds a pool with the default 1000-context cap and
// unbounded memory/CPU/network totals (set the Max* fields to bound them).
func NewGlobalPool() *GlobalPool {
	return &GlobalPool{MaxContexts: 1000}
}

// Enter admits one more active context, failing if the cap is already
// reached.
func (p *GlobalPool) Enter() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.MaxContexts > 0 && p.activeContexts >= p.MaxContexts {
		return false
	}
	p.activeContexts++
	return true
}

// Leave releases one active context slot.
func (p *GlobalPool) Leave() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.activeContexts > 0 {
		p.activeContexts--
	}
}

// Check reports whether adding delta to the pool-wide totals would stay
// within configured caps, without mutating anything.
func (p *GlobalPool) Check(delta Usage) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.MaxContexts > 0 && p.activeContexts >= p.MaxContexts {
		return Decision{Kind: ActionDeny, Reason: "global active-context cap reached"}
	}
	if p.MaxTotalMemory > 0 && p.totalMemory+delta.MemoryBytes > p.MaxTotalMemory {
		return Decision{Kind: ActionDeny, Reason: "global memory pool exhausted"}
	}
	if p.MaxTotalCPUMs > 0 && p.totalCPUMs+delta.CPUTimeMs > p.MaxTotalCPUMs {
		return Decision{Kind: ActionDeny, Reason: "global cpu pool exhausted"}
	}
	if p.MaxTotalNetwork > 0 && p.totalNetwork+delta.NetworkBytes > p.MaxTotalNetwork {
		return Decision{Kind: ActionDeny, Reason: "global network pool exhausted"}
	}
	return Decision{Kind: ActionAllow}
}

// Add commits delta to the pool-wide totals.
func (p *GlobalPool) Add(delta Usage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalMemory += delta.MemoryBytes
	p.totalCPUMs += delta.CPUTimeMs
	p.totalNetwork += delta.NetworkBytes
}

// ActiveContexts reports the current number of admitted contexts.
func (p *GlobalPool) ActiveContexts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeContexts
}
