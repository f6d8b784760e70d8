package security

import (
	"fmt"
	"time"

	"github.com/dotlanth/dotvm/dotvmerr"
)

// GateContext is what the gate needs from an execution context to
// authorize an opcode: which dot is calling, at what security level, and
// the per-context resource tracker accumulating its usage so far.
type GateContext struct {
	DotID          string
	SecurityLevel  SecurityLevel
	CurrentVersion uint64
	Tracker        *Tracker
}

// Gate runs the six-step authorization pipeline in front of every opcode:
// capability lookup, expiration, security level, resource limits, the
// global pool, then a best-effort usage bump.
type Gate struct {
	capabilities *Manager
	pool         *GlobalPool
	now          func() time.Time
}

// NewGate builds a gate over the given capability manager and global
// resource pool.
func NewGate(capabilities *Manager, pool *GlobalPool) *Gate {
	return &Gate{capabilities: capabilities, pool: pool, now: time.Now}
}

// WithClock overrides the gate's time source, for deterministic tests of
// expiration and throttling.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Check runs the authorization pipeline for ctx attempting opcodeType,
// charging the default one-instruction cost. A nil error means the
// opcode may proceed; the returned Decision.Kind may still be Warn or
// Throttle. A Throttle's delay has already been slept inside the gate
// before it returns; a Warn is only reported.
func (g *Gate) Check(ctx GateContext, opcodeType OpcodeType) (Decision, error) {
	return g.CheckUsage(ctx, opcodeType, Usage{InstructionCount: 1})
}

// CheckUsage is Check with an explicit resource delta for this step,
// letting a caller that knows its real cost (bytes moved, memory grown)
// charge that instead of the flat one-instruction default. The same
// delta is charged into both the per-context Tracker and the GlobalPool,
// so a step that is heavy enough to blow a capability's own limits is
// also heavy enough to count against the pool-wide aggregate.
func (g *Gate) CheckUsage(ctx GateContext, opcodeType OpcodeType, delta Usage) (Decision, error) {
	const op = "Gate.Check"
	now := g.now()

	capv, ok := g.capabilities.Find(ctx.DotID, opcodeType)
	if !ok {
		return Decision{}, dotvmerr.New(dotvmerr.KindCapabilityNotFound, op,
			fmt.Errorf("no capability for dot %q opcode type %+v", ctx.DotID, opcodeType))
	}

	if capv.Expired(now) {
		return Decision{}, dotvmerr.New(dotvmerr.KindCapabilityExpired, op,
			fmt.Errorf("capability %s expired at %s", capv.ID, capv.Expiration))
	}

	if !ctx.SecurityLevel.Dominates(capv.RequiredSecurityLevel) {
		return Decision{}, dotvmerr.New(dotvmerr.KindCapabilityDenied, op,
			fmt.Errorf("context security level %s does not dominate required level %s", ctx.SecurityLevel, capv.RequiredSecurityLevel))
	}

	if ctx.Tracker == nil {
		return Decision{}, dotvmerr.New(dotvmerr.KindInvalidCapability, op,
			fmt.Errorf("context has no resource tracker"))
	}
	ctx.Tracker.Add(delta, now)

	decision := ctx.Tracker.Evaluate(capv.ResourceLimits, false)
	switch decision.Kind {
	case ActionDeny, ActionTerminate:
		return decision, dotvmerr.New(dotvmerr.KindResourceLimitExceeded, op, fmt.Errorf("%s", decision.Reason))
	case ActionThrottle:
		time.Sleep(time.Duration(decision.DelayMs) * time.Millisecond)
	}

	if poolDecision := g.pool.Check(delta); poolDecision.Kind == ActionDeny {
		return poolDecision, dotvmerr.New(dotvmerr.KindResourceLimitExceeded, op, fmt.Errorf("%s", poolDecision.Reason))
	}
	g.pool.Add(delta)

	capv.bumpUsage(now)
	return decision, nil
}

// Admit reserves one of the global pool's active-context slots. Callers
// running a new top-level execution context must call this once before
// dispatching any opcode through Check, and Release when the context
// finishes, so GlobalPool's active-context cap reflects real concurrency
// instead of staying permanently at zero.
func (g *Gate) Admit() bool { return g.pool.Enter() }

// Release returns the active-context slot a matching Admit reserved.
func (g *Gate) Release() { g.pool.Leave() }
