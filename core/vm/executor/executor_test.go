package executor

import (
	"context"
	"testing"
	"time"

	"github.com/dotlanth/dotvm/core/state"
	"github.com/dotlanth/dotvm/core/transpiler"
	"github.com/dotlanth/dotvm/core/vm/security"
	"github.com/dotlanth/dotvm/erigon-lib/common"
	"github.com/stretchr/testify/require"
)

func grantAll(t *testing.T, dotID string) *security.Manager {
	t.Helper()
	mgr := security.NewManager(false)
	now := time.Now()
	for _, tmpl := range []security.Template{
		security.TemplateArithmeticBasic,
		security.TemplateDatabaseRead,
		security.TemplateDatabaseWrite,
		security.TemplateSystemAdmin,
	} {
		mgr.Grant(dotID, tmpl.Instantiate(now))
	}
	for _, cat := range []string{"Bitwise", "Control", "Memory", "BigInt", "Vector", "SIMD", "Math", "State", "Crypto", "Parallel"} {
		mgr.Grant(dotID, (&security.Template{
			Name:                  cat,
			OpcodeType:            security.OpcodeType{Category: cat},
			ResourceLimits:        security.ResourceLimits{MaxMemoryBytes: 1 << 30, MaxCPUTimeMs: 10_000, MaxInstructionCount: 10_000_000, MaxCallStackDepth: 256},
			RequiredSecurityLevel: security.SecurityDevelopment,
		}).Instantiate(now))
	}
	return mgr
}

func newTestContext(t *testing.T, dotID string, mgr *security.Manager) *Context {
	t.Helper()
	pool := security.NewGlobalPool()
	gate := security.NewGate(mgr, pool)
	tracker := security.NewTracker()

	storage := state.NewMemoryNodeStorage()
	reader := state.NewVersionedReader(storage)
	trie := state.NewTrie(storage)

	return &Context{
		DotID: common.Address{0x01},
		Gate: GateInfo{
			Gate: gate,
			Context: security.GateContext{
				DotID:          dotID,
				SecurityLevel:  security.SecurityStandard,
				CurrentVersion: 1,
				Tracker:        tracker,
			},
		},
		Reader: reader,
		Trie:   trie,
		Hash:   Keccak256Hasher{},
		Sign:   Secp256k1Signer{},
		Pool:   NewWorkerPool(4),
	}
}

func addTwoModule() *transpiler.TranspiledModule {
	fn := transpiler.TranspiledFunction{
		ParamCount: 2,
		Instructions: []transpiler.TranspiledInstruction{
			{Opcode: "LOCAL_GET", Operands: []uint64{0}},
			{Opcode: "LOCAL_GET", Operands: []uint64{1}},
			{Opcode: "ADD32"},
			{Opcode: "RETURN"},
		},
	}
	return &transpiler.TranspiledModule{Functions: []transpiler.TranspiledFunction{fn}}
}

func TestExecutor_SimpleArithmeticReturn(t *testing.T) {
	ctx := newTestContext(t, "dot-1", grantAll(t, "dot-1"))
	ex := New(addTwoModule(), ctx)

	res, err := ex.Call(context.Background(), 0, []uint64{3, 4})
	require.NoError(t, err)
	require.Equal(t, uint64(7), res)
}

func TestExecutor_DeniesWithoutCapability(t *testing.T) {
	ctx := newTestContext(t, "dot-2", security.NewManager(false))
	ex := New(addTwoModule(), ctx)

	_, err := ex.Call(context.Background(), 0, []uint64{1, 2})
	require.Error(t, err)
}

// loopSumModule computes 0+1+...+(n-1) with a LOOP/JUMPIF structure:
// locals[0]=n (param), locals[1]=i (local), locals[2]=acc (local).
func loopSumModule() *transpiler.TranspiledModule {
	fn := transpiler.TranspiledFunction{
		ParamCount: 1,
		LocalCount: 2,
		Instructions: []transpiler.TranspiledInstruction{
			{Opcode: "LOOP", Label: "L0"}, // 0
			{Opcode: "LOCAL_GET", Operands: []uint64{1}},  // 1: push i
			{Opcode: "LOCAL_GET", Operands: []uint64{0}},  // 2: push n
			{Opcode: "LT_S32"},                            // 3: i < n
			{Opcode: "JUMPIF_NOT", Label: "L1"},            // 4: if !(i<n) break
			{Opcode: "LOCAL_GET", Operands: []uint64{2}},  // 5
			{Opcode: "LOCAL_GET", Operands: []uint64{1}},  // 6
			{Opcode: "ADD32"},                              // 7
			{Opcode: "LOCAL_SET", Operands: []uint64{2}},  // 8: acc += i
			{Opcode: "LOCAL_GET", Operands: []uint64{1}},  // 9
			{Opcode: "CONST32", Operands: []uint64{1}},    // 10
			{Opcode: "ADD32"},                              // 11
			{Opcode: "LOCAL_SET", Operands: []uint64{1}},  // 12: i += 1
			{Opcode: "JUMP", Operands: []uint64{1}},        // 13: continue loop (depth 1 = LOOP)
			{Opcode: "END"},                                // 14: end of JUMPIF_NOT block
			{Opcode: "END"},                                // 15: end of LOOP block
			{Opcode: "LOCAL_GET", Operands: []uint64{2}},
			{Opcode: "RETURN"},
		},
	}
	return &transpiler.TranspiledModule{Functions: []transpiler.TranspiledFunction{fn}}
}

func TestExecutor_LoopAccumulatesSum(t *testing.T) {
	ctx := newTestContext(t, "dot-3", grantAll(t, "dot-3"))
	ex := New(loopSumModule(), ctx)

	res, err := ex.Call(context.Background(), 0, []uint64{5})
	require.NoError(t, err)
	require.Equal(t, uint64(0+1+2+3+4), res)
}

func TestExecutor_HostSloadSstoreRoundTrip(t *testing.T) {
	ctx := newTestContext(t, "dot-4", grantAll(t, "dot-4"))

	mod := &transpiler.TranspiledModule{
		Imports: []transpiler.Import{{Module: "dotvm", Field: "sstore", Kind: transpiler.ImportFunc}},
	}
	ex := New(mod, ctx)

	_, err := ex.Call(context.Background(), 0, []uint64{42, 99})
	require.NoError(t, err)
	ctx.Reader.RecordRoot(ctx.Gate.Context.CurrentVersion, ctx.Trie.RootHash())

	mod2 := &transpiler.TranspiledModule{
		Imports: []transpiler.Import{{Module: "dotvm", Field: "sload", Kind: transpiler.ImportFunc}},
	}
	ex2 := New(mod2, ctx)
	val, err := ex2.Call(context.Background(), 0, []uint64{42})
	require.NoError(t, err)
	require.Equal(t, uint64(99), val)
}

func TestExecutor_HostHashIsDeterministic(t *testing.T) {
	ctx := newTestContext(t, "dot-5", grantAll(t, "dot-5"))
	mod := &transpiler.TranspiledModule{
		Imports: []transpiler.Import{{Module: "dotvm", Field: "hash", Kind: transpiler.ImportFunc}},
	}
	ex := New(mod, ctx)

	a, err := ex.Call(context.Background(), 0, []uint64{7})
	require.NoError(t, err)
	b, err := ex.Call(context.Background(), 0, []uint64{7})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestExecutor_ParallelMapSumsDoubledInputs(t *testing.T) {
	ctx := newTestContext(t, "dot-6", grantAll(t, "dot-6"))
	mod := &transpiler.TranspiledModule{
		Imports: []transpiler.Import{{Module: "dotvm", Field: "parallel_map", Kind: transpiler.ImportFunc}},
	}
	ex := New(mod, ctx)

	res, err := ex.Call(context.Background(), 0, []uint64{4})
	require.NoError(t, err)
	// doubled(0)+doubled(1)+doubled(2)+doubled(3) = 0+2+4+6
	require.Equal(t, uint64(12), res)
}

func TestExecutor_DivisionByZeroFails(t *testing.T) {
	ctx := newTestContext(t, "dot-7", grantAll(t, "dot-7"))
	fn := transpiler.TranspiledFunction{
		Instructions: []transpiler.TranspiledInstruction{
			{Opcode: "CONST32", Operands: []uint64{1}},
			{Opcode: "CONST32", Operands: []uint64{0}},
			{Opcode: "DIV_S32"},
			{Opcode: "RETURN"},
		},
	}
	mod := &transpiler.TranspiledModule{Functions: []transpiler.TranspiledFunction{fn}}
	ex := New(mod, ctx)

	_, err := ex.Call(context.Background(), 0, nil)
	require.Error(t, err)
}

// TestExecutor_CallAdmitsAndReleasesOneGlobalPoolSlot pins the top-level
// Call boundary as the global pool's real admission point: the slot is
// held for the outermost call's duration and freed once it returns, and
// a pool with no free slots rejects the call outright.
func TestExecutor_CallAdmitsAndReleasesOneGlobalPoolSlot(t *testing.T) {
	mgr := grantAll(t, "dot-8")
	pool := security.NewGlobalPool()
	pool.MaxContexts = 1
	gate := security.NewGate(mgr, pool)

	ctx := newTestContext(t, "dot-8", mgr)
	ctx.Gate.Gate = gate
	ex := New(addTwoModule(), ctx)

	_, err := ex.Call(context.Background(), 0, []uint64{3, 4})
	require.NoError(t, err)
	require.Equal(t, 0, pool.ActiveContexts()) // released after the call returns

	require.True(t, pool.Enter()) // occupy the pool's only slot externally
	_, err = ex.Call(context.Background(), 0, []uint64{1, 2})
	require.Error(t, err)
}

// TestExecutor_MemGrowChargesRealMemoryAgainstGlobalPool confirms a
// MEM_GROW step is charged its actual byte growth into the global pool,
// not a flat per-instruction cost — a pool with no memory headroom left
// must deny the growth rather than silently allow it.
func TestExecutor_MemGrowChargesRealMemoryAgainstGlobalPool(t *testing.T) {
	mgr := grantAll(t, "dot-9")
	pool := security.NewGlobalPool()
	pool.MaxTotalMemory = 1 // one byte of headroom process-wide
	gate := security.NewGate(mgr, pool)

	ctx := newTestContext(t, "dot-9", mgr)
	ctx.Gate.Gate = gate

	fn := transpiler.TranspiledFunction{
		Instructions: []transpiler.TranspiledInstruction{
			{Opcode: "CONST32", Operands: []uint64{1}}, // pages to grow
			{Opcode: "MEM_GROW"},
			{Opcode: "RETURN"},
		},
	}
	mod := &transpiler.TranspiledModule{Functions: []transpiler.TranspiledFunction{fn}}
	ex := New(mod, ctx)

	_, err := ex.Call(context.Background(), 0, nil)
	require.Error(t, err)
}
