package codegen

import (
	"testing"

	"github.com/dotlanth/dotvm/core/transpiler"
	"github.com/stretchr/testify/require"
)

func c32(v uint32) transpiler.TranspiledInstruction {
	return transpiler.TranspiledInstruction{Opcode: "CONST32", Operands: []uint64{uint64(v)}}
}

func TestOptimize_LevelZeroIsNoOp(t *testing.T) {
	in := []transpiler.TranspiledInstruction{c32(1), c32(2), {Opcode: "ADD32"}}
	out, stats := Optimize(in, 0)
	require.Equal(t, in, out)
	require.Equal(t, OptimizationStats{}, stats)
}

func TestOptimize_ConstantFolding(t *testing.T) {
	in := []transpiler.TranspiledInstruction{c32(2), c32(3), {Opcode: "MUL32"}}
	out, stats := Optimize(in, 1)
	require.Equal(t, []transpiler.TranspiledInstruction{c32(6)}, out)
	require.Equal(t, 1, stats.Folded)
}

func TestOptimize_ConstantFoldingCascades(t *testing.T) {
	// (1+2)*3 folds in two passes: ADD32 first, then MUL32.
	in := []transpiler.TranspiledInstruction{c32(1), c32(2), {Opcode: "ADD32"}, c32(3), {Opcode: "MUL32"}}
	out, stats := Optimize(in, 1)
	require.Equal(t, []transpiler.TranspiledInstruction{c32(9)}, out)
	require.Equal(t, 2, stats.Folded)
}

func TestOptimize_AlgebraicIdentityAddZero(t *testing.T) {
	in := []transpiler.TranspiledInstruction{
		{Opcode: "LOCAL_GET", Operands: []uint64{0}},
		c32(0),
		{Opcode: "ADD32"},
	}
	out, stats := Optimize(in, 2)
	require.Equal(t, []transpiler.TranspiledInstruction{{Opcode: "LOCAL_GET", Operands: []uint64{0}}}, out)
	require.Equal(t, 1, stats.StrengthReduced)
}

func TestOptimize_AlgebraicIdentityMulZero(t *testing.T) {
	in := []transpiler.TranspiledInstruction{
		{Opcode: "LOCAL_GET", Operands: []uint64{0}},
		c32(0),
		{Opcode: "MUL32"},
	}
	out, _ := Optimize(in, 2)
	require.Equal(t, []transpiler.TranspiledInstruction{c32(0)}, out)
}

func TestOptimize_SelfSubtractionIsZero(t *testing.T) {
	in := []transpiler.TranspiledInstruction{
		{Opcode: "LOCAL_GET", Operands: []uint64{3}},
		{Opcode: "LOCAL_GET", Operands: []uint64{3}},
		{Opcode: "SUB32"},
	}
	out, stats := Optimize(in, 2)
	require.Equal(t, []transpiler.TranspiledInstruction{c32(0)}, out)
	require.Equal(t, 1, stats.StrengthReduced)
}

func TestOptimize_PushPopElimination(t *testing.T) {
	in := []transpiler.TranspiledInstruction{
		{Opcode: "NOP"},
		c32(42),
		{Opcode: "DROP"},
		{Opcode: "NOP"},
	}
	out, stats := Optimize(in, 3)
	require.Equal(t, []transpiler.TranspiledInstruction{{Opcode: "NOP"}, {Opcode: "NOP"}}, out)
	require.Equal(t, 1, stats.Eliminated)
}

func TestOptimize_DeadCodeAfterReturnIsDropped(t *testing.T) {
	in := []transpiler.TranspiledInstruction{
		c32(1),
		{Opcode: "RETURN"},
		c32(2),
		{Opcode: "DROP"},
	}
	out, stats := Optimize(in, 3)
	require.Equal(t, []transpiler.TranspiledInstruction{c32(1), {Opcode: "RETURN"}}, out)
	require.True(t, stats.Eliminated > 0)
}

func TestOptimize_DeadCodePreservesLabeledBranchTargets(t *testing.T) {
	in := []transpiler.TranspiledInstruction{
		{Opcode: "RETURN"},
		{Opcode: "NOP", Label: "L0"}, // a branch target, must survive
	}
	out, _ := Optimize(in, 3)
	require.Equal(t, in, out)
}

// Property 9 — optimizer non-regression: instruction count never grows,
// and level > 1 finds something to do on non-trivial input.
func TestOptimize_NonRegressionAcrossLevels(t *testing.T) {
	in := []transpiler.TranspiledInstruction{
		{Opcode: "LOCAL_GET", Operands: []uint64{0}},
		c32(0),
		{Opcode: "ADD32"},
		c32(2),
		c32(3),
		{Opcode: "MUL32"},
		{Opcode: "DROP"},
		{Opcode: "RETURN"},
		c32(99),
		{Opcode: "DROP"},
	}
	for level := 0; level <= 3; level++ {
		out, stats := Optimize(in, level)
		require.LessOrEqual(t, len(out), len(in))
		if level > 1 {
			require.Greater(t, stats.total(), 0)
		}
	}
}
