package codegen

import "github.com/dotlanth/dotvm/core/transpiler"

// OptimizationStats tallies what each optimization level did, so callers
// can tell an optimizer that ran and found nothing apart from one that
// never ran.
type OptimizationStats struct {
	Folded          int
	Eliminated      int
	StrengthReduced int
}

func (s OptimizationStats) total() int {
	return s.Folded + s.Eliminated + s.StrengthReduced
}

// Optimize runs the instruction sequence through the optimization pipeline
// up to level (0-3):
//
//	0 — no optimization, a verbatim copy.
//	1 — constant folding: adjacent const/const/op triples collapse to one const.
//	2 — adds algebraic identity simplification (x+0, x*1, x-x, x*0, ...).
//	3 — adds dead-code elimination and push/pop peephole removal.
//
// Every level is semantics-preserving and never increases the instruction
// count: len(out) <= len(in) always holds.
func Optimize(instrs []transpiler.TranspiledInstruction, level int) ([]transpiler.TranspiledInstruction, OptimizationStats) {
	out := append([]transpiler.TranspiledInstruction(nil), instrs...)
	var stats OptimizationStats

	if level < 1 {
		return out, stats
	}

	for {
		folded, n := foldConstants(out)
		out = folded
		stats.Folded += n
		if n == 0 {
			break
		}
	}

	if level >= 2 {
		for {
			reduced, n := applyAlgebraicIdentities(out)
			out = reduced
			stats.StrengthReduced += n
			if n == 0 {
				break
			}
			// an identity can expose a fresh constant-fold opportunity
			// (e.g. x*0 -> 0 feeding into another op), so keep the two
			// passes alternating until both are dry.
			folded, fn := foldConstants(out)
			out = folded
			stats.Folded += fn
		}
	}

	if level >= 3 {
		pruned, elimPush := eliminatePushPop(out)
		out = pruned
		stats.Eliminated += elimPush

		reachable, elimDead := eliminateDeadCode(out)
		out = reachable
		stats.Eliminated += elimDead
	}

	return out, stats
}

// isPure reports whether instr pushes one value without consuming any
// stack operand and with no other observable side effect, the property
// that lets the algebraic-identity and push/pop passes drop it safely.
func isPure(instr transpiler.TranspiledInstruction) bool {
	switch instr.Opcode {
	case "CONST32", "CONST64", "FCONST32", "FCONST64", "LOCAL_GET", "GLOBAL_GET":
		return true
	default:
		return false
	}
}

// foldConstants collapses every (CONST, CONST, pure-arithmetic-op) triple it
// finds into a single CONST carrying the computed result.
func foldConstants(instrs []transpiler.TranspiledInstruction) ([]transpiler.TranspiledInstruction, int) {
	var out []transpiler.TranspiledInstruction
	folds := 0

	for i := 0; i < len(instrs); i++ {
		if i+2 < len(instrs) &&
			instrs[i].Opcode == "CONST32" && instrs[i+1].Opcode == "CONST32" &&
			instrs[i+2].Label == "" {
			if fn, ok := pureArithmetic32[instrs[i+2].Opcode]; ok {
				a := uint32(instrs[i].Operands[0])
				b := uint32(instrs[i+1].Operands[0])
				out = append(out, transpiler.TranspiledInstruction{Opcode: "CONST32", Operands: []uint64{uint64(fn(a, b))}})
				folds++
				i += 2
				continue
			}
		}
		if i+2 < len(instrs) &&
			instrs[i].Opcode == "CONST64" && instrs[i+1].Opcode == "CONST64" &&
			instrs[i+2].Label == "" {
			if fn, ok := pureArithmetic64[instrs[i+2].Opcode]; ok {
				a := instrs[i].Operands[0]
				b := instrs[i+1].Operands[0]
				out = append(out, transpiler.TranspiledInstruction{Opcode: "CONST64", Operands: []uint64{fn(a, b)}})
				folds++
				i += 2
				continue
			}
		}
		out = append(out, instrs[i])
	}
	return out, folds
}

// sameOperand reports whether two instructions read the identical operand
// (e.g. the same local index), the condition self-subtraction identities
// (x - x) depend on.
func sameOperand(a, b transpiler.TranspiledInstruction) bool {
	if a.Opcode != b.Opcode || len(a.Operands) != len(b.Operands) {
		return false
	}
	for i := range a.Operands {
		if a.Operands[i] != b.Operands[i] {
			return false
		}
	}
	return true
}

// applyAlgebraicIdentities simplifies (value, identity-const, op) triples —
// x+0, x-0, x*1, x/1 reduce to x; x*0 reduces to 0; and (x, x, SUB) reduces
// to 0 — dropping the non-constant producer only when it's side-effect free.
func applyAlgebraicIdentities(instrs []transpiler.TranspiledInstruction) ([]transpiler.TranspiledInstruction, int) {
	var out []transpiler.TranspiledInstruction
	reductions := 0

	for i := 0; i < len(instrs); i++ {
		if i+2 < len(instrs) && instrs[i+2].Label == "" && isPure(instrs[i]) {
			a, c, op := instrs[i], instrs[i+1], instrs[i+2]

			if c.Opcode == "CONST32" && len(c.Operands) == 1 {
				v := uint32(c.Operands[0])
				switch {
				case v == 0 && (op.Opcode == "ADD32" || op.Opcode == "SUB32" || op.Opcode == "OR32" || op.Opcode == "XOR32"):
					out = append(out, a)
					reductions++
					i += 2
					continue
				case v == 1 && (op.Opcode == "MUL32" || op.Opcode == "DIV_S32" || op.Opcode == "DIV_U32"):
					out = append(out, a)
					reductions++
					i += 2
					continue
				case v == 0 && op.Opcode == "MUL32":
					out = append(out, transpiler.TranspiledInstruction{Opcode: "CONST32", Operands: []uint64{0}})
					reductions++
					i += 2
					continue
				}
			}
			if c.Opcode == "CONST64" && len(c.Operands) == 1 {
				v := c.Operands[0]
				switch {
				case v == 0 && (op.Opcode == "ADD64" || op.Opcode == "SUB64" || op.Opcode == "OR64" || op.Opcode == "XOR64"):
					out = append(out, a)
					reductions++
					i += 2
					continue
				case v == 1 && (op.Opcode == "MUL64" || op.Opcode == "DIV_S64" || op.Opcode == "DIV_U64"):
					out = append(out, a)
					reductions++
					i += 2
					continue
				case v == 0 && op.Opcode == "MUL64":
					out = append(out, transpiler.TranspiledInstruction{Opcode: "CONST64", Operands: []uint64{0}})
					reductions++
					i += 2
					continue
				}
			}
		}

		if i+2 < len(instrs) && instrs[i+2].Label == "" &&
			(instrs[i+2].Opcode == "SUB32" || instrs[i+2].Opcode == "SUB64") &&
			isPure(instrs[i]) && sameOperand(instrs[i], instrs[i+1]) {
			zero := "CONST32"
			if instrs[i+2].Opcode == "SUB64" {
				zero = "CONST64"
			}
			out = append(out, transpiler.TranspiledInstruction{Opcode: zero, Operands: []uint64{0}})
			reductions++
			i += 2
			continue
		}

		out = append(out, instrs[i])
	}
	return out, reductions
}

// eliminatePushPop drops any side-effect-free producer immediately followed
// by a DROP — the bytecode-level analogue of removing a push paired with
// an immediate pop.
func eliminatePushPop(instrs []transpiler.TranspiledInstruction) ([]transpiler.TranspiledInstruction, int) {
	var out []transpiler.TranspiledInstruction
	eliminated := 0

	for i := 0; i < len(instrs); i++ {
		if i+1 < len(instrs) && instrs[i+1].Opcode == "DROP" && instrs[i+1].Label == "" && isPure(instrs[i]) {
			eliminated++
			i++
			continue
		}
		out = append(out, instrs[i])
	}
	return out, eliminated
}

// eliminateDeadCode drops instructions that follow an unconditional
// terminator (RETURN, UNREACHABLE) until the next labeled instruction or
// END, mirroring the transpiler's reachability analysis: a label marks a
// block entry and an END closes a block that a branch can exit through,
// so only unlabeled, non-END instructions in the dead span are dropped.
func eliminateDeadCode(instrs []transpiler.TranspiledInstruction) ([]transpiler.TranspiledInstruction, int) {
	var out []transpiler.TranspiledInstruction
	eliminated := 0
	dead := false

	for _, instr := range instrs {
		if instr.Label != "" || instr.Opcode == "END" {
			dead = false
		}
		if dead {
			eliminated++
			continue
		}
		out = append(out, instr)
		if instr.Opcode == "RETURN" || instr.Opcode == "UNREACHABLE" {
			dead = true
		}
	}
	return out, eliminated
}
