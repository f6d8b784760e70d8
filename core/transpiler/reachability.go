package transpiler

import (
	"fmt"

	"github.com/dotlanth/dotvm/dotvmerr"
)

// ValidateReachability walks body and confirms every br/br_if/br_table
// target names a depth within the current block nesting — the separate
// validator pass the control-flow design note calls for, run after
// mapping rather than threaded through it.
func ValidateReachability(body []Instruction) error {
	const op = "ValidateReachability"

	var depth int
	for _, instr := range body {
		switch instr.Op {
		case OpBlock, OpLoop, OpIf:
			depth++
		case OpEnd:
			if depth > 0 {
				depth--
			}
		case OpBr, OpBrIf:
			if !validTarget(instr.Index, depth) {
				return dotvmerr.New(dotvmerr.KindInvalidOperation, op,
					fmt.Errorf("branch target %d exceeds block nesting depth %d", instr.Index, depth))
			}
		case OpBrTable:
			for _, l := range instr.Labels {
				if !validTarget(l, depth) {
					return dotvmerr.New(dotvmerr.KindInvalidOperation, op,
						fmt.Errorf("branch table target %d exceeds block nesting depth %d", l, depth))
				}
			}
			if !validTarget(instr.Default, depth) {
				return dotvmerr.New(dotvmerr.KindInvalidOperation, op,
					fmt.Errorf("branch table default %d exceeds block nesting depth %d", instr.Default, depth))
			}
		}
	}
	return nil
}

// validTarget reports whether a branch index names a block that
// actually encloses the instruction at the current depth: index 0 is
// the innermost enclosing block, so it's valid whenever depth > 0.
func validTarget(index uint32, depth int) bool {
	return int(index) < depth
}

// FunctionReachability reports, per function, whether every instruction
// after an unconditional terminator (Return, Br, Unreachable) within the
// same block is dead — informational rather than a validation failure,
// since WASM permits stack-polymorphic dead code.
type FunctionReachability struct {
	DeadInstructionIndices []int
}

// AnalyzeReachability scans body for instructions that follow an
// unconditional terminator before the next block boundary.
func AnalyzeReachability(body []Instruction) FunctionReachability {
	var report FunctionReachability
	terminated := false
	for i, instr := range body {
		if terminated {
			report.DeadInstructionIndices = append(report.DeadInstructionIndices, i)
		}
		switch instr.Op {
		case OpReturn, OpBr, OpUnreachable:
			terminated = true
		case OpBlock, OpLoop, OpIf, OpElse, OpEnd:
			terminated = false
		}
	}
	return report
}
