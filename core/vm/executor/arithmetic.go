package executor

import (
	"math"

	"github.com/dotlanth/dotvm/core/transpiler"
	"github.com/dotlanth/dotvm/dotvmerr"
)

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// dispatchArithmetic handles every opcode that is a pure function of the
// values already on frame's stack: integer/float arithmetic, bitwise ops,
// and the vector/SIMD lanes, which this interpreter represents as a
// single 64-bit low lane rather than a true 128-bit value — sufficient
// for the opcode-gating and dispatch semantics this layer is responsible
// for, with full SIMD lane-width emulation left to a native backend.
func (e *Executor) dispatchArithmetic(frame *Frame, instr transpiler.TranspiledInstruction) error {
	const op = "Executor.dispatchArithmetic"

	switch instr.Opcode {
	case "EQZ32":
		frame.push(boolU64(uint32(frame.pop()) == 0))
	case "EQ32":
		b, a := uint32(frame.pop()), uint32(frame.pop())
		frame.push(boolU64(a == b))
	case "NE32":
		b, a := uint32(frame.pop()), uint32(frame.pop())
		frame.push(boolU64(a != b))
	case "LT_S32":
		b, a := int32(frame.pop()), int32(frame.pop())
		frame.push(boolU64(a < b))
	case "GT_S32":
		b, a := int32(frame.pop()), int32(frame.pop())
		frame.push(boolU64(a > b))
	case "ADD32":
		b, a := uint32(frame.pop()), uint32(frame.pop())
		frame.push(uint64(a + b))
	case "SUB32":
		b, a := uint32(frame.pop()), uint32(frame.pop())
		frame.push(uint64(a - b))
	case "MUL32":
		b, a := uint32(frame.pop()), uint32(frame.pop())
		frame.push(uint64(a * b))
	case "DIV_S32":
		b, a := int32(frame.pop()), int32(frame.pop())
		if b == 0 {
			return dotvmerr.New(dotvmerr.KindExecutionFailed, op, errDivByZero)
		}
		frame.push(uint64(uint32(a / b)))
	case "DIV_U32":
		b, a := uint32(frame.pop()), uint32(frame.pop())
		if b == 0 {
			return dotvmerr.New(dotvmerr.KindExecutionFailed, op, errDivByZero)
		}
		frame.push(uint64(a / b))
	case "AND32":
		b, a := uint32(frame.pop()), uint32(frame.pop())
		frame.push(uint64(a & b))
	case "OR32":
		b, a := uint32(frame.pop()), uint32(frame.pop())
		frame.push(uint64(a | b))
	case "XOR32":
		b, a := uint32(frame.pop()), uint32(frame.pop())
		frame.push(uint64(a ^ b))
	case "SHL32":
		b, a := uint32(frame.pop()), uint32(frame.pop())
		frame.push(uint64(a << (b & 31)))
	case "SHR_S32":
		b, a := uint32(frame.pop()), int32(frame.pop())
		frame.push(uint64(uint32(a >> (b & 31))))
	case "SHR_U32":
		b, a := uint32(frame.pop()), uint32(frame.pop())
		frame.push(uint64(a >> (b & 31)))

	case "EQZ64":
		frame.push(boolU64(frame.pop() == 0))
	case "EQ64":
		b, a := frame.pop(), frame.pop()
		frame.push(boolU64(a == b))
	case "ADD64":
		b, a := frame.pop(), frame.pop()
		frame.push(a + b)
	case "SUB64":
		b, a := frame.pop(), frame.pop()
		frame.push(a - b)
	case "MUL64":
		b, a := frame.pop(), frame.pop()
		frame.push(a * b)
	case "DIV_S64":
		b, a := int64(frame.pop()), int64(frame.pop())
		if b == 0 {
			return dotvmerr.New(dotvmerr.KindExecutionFailed, op, errDivByZero)
		}
		frame.push(uint64(a / b))
	case "DIV_U64":
		b, a := frame.pop(), frame.pop()
		if b == 0 {
			return dotvmerr.New(dotvmerr.KindExecutionFailed, op, errDivByZero)
		}
		frame.push(a / b)
	case "AND64":
		b, a := frame.pop(), frame.pop()
		frame.push(a & b)
	case "OR64":
		b, a := frame.pop(), frame.pop()
		frame.push(a | b)
	case "XOR64":
		b, a := frame.pop(), frame.pop()
		frame.push(a ^ b)

	case "FADD32":
		b, a := math.Float32frombits(uint32(frame.pop())), math.Float32frombits(uint32(frame.pop()))
		frame.push(uint64(math.Float32bits(a + b)))
	case "FSUB32":
		b, a := math.Float32frombits(uint32(frame.pop())), math.Float32frombits(uint32(frame.pop()))
		frame.push(uint64(math.Float32bits(a - b)))
	case "FMUL32":
		b, a := math.Float32frombits(uint32(frame.pop())), math.Float32frombits(uint32(frame.pop()))
		frame.push(uint64(math.Float32bits(a * b)))
	case "FDIV32":
		b, a := math.Float32frombits(uint32(frame.pop())), math.Float32frombits(uint32(frame.pop()))
		frame.push(uint64(math.Float32bits(a / b)))
	case "FADD64":
		b, a := math.Float64frombits(frame.pop()), math.Float64frombits(frame.pop())
		frame.push(math.Float64bits(a + b))
	case "FSUB64":
		b, a := math.Float64frombits(frame.pop()), math.Float64frombits(frame.pop())
		frame.push(math.Float64bits(a - b))
	case "FMUL64":
		b, a := math.Float64frombits(frame.pop()), math.Float64frombits(frame.pop())
		frame.push(math.Float64bits(a * b))
	case "FDIV64":
		b, a := math.Float64frombits(frame.pop()), math.Float64frombits(frame.pop())
		frame.push(math.Float64bits(a / b))

	case "VLOAD128":
		addr := frame.pop() + instr.Operands[0]
		if addr+16 > uint64(len(frame.Memory)) {
			return dotvmerr.New(dotvmerr.KindExecutionFailed, op, errOutOfBounds)
		}
		frame.push(leUint64(frame.Memory[addr:]))
	case "VSPLAT8X16":
		v := frame.pop()
		lane := byte(v)
		var out uint64
		for i := 0; i < 8; i++ {
			out |= uint64(lane) << (8 * i)
		}
		frame.push(out)
	case "VADD32X4":
		b, a := frame.pop(), frame.pop()
		var out uint64
		for i := 0; i < 2; i++ {
			shift := uint(32 * i)
			lane := uint32(a>>shift) + uint32(b>>shift)
			out |= uint64(lane) << shift
		}
		frame.push(out)
	case "VFMUL32X4":
		b, a := frame.pop(), frame.pop()
		var out uint64
		for i := 0; i < 2; i++ {
			shift := uint(32 * i)
			lane := math.Float32bits(math.Float32frombits(uint32(a>>shift)) * math.Float32frombits(uint32(b>>shift)))
			out |= uint64(lane) << shift
		}
		frame.push(out)

	default:
		return dotvmerr.New(dotvmerr.KindExecutionFailed, op, errUnknownOpcodeFor(instr.Opcode))
	}
	return nil
}

func leUint64(b []byte) uint64 {
	var out uint64
	for i := 0; i < 8; i++ {
		out |= uint64(b[i]) << (8 * i)
	}
	return out
}
