package transpiler

import (
	"fmt"
	"math"

	"github.com/dotlanth/dotvm/dotvmerr"
)

// Architecture is a target architecture tier, totally ordered by
// capability: Arch64 < Arch128 < Arch256 < Arch512.
type Architecture uint8

const (
	Arch64 Architecture = iota
	Arch128
	Arch256
	Arch512
)

func (a Architecture) String() string {
	switch a {
	case Arch64:
		return "Arch64"
	case Arch128:
		return "Arch128"
	case Arch256:
		return "Arch256"
	case Arch512:
		return "Arch512"
	default:
		return "ArchUnknown"
	}
}

// TranspiledInstruction is one target opcode emitted for a WASM
// instruction, plus its operands (widened to u64 — see the operand-
// width decision in the module's design notes) and an optional label
// for branch targets.
type TranspiledInstruction struct {
	Opcode   string
	Operands []uint64
	Label    string
}

// TranspiledFunction is the mapper's output for a single WASM function.
type TranspiledFunction struct {
	Instructions []TranspiledInstruction
	ParamCount   int
	LocalCount   int
}

// TranspiledModule is the mapper's output for a whole WASM module.
type TranspiledModule struct {
	Architecture Architecture
	Functions    []TranspiledFunction
	Globals      []GlobalType
	MemoryPages  uint32 // one WASM page = 65536 bytes
	Exports      []Export
	Imports      []Import
}

// WasmPageSize is the fixed WASM linear-memory page size in bytes.
const WasmPageSize = 65536

// Mapper translates a parsed WASM module to TranspiledModule, emitting
// each instruction's target opcode sequence and tracking the minimum
// architecture the module as a whole requires.
type Mapper struct {
	target Architecture
}

func NewMapper(target Architecture) *Mapper { return &Mapper{target: target} }

// mapped is one WASM instruction's target opcode sequence plus the
// minimum architecture tier it requires.
type mapped struct {
	opcodes []TranspiledInstruction
	minArch Architecture
}

func mapInstruction(instr Instruction) (mapped, error) {
	const op = "mapInstruction"

	switch instr.Op {
	case OpUnreachable:
		return single("UNREACHABLE", Arch64), nil
	case OpNop:
		return single("NOP", Arch64), nil
	case OpBlock:
		return single("BLOCK", Arch64), nil
	case OpLoop:
		return single("LOOP", Arch64), nil
	case OpIf:
		return single("JUMPIF_NOT", Arch64), nil
	case OpElse:
		return single("JUMP", Arch64), nil
	case OpEnd:
		return single("END", Arch64), nil
	case OpBr:
		return singleOperand("JUMP", Arch64, uint64(instr.Index)), nil
	case OpBrIf:
		return singleOperand("JUMPIF", Arch64, uint64(instr.Index)), nil
	case OpBrTable:
		operands := make([]uint64, 0, len(instr.Labels)+1)
		for _, l := range instr.Labels {
			operands = append(operands, uint64(l))
		}
		operands = append(operands, uint64(instr.Default))
		return mapped{opcodes: []TranspiledInstruction{{Opcode: "JUMP_TABLE", Operands: operands}}, minArch: Arch64}, nil
	case OpReturn:
		return single("RETURN", Arch64), nil
	case OpCall:
		return singleOperand("CALL", Arch64, uint64(instr.Index)), nil
	case OpCallIndirect:
		return singleOperand("CALL_INDIRECT", Arch64, uint64(instr.Index)), nil
	case OpDrop:
		return single("DROP", Arch64), nil
	case OpSelect:
		return single("SELECT", Arch64), nil

	case OpLocalGet:
		return singleOperand("LOCAL_GET", Arch64, uint64(instr.Index)), nil
	case OpLocalSet:
		return singleOperand("LOCAL_SET", Arch64, uint64(instr.Index)), nil
	case OpLocalTee:
		return singleOperand("LOCAL_TEE", Arch64, uint64(instr.Index)), nil
	case OpGlobalGet:
		return singleOperand("GLOBAL_GET", Arch64, uint64(instr.Index)), nil
	case OpGlobalSet:
		return singleOperand("GLOBAL_SET", Arch64, uint64(instr.Index)), nil

	case OpI32Load, OpF32Load:
		return memOp("LOAD32", Arch64, instr.Mem), nil
	case OpI64Load, OpF64Load:
		return memOp("LOAD64", Arch128, instr.Mem), nil
	case OpI32Store, OpF32Store:
		return memOp("STORE32", Arch64, instr.Mem), nil
	case OpI64Store, OpF64Store:
		return memOp("STORE64", Arch128, instr.Mem), nil
	case OpMemorySize:
		return single("MEM_SIZE", Arch64), nil
	case OpMemoryGrow:
		return single("MEM_GROW", Arch64), nil

	case OpI32Const:
		return singleOperand("CONST32", Arch64, uint64(uint32(instr.I32))), nil
	case OpI64Const:
		return singleOperand("CONST64", Arch128, uint64(instr.I64)), nil
	case OpF32Const:
		return singleOperand("FCONST32", Arch64, uint64(math.Float32bits(instr.F32))), nil
	case OpF64Const:
		return singleOperand("FCONST64", Arch128, math.Float64bits(instr.F64)), nil

	case OpI32Eqz:
		return single("EQZ32", Arch64), nil
	case OpI32Eq:
		return single("EQ32", Arch64), nil
	case OpI32Ne:
		return single("NE32", Arch64), nil
	case OpI32LtS:
		return single("LT_S32", Arch64), nil
	case OpI32GtS:
		return single("GT_S32", Arch64), nil
	case OpI32Add:
		return single("ADD32", Arch64), nil
	case OpI32Sub:
		return single("SUB32", Arch64), nil
	case OpI32Mul:
		return single("MUL32", Arch64), nil
	case OpI32DivS:
		return single("DIV_S32", Arch64), nil
	case OpI32DivU:
		return single("DIV_U32", Arch64), nil
	case OpI32And:
		return single("AND32", Arch64), nil
	case OpI32Or:
		return single("OR32", Arch64), nil
	case OpI32Xor:
		return single("XOR32", Arch64), nil
	case OpI32Shl:
		return single("SHL32", Arch64), nil
	case OpI32ShrS:
		return single("SHR_S32", Arch64), nil
	case OpI32ShrU:
		return single("SHR_U32", Arch64), nil

	case OpI64Eqz:
		return single("EQZ64", Arch128), nil
	case OpI64Eq:
		return single("EQ64", Arch128), nil
	case OpI64Add:
		return single("ADD64", Arch128), nil
	case OpI64Sub:
		return single("SUB64", Arch128), nil
	case OpI64Mul:
		return single("MUL64", Arch128), nil
	case OpI64DivS:
		return single("DIV_S64", Arch128), nil
	case OpI64DivU:
		return single("DIV_U64", Arch128), nil
	case OpI64And:
		return single("AND64", Arch128), nil
	case OpI64Or:
		return single("OR64", Arch128), nil
	case OpI64Xor:
		return single("XOR64", Arch128), nil

	case OpF32Add:
		return single("FADD32", Arch64), nil
	case OpF32Sub:
		return single("FSUB32", Arch64), nil
	case OpF32Mul:
		return single("FMUL32", Arch64), nil
	case OpF32Div:
		return single("FDIV32", Arch64), nil
	case OpF64Add:
		return single("FADD64", Arch128), nil
	case OpF64Sub:
		return single("FSUB64", Arch128), nil
	case OpF64Mul:
		return single("FMUL64", Arch128), nil
	case OpF64Div:
		return single("FDIV64", Arch128), nil

	case OpV128Load:
		return memOp("VLOAD128", Arch256, instr.Mem), nil
	case OpV128Const:
		return singleOperand("VCONST128", Arch256, uint64(instr.I64)), nil
	case OpI8x16Splat:
		return single("VSPLAT8X16", Arch256), nil
	case OpI32x4Add:
		return single("VADD32X4", Arch256), nil
	case OpF32x4Mul:
		return single("VFMUL32X4", Arch256), nil

	default:
		return mapped{}, dotvmerr.New(dotvmerr.KindMappingError, op, fmt.Errorf("unmapped op %d", instr.Op))
	}
}

func single(name string, arch Architecture) mapped {
	return mapped{opcodes: []TranspiledInstruction{{Opcode: name}}, minArch: arch}
}

func singleOperand(name string, arch Architecture, operand uint64) mapped {
	return mapped{opcodes: []TranspiledInstruction{{Opcode: name, Operands: []uint64{operand}}}, minArch: arch}
}

func memOp(name string, arch Architecture, mem MemArg) mapped {
	return mapped{opcodes: []TranspiledInstruction{{Opcode: name, Operands: []uint64{uint64(mem.Offset), uint64(mem.Align)}}}, minArch: arch}
}

// MapFunction translates fn's body, returning the flattened target
// instruction sequence (with opportunistic labels at every block/loop/if
// entry — see reachability.go for the validator that confirms every
// branch target resolves to one) and the minimum architecture fn as a
// whole requires.
func (m *Mapper) MapFunction(fn Function) (*TranspiledFunction, Architecture, error) {
	out := &TranspiledFunction{LocalCount: len(fn.Locals)}
	required := Arch64
	labelCounter := 0

	for _, instr := range fn.Body {
		res, err := mapInstruction(instr)
		if err != nil {
			return nil, 0, err
		}
		if res.minArch > required {
			required = res.minArch
		}
		if instr.Op == OpBlock || instr.Op == OpLoop || instr.Op == OpIf {
			res.opcodes[0].Label = fmt.Sprintf("L%d", labelCounter)
			labelCounter++
		}
		out.Instructions = append(out.Instructions, res.opcodes...)
	}

	return out, required, nil
}

// MapModule translates every function in mod, checking the result
// against target: if the module's required architecture exceeds target,
// transpilation fails with ArchitectureIncompatibility instead of
// silently emitting opcodes the runtime can't execute.
func (m *Mapper) MapModule(mod *Module) (*TranspiledModule, error) {
	const op = "Mapper.MapModule"

	out := &TranspiledModule{
		Globals: mod.Globals,
		Exports: mod.Exports,
		Imports: mod.Imports,
	}
	if len(mod.Memories) > 0 {
		out.MemoryPages = mod.Memories[0].Limits.Min
	}

	required := Arch64
	for _, fn := range mod.Functions {
		tf, fnArch, err := m.MapFunction(fn)
		if err != nil {
			return nil, err
		}
		paramType, ok := m.paramCount(mod, fn.TypeIndex)
		if ok {
			tf.ParamCount = paramType
		}
		out.Functions = append(out.Functions, *tf)
		if fnArch > required {
			required = fnArch
		}
	}

	if required > m.target {
		return nil, dotvmerr.New(dotvmerr.KindArchitectureIncompatibility, op,
			fmt.Errorf("module requires %s, target configured for %s", required, m.target))
	}

	out.Architecture = m.target
	return out, nil
}

func (m *Mapper) paramCount(mod *Module, typeIndex uint32) (int, bool) {
	if int(typeIndex) >= len(mod.Types) {
		return 0, false
	}
	return len(mod.Types[typeIndex].Params), true
}
