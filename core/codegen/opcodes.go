package codegen

// orderedOpcodes is the ordered list backing opcodeTable and its inverse,
// orderedOpcodes indexed by byte. Appending a new opcode is safe as long as
// existing entries keep their byte value — reordering breaks any bytecode
// already written to disk.
var orderedOpcodes = []string{
	"UNREACHABLE",
	"NOP",
	"BLOCK",
	"LOOP",
	"JUMPIF_NOT",
	"JUMP",
	"JUMPIF",
	"JUMP_TABLE",
	"RETURN",
	"CALL",
	"CALL_INDIRECT",
	"DROP",
	"SELECT",
	"LOCAL_GET",
	"LOCAL_SET",
	"LOCAL_TEE",
	"GLOBAL_GET",
	"GLOBAL_SET",
	"LOAD32",
	"LOAD64",
	"STORE32",
	"STORE64",
	"MEM_SIZE",
	"MEM_GROW",
	"CONST32",
	"CONST64",
	"FCONST32",
	"FCONST64",
	"EQZ32",
	"EQ32",
	"NE32",
	"LT_S32",
	"GT_S32",
	"ADD32",
	"SUB32",
	"MUL32",
	"DIV_S32",
	"DIV_U32",
	"AND32",
	"OR32",
	"XOR32",
	"SHL32",
	"SHR_S32",
	"SHR_U32",
	"EQZ64",
	"EQ64",
	"ADD64",
	"SUB64",
	"MUL64",
	"DIV_S64",
	"DIV_U64",
	"AND64",
	"OR64",
	"XOR64",
	"FADD32",
	"FSUB32",
	"FMUL32",
	"FDIV32",
	"FADD64",
	"FSUB64",
	"FMUL64",
	"FDIV64",
	"VLOAD128",
	"VCONST128",
	"VSPLAT8X16",
	"VADD32X4",
	"VFMUL32X4",
	"END",
}

var opcodeTable map[string]byte
var opcodeNames map[byte]string

func init() {
	opcodeTable = make(map[string]byte, len(orderedOpcodes))
	opcodeNames = make(map[byte]string, len(orderedOpcodes))
	for i, name := range orderedOpcodes {
		opcodeTable[name] = byte(i)
		opcodeNames[byte(i)] = name
	}
}

// pureArithmetic32 are side-effect-free, commutative-or-not i32 ops the
// constant folder can evaluate at compile time.
var pureArithmetic32 = map[string]func(a, b uint32) uint32{
	"ADD32": func(a, b uint32) uint32 { return a + b },
	"SUB32": func(a, b uint32) uint32 { return a - b },
	"MUL32": func(a, b uint32) uint32 { return a * b },
	"AND32": func(a, b uint32) uint32 { return a & b },
	"OR32":  func(a, b uint32) uint32 { return a | b },
	"XOR32": func(a, b uint32) uint32 { return a ^ b },
}

var pureArithmetic64 = map[string]func(a, b uint64) uint64{
	"ADD64": func(a, b uint64) uint64 { return a + b },
	"SUB64": func(a, b uint64) uint64 { return a - b },
	"MUL64": func(a, b uint64) uint64 { return a * b },
	"AND64": func(a, b uint64) uint64 { return a & b },
	"OR64":  func(a, b uint64) uint64 { return a | b },
	"XOR64": func(a, b uint64) uint64 { return a ^ b },
}
