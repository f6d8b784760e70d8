// Package transpiler parses WebAssembly binaries into an AST and maps
// each instruction to one or more target opcodes, tagging every
// instruction with the minimum architecture tier it requires.
package transpiler

// ValueType is a WASM value type.
type ValueType uint8

const (
	ValueI32 ValueType = iota
	ValueI64
	ValueF32
	ValueF64
	ValueV128
	ValueFuncRef
	ValueExternRef
)

// MemArg is a memory instruction's alignment/offset immediate pair.
type MemArg struct {
	Align  uint32
	Offset uint32
}

// Op tags a decoded WASM instruction. Only the subset of the WASM
// instruction set needed to exercise every architecture tier and every
// mapper category (control flow, locals/globals, memory, numeric,
// vector) is represented — the full ~200-variant instruction set is not
// reproduced verbatim.
type Op uint16

const (
	OpUnreachable Op = iota
	OpNop
	OpBlock
	OpLoop
	OpIf
	OpElse
	OpEnd
	OpBr
	OpBrIf
	OpBrTable
	OpReturn
	OpCall
	OpCallIndirect
	OpDrop
	OpSelect

	OpLocalGet
	OpLocalSet
	OpLocalTee
	OpGlobalGet
	OpGlobalSet

	OpI32Load
	OpI64Load
	OpF32Load
	OpF64Load
	OpI32Store
	OpI64Store
	OpF32Store
	OpF64Store
	OpMemorySize
	OpMemoryGrow

	OpI32Const
	OpI64Const
	OpF32Const
	OpF64Const

	OpI32Eqz
	OpI32Eq
	OpI32Ne
	OpI32LtS
	OpI32GtS
	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32DivS
	OpI32DivU
	OpI32And
	OpI32Or
	OpI32Xor
	OpI32Shl
	OpI32ShrS
	OpI32ShrU

	OpI64Eqz
	OpI64Eq
	OpI64Add
	OpI64Sub
	OpI64Mul
	OpI64DivS
	OpI64DivU
	OpI64And
	OpI64Or
	OpI64Xor

	OpF32Add
	OpF32Sub
	OpF32Mul
	OpF32Div
	OpF64Add
	OpF64Sub
	OpF64Mul
	OpF64Div

	OpV128Load
	OpV128Const
	OpI8x16Splat
	OpI32x4Add
	OpF32x4Mul
)

// Instruction is a single decoded WASM instruction. Only the fields
// relevant to its Op are populated.
type Instruction struct {
	Op      Op
	I32     int32
	I64     int64
	F32     float32
	F64     float64
	Index   uint32 // local/global/function/type/table index
	Labels  []uint32
	Default uint32
	Mem     MemArg
	Block   *ValueType // block result type, nil for an empty block type
	Label   string     // assigned opportunistically by the mapper, see reachability.go
}

// FuncType is a WASM function signature.
type FuncType struct {
	Params  []ValueType
	Results []ValueType
}

// Function is a parsed WASM function: its declared type, its locals
// (beyond its parameters), and its instruction sequence.
type Function struct {
	TypeIndex uint32
	Locals    []ValueType
	Body      []Instruction
}

// Import is a single imported name, scoped to a module/field pair.
type Import struct {
	Module string
	Field  string
	Kind   ImportKind
	Index  uint32 // TypeIndex for funcs, otherwise the declared index
}

type ImportKind uint8

const (
	ImportFunc ImportKind = iota
	ImportTable
	ImportMemory
	ImportGlobal
)

// Export is a single exported name.
type Export struct {
	Name string
	Kind ImportKind
	Index uint32
}

// Limits bounds a table or memory's page/element count.
type Limits struct {
	Min uint32
	Max uint32
	HasMax bool
}

type MemoryType struct{ Limits Limits }

type TableType struct {
	ElemType ValueType
	Limits   Limits
}

type GlobalType struct {
	Type    ValueType
	Mutable bool
}

// DataSegment is a data section entry: a memory index, a constant
// offset expression (kept raw — this module only needs its byte
// length to skip it, not to evaluate it), and the segment payload.
type DataSegment struct {
	MemoryIndex uint32
	OffsetExpr  []byte
	Bytes       []byte
}

// ElementSegment is an element section entry, kept structurally minimal:
// this module only needs to know it exists and how many indices it
// carries, not to evaluate its offset expression.
type ElementSegment struct {
	TableIndex uint32
	OffsetExpr []byte
	FuncIndices []uint32
}

// Module is the full parsed WASM module.
type Module struct {
	Types     []FuncType
	Imports   []Import
	Functions []Function
	Tables    []TableType
	Memories  []MemoryType
	Globals   []GlobalType
	Exports   []Export
	Elements  []ElementSegment
	Data      []DataSegment
}
