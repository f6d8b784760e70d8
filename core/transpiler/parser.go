package transpiler

import (
	"encoding/binary"
	"math"

	"github.com/dotlanth/dotvm/dotvmerr"
)

var wasmMagic = [4]byte{0x00, 0x61, 0x73, 0x6d}

const wasmVersion uint32 = 1

type sectionID byte

const (
	secCustom sectionID = iota
	secType
	secImport
	secFunction
	secTable
	secMemory
	secGlobal
	secExport
	secStart
	secElement
	secCode
	secData
)

// cursor is a byte-cursor reader over a WASM binary, the same
// read-ahead/advance idiom used throughout this corpus's other
// length-prefixed wire formats.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) readByte() (byte, error) {
	const op = "cursor.readByte"
	if c.remaining() < 1 {
		return 0, dotvmerr.New(dotvmerr.KindParseError, op, nil)
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) readBytes(n int) ([]byte, error) {
	const op = "cursor.readBytes"
	if n < 0 || c.remaining() < n {
		return nil, dotvmerr.New(dotvmerr.KindParseError, op, nil)
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// readVarU32 decodes an unsigned LEB128 varint.
func (c *cursor) readVarU32() (uint32, error) {
	const op = "cursor.readVarU32"
	var result uint32
	var shift uint
	for {
		b, err := c.readByte()
		if err != nil {
			return 0, dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, dotvmerr.New(dotvmerr.KindParseError, op, nil)
		}
	}
}

// readVarU64 decodes an unsigned LEB128 varint into 64 bits.
func (c *cursor) readVarU64() (uint64, error) {
	const op = "cursor.readVarU64"
	var result uint64
	var shift uint
	for {
		b, err := c.readByte()
		if err != nil {
			return 0, dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 70 {
			return 0, dotvmerr.New(dotvmerr.KindParseError, op, nil)
		}
	}
}

// readVarI32 decodes a signed LEB128 varint into 32 bits.
func (c *cursor) readVarI32() (int32, error) {
	const op = "cursor.readVarI32"
	var result int64
	var shift uint
	for {
		b, err := c.readByte()
		if err != nil {
			return 0, dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return int32(result), nil
		}
		if shift >= 35 {
			return 0, dotvmerr.New(dotvmerr.KindParseError, op, nil)
		}
	}
}

// readVarI64 decodes a signed LEB128 varint into 64 bits.
func (c *cursor) readVarI64() (int64, error) {
	const op = "cursor.readVarI64"
	var result int64
	var shift uint
	for {
		b, err := c.readByte()
		if err != nil {
			return 0, dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
		if shift >= 70 {
			return 0, dotvmerr.New(dotvmerr.KindParseError, op, nil)
		}
	}
}

func (c *cursor) readName() (string, error) {
	n, err := c.readVarU32()
	if err != nil {
		return "", err
	}
	b, err := c.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *cursor) readValueType() (ValueType, error) {
	const op = "cursor.readValueType"
	b, err := c.readByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case 0x7f:
		return ValueI32, nil
	case 0x7e:
		return ValueI64, nil
	case 0x7d:
		return ValueF32, nil
	case 0x7c:
		return ValueF64, nil
	case 0x7b:
		return ValueV128, nil
	case 0x70:
		return ValueFuncRef, nil
	case 0x6f:
		return ValueExternRef, nil
	default:
		return 0, dotvmerr.New(dotvmerr.KindParseError, op, nil)
	}
}

func (c *cursor) readLimits() (Limits, error) {
	flag, err := c.readByte()
	if err != nil {
		return Limits{}, err
	}
	min, err := c.readVarU32()
	if err != nil {
		return Limits{}, err
	}
	l := Limits{Min: min}
	if flag&0x01 != 0 {
		max, err := c.readVarU32()
		if err != nil {
			return Limits{}, err
		}
		l.Max = max
		l.HasMax = true
	}
	return l, nil
}

// readExpr consumes a constant-init expression up to and including its
// terminating End (0x0B) opcode, returning the raw bytes. Neither
// evaluating globals/offsets nor validating the expression's instruction
// sequence is in scope for this module — only its byte length matters,
// to skip past it correctly.
func (c *cursor) readExpr() ([]byte, error) {
	const op = "cursor.readExpr"
	start := c.pos
	depth := 0
	for {
		b, err := c.readByte()
		if err != nil {
			return nil, dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		switch b {
		case 0x02, 0x03, 0x04: // block, loop, if
			depth++
			if _, err := c.readByte(); err != nil { // block type byte
				return nil, err
			}
		case 0x0b: // end
			if depth == 0 {
				return c.buf[start:c.pos], nil
			}
			depth--
		case 0x41: // i32.const
			if _, err := c.readVarI32(); err != nil {
				return nil, err
			}
		case 0x42: // i64.const
			if _, err := c.readVarI64(); err != nil {
				return nil, err
			}
		case 0x43: // f32.const
			if _, err := c.readBytes(4); err != nil {
				return nil, err
			}
		case 0x44: // f64.const
			if _, err := c.readBytes(8); err != nil {
				return nil, err
			}
		case 0x23: // global.get
			if _, err := c.readVarU32(); err != nil {
				return nil, err
			}
		}
	}
}

// ParseModule parses a WASM binary into a Module. Sections are decoded
// by ID in whatever order they appear (the binary format requires known
// sections in ascending order, but this parser doesn't enforce that —
// a malformed order is a spec-compliance concern for a validator, not a
// structural parse failure).
func ParseModule(data []byte) (*Module, error) {
	const op = "ParseModule"

	c := &cursor{buf: data}
	magic, err := c.readBytes(4)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindParseError, op, err)
	}
	for i := range wasmMagic {
		if magic[i] != wasmMagic[i] {
			return nil, dotvmerr.New(dotvmerr.KindParseError, op, nil)
		}
	}
	versionBytes, err := c.readBytes(4)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindParseError, op, err)
	}
	if binary.LittleEndian.Uint32(versionBytes) != wasmVersion {
		return nil, dotvmerr.New(dotvmerr.KindUnsupportedFeature, op, nil)
	}

	mod := &Module{}
	var funcTypeIndices []uint32

	for c.remaining() > 0 {
		id, err := c.readByte()
		if err != nil {
			return nil, dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		size, err := c.readVarU32()
		if err != nil {
			return nil, dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		body, err := c.readBytes(int(size))
		if err != nil {
			return nil, dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		sc := &cursor{buf: body}

		switch sectionID(id) {
		case secType:
			if err := parseTypeSection(sc, mod); err != nil {
				return nil, err
			}
		case secImport:
			if err := parseImportSection(sc, mod); err != nil {
				return nil, err
			}
		case secFunction:
			funcTypeIndices, err = parseFunctionSection(sc)
			if err != nil {
				return nil, err
			}
		case secTable:
			if err := parseTableSection(sc, mod); err != nil {
				return nil, err
			}
		case secMemory:
			if err := parseMemorySection(sc, mod); err != nil {
				return nil, err
			}
		case secGlobal:
			if err := parseGlobalSection(sc, mod); err != nil {
				return nil, err
			}
		case secExport:
			if err := parseExportSection(sc, mod); err != nil {
				return nil, err
			}
		case secElement:
			if err := parseElementSection(sc, mod); err != nil {
				return nil, err
			}
		case secCode:
			if err := parseCodeSection(sc, mod, funcTypeIndices); err != nil {
				return nil, err
			}
		case secData:
			if err := parseDataSection(sc, mod); err != nil {
				return nil, err
			}
		case secStart, secCustom:
			// Neither affects the transpiled module's shape.
		}
	}

	return mod, nil
}

func parseTypeSection(c *cursor, mod *Module) error {
	const op = "parseTypeSection"
	count, err := c.readVarU32()
	if err != nil {
		return dotvmerr.New(dotvmerr.KindParseError, op, err)
	}
	for i := uint32(0); i < count; i++ {
		form, err := c.readByte()
		if err != nil || form != 0x60 {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		paramCount, err := c.readVarU32()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		params := make([]ValueType, paramCount)
		for j := range params {
			if params[j], err = c.readValueType(); err != nil {
				return dotvmerr.New(dotvmerr.KindParseError, op, err)
			}
		}
		resultCount, err := c.readVarU32()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		results := make([]ValueType, resultCount)
		for j := range results {
			if results[j], err = c.readValueType(); err != nil {
				return dotvmerr.New(dotvmerr.KindParseError, op, err)
			}
		}
		mod.Types = append(mod.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func parseImportSection(c *cursor, mod *Module) error {
	const op = "parseImportSection"
	count, err := c.readVarU32()
	if err != nil {
		return dotvmerr.New(dotvmerr.KindParseError, op, err)
	}
	for i := uint32(0); i < count; i++ {
		modName, err := c.readName()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		field, err := c.readName()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		kind, err := c.readByte()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		imp := Import{Module: modName, Field: field, Kind: ImportKind(kind)}
		switch kind {
		case 0: // func
			imp.Index, err = c.readVarU32()
		case 1: // table
			_, err = c.readByte()
			if err == nil {
				_, err = c.readLimits()
			}
		case 2: // memory
			_, err = c.readLimits()
		case 3: // global
			_, err = c.readValueType()
			if err == nil {
				_, err = c.readByte()
			}
		}
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		mod.Imports = append(mod.Imports, imp)
	}
	return nil
}

func parseFunctionSection(c *cursor) ([]uint32, error) {
	const op = "parseFunctionSection"
	count, err := c.readVarU32()
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindParseError, op, err)
	}
	indices := make([]uint32, count)
	for i := range indices {
		if indices[i], err = c.readVarU32(); err != nil {
			return nil, dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
	}
	return indices, nil
}

func parseTableSection(c *cursor, mod *Module) error {
	const op = "parseTableSection"
	count, err := c.readVarU32()
	if err != nil {
		return dotvmerr.New(dotvmerr.KindParseError, op, err)
	}
	for i := uint32(0); i < count; i++ {
		elemType, err := c.readValueType()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		limits, err := c.readLimits()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		mod.Tables = append(mod.Tables, TableType{ElemType: elemType, Limits: limits})
	}
	return nil
}

func parseMemorySection(c *cursor, mod *Module) error {
	const op = "parseMemorySection"
	count, err := c.readVarU32()
	if err != nil {
		return dotvmerr.New(dotvmerr.KindParseError, op, err)
	}
	for i := uint32(0); i < count; i++ {
		limits, err := c.readLimits()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		mod.Memories = append(mod.Memories, MemoryType{Limits: limits})
	}
	return nil
}

func parseGlobalSection(c *cursor, mod *Module) error {
	const op = "parseGlobalSection"
	count, err := c.readVarU32()
	if err != nil {
		return dotvmerr.New(dotvmerr.KindParseError, op, err)
	}
	for i := uint32(0); i < count; i++ {
		typ, err := c.readValueType()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		mutFlag, err := c.readByte()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		if _, err := c.readExpr(); err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		mod.Globals = append(mod.Globals, GlobalType{Type: typ, Mutable: mutFlag != 0})
	}
	return nil
}

func parseExportSection(c *cursor, mod *Module) error {
	const op = "parseExportSection"
	count, err := c.readVarU32()
	if err != nil {
		return dotvmerr.New(dotvmerr.KindParseError, op, err)
	}
	for i := uint32(0); i < count; i++ {
		name, err := c.readName()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		kind, err := c.readByte()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		idx, err := c.readVarU32()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		mod.Exports = append(mod.Exports, Export{Name: name, Kind: ImportKind(kind), Index: idx})
	}
	return nil
}

func parseElementSection(c *cursor, mod *Module) error {
	const op = "parseElementSection"
	count, err := c.readVarU32()
	if err != nil {
		return dotvmerr.New(dotvmerr.KindParseError, op, err)
	}
	for i := uint32(0); i < count; i++ {
		tableIndex, err := c.readVarU32()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		offsetExpr, err := c.readExpr()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		funcCount, err := c.readVarU32()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		indices := make([]uint32, funcCount)
		for j := range indices {
			if indices[j], err = c.readVarU32(); err != nil {
				return dotvmerr.New(dotvmerr.KindParseError, op, err)
			}
		}
		mod.Elements = append(mod.Elements, ElementSegment{
			TableIndex: tableIndex, OffsetExpr: offsetExpr, FuncIndices: indices,
		})
	}
	return nil
}

func parseDataSection(c *cursor, mod *Module) error {
	const op = "parseDataSection"
	count, err := c.readVarU32()
	if err != nil {
		return dotvmerr.New(dotvmerr.KindParseError, op, err)
	}
	for i := uint32(0); i < count; i++ {
		memIndex, err := c.readVarU32()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		offsetExpr, err := c.readExpr()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		n, err := c.readVarU32()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		b, err := c.readBytes(int(n))
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		mod.Data = append(mod.Data, DataSegment{
			MemoryIndex: memIndex, OffsetExpr: offsetExpr, Bytes: append([]byte(nil), b...),
		})
	}
	return nil
}

func parseCodeSection(c *cursor, mod *Module, funcTypeIndices []uint32) error {
	const op = "parseCodeSection"
	count, err := c.readVarU32()
	if err != nil {
		return dotvmerr.New(dotvmerr.KindParseError, op, err)
	}
	if int(count) != len(funcTypeIndices) {
		return dotvmerr.New(dotvmerr.KindParseError, op, nil)
	}
	for i := uint32(0); i < count; i++ {
		bodySize, err := c.readVarU32()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		bodyBytes, err := c.readBytes(int(bodySize))
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		fc := &cursor{buf: bodyBytes}

		localGroupCount, err := fc.readVarU32()
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}
		var locals []ValueType
		for g := uint32(0); g < localGroupCount; g++ {
			n, err := fc.readVarU32()
			if err != nil {
				return dotvmerr.New(dotvmerr.KindParseError, op, err)
			}
			t, err := fc.readValueType()
			if err != nil {
				return dotvmerr.New(dotvmerr.KindParseError, op, err)
			}
			for k := uint32(0); k < n; k++ {
				locals = append(locals, t)
			}
		}

		body, err := parseInstructions(fc)
		if err != nil {
			return dotvmerr.New(dotvmerr.KindParseError, op, err)
		}

		mod.Functions = append(mod.Functions, Function{
			TypeIndex: funcTypeIndices[i],
			Locals:    locals,
			Body:      body,
		})
	}
	return nil
}

// parseInstructions decodes a function body's instruction sequence up to
// and including its top-level terminating End.
func parseInstructions(c *cursor) ([]Instruction, error) {
	const op = "parseInstructions"
	var out []Instruction
	depth := 0

	for {
		b, err := c.readByte()
		if err != nil {
			return nil, dotvmerr.New(dotvmerr.KindParseError, op, err)
		}

		var instr Instruction
		switch b {
		case 0x00:
			instr = Instruction{Op: OpUnreachable}
		case 0x01:
			instr = Instruction{Op: OpNop}
		case 0x02, 0x03, 0x04:
			bt, err := readBlockType(c)
			if err != nil {
				return nil, err
			}
			op := OpBlock
			if b == 0x03 {
				op = OpLoop
			} else if b == 0x04 {
				op = OpIf
			}
			instr = Instruction{Op: op, Block: bt}
			depth++
		case 0x05:
			instr = Instruction{Op: OpElse}
		case 0x0b:
			if depth == 0 {
				return append(out, Instruction{Op: OpEnd}), nil
			}
			depth--
			instr = Instruction{Op: OpEnd}
		case 0x0c, 0x0d:
			idx, err := c.readVarU32()
			if err != nil {
				return nil, err
			}
			op := OpBr
			if b == 0x0d {
				op = OpBrIf
			}
			instr = Instruction{Op: op, Index: idx}
		case 0x0e:
			count, err := c.readVarU32()
			if err != nil {
				return nil, err
			}
			labels := make([]uint32, count)
			for i := range labels {
				if labels[i], err = c.readVarU32(); err != nil {
					return nil, err
				}
			}
			def, err := c.readVarU32()
			if err != nil {
				return nil, err
			}
			instr = Instruction{Op: OpBrTable, Labels: labels, Default: def}
		case 0x0f:
			instr = Instruction{Op: OpReturn}
		case 0x10:
			idx, err := c.readVarU32()
			if err != nil {
				return nil, err
			}
			instr = Instruction{Op: OpCall, Index: idx}
		case 0x11:
			typeIdx, err := c.readVarU32()
			if err != nil {
				return nil, err
			}
			if _, err := c.readByte(); err != nil { // table index, reserved
				return nil, err
			}
			instr = Instruction{Op: OpCallIndirect, Index: typeIdx}
		case 0x1a:
			instr = Instruction{Op: OpDrop}
		case 0x1b:
			instr = Instruction{Op: OpSelect}
		case 0x20, 0x21, 0x22, 0x23, 0x24:
			idx, err := c.readVarU32()
			if err != nil {
				return nil, err
			}
			ops := []Op{OpLocalGet, OpLocalSet, OpLocalTee, OpGlobalGet, OpGlobalSet}
			instr = Instruction{Op: ops[b-0x20], Index: idx}
		case 0x28, 0x29, 0x2a, 0x2b:
			mem, err := readMemArg(c)
			if err != nil {
				return nil, err
			}
			ops := []Op{OpI32Load, OpI64Load, OpF32Load, OpF64Load}
			instr = Instruction{Op: ops[b-0x28], Mem: mem}
		case 0x36, 0x37, 0x38, 0x39:
			mem, err := readMemArg(c)
			if err != nil {
				return nil, err
			}
			ops := []Op{OpI32Store, OpI64Store, OpF32Store, OpF64Store}
			instr = Instruction{Op: ops[b-0x36], Mem: mem}
		case 0x3f:
			if _, err := c.readByte(); err != nil { // reserved
				return nil, err
			}
			instr = Instruction{Op: OpMemorySize}
		case 0x40:
			if _, err := c.readByte(); err != nil { // reserved
				return nil, err
			}
			instr = Instruction{Op: OpMemoryGrow}
		case 0x41:
			v, err := c.readVarI32()
			if err != nil {
				return nil, err
			}
			instr = Instruction{Op: OpI32Const, I32: v}
		case 0x42:
			v, err := c.readVarI64()
			if err != nil {
				return nil, err
			}
			instr = Instruction{Op: OpI64Const, I64: v}
		case 0x43:
			raw, err := c.readBytes(4)
			if err != nil {
				return nil, err
			}
			instr = Instruction{Op: OpF32Const, F32: math.Float32frombits(binary.LittleEndian.Uint32(raw))}
		case 0x44:
			raw, err := c.readBytes(8)
			if err != nil {
				return nil, err
			}
			instr = Instruction{Op: OpF64Const, F64: math.Float64frombits(binary.LittleEndian.Uint64(raw))}
		case 0x45:
			instr = Instruction{Op: OpI32Eqz}
		case 0x46:
			instr = Instruction{Op: OpI32Eq}
		case 0x47:
			instr = Instruction{Op: OpI32Ne}
		case 0x48:
			instr = Instruction{Op: OpI32LtS}
		case 0x4a:
			instr = Instruction{Op: OpI32GtS}
		case 0x6a:
			instr = Instruction{Op: OpI32Add}
		case 0x6b:
			instr = Instruction{Op: OpI32Sub}
		case 0x6c:
			instr = Instruction{Op: OpI32Mul}
		case 0x6d:
			instr = Instruction{Op: OpI32DivS}
		case 0x6e:
			instr = Instruction{Op: OpI32DivU}
		case 0x71:
			instr = Instruction{Op: OpI32And}
		case 0x72:
			instr = Instruction{Op: OpI32Or}
		case 0x73:
			instr = Instruction{Op: OpI32Xor}
		case 0x74:
			instr = Instruction{Op: OpI32Shl}
		case 0x75:
			instr = Instruction{Op: OpI32ShrS}
		case 0x76:
			instr = Instruction{Op: OpI32ShrU}
		case 0x50:
			instr = Instruction{Op: OpI64Eqz}
		case 0x51:
			instr = Instruction{Op: OpI64Eq}
		case 0x7c:
			instr = Instruction{Op: OpI64Add}
		case 0x7d:
			instr = Instruction{Op: OpI64Sub}
		case 0x7e:
			instr = Instruction{Op: OpI64Mul}
		case 0x7f:
			instr = Instruction{Op: OpI64DivS}
		case 0x80:
			instr = Instruction{Op: OpI64DivU}
		case 0x83:
			instr = Instruction{Op: OpI64And}
		case 0x84:
			instr = Instruction{Op: OpI64Or}
		case 0x85:
			instr = Instruction{Op: OpI64Xor}
		case 0x92:
			instr = Instruction{Op: OpF32Add}
		case 0x93:
			instr = Instruction{Op: OpF32Sub}
		case 0x94:
			instr = Instruction{Op: OpF32Mul}
		case 0x95:
			instr = Instruction{Op: OpF32Div}
		case 0xa0:
			instr = Instruction{Op: OpF64Add}
		case 0xa1:
			instr = Instruction{Op: OpF64Sub}
		case 0xa2:
			instr = Instruction{Op: OpF64Mul}
		case 0xa3:
			instr = Instruction{Op: OpF64Div}
		case 0xfd:
			simdOp, err := c.readVarU32()
			if err != nil {
				return nil, err
			}
			switch simdOp {
			case 0: // v128.load
				mem, err := readMemArg(c)
				if err != nil {
					return nil, err
				}
				instr = Instruction{Op: OpV128Load, Mem: mem}
			case 12: // v128.const
				raw, err := c.readBytes(16)
				if err != nil {
					return nil, err
				}
				instr = Instruction{Op: OpV128Const, I64: int64(binary.LittleEndian.Uint64(raw[:8]))}
			case 15: // i8x16.splat
				instr = Instruction{Op: OpI8x16Splat}
			case 174: // i32x4.add
				instr = Instruction{Op: OpI32x4Add}
			case 228: // f32x4.mul
				instr = Instruction{Op: OpF32x4Mul}
			default:
				return nil, dotvmerr.New(dotvmerr.KindUnsupportedFeature, op, nil)
			}
		default:
			return nil, dotvmerr.New(dotvmerr.KindUnsupportedFeature, op, nil)
		}

		out = append(out, instr)
	}
}

func readBlockType(c *cursor) (*ValueType, error) {
	b, err := c.readByte()
	if err != nil {
		return nil, err
	}
	if b == 0x40 {
		return nil, nil
	}
	c.pos--
	vt, err := c.readValueType()
	if err != nil {
		return nil, err
	}
	return &vt, nil
}

func readMemArg(c *cursor) (MemArg, error) {
	align, err := c.readVarU32()
	if err != nil {
		return MemArg{}, err
	}
	offset, err := c.readVarU32()
	if err != nil {
		return MemArg{}, err
	}
	return MemArg{Align: align, Offset: offset}, nil
}
