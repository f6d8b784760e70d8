// Package codegen serializes a transpiled module into the on-disk bytecode
// format the executor loads: a fixed-width header, a code section holding
// each function's instructions, and a metadata section describing globals,
// memory, exports and imports.
package codegen

import (
	"encoding/binary"
	"fmt"

	"github.com/dotlanth/dotvm/core/transpiler"
	"github.com/dotlanth/dotvm/dotvmerr"
)

// BytecodeMagic identifies a dotvm bytecode file.
const BytecodeMagic uint32 = 0x444f5442 // "DOTB"

// FormatVersion is the current bytecode encoding version.
const FormatVersion uint32 = 1

// headerSize is magic(4) + format_version(4) + architecture_tag(2) + reserved(2).
const headerSize = 12

// BytecodeHeader is the fixed-width prologue of every bytecode file.
type BytecodeHeader struct {
	Magic           uint32
	FormatVersion   uint32
	ArchitectureTag uint16
}

func architectureTag(a transpiler.Architecture) (uint16, error) {
	switch a {
	case transpiler.Arch64:
		return 64, nil
	case transpiler.Arch128:
		return 128, nil
	case transpiler.Arch256:
		return 256, nil
	case transpiler.Arch512:
		return 512, nil
	default:
		return 0, fmt.Errorf("unknown architecture %v", a)
	}
}

func tagToArchitecture(tag uint16) (transpiler.Architecture, error) {
	switch tag {
	case 64:
		return transpiler.Arch64, nil
	case 128:
		return transpiler.Arch128, nil
	case 256:
		return transpiler.Arch256, nil
	case 512:
		return transpiler.Arch512, nil
	default:
		return 0, fmt.Errorf("unknown architecture tag %d", tag)
	}
}

func encodeHeader(h BytecodeHeader) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.FormatVersion)
	binary.LittleEndian.PutUint16(buf[8:10], h.ArchitectureTag)
	return buf
}

func decodeHeader(data []byte) (BytecodeHeader, []byte, error) {
	const op = "decodeHeader"
	if len(data) < headerSize {
		return BytecodeHeader{}, nil, dotvmerr.New(dotvmerr.KindSerializationError, op,
			fmt.Errorf("truncated header: need %d bytes, have %d", headerSize, len(data)))
	}
	h := BytecodeHeader{
		Magic:           binary.LittleEndian.Uint32(data[0:4]),
		FormatVersion:   binary.LittleEndian.Uint32(data[4:8]),
		ArchitectureTag: binary.LittleEndian.Uint16(data[8:10]),
	}
	if h.Magic != BytecodeMagic {
		return BytecodeHeader{}, nil, dotvmerr.New(dotvmerr.KindSerializationError, op,
			fmt.Errorf("bad magic %x, want %x", h.Magic, BytecodeMagic))
	}
	if h.FormatVersion != FormatVersion {
		return BytecodeHeader{}, nil, dotvmerr.New(dotvmerr.KindUnsupportedFeature, op,
			fmt.Errorf("unsupported bytecode format version %d", h.FormatVersion))
	}
	return h, data[headerSize:], nil
}

// putVarU64 appends v to buf as a LEB128 unsigned varint. Operands were
// widened to u64 at the mapping stage (see the transpiler's operand-width
// design note), so the bytecode's "variable-width operand encoding" carries
// that width through rather than truncating back to u32.
func putVarU64(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if v == 0 {
			return buf
		}
	}
}

func readVarU64(data []byte) (uint64, []byte, error) {
	var result uint64
	var shift uint
	for i := 0; i < len(data); i++ {
		b := data[i]
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, data[i+1:], nil
		}
		shift += 7
		if shift >= 70 {
			return 0, nil, fmt.Errorf("varint too long")
		}
	}
	return 0, nil, fmt.Errorf("truncated varint")
}

func putString(buf []byte, s string) []byte {
	buf = putVarU64(buf, uint64(len(s)))
	return append(buf, s...)
}

func readString(data []byte) (string, []byte, error) {
	n, rest, err := readVarU64(data)
	if err != nil {
		return "", nil, err
	}
	if uint64(len(rest)) < n {
		return "", nil, fmt.Errorf("truncated string")
	}
	return string(rest[:n]), rest[n:], nil
}

// encodeInstruction emits an opcode byte followed by the operand count and
// each operand, all as LEB128 varints.
func encodeInstruction(instr transpiler.TranspiledInstruction) ([]byte, error) {
	const op = "encodeInstruction"
	code, ok := opcodeTable[instr.Opcode]
	if !ok {
		return nil, dotvmerr.New(dotvmerr.KindUnsupportedFeature, op,
			fmt.Errorf("no bytecode opcode registered for %q", instr.Opcode))
	}
	buf := []byte{code}
	buf = putVarU64(buf, uint64(len(instr.Operands)))
	for _, operand := range instr.Operands {
		buf = putVarU64(buf, operand)
	}
	return buf, nil
}

func decodeInstruction(data []byte) (transpiler.TranspiledInstruction, []byte, error) {
	const op = "decodeInstruction"
	if len(data) == 0 {
		return transpiler.TranspiledInstruction{}, nil, dotvmerr.New(dotvmerr.KindSerializationError, op,
			fmt.Errorf("truncated instruction stream"))
	}
	name, ok := opcodeNames[data[0]]
	if !ok {
		return transpiler.TranspiledInstruction{}, nil, dotvmerr.New(dotvmerr.KindSerializationError, op,
			fmt.Errorf("unknown opcode byte %d", data[0]))
	}
	rest := data[1:]
	count, rest, err := readVarU64(rest)
	if err != nil {
		return transpiler.TranspiledInstruction{}, nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	var operands []uint64
	for i := uint64(0); i < count; i++ {
		var v uint64
		v, rest, err = readVarU64(rest)
		if err != nil {
			return transpiler.TranspiledInstruction{}, nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
		}
		operands = append(operands, v)
	}
	return transpiler.TranspiledInstruction{Opcode: name, Operands: operands}, rest, nil
}

// encodeFunction emits the parameter count, the local count and the
// instruction count, followed by each encoded instruction. Labels are a mapping-time aid for the reachability validator
// and aren't persisted; the executor resolves branches by instruction index.
func encodeFunction(fn transpiler.TranspiledFunction) ([]byte, error) {
	var buf []byte
	buf = putVarU64(buf, uint64(fn.ParamCount))
	buf = putVarU64(buf, uint64(fn.LocalCount))
	buf = putVarU64(buf, uint64(len(fn.Instructions)))
	for _, instr := range fn.Instructions {
		enc, err := encodeInstruction(instr)
		if err != nil {
			return nil, err
		}
		buf = append(buf, enc...)
	}
	return buf, nil
}

func decodeFunction(data []byte) (transpiler.TranspiledFunction, []byte, error) {
	const op = "decodeFunction"
	paramCount, rest, err := readVarU64(data)
	if err != nil {
		return transpiler.TranspiledFunction{}, nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	localCount, rest, err := readVarU64(rest)
	if err != nil {
		return transpiler.TranspiledFunction{}, nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	instrCount, rest, err := readVarU64(rest)
	if err != nil {
		return transpiler.TranspiledFunction{}, nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	fn := transpiler.TranspiledFunction{
		ParamCount: int(paramCount),
		LocalCount: int(localCount),
	}
	for i := uint64(0); i < instrCount; i++ {
		var instr transpiler.TranspiledInstruction
		instr, rest, err = decodeInstruction(rest)
		if err != nil {
			return transpiler.TranspiledFunction{}, nil, err
		}
		fn.Instructions = append(fn.Instructions, instr)
	}
	return fn, rest, nil
}

// writeTaggedSection appends a u32-length-prefixed blob, the framing the
// metadata section uses for each of its four tagged parts.
func writeTaggedSection(buf []byte, body []byte) []byte {
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(body)))
	buf = append(buf, lenBuf...)
	return append(buf, body...)
}

func readTaggedSection(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("truncated section length")
	}
	n := binary.LittleEndian.Uint32(data[0:4])
	data = data[4:]
	if uint64(len(data)) < uint64(n) {
		return nil, nil, fmt.Errorf("truncated section body")
	}
	return data[:n], data[n:], nil
}

func encodeGlobalsSection(globals []transpiler.GlobalType) []byte {
	var body []byte
	body = putVarU64(body, uint64(len(globals)))
	for _, g := range globals {
		body = append(body, byte(g.Type))
		if g.Mutable {
			body = append(body, 1)
		} else {
			body = append(body, 0)
		}
	}
	return body
}

func encodeExportsSection(exports []transpiler.Export) []byte {
	var body []byte
	body = putVarU64(body, uint64(len(exports)))
	for _, e := range exports {
		body = putString(body, e.Name)
		body = append(body, byte(e.Kind))
		body = putVarU64(body, uint64(e.Index))
	}
	return body
}

func encodeImportsSection(imports []transpiler.Import) []byte {
	var body []byte
	body = putVarU64(body, uint64(len(imports)))
	for _, imp := range imports {
		body = putString(body, imp.Module)
		body = putString(body, imp.Field)
		body = append(body, byte(imp.Kind))
		body = putVarU64(body, uint64(imp.Index))
	}
	return body
}

// EncodeModule serializes tm into the bytecode file layout: header, code
// section (function count followed by each encoded function), then a
// metadata section holding globals, memory page count, exports and imports
// as four length-prefixed parts in that fixed order.
func EncodeModule(tm *transpiler.TranspiledModule) ([]byte, error) {
	const op = "EncodeModule"

	tag, err := architectureTag(tm.Architecture)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	out := encodeHeader(BytecodeHeader{Magic: BytecodeMagic, FormatVersion: FormatVersion, ArchitectureTag: tag})

	var code []byte
	code = putVarU64(code, uint64(len(tm.Functions)))
	for _, fn := range tm.Functions {
		enc, err := encodeFunction(fn)
		if err != nil {
			return nil, err
		}
		code = append(code, enc...)
	}
	out = writeTaggedSection(out, code)

	memBody := putVarU64(nil, uint64(tm.MemoryPages))
	var metadata []byte
	metadata = writeTaggedSection(metadata, encodeGlobalsSection(tm.Globals))
	metadata = writeTaggedSection(metadata, memBody)
	metadata = writeTaggedSection(metadata, encodeExportsSection(tm.Exports))
	metadata = writeTaggedSection(metadata, encodeImportsSection(tm.Imports))
	out = writeTaggedSection(out, metadata)

	return out, nil
}

// DecodeModule parses a bytecode file back into a TranspiledModule. Export
// and import kinds are restored from their tag bytes as the transpiler's
// typed ImportKind.
func DecodeModule(data []byte) (*transpiler.TranspiledModule, error) {
	const op = "DecodeModule"

	header, rest, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	arch, err := tagToArchitecture(header.ArchitectureTag)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}

	codeSection, rest, err := readTaggedSection(rest)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	metadataSection, _, err := readTaggedSection(rest)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}

	out := &transpiler.TranspiledModule{Architecture: arch}

	fnCount, codeRest, err := readVarU64(codeSection)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	for i := uint64(0); i < fnCount; i++ {
		var fn transpiler.TranspiledFunction
		fn, codeRest, err = decodeFunction(codeRest)
		if err != nil {
			return nil, err
		}
		out.Functions = append(out.Functions, fn)
	}

	globalsBody, metaRest, err := readTaggedSection(metadataSection)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	n, globalsRest, err := readVarU64(globalsBody)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	for i := uint64(0); i < n; i++ {
		if len(globalsRest) < 2 {
			return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, fmt.Errorf("truncated globals section"))
		}
		out.Globals = append(out.Globals, transpiler.GlobalType{
			Type:    transpiler.ValueType(globalsRest[0]),
			Mutable: globalsRest[1] != 0,
		})
		globalsRest = globalsRest[2:]
	}

	memBody, metaRest, err := readTaggedSection(metaRest)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	memPages, _, err := readVarU64(memBody)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	out.MemoryPages = uint32(memPages)

	exportsBody, metaRest, err := readTaggedSection(metaRest)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	expCount, expRest, err := readVarU64(exportsBody)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	for i := uint64(0); i < expCount; i++ {
		var name string
		name, expRest, err = readString(expRest)
		if err != nil {
			return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
		}
		if len(expRest) == 0 {
			return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, fmt.Errorf("truncated export kind"))
		}
		kind := expRest[0]
		expRest = expRest[1:]
		var idx uint64
		idx, expRest, err = readVarU64(expRest)
		if err != nil {
			return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
		}
		out.Exports = append(out.Exports, transpiler.Export{Name: name, Kind: transpiler.ImportKind(kind), Index: uint32(idx)})
	}

	importsBody, _, err := readTaggedSection(metaRest)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	impCount, impRest, err := readVarU64(importsBody)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	for i := uint64(0); i < impCount; i++ {
		var module, field string
		module, impRest, err = readString(impRest)
		if err != nil {
			return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
		}
		field, impRest, err = readString(impRest)
		if err != nil {
			return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
		}
		if len(impRest) == 0 {
			return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, fmt.Errorf("truncated import kind"))
		}
		kind := impRest[0]
		impRest = impRest[1:]
		var idx uint64
		idx, impRest, err = readVarU64(impRest)
		if err != nil {
			return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
		}
		out.Imports = append(out.Imports, transpiler.Import{Module: module, Field: field, Kind: transpiler.ImportKind(kind), Index: uint32(idx)})
	}

	return out, nil
}
