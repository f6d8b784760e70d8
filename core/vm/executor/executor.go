package executor

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/dotlanth/dotvm/core/transpiler"
	"github.com/dotlanth/dotvm/core/vm/security"
	"github.com/dotlanth/dotvm/dotvmerr"
)

// Frame is one call's register/stack state: its locals (parameters
// followed by declared locals), its value stack, and the linear memory
// the module's function bodies read and write through LOAD/STORE.
type Frame struct {
	Locals []uint64
	Stack  []uint64
	Memory []byte
}

func newFrame(paramCount, localCount int, args []uint64, memoryPages uint32) *Frame {
	locals := make([]uint64, paramCount+localCount)
	copy(locals, args)
	return &Frame{
		Locals: locals,
		Memory: make([]byte, uint64(memoryPages)*transpiler.WasmPageSize),
	}
}

func (f *Frame) push(v uint64)  { f.Stack = append(f.Stack, v) }
func (f *Frame) pop() uint64 {
	v := f.Stack[len(f.Stack)-1]
	f.Stack = f.Stack[:len(f.Stack)-1]
	return v
}

// blockScope is the compile-time span of a BLOCK/LOOP/JUMPIF_NOT entry:
// the instruction index it starts at and the index of its matching END,
// resolved once per function by matchBlocks before execution begins.
type blockScope struct {
	kind     string
	entry    int
	matchEnd int
}

// matchBlocks pairs every BLOCK/LOOP/JUMPIF_NOT with its closing END by
// nesting depth, the same structured-control-flow shape WASM itself
// enforces: a stack of open entries, popped one per END encountered.
func matchBlocks(instrs []transpiler.TranspiledInstruction) map[int]blockScope {
	scopes := make(map[int]blockScope)
	var open []int
	for i, instr := range instrs {
		switch instr.Opcode {
		case "BLOCK", "LOOP", "JUMPIF_NOT":
			open = append(open, i)
		case "END":
			if len(open) == 0 {
				continue
			}
			entry := open[len(open)-1]
			open = open[:len(open)-1]
			scopes[entry] = blockScope{kind: instrs[entry].Opcode, entry: entry, matchEnd: i}
		}
	}
	return scopes
}

// Executor runs one TranspiledModule's functions against a Context,
// gating every opcode's category through the context's security gate
// before dispatching it.
type Executor struct {
	module *transpiler.TranspiledModule
	ctx    *Context
	depth  int // nesting level of Call, so only the outermost call admits/releases a global pool slot
}

func New(module *transpiler.TranspiledModule, ctx *Context) *Executor {
	return &Executor{module: module, ctx: ctx}
}

// numImportFuncs counts the module's function imports: WASM's function
// index space puts every imported function before any locally defined
// one, so a CALL's operand needs this offset to tell the two apart.
func (e *Executor) numImportFuncs() int {
	n := 0
	for _, imp := range e.module.Imports {
		if imp.Kind == transpiler.ImportFunc {
			n++
		}
	}
	return n
}

// Call runs the function at funcIndex (in the combined import+local index
// space) with args, returning its single result (0 if it returns
// nothing) or the first error encountered.
func (e *Executor) Call(goCtx context.Context, funcIndex int, args []uint64) (uint64, error) {
	const op = "Executor.Call"

	if e.depth == 0 {
		if !e.ctx.Admit() {
			return 0, dotvmerr.New(dotvmerr.KindResourceLimitExceeded, op, fmt.Errorf("global active-context cap reached"))
		}
		defer e.ctx.Release()
	}
	e.depth++
	defer func() { e.depth-- }()

	numImports := e.numImportFuncs()
	if funcIndex < numImports {
		return e.callImport(goCtx, funcIndex, args)
	}
	localIndex := funcIndex - numImports
	if localIndex < 0 || localIndex >= len(e.module.Functions) {
		return 0, dotvmerr.New(dotvmerr.KindExecutionFailed, op, fmt.Errorf("function index %d out of range", funcIndex))
	}
	return e.run(goCtx, &e.module.Functions[localIndex], args)
}

func (e *Executor) callImport(goCtx context.Context, funcIndex int, args []uint64) (uint64, error) {
	const op = "Executor.callImport"
	imp := e.module.Imports[funcIndex]
	if imp.Module != "dotvm" {
		return 0, dotvmerr.New(dotvmerr.KindUnsupportedFeature, op, fmt.Errorf("unknown import module %q", imp.Module))
	}
	return e.dispatchHost(goCtx, imp.Field, args)
}

// run interprets fn's instruction stream to completion, returning the top
// of the value stack (or 0 if the stack is empty) as the function's
// result.
func (e *Executor) run(goCtx context.Context, fn *transpiler.TranspiledFunction, args []uint64) (uint64, error) {
	const op = "Executor.run"

	frame := newFrame(fn.ParamCount, fn.LocalCount, args, e.module.MemoryPages)
	scopes := matchBlocks(fn.Instructions)
	var blocks []int // runtime stack of active block entry indices

	ip := 0
	for ip < len(fn.Instructions) {
		instr := fn.Instructions[ip]

		info, ok := InfoFor(instr.Opcode)
		if !ok {
			return 0, dotvmerr.New(dotvmerr.KindExecutionFailed, op, fmt.Errorf("unknown opcode %q", instr.Opcode))
		}
		if len(frame.Stack) < info.StackOperands {
			return 0, dotvmerr.New(dotvmerr.KindExecutionFailed, op, fmt.Errorf("stack underflow at %q", instr.Opcode))
		}
		usage := security.Usage{InstructionCount: 1}
		if instr.Opcode == "MEM_GROW" {
			// pages is still on top of the stack at this point (popped
			// only once dispatch reaches the MEM_GROW case below); peeking
			// it here charges the real byte growth this step is about to
			// perform instead of a flat instruction count.
			pages := frame.Stack[len(frame.Stack)-1]
			usage.MemoryBytes = pages * transpiler.WasmPageSize
		}
		if _, err := e.ctx.CheckUsage(string(info.Category), "", usage); err != nil {
			return 0, err
		}

		switch instr.Opcode {
		case "NOP":
			ip++
		case "END":
			if len(blocks) > 0 && scopes[blocks[len(blocks)-1]].matchEnd == ip {
				blocks = blocks[:len(blocks)-1]
			}
			ip++

		case "BLOCK":
			blocks = append(blocks, ip)
			ip++
		case "LOOP":
			blocks = append(blocks, ip)
			ip++
		case "JUMPIF_NOT":
			cond := frame.pop()
			blocks = append(blocks, ip)
			if cond == 0 {
				scope := scopes[ip]
				blocks = blocks[:len(blocks)-1]
				ip = scope.matchEnd + 1
			} else {
				ip++
			}

		case "JUMP", "JUMPIF":
			taken := instr.Opcode == "JUMP"
			if instr.Opcode == "JUMPIF" {
				taken = frame.pop() != 0
			}
			if !taken {
				ip++
				break
			}
			depth := int(instr.Operands[0])
			if depth >= len(blocks) {
				return 0, dotvmerr.New(dotvmerr.KindExecutionFailed, op, fmt.Errorf("branch depth %d exceeds block nesting", depth))
			}
			target := blocks[len(blocks)-1-depth]
			blocks = blocks[:len(blocks)-1-depth]
			if fn.Instructions[target].Opcode == "LOOP" {
				blocks = append(blocks, target)
				ip = target + 1
			} else {
				ip = scopes[target].matchEnd + 1
			}

		case "JUMP_TABLE":
			idx := frame.pop()
			table := instr.Operands
			var depth uint64
			if int(idx) < len(table)-1 {
				depth = table[idx]
			} else {
				depth = table[len(table)-1]
			}
			d := int(depth)
			if d >= len(blocks) {
				return 0, dotvmerr.New(dotvmerr.KindExecutionFailed, op, fmt.Errorf("branch depth %d exceeds block nesting", d))
			}
			target := blocks[len(blocks)-1-d]
			blocks = blocks[:len(blocks)-1-d]
			ip = scopes[target].matchEnd + 1

		case "UNREACHABLE":
			return 0, dotvmerr.New(dotvmerr.KindExecutionFailed, op, fmt.Errorf("unreachable instruction executed"))

		case "RETURN":
			if len(frame.Stack) == 0 {
				return 0, nil
			}
			return frame.pop(), nil

		case "CALL":
			target := int(instr.Operands[0])
			res, err := e.Call(goCtx, target, popArgs(frame, e.calleeParamCount(target)))
			if err != nil {
				return 0, err
			}
			frame.push(res)
			ip++
		case "CALL_INDIRECT":
			target := int(frame.pop())
			res, err := e.Call(goCtx, target, popArgs(frame, e.calleeParamCount(target)))
			if err != nil {
				return 0, err
			}
			frame.push(res)
			ip++

		case "DROP":
			frame.pop()
			ip++
		case "SELECT":
			c := frame.pop()
			b := frame.pop()
			a := frame.pop()
			if c != 0 {
				frame.push(a)
			} else {
				frame.push(b)
			}
			ip++

		case "LOCAL_GET":
			frame.push(frame.Locals[instr.Operands[0]])
			ip++
		case "LOCAL_SET":
			frame.Locals[instr.Operands[0]] = frame.pop()
			ip++
		case "LOCAL_TEE":
			v := frame.Stack[len(frame.Stack)-1]
			frame.Locals[instr.Operands[0]] = v
			ip++
		case "GLOBAL_GET", "GLOBAL_SET":
			// module-level globals are out of this frame's scope; treated
			// as no-ops on the value stack here and left to the host
			// runtime that owns cross-call global state.
			if instr.Opcode == "GLOBAL_SET" {
				frame.pop()
			} else {
				frame.push(0)
			}
			ip++

		case "LOAD32":
			addr := frame.pop() + instr.Operands[0]
			frame.push(uint64(binary.LittleEndian.Uint32(frame.Memory[addr:])))
			ip++
		case "LOAD64":
			addr := frame.pop() + instr.Operands[0]
			frame.push(binary.LittleEndian.Uint64(frame.Memory[addr:]))
			ip++
		case "STORE32":
			val := frame.pop()
			addr := frame.pop() + instr.Operands[0]
			binary.LittleEndian.PutUint32(frame.Memory[addr:], uint32(val))
			ip++
		case "STORE64":
			val := frame.pop()
			addr := frame.pop() + instr.Operands[0]
			binary.LittleEndian.PutUint64(frame.Memory[addr:], val)
			ip++
		case "MEM_SIZE":
			frame.push(uint64(len(frame.Memory) / transpiler.WasmPageSize))
			ip++
		case "MEM_GROW":
			pages := frame.pop()
			old := len(frame.Memory) / transpiler.WasmPageSize
			frame.Memory = append(frame.Memory, make([]byte, pages*transpiler.WasmPageSize)...)
			frame.push(uint64(old))
			ip++

		case "CONST32", "CONST64", "FCONST32", "FCONST64", "VCONST128":
			frame.push(instr.Operands[0])
			ip++

		default:
			if err := e.dispatchArithmetic(frame, instr); err != nil {
				return 0, err
			}
			ip++
		}
	}

	if len(frame.Stack) == 0 {
		return 0, nil
	}
	return frame.pop(), nil
}

// popArgs pops exactly n values off frame's stack, in call order
// (deepest-pushed argument first).
func popArgs(frame *Frame, n int) []uint64 {
	if n <= 0 {
		return nil
	}
	args := append([]uint64(nil), frame.Stack[len(frame.Stack)-n:]...)
	frame.Stack = frame.Stack[:len(frame.Stack)-n]
	return args
}

// calleeParamCount resolves how many stack values a CALL/CALL_INDIRECT
// target consumes: a local function's declared parameter count, or a
// host import's fixed operand count.
func (e *Executor) calleeParamCount(funcIndex int) int {
	numImports := e.numImportFuncs()
	if funcIndex < numImports && funcIndex >= 0 && funcIndex < len(e.module.Imports) {
		if info, ok := HostInfoFor(e.module.Imports[funcIndex].Field); ok {
			return info.StackOperands
		}
		return 0
	}
	localIndex := funcIndex - numImports
	if localIndex >= 0 && localIndex < len(e.module.Functions) {
		return e.module.Functions[localIndex].ParamCount
	}
	return 0
}
