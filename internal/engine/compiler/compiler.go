package compiler

import (
	"fmt"

	"github.com/kennyngo/wasmjit-go/api"
	"github.com/kennyngo/wasmjit-go/internal/asm/amd64"
	"github.com/kennyngo/wasmjit-go/internal/trap"
	wasm "github.com/kennyngo/wasmjit-go/internal/wasm"
)

// Register conventions held for the lifetime of every compiled function body:
//
//	RBP  frame/locals/operand-stack base, never reassigned after the prologue.
//	R15  vmctx, installed by the Go->JIT entry point and left untouched by every call a
//	     compiled function makes (the trap trampolines only read it).
//	R13  the function's *wasm.MemoryInstance, loaded once in the prologue when the module has a
//	     memory; every load/store re-reads the Buffer's current data pointer/length through it
//	     rather than caching them, since memory.grow reallocates the backing array.
//
// Everything else (AX, CX, DX, BX, SI, DI, R8-R11, X0-X7) is free scratch within a single
// instruction's lowering; no value is ever kept in a register across two wasm instructions.
type compiler struct {
	eng   *engine
	fn    *wasm.FunctionType
	code  *wasm.Code
	env   wasm.CompileEnv
	asm   *amd64.Assembler
	frame *frame

	mem      *wasm.MemoryInstance
	hasMem   bool
	hasTable bool
	tableIdx wasm.Index // this module's Store table address, a compile-time constant

	labels    []label
	exitLabel *amd64.Label
}

func newCompiler(e *engine, fn *wasm.FunctionType, code *wasm.Code, env wasm.CompileEnv) *compiler {
	numLocals := len(env.LocalTypes)
	maxStack := estimateMaxDepth(code.Body)
	c := &compiler{
		eng:  e,
		fn:   fn,
		code: code,
		env:  env,
		asm:  amd64.NewAssembler(),
		frame: &frame{
			numLocals:    numLocals,
			maxStack:     maxStack,
			scratchWords: scratchWordCount,
		},
	}
	if env.Instance != nil {
		if m := env.Instance.Memory(); m != nil {
			c.mem, c.hasMem = m, true
		}
		if len(env.Instance.TableAddrs) > 0 {
			c.hasTable = true
			c.tableIdx = env.Instance.TableAddrs[0]
		}
	}
	return c
}

// scratchWordCount bounds how many uint64 words compile can marshal into a single call/call_indirect
// site's argument or result buffer. wasm function types this compiler is expected to encounter stay
// well under this; a signature that doesn't is reported as a compile error rather than silently
// truncated.
const scratchWordCount = 16

func (c *compiler) compile(buf []byte, writeOffset int) (entryOffset, length int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compiler: %v", r)
		}
	}()

	exitLabel := c.asm.NewLabel()
	c.exitLabel = exitLabel

	c.emitPrologue()
	c.compileBody(c.code.Body)
	// Falling off the end of the body is an implicit `return` using whatever the function's
	// declared results expect to find on top of the compile-time stack.
	c.emitReturn()

	c.asm.BindLabel(exitLabel)
	c.emitEpilogue()
	c.asm.Finalize()

	code := c.asm.Bytes()
	if writeOffset+len(code) > len(buf) {
		return 0, 0, fmt.Errorf("compiler: code buffer too small (need %d more bytes at offset %d, have %d)",
			len(code), writeOffset, len(buf))
	}
	copy(buf[writeOffset:], code)
	return writeOffset, len(code), nil
}

// exitLabel is bound once, after the body, and is the sole path out of the function: every trap
// converges on it with its trap code in AX, and every return with AX=0 after writing its result
// through the saved resultsPtr.
func (c *compiler) emitPrologue() {
	a := c.asm
	a.PushQ(amd64.RegBP)
	a.MovRR(amd64.RegBP, amd64.RegSP)
	a.MovImm32(amd64.RegR11, uint32(c.frame.size()))
	a.SubQ(amd64.RegSP, amd64.RegR11)

	// DI=argsPtr, SI=resultsPtr, R15=vmctx per the callCompiled/callTrampoline/
	// indirectCallTrampoline entry convention.
	for i, t := range c.fn.Params {
		_ = t
		a.LoadQ(amd64.RegAX, amd64.Mem{Base: amd64.RegDI, Disp: int32(8 * i)})
		a.StoreQ(c.frame.localMem(i), amd64.RegAX)
	}
	if extra := len(c.env.LocalTypes) - len(c.fn.Params); extra > 0 {
		a.XorQ(amd64.RegAX, amd64.RegAX)
		for i := len(c.fn.Params); i < len(c.env.LocalTypes); i++ {
			a.StoreQ(c.frame.localMem(i), amd64.RegAX)
		}
	}
	a.StoreQ(c.frame.resultsPtrMem(), amd64.RegSI)

	if c.hasMem {
		a.MovImm64(amd64.RegR13, uint64(memPtrValue(c.mem)))
	}
}

func (c *compiler) emitEpilogue() {
	a := c.asm
	a.MovRR(amd64.RegSP, amd64.RegBP)
	a.PopQ(amd64.RegBP)
	a.Ret()
}

// emitReturn writes the function's declared results (at most one, per wasm 1.0) from the top of
// the compile-time stack through the saved resultsPtr, sets AX=0 (no trap), and jumps to the
// shared exit label.
func (c *compiler) emitReturn() {
	a := c.asm
	if len(c.fn.Results) == 1 {
		kind, slot := c.frame.pop()
		a.LoadQ(amd64.RegCX, c.frame.resultsPtrMem())
		if kind.isFloat() {
			if kind == kindF64 {
				a.MovsdLoad(amd64.RegX0, slot)
			} else {
				a.MovssLoad(amd64.RegX0, slot)
			}
			a.MovqXmmToGpr(amd64.RegAX, amd64.RegX0)
		} else if kind.is64() {
			a.LoadQ(amd64.RegAX, slot)
		} else {
			// i32's slot only ever had its low 32 bits written (StoreL); a plain LoadQ here would
			// surface whatever the slot's previous occupant left in the high bits. LoadL
			// zero-extends into AX so the uint64 written through resultsPtr, and ultimately
			// returned raw by Function.Call, carries a clean zero-extended i32 value.
			a.LoadL(amd64.RegAX, slot)
		}
		a.StoreQ(amd64.Mem{Base: amd64.RegCX, Disp: 0}, amd64.RegAX)
	}
	a.XorQ(amd64.RegAX, amd64.RegAX)
	a.Jmp(c.exitLabel)
}

// emitTrap sets AX to the given trap code and exits the function immediately, abandoning whatever
// is left on the compile-time stack (a trap never writes results).
func (c *compiler) emitTrap(code api.TrapCode) {
	c.asm.MovImm32(amd64.RegAX, uint32(code))
	c.asm.Jmp(c.exitLabel)
}

// compileBody lowers a straight-line instruction sequence (a function body, or a block/loop/if
// arm). Structured control flow is handled recursively through BlockImmediate.Then/Else rather
// than by scanning for matching `end` bytes, since the decoder already reassembled that nesting
// into the AST.
func (c *compiler) compileBody(body []wasm.Instruction) {
	for _, ins := range body {
		c.compileInstruction(ins)
	}
}

func (c *compiler) compileInstruction(ins wasm.Instruction) {
	switch ins.Opcode {
	case wasm.OpcodeUnreachable:
		c.emitTrap(api.TrapCodeUnreachable)
	case wasm.OpcodeNop:
		// no-op
	case wasm.OpcodeBlock:
		c.compileBlock(ins, false)
	case wasm.OpcodeLoop:
		c.compileBlock(ins, true)
	case wasm.OpcodeIf:
		c.compileIf(ins)
	case wasm.OpcodeEnd, wasm.OpcodeElse:
		// end/else are structural only; BlockImmediate.Then/Else already delimit their extent, so
		// the decoder never emits a standalone Instruction for them inside a body slice.
	case wasm.OpcodeBr:
		c.compileBr(ins.Index)
	case wasm.OpcodeBrIf:
		c.compileBrIf(ins.Index)
	case wasm.OpcodeBrTable:
		c.compileBrTable(ins.BrTable)
	case wasm.OpcodeReturn:
		c.emitReturn()
	case wasm.OpcodeCall:
		c.compileCall(ins.Index)
	case wasm.OpcodeCallIndirect:
		c.compileCallIndirect(ins.Index)
	case wasm.OpcodeDrop:
		c.frame.pop()
	case wasm.OpcodeSelect:
		c.compileSelect()
	case wasm.OpcodeLocalGet:
		c.compileLocalGet(ins.Index)
	case wasm.OpcodeLocalSet:
		c.compileLocalSet(ins.Index, false)
	case wasm.OpcodeLocalTee:
		c.compileLocalSet(ins.Index, true)
	case wasm.OpcodeGlobalGet:
		c.compileGlobalGet(ins.Index)
	case wasm.OpcodeGlobalSet:
		c.compileGlobalSet(ins.Index)
	case wasm.OpcodeI32Const:
		c.compileConst32(kindI32, uint32(ins.I32))
	case wasm.OpcodeF32Const:
		c.compileConst32(kindF32, ins.F32)
	case wasm.OpcodeI64Const:
		c.compileConst64(kindI64, uint64(ins.I64))
	case wasm.OpcodeF64Const:
		c.compileConst64(kindF64, ins.F64)
	case wasm.OpcodeMemorySize:
		c.compileMemorySize()
	case wasm.OpcodeMemoryGrow:
		c.compileMemoryGrow()
	default:
		switch {
		case ins.Opcode >= wasm.OpcodeI32Load && ins.Opcode <= wasm.OpcodeI64Store32:
			c.compileLoadStore(ins)
		case ins.Opcode >= wasm.OpcodeI32Eqz && ins.Opcode <= wasm.OpcodeF64ReinterpretI64:
			c.compileNumeric(ins)
		default:
			panic(fmt.Sprintf("compiler: unhandled opcode %#x", byte(ins.Opcode)))
		}
	}
}

func (c *compiler) compileBlock(ins wasm.Instruction, isLoop bool) {
	l := label{target: c.asm.NewLabel(), stackDepth: c.frame.depth(), isLoop: isLoop}
	if ins.Block.ResultType != nil {
		l.hasResult, l.resultKind = true, kindOf(*ins.Block.ResultType)
	}
	if isLoop {
		c.asm.BindLabel(l.target)
	}
	c.labels = append(c.labels, l)
	c.compileBody(ins.Block.Then)
	c.labels = c.labels[:len(c.labels)-1]
	if !isLoop {
		c.asm.BindLabel(l.target)
	}
	// A validated body leaves exactly the block's result arity above stackDepth regardless of
	// which internal path was taken; resync the Go-side bookkeeping to that invariant.
	if l.hasResult {
		c.frame.truncate(l.stackDepth)
		c.frame.push(l.resultKind)
	} else {
		c.frame.truncate(l.stackDepth)
	}
}

func (c *compiler) compileIf(ins wasm.Instruction) {
	_, condSlot := c.frame.pop()
	elseLabel := c.asm.NewLabel()
	endLabel := c.asm.NewLabel()

	c.asm.LoadL(amd64.RegAX, condSlot)
	c.asm.TestL(amd64.RegAX, amd64.RegAX)
	c.asm.Jcc(amd64.CondE, elseLabel)

	l := label{target: endLabel, stackDepth: c.frame.depth()}
	if ins.Block.ResultType != nil {
		l.hasResult, l.resultKind = true, kindOf(*ins.Block.ResultType)
	}
	c.labels = append(c.labels, l)
	c.compileBody(ins.Block.Then)
	c.frame.truncate(l.stackDepth)
	c.asm.Jmp(endLabel)

	c.asm.BindLabel(elseLabel)
	c.compileBody(ins.Block.Else)
	c.frame.truncate(l.stackDepth)
	c.labels = c.labels[:len(c.labels)-1]

	c.asm.BindLabel(endLabel)
	if l.hasResult {
		c.frame.push(l.resultKind)
	}
}

// labelAt resolves a relative branch depth (0 = innermost enclosing block/loop) to its scope.
func (c *compiler) labelAt(depth wasm.Index) label {
	return c.labels[len(c.labels)-1-int(depth)]
}

// emitBranchResult copies a branch's arity-1 result (wasm 1.0 never has more than one) from the
// current top of the compile-time stack down to l's target slot, immediately before a jump to
// l.target. Without this, a branch taken above the target's base depth -- valid wasm, e.g.
// `block (result i32) i32.const 1 i32.const 2 br 0 end` -- would leave the target's own slot
// holding whatever it held before, since the block's `end` only ever reads from that fixed base
// slot (see compileBlock). Loop labels are exempt: branching to a loop re-enters it at the start,
// and a loop's branch-in arity is its parameter count, which wasm 1.0 (no multi-value) always
// leaves at zero -- l.hasResult there only describes the value the loop produces on falling off
// its own end, not what a branch into it should carry.
func (c *compiler) emitBranchResult(l label) {
	if !l.hasResult || l.isLoop {
		return
	}
	_, top := c.frame.peek()
	c.asm.LoadQ(amd64.RegAX, top)
	c.asm.StoreQ(c.frame.stackMem(l.stackDepth), amd64.RegAX)
}

func (c *compiler) compileBr(depth wasm.Index) {
	l := c.labelAt(depth)
	c.emitBranchResult(l)
	c.asm.Jmp(l.target)
}

func (c *compiler) compileBrIf(depth wasm.Index) {
	_, condSlot := c.frame.pop()
	l := c.labelAt(depth)
	a := c.asm
	notTaken := a.NewLabel()
	a.LoadL(amd64.RegAX, condSlot)
	a.TestL(amd64.RegAX, amd64.RegAX)
	a.Jcc(amd64.CondE, notTaken)
	c.emitBranchResult(l)
	a.Jmp(l.target)
	a.BindLabel(notTaken)
}

func (c *compiler) compileBrTable(bt *wasm.BrTableImmediate) {
	_, idxSlot := c.frame.pop()
	a := c.asm
	a.LoadL(amd64.RegAX, idxSlot)
	for i, depth := range bt.Labels {
		a.MovImm32(amd64.RegCX, uint32(i))
		a.CmpL(amd64.RegAX, amd64.RegCX)
		notThis := a.NewLabel()
		a.Jcc(amd64.CondNE, notThis)
		l := c.labelAt(depth)
		c.emitBranchResult(l)
		a.Jmp(l.target)
		a.BindLabel(notThis)
	}
	def := c.labelAt(bt.Default)
	c.emitBranchResult(def)
	a.Jmp(def.target)
}

func (c *compiler) compileSelect() {
	_, condSlot := c.frame.pop()
	k2, v2Slot := c.frame.pop()
	_, v1Slot := c.frame.pop()
	dst := c.frame.push(k2)

	elseLabel := c.asm.NewLabel()
	doneLabel := c.asm.NewLabel()
	c.asm.LoadL(amd64.RegAX, condSlot)
	c.asm.TestL(amd64.RegAX, amd64.RegAX)
	c.asm.Jcc(amd64.CondE, elseLabel)
	c.asm.LoadQ(amd64.RegAX, v1Slot)
	c.asm.StoreQ(dst, amd64.RegAX)
	c.asm.Jmp(doneLabel)
	c.asm.BindLabel(elseLabel)
	c.asm.LoadQ(amd64.RegAX, v2Slot)
	c.asm.StoreQ(dst, amd64.RegAX)
	c.asm.BindLabel(doneLabel)
}

func (c *compiler) compileLocalGet(idx wasm.Index) {
	kind := kindOf(c.env.LocalTypes[idx])
	dst := c.frame.push(kind)
	c.asm.LoadQ(amd64.RegAX, c.frame.localMem(int(idx)))
	c.asm.StoreQ(dst, amd64.RegAX)
}

func (c *compiler) compileLocalSet(idx wasm.Index, tee bool) {
	var src amd64.Mem
	if tee {
		_, src = c.frame.peek()
	} else {
		_, src = c.frame.pop()
	}
	c.asm.LoadQ(amd64.RegAX, src)
	c.asm.StoreQ(c.frame.localMem(int(idx)), amd64.RegAX)
}

func (c *compiler) compileGlobalGet(idx wasm.Index) {
	g := c.env.Instance.Global(idx)
	kind := kindOf(g.Type.ValType)
	dst := c.frame.push(kind)
	c.asm.MovImm64(amd64.RegAX, uint64(globalPtrValue(g)))
	c.asm.LoadQ(amd64.RegAX, amd64.Mem{Base: amd64.RegAX, Disp: globalValueOffset})
	c.asm.StoreQ(dst, amd64.RegAX)
}

func (c *compiler) compileGlobalSet(idx wasm.Index) {
	g := c.env.Instance.Global(idx)
	_, src := c.frame.pop()
	c.asm.LoadQ(amd64.RegAX, src)
	c.asm.MovImm64(amd64.RegCX, uint64(globalPtrValue(g)))
	c.asm.StoreQ(amd64.Mem{Base: amd64.RegCX, Disp: globalValueOffset}, amd64.RegAX)
}

func (c *compiler) compileConst32(kind valueKind, bits uint32) {
	dst := c.frame.push(kind)
	c.asm.MovImm32(amd64.RegAX, bits)
	c.asm.StoreL(dst, amd64.RegAX)
}

func (c *compiler) compileConst64(kind valueKind, bits uint64) {
	dst := c.frame.push(kind)
	c.asm.MovImm64(amd64.RegAX, bits)
	c.asm.StoreQ(dst, amd64.RegAX)
}

// globalValueOffset is GlobalInstance.Value's byte offset (Type is the first, pointer-sized
// field).
const globalValueOffset = 8
