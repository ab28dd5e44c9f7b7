// Package emitter implements the Gearwork bytecode builder: a
// three-tier structured emitter that produces a byte-exact image with
// deferred label patching and automatic constant interning.
//
// The tiers compose through a pointer-back-to-parent idiom, each tier
// holding a reference to the one that owns it:
//
//	ImageBuilder  -- owns the finished byte buffer; writes the magic
//	                 number on construction.
//	  `-- VisitCode() returns an InstructionBuilder, which buffers
//	      encoded instructions, interns constants on demand, and
//	      tracks label use-sites.
//	      `-- VisitEnd() on the instruction builder splices bound
//	          label positions into the buffered bytes, then flushes
//	          the constant pool (via its own sub-builder) followed by
//	          the instruction bytes into the parent image buffer.
//
// This reverses the image-level order: because Ldc/Func/Invoke
// reference constants by index, the instruction builder must finish
// interning before the constant pool can be written, so the pool ends
// up on the wire before the instructions it's written after in this
// API.
package emitter

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/kristofer/gearwork/pkg/bytecode"
)

// ImageBuilder accumulates the finished byte image. Construct one with
// New, obtain an InstructionBuilder with VisitCode, emit instructions,
// then call VisitEnd on the instruction builder before VisitEnd here.
type ImageBuilder struct {
	buf []byte
}

// New creates an ImageBuilder and writes the GEARWORK magic number.
func New() *ImageBuilder {
	return &ImageBuilder{buf: []byte(bytecode.Magic)}
}

// VisitCode opens the instruction builder. The emitter's public API is
// instruction-first: constants are interned as a side effect of
// emitting instructions that reference them.
func (b *ImageBuilder) VisitCode() *InstructionBuilder {
	return &InstructionBuilder{parent: b}
}

// VisitEnd returns the finished image bytes.
func (b *ImageBuilder) VisitEnd() []byte {
	return b.buf
}

// Label is an unbound build-time jump target. Create one with
// MakeLabel, bind it with VisitLabel at the instruction it should name,
// and reference it from VisitGoto before or after binding: forward
// and backward jumps are both supported.
type Label struct {
	bound bool
	pos   uint32
}

// use records one recorded (byte offset, label) pair awaiting
// patching at VisitEnd.
type use struct {
	byteOffset int
	label      *Label
}

// InstructionBuilder buffers encoded instructions, interns constants
// referenced by Ldc/Func/Invoke, and records label use-sites for
// later patching.
type InstructionBuilder struct {
	parent *ImageBuilder
	buf    []byte
	pos    uint32 // instruction count emitted so far

	constants     []bytecode.Stackable // local interned pool, insertion order
	uses          []use
	declaredFuncs []funcSig
}

// MakeLabel returns a new, unbound label.
func (ib *InstructionBuilder) MakeLabel() *Label {
	return &Label{}
}

// VisitLabel binds l to the current instruction position. A label may
// be bound at most once in well-formed use; binding again simply
// rebinds it to the new position.
func (ib *InstructionBuilder) VisitLabel(l *Label) {
	l.bound = true
	l.pos = ib.pos
}

// intern returns the index of v in the local constant pool, appending
// it if not already present (structural equality, ).
func (ib *InstructionBuilder) intern(v bytecode.Stackable) uint32 {
	for i, c := range ib.constants {
		if c.Equal(v) {
			return uint32(i)
		}
	}
	ib.constants = append(ib.constants, v)
	return uint32(len(ib.constants) - 1)
}

// internString is like intern but only ever searches/appends over
// existing String entries, matching Func/Invoke's name interning
//.
func (ib *InstructionBuilder) internString(name string) uint32 {
	for i, c := range ib.constants {
		if c.Kind == bytecode.KindString && c.S == name {
			return uint32(i)
		}
	}
	ib.constants = append(ib.constants, bytecode.String(name))
	return uint32(len(ib.constants) - 1)
}

// findFuncIndex reports whether a Func with the given name constant
// index and parameter count was already emitted in this builder. Used
// to reject Invoke of an undeclared function.
func (ib *InstructionBuilder) findFuncIndex(nameIdx uint32, paramSize uint8) bool {
	// Func declarations are instructions already appended to buf; we
	// track declared signatures alongside emission instead of
	// re-scanning the byte buffer.
	for _, f := range ib.declaredFuncs {
		if f.nameIdx == nameIdx && f.paramSize == paramSize {
			return true
		}
	}
	return false
}

type funcSig struct {
	nameIdx   uint32
	paramSize uint8
}

// VisitLdc emits an Ldc for v, interning it into the local constant
// pool if needed.
func (ib *InstructionBuilder) VisitLdc(v bytecode.Stackable) {
	idx := ib.intern(v)
	ib.buf = append(ib.buf, bytecode.OpcodeLdc)
	ib.buf = appendU32(ib.buf, idx)
	ib.pos++
}

func (ib *InstructionBuilder) simple(op byte) {
	ib.buf = append(ib.buf, op)
	ib.pos++
}

// VisitDump emits Dump.
func (ib *InstructionBuilder) VisitDump() { ib.simple(bytecode.OpcodeDump) }

// VisitAdd emits Add.
func (ib *InstructionBuilder) VisitAdd() { ib.simple(bytecode.OpcodeAdd) }

// VisitSub emits Sub.
func (ib *InstructionBuilder) VisitSub() { ib.simple(bytecode.OpcodeSub) }

// VisitMul emits Mul.
func (ib *InstructionBuilder) VisitMul() { ib.simple(bytecode.OpcodeMul) }

// VisitDiv emits Div.
func (ib *InstructionBuilder) VisitDiv() { ib.simple(bytecode.OpcodeDiv) }

// VisitMod emits Mod.
func (ib *InstructionBuilder) VisitMod() { ib.simple(bytecode.OpcodeMod) }

// VisitDup emits Dup.
func (ib *InstructionBuilder) VisitDup() { ib.simple(bytecode.OpcodeDup) }

// VisitSwp emits Swp.
func (ib *InstructionBuilder) VisitSwp() { ib.simple(bytecode.OpcodeSwp) }

// VisitNop emits Nop.
func (ib *InstructionBuilder) VisitNop() { ib.simple(bytecode.OpcodeNop) }

// VisitReturn emits Return.
func (ib *InstructionBuilder) VisitReturn() { ib.simple(bytecode.OpcodeReturn) }

// VisitStore emits Store(k).
func (ib *InstructionBuilder) VisitStore(k uint16) {
	ib.buf = append(ib.buf, bytecode.OpcodeStore)
	ib.buf = appendU16(ib.buf, k)
	ib.pos++
}

// VisitLoad emits Load(k).
func (ib *InstructionBuilder) VisitLoad(k uint16) {
	ib.buf = append(ib.buf, bytecode.OpcodeLoad)
	ib.buf = appendU16(ib.buf, k)
	ib.pos++
}

// VisitGoto writes a Goto targeting l. l may be bound before or after
// this call; its final position is spliced in at VisitEnd.
func (ib *InstructionBuilder) VisitGoto(l *Label) {
	ib.buf = append(ib.buf, bytecode.OpcodeGoto)
	ib.uses = append(ib.uses, use{byteOffset: len(ib.buf), label: l})
	ib.buf = appendU32(ib.buf, 0) // placeholder, patched at VisitEnd
	ib.pos++
}

// VisitFunc registers a function named by the interned name constant
// and emits Func(name_idx, param_size).
func (ib *InstructionBuilder) VisitFunc(name string, paramSize uint8) {
	nameIdx := ib.internString(name)
	ib.declaredFuncs = append(ib.declaredFuncs, funcSig{nameIdx: nameIdx, paramSize: paramSize})
	ib.buf = append(ib.buf, bytecode.OpcodeFunc)
	ib.buf = appendU32(ib.buf, nameIdx)
	ib.buf = append(ib.buf, byte(paramSize))
	ib.pos++
}

// VisitInvoke emits Invoke(name_idx, param_size). Invoking a function
// that has not been declared with VisitFunc earlier in this builder is
// a fatal emitter-side error.
func (ib *InstructionBuilder) VisitInvoke(name string, paramSize uint8) error {
	nameIdx := ib.internString(name)
	if !ib.findFuncIndex(nameIdx, paramSize) {
		return fmt.Errorf("emitter: invoke of undeclared function %q/%d", name, paramSize)
	}
	ib.buf = append(ib.buf, bytecode.OpcodeInvoke)
	ib.buf = appendU32(ib.buf, nameIdx)
	ib.buf = append(ib.buf, byte(paramSize))
	ib.pos++
	return nil
}

// VisitEnd splices bound label positions into the buffered
// instruction bytes, writes the constant pool, then the instruction
// count and bytes, into the parent image.
//
// An unbound label referenced by a Goto is a fatal error at this
// point.
func (ib *InstructionBuilder) VisitEnd() error {
	if err := ib.checkAllBound(); err != nil {
		return err
	}
	final := ib.splice()

	cb := &ConstantBuilder{parent: ib.parent}
	for _, c := range ib.constants {
		cb.VisitConstant(c)
	}
	cb.VisitEnd()

	ib.parent.buf = appendU32(ib.parent.buf, ib.pos)
	ib.parent.buf = append(ib.parent.buf, final...)
	return nil
}

func (ib *InstructionBuilder) checkAllBound() error {
	for _, u := range ib.uses {
		if !u.label.bound {
			return fmt.Errorf("emitter: goto targets an unbound label at byte offset %d", u.byteOffset)
		}
	}
	return nil
}

// splice copies ib.buf, overwriting each recorded use's placeholder
// with the label's bound position.
func (ib *InstructionBuilder) splice() []byte {
	out := make([]byte, len(ib.buf))
	copy(out, ib.buf)
	for _, u := range ib.uses {
		binary.BigEndian.PutUint32(out[u.byteOffset:u.byteOffset+4], u.label.pos)
	}
	return out
}

// ConstantBuilder appends tag+payload constant entries and, on
// VisitEnd, prepends the entry count and appends the buffer into the
// outer (instruction) builder's parent image.
type ConstantBuilder struct {
	parent *ImageBuilder
	buf    []byte
	count  uint32
}

// VisitInteger appends an Int32 constant entry.
func (cb *ConstantBuilder) VisitInteger(v int32) {
	cb.buf = append(cb.buf, bytecode.TagInt)
	cb.buf = appendU32(cb.buf, uint32(v))
	cb.count++
}

// VisitLong appends an Int64 constant entry.
func (cb *ConstantBuilder) VisitLong(v int64) {
	cb.buf = append(cb.buf, bytecode.TagLong)
	cb.buf = appendU64(cb.buf, uint64(v))
	cb.count++
}

// VisitFloat appends a Float32 constant entry.
func (cb *ConstantBuilder) VisitFloat(v float32) {
	cb.buf = append(cb.buf, bytecode.TagFloat)
	cb.buf = appendU32(cb.buf, f32bits(v))
	cb.count++
}

// VisitDouble appends a Float64 constant entry.
func (cb *ConstantBuilder) VisitDouble(v float64) {
	cb.buf = append(cb.buf, bytecode.TagDouble)
	cb.buf = appendU64(cb.buf, f64bits(v))
	cb.count++
}

// VisitString appends a String constant entry: a u64 byte length
// followed by the raw UTF-8 bytes.
func (cb *ConstantBuilder) VisitString(v string) {
	cb.buf = append(cb.buf, bytecode.TagString)
	cb.buf = appendU64(cb.buf, uint64(len(v)))
	cb.buf = append(cb.buf, v...)
	cb.count++
}

// VisitConstant dispatches to the typed Visit* method matching v.Kind.
func (cb *ConstantBuilder) VisitConstant(v bytecode.Stackable) {
	switch v.Kind {
	case bytecode.KindInt:
		cb.VisitInteger(v.I)
	case bytecode.KindLong:
		cb.VisitLong(v.L)
	case bytecode.KindFloat:
		cb.VisitFloat(v.F)
	case bytecode.KindDouble:
		cb.VisitDouble(v.D)
	case bytecode.KindString:
		cb.VisitString(v.S)
	}
}

// VisitEnd prepends the entry count to the buffer and appends both
// into the parent image buffer.
func (cb *ConstantBuilder) VisitEnd() {
	cb.parent.buf = appendU32(cb.parent.buf, cb.count)
	cb.parent.buf = append(cb.parent.buf, cb.buf...)
}

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func f32bits(v float32) uint32 { return math.Float32bits(v) }

func f64bits(v float64) uint64 { return math.Float64bits(v) }
