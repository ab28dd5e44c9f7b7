// Package bytecode defines the value model, instruction set, and wire
// format constants shared by the Gearwork emitter, loader, and VM.
//
// A Gearwork program is, at rest, a self-contained binary image: an
// 8-byte magic number, a constant pool, and a stream of fixed-shape
// instructions. This package owns the types that describe both the
// in-memory and on-disk shape of that image; pkg/emitter writes it,
// pkg/loader reads it, and pkg/vm executes the result.
//
// Architecture:
//
//	1. Stackable values live on the operand stack and in the constant
//	   pool. They carry a precedence tag used to promote mixed-type
//	   arithmetic to a common width.
//	2. Opcode/Instruction describe one decoded instruction. Jump
//	   targets are instruction indices, not byte offsets.
//	3. Image is the decoded result of a load: a constant pool plus a
//	   code vector, ready for pkg/vm to execute.
package bytecode

import "fmt"

// Magic is the 8-byte ASCII header every Gearwork image begins with.
const Magic = "GEARWORK"

// Constant pool entry tags, as they appear on the wire.
const (
	TagInt    byte = 0x00
	TagLong   byte = 0x01
	TagFloat  byte = 0x02
	TagDouble byte = 0x03
	TagString byte = 0x04
)

// Opcode bytes, as they appear on the wire.
const (
	OpcodeLdc    byte = 0x00
	OpcodeDump   byte = 0x01
	OpcodeAdd    byte = 0x02
	OpcodeSub    byte = 0x03
	OpcodeMul    byte = 0x04
	OpcodeDiv    byte = 0x05
	OpcodeMod    byte = 0x06
	OpcodeDup    byte = 0x07
	OpcodeSwp    byte = 0x08
	OpcodeStore  byte = 0x09
	OpcodeLoad   byte = 0x0A
	OpcodeGoto   byte = 0x0B
	OpcodeNop    byte = 0x0C
	OpcodeFunc   byte = 0x0D
	OpcodeReturn byte = 0x0E
	OpcodeInvoke byte = 0x0F
)

// Precedence is the numeric-promotion rank of a Stackable variant.
// Widening always moves toward the higher rank: Int < Long < Float <
// Double. String has no rank; it cannot participate in promotion.
type Precedence int8

const (
	PrecInt Precedence = iota
	PrecLong
	PrecFloat
	PrecDouble
)

// Kind identifies which variant a Stackable holds.
type Kind byte

const (
	KindInt Kind = iota
	KindLong
	KindFloat
	KindDouble
	KindString
)

// Stackable is a tagged runtime value: the unit of storage on the
// operand stack, in locals, and in the constant pool. Exactly one of
// the typed fields is meaningful, selected by Kind.
type Stackable struct {
	Kind Kind
	I    int32
	L    int64
	F    float32
	D    float64
	S    string
}

// Int constructs an Int32 Stackable.
func Int(v int32) Stackable { return Stackable{Kind: KindInt, I: v} }

// Long constructs an Int64 Stackable.
func Long(v int64) Stackable { return Stackable{Kind: KindLong, L: v} }

// Float constructs a Float32 Stackable.
func Float(v float32) Stackable { return Stackable{Kind: KindFloat, F: v} }

// Double constructs a Float64 Stackable.
func Double(v float64) Stackable { return Stackable{Kind: KindDouble, D: v} }

// String constructs a String Stackable.
func String(v string) Stackable { return Stackable{Kind: KindString, S: v} }

// Equal reports structural equality between two Stackables. Values of
// different Kind are never equal, even when numerically equivalent
// (Int(1) != Long(1)). Interning relies on this.
func (s Stackable) Equal(other Stackable) bool {
	if s.Kind != other.Kind {
		return false
	}
	switch s.Kind {
	case KindInt:
		return s.I == other.I
	case KindLong:
		return s.L == other.L
	case KindFloat:
		return s.F == other.F
	case KindDouble:
		return s.D == other.D
	case KindString:
		return s.S == other.S
	default:
		return false
	}
}

// Precedence returns the promotion rank of the value. Calling it on a
// String is a programmer error: strings are never promoted, and
// callers must exclude them before reaching here.
func (s Stackable) Precedence() Precedence {
	switch s.Kind {
	case KindInt:
		return PrecInt
	case KindLong:
		return PrecLong
	case KindFloat:
		return PrecFloat
	case KindDouble:
		return PrecDouble
	default:
		panic("bytecode: String cannot be promoted")
	}
}

// float64Value returns the value widened to float64, the internal
// working precision for all arithmetic.
func (s Stackable) float64Value() float64 {
	switch s.Kind {
	case KindInt:
		return float64(s.I)
	case KindLong:
		return float64(s.L)
	case KindFloat:
		return float64(s.F)
	case KindDouble:
		return s.D
	default:
		panic("bytecode: String cannot be promoted")
	}
}

// fromFloat64 narrows a float64 working value back to the given
// precedence, reconstructing the matching Stackable variant.
func fromFloat64(prec Precedence, v float64) Stackable {
	switch prec {
	case PrecInt:
		return Int(int32(v))
	case PrecLong:
		return Long(int64(v))
	case PrecFloat:
		return Float(float32(v))
	case PrecDouble:
		return Double(v)
	default:
		panic("bytecode: invalid precedence")
	}
}

// Promote widens a and b to their common precedence and returns both
// widened operands plus the winning precedence. Arithmetic
// is always carried out in 64-bit float internally, including for
// Long+Long, which is an intentional, specified loss of precision
// above 2^53. See DESIGN.md's Open Question resolution.
func Promote(a, b Stackable) (Stackable, Stackable, Precedence, error) {
	if a.Kind == KindString || b.Kind == KindString {
		return Stackable{}, Stackable{}, 0, fmt.Errorf("bytecode: String cannot be promoted")
	}
	prec := a.Precedence()
	if b.Precedence() > prec {
		prec = b.Precedence()
	}
	return fromFloat64(prec, a.float64Value()), fromFloat64(prec, b.float64Value()), prec, nil
}

// Arith applies a binary float64 operation to a and b after promoting
// them, returning the result narrowed back to the winning precedence.
func Arith(a, b Stackable, op func(x, y float64) float64) (Stackable, error) {
	pa, pb, prec, err := Promote(a, b)
	if err != nil {
		return Stackable{}, err
	}
	return fromFloat64(prec, op(pa.float64Value(), pb.float64Value())), nil
}

// Dump renders a value the way the Dump opcode prints it:
// Int -> "3", Long -> "3L", Float -> "3F", Double -> "3D", String ->
// the raw text.
func (s Stackable) Dump() string {
	switch s.Kind {
	case KindInt:
		return fmt.Sprintf("%d", s.I)
	case KindLong:
		return fmt.Sprintf("%dL", s.L)
	case KindFloat:
		return fmt.Sprintf("%gF", s.F)
	case KindDouble:
		return fmt.Sprintf("%gD", s.D)
	case KindString:
		return s.S
	default:
		panic("bytecode: unknown Stackable kind")
	}
}

// Opcode is a decoded instruction tag.
type Opcode byte

const (
	OpLdc Opcode = iota
	OpDump
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpDup
	OpSwp
	OpStore
	OpLoad
	OpGoto
	OpNop
	OpFunc
	OpReturn
	OpInvoke
)

// String names an opcode for disassembly and error messages.
func (op Opcode) String() string {
	switch op {
	case OpLdc:
		return "ldc"
	case OpDump:
		return "dump"
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	case OpMod:
		return "mod"
	case OpDup:
		return "dup"
	case OpSwp:
		return "swp"
	case OpStore:
		return "store"
	case OpLoad:
		return "load"
	case OpGoto:
		return "goto"
	case OpNop:
		return "nop"
	case OpFunc:
		return "func"
	case OpReturn:
		return "return"
	case OpInvoke:
		return "invoke"
	default:
		return "unknown"
	}
}

// Instruction is one decoded instruction with its typed immediate
// operands. Only the fields relevant to Op are meaningful:
//
//	Ldc(i)        -> Index
//	Store(k)/Load(k) -> Index (u16 range, widened to uint32 here)
//	Goto(t)       -> Index (target instruction index)
//	Func(n,p)/Invoke(n,p) -> Index (name constant), ParamSize
type Instruction struct {
	Op        Opcode
	Index     uint32
	ParamSize uint8
}

// Image is the fully decoded contents of a loaded bytecode file: the
// constant pool and the instruction stream, addressed by 0-based
// index.
type Image struct {
	Constants []Stackable
	Code      []Instruction
}
