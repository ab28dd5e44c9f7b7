// Package loader validates and decodes a Gearwork bytecode image into
// an in-memory bytecode.Image ready for pkg/vm to execute.
//
// Loading happens in three sequential passes over the byte stream:
// header validation, constant pool reconstruction, then instruction
// decoding. All multi-byte integers and floats are big-endian; string
// lengths are u64 on the wire.
package loader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/kristofer/gearwork/pkg/bytecode"
)

// Load reads a complete Gearwork image from data and returns the
// decoded constant pool and instruction stream.
func Load(data []byte) (*bytecode.Image, error) {
	return NewDecoder(bytes.NewReader(data)).Decode()
}

// Decoder reads a Gearwork image from an io.Reader.
type Decoder struct {
	r io.Reader
}

// NewDecoder wraps r for sequential decoding.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode validates the header and decodes the constant pool and
// instruction stream in order.
func (d *Decoder) Decode() (*bytecode.Image, error) {
	if err := d.validateHeader(); err != nil {
		return nil, err
	}
	constants, err := d.readConstants()
	if err != nil {
		return nil, fmt.Errorf("loader: reading constant pool: %w", err)
	}
	code, err := d.readInstructions()
	if err != nil {
		return nil, fmt.Errorf("loader: reading instructions: %w", err)
	}
	return &bytecode.Image{Constants: constants, Code: code}, nil
}

// validateHeader reads 8 bytes and fails with a human-readable
// diagnostic naming the observed bytes as ASCII if they don't match
// the GEARWORK magic.
func (d *Decoder) validateHeader() error {
	header := make([]byte, len(bytecode.Magic))
	if _, err := io.ReadFull(d.r, header); err != nil {
		return fmt.Errorf("loader: reading header: %w", err)
	}
	if string(header) != bytecode.Magic {
		return fmt.Errorf("loader: invalid header, expected %q (ascii), got %q (ascii)", bytecode.Magic, asciiOf(header))
	}
	return nil
}

// asciiOf renders raw header bytes as printable ASCII for diagnostics,
// substituting '.' for non-printable bytes.
func asciiOf(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 0x20 && c < 0x7f {
			out[i] = c
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}

func (d *Decoder) readU8() (uint8, error) {
	var v uint8
	err := binary.Read(d.r, binary.BigEndian, &v)
	return v, err
}

func (d *Decoder) readU16() (uint16, error) {
	var v uint16
	err := binary.Read(d.r, binary.BigEndian, &v)
	return v, err
}

func (d *Decoder) readU32() (uint32, error) {
	var v uint32
	err := binary.Read(d.r, binary.BigEndian, &v)
	return v, err
}

func (d *Decoder) readU64() (uint64, error) {
	var v uint64
	err := binary.Read(d.r, binary.BigEndian, &v)
	return v, err
}

func (d *Decoder) readI32() (int32, error) {
	var v int32
	err := binary.Read(d.r, binary.BigEndian, &v)
	return v, err
}

func (d *Decoder) readI64() (int64, error) {
	var v int64
	err := binary.Read(d.r, binary.BigEndian, &v)
	return v, err
}

func (d *Decoder) readF32() (float32, error) {
	var v float32
	err := binary.Read(d.r, binary.BigEndian, &v)
	return v, err
}

func (d *Decoder) readF64() (float64, error) {
	var v float64
	err := binary.Read(d.r, binary.BigEndian, &v)
	return v, err
}

// readConstants reads the constant pool count and each tagged entry
// ( step 2).
func (d *Decoder) readConstants() ([]bytecode.Stackable, error) {
	count, err := d.readU32()
	if err != nil {
		return nil, err
	}
	constants := make([]bytecode.Stackable, 0, count)
	for i := uint32(0); i < count; i++ {
		c, err := d.readConstant()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		constants = append(constants, c)
	}
	return constants, nil
}

func (d *Decoder) readConstant() (bytecode.Stackable, error) {
	tag, err := d.readU8()
	if err != nil {
		return bytecode.Stackable{}, err
	}
	switch tag {
	case bytecode.TagInt:
		v, err := d.readI32()
		if err != nil {
			return bytecode.Stackable{}, err
		}
		return bytecode.Int(v), nil
	case bytecode.TagLong:
		v, err := d.readI64()
		if err != nil {
			return bytecode.Stackable{}, err
		}
		return bytecode.Long(v), nil
	case bytecode.TagFloat:
		v, err := d.readF32()
		if err != nil {
			return bytecode.Stackable{}, err
		}
		return bytecode.Float(v), nil
	case bytecode.TagDouble:
		v, err := d.readF64()
		if err != nil {
			return bytecode.Stackable{}, err
		}
		return bytecode.Double(v), nil
	case bytecode.TagString:
		length, err := d.readU64()
		if err != nil {
			return bytecode.Stackable{}, err
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return bytecode.Stackable{}, err
		}
		if !utf8.Valid(buf) {
			return bytecode.Stackable{}, fmt.Errorf("invalid UTF-8 in string constant")
		}
		return bytecode.String(string(buf)), nil
	default:
		return bytecode.Stackable{}, fmt.Errorf("unknown constant tag 0x%02X", tag)
	}
}

// readInstructions reads the instruction count and each decoded
// instruction ( step 3). Operand widths follow :
// u32 for Ldc/Goto, u16 for Store/Load, (u32, u8) for Func/Invoke.
func (d *Decoder) readInstructions() ([]bytecode.Instruction, error) {
	count, err := d.readU32()
	if err != nil {
		return nil, err
	}
	code := make([]bytecode.Instruction, 0, count)
	for i := uint32(0); i < count; i++ {
		inst, err := d.readInstruction()
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		code = append(code, inst)
	}
	return code, nil
}

func (d *Decoder) readInstruction() (bytecode.Instruction, error) {
	opcode, err := d.readU8()
	if err != nil {
		return bytecode.Instruction{}, err
	}
	switch opcode {
	case bytecode.OpcodeLdc:
		idx, err := d.readU32()
		if err != nil {
			return bytecode.Instruction{}, err
		}
		return bytecode.Instruction{Op: bytecode.OpLdc, Index: idx}, nil
	case bytecode.OpcodeDump:
		return bytecode.Instruction{Op: bytecode.OpDump}, nil
	case bytecode.OpcodeAdd:
		return bytecode.Instruction{Op: bytecode.OpAdd}, nil
	case bytecode.OpcodeSub:
		return bytecode.Instruction{Op: bytecode.OpSub}, nil
	case bytecode.OpcodeMul:
		return bytecode.Instruction{Op: bytecode.OpMul}, nil
	case bytecode.OpcodeDiv:
		return bytecode.Instruction{Op: bytecode.OpDiv}, nil
	case bytecode.OpcodeMod:
		return bytecode.Instruction{Op: bytecode.OpMod}, nil
	case bytecode.OpcodeDup:
		return bytecode.Instruction{Op: bytecode.OpDup}, nil
	case bytecode.OpcodeSwp:
		return bytecode.Instruction{Op: bytecode.OpSwp}, nil
	case bytecode.OpcodeStore:
		idx, err := d.readU16()
		if err != nil {
			return bytecode.Instruction{}, err
		}
		return bytecode.Instruction{Op: bytecode.OpStore, Index: uint32(idx)}, nil
	case bytecode.OpcodeLoad:
		idx, err := d.readU16()
		if err != nil {
			return bytecode.Instruction{}, err
		}
		return bytecode.Instruction{Op: bytecode.OpLoad, Index: uint32(idx)}, nil
	case bytecode.OpcodeGoto:
		target, err := d.readU32()
		if err != nil {
			return bytecode.Instruction{}, err
		}
		return bytecode.Instruction{Op: bytecode.OpGoto, Index: target}, nil
	case bytecode.OpcodeNop:
		return bytecode.Instruction{Op: bytecode.OpNop}, nil
	case bytecode.OpcodeFunc:
		nameIdx, err := d.readU32()
		if err != nil {
			return bytecode.Instruction{}, err
		}
		paramSize, err := d.readU8()
		if err != nil {
			return bytecode.Instruction{}, err
		}
		return bytecode.Instruction{Op: bytecode.OpFunc, Index: nameIdx, ParamSize: paramSize}, nil
	case bytecode.OpcodeReturn:
		return bytecode.Instruction{Op: bytecode.OpReturn}, nil
	case bytecode.OpcodeInvoke:
		nameIdx, err := d.readU32()
		if err != nil {
			return bytecode.Instruction{}, err
		}
		paramSize, err := d.readU8()
		if err != nil {
			return bytecode.Instruction{}, err
		}
		return bytecode.Instruction{Op: bytecode.OpInvoke, Index: nameIdx, ParamSize: paramSize}, nil
	default:
		return bytecode.Instruction{}, fmt.Errorf("unknown opcode 0x%02X", opcode)
	}
}
