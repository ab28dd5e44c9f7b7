// Package disasm renders a decoded Gearwork image as mnemonic text,
// the disassembler counterpart to pkg/asm's assembler.
//
// Pairs a raw opcode with its operand for human display, one
// instruction per line, following the constant pool listing.
package disasm

import (
	"fmt"
	"io"
	"strings"

	"github.com/kristofer/gearwork/pkg/bytecode"
)

// Disassemble writes a human-readable listing of img to w: the
// constant pool followed by the instruction stream, one entry per
// line, instruction indices left-padded for alignment.
func Disassemble(w io.Writer, img *bytecode.Image) error {
	if err := writeConstants(w, img.Constants); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	return writeCode(w, img.Code, img.Constants)
}

// Text is a convenience wrapper returning the listing as a string.
func Text(img *bytecode.Image) (string, error) {
	var b strings.Builder
	if err := Disassemble(&b, img); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeConstants(w io.Writer, constants []bytecode.Stackable) error {
	if _, err := fmt.Fprintf(w, "constants (%d):\n", len(constants)); err != nil {
		return err
	}
	for i, c := range constants {
		if _, err := fmt.Fprintf(w, "  %4d: %s %s\n", i, kindName(c.Kind), c.Dump()); err != nil {
			return err
		}
	}
	return nil
}

func writeCode(w io.Writer, code []bytecode.Instruction, constants []bytecode.Stackable) error {
	if _, err := fmt.Fprintf(w, "code (%d):\n", len(code)); err != nil {
		return err
	}
	for i, inst := range code {
		if _, err := fmt.Fprintf(w, "  %4d: %s", i, inst.Op); err != nil {
			return err
		}
		if err := writeOperand(w, inst, constants); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

// writeOperand formats the operand of inst: name the fields, and
// resolve name-constant indices to their text when in range (Func and
// Invoke's name_idx).
func writeOperand(w io.Writer, inst bytecode.Instruction, constants []bytecode.Stackable) error {
	switch inst.Op {
	case bytecode.OpLdc:
		_, err := fmt.Fprintf(w, " %d", inst.Index)
		return err
	case bytecode.OpStore, bytecode.OpLoad:
		_, err := fmt.Fprintf(w, " %d", inst.Index)
		return err
	case bytecode.OpGoto:
		_, err := fmt.Fprintf(w, " ->%d", inst.Index)
		return err
	case bytecode.OpFunc, bytecode.OpInvoke:
		name := constantName(inst.Index, constants)
		_, err := fmt.Fprintf(w, " %s/%d", name, inst.ParamSize)
		return err
	default:
		return nil
	}
}

func constantName(idx uint32, constants []bytecode.Stackable) string {
	if int(idx) < len(constants) {
		if c := constants[idx]; c.Kind == bytecode.KindString {
			return c.S
		}
	}
	return fmt.Sprintf("#%d", idx)
}

func kindName(k bytecode.Kind) string {
	switch k {
	case bytecode.KindInt:
		return "int"
	case bytecode.KindLong:
		return "long"
	case bytecode.KindFloat:
		return "float"
	case bytecode.KindDouble:
		return "double"
	case bytecode.KindString:
		return "string"
	default:
		return "unknown"
	}
}
