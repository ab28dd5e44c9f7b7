// Package asm implements a line-oriented text assembly language for
// Gearwork programs and an Assemble function that lowers it onto
// pkg/emitter's builder API.
//
// The tokenizer tracks the source line number of each instruction for
// error reporting (no column is recorded), and the overall
// shape (mnemonics plus a label table resolved at assemble time)
// follows a line-oriented assembler for a stack machine.
//
// Syntax, one instruction or directive per line:
//
//	ldc int 3
//	ldc long 42
//	ldc float 1.5
//	ldc double 2.5
//	ldc string "hello"
//	dump / add / sub / mul / div / mod / dup / swp / nop / return
//	store 0
//	load 0
//	goto loop
//	func add 2
//	invoke add 2
//	loop:
//
// A line ending in ':' with no leading whitespace other than its own
// indentation defines a label bound at the following instruction.
// Comments start with ';' and run to end of line. Blank lines are
// ignored.
package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kristofer/gearwork/pkg/bytecode"
	"github.com/kristofer/gearwork/pkg/emitter"
)

// Assemble tokenizes and parses source, emitting the resulting
// instructions onto a fresh builder and returning the finished image
// bytes. A syntax or semantic error (bad mnemonic, malformed operand,
// invoke of an undeclared function) is returned with its originating
// line number. A goto to a label that is never defined is reported
// once all lines are emitted, with the byte offset of the jump rather
// than a line number.
func Assemble(source string) ([]byte, error) {
	lines, err := tokenizeLines(source)
	if err != nil {
		return nil, err
	}

	ib := emitter.New()
	code := ib.VisitCode()
	labels := map[string]*emitter.Label{}

	labelFor := func(name string) *emitter.Label {
		if l, ok := labels[name]; ok {
			return l
		}
		l := code.MakeLabel()
		labels[name] = l
		return l
	}

	for _, ln := range lines {
		if ln.label != "" {
			code.VisitLabel(labelFor(ln.label))
			continue
		}
		if err := emitLine(code, ln, labelFor); err != nil {
			return nil, fmt.Errorf("asm: line %d: %w", ln.num, err)
		}
	}

	if err := code.VisitEnd(); err != nil {
		return nil, fmt.Errorf("asm: %w", err)
	}
	return ib.VisitEnd(), nil
}

// line is one parsed, non-blank, non-comment source line: either a
// label definition or a mnemonic with its operand fields. rest holds
// everything after the mnemonic unsplit, for operands (quoted
// strings) that may themselves contain whitespace.
type line struct {
	num      int
	label    string
	mnemonic string
	args     []string
	rest     string
}

func tokenizeLines(source string) ([]line, error) {
	var out []line
	for i, raw := range strings.Split(source, "\n") {
		num := i + 1
		text := strings.TrimSpace(stripComment(raw))
		if text == "" {
			continue
		}
		if strings.HasSuffix(text, ":") && !strings.Contains(text, " ") {
			out = append(out, line{num: num, label: strings.TrimSuffix(text, ":")})
			continue
		}
		fields := strings.Fields(text)
		rest := strings.TrimSpace(text[len(fields[0]):])
		out = append(out, line{num: num, mnemonic: strings.ToLower(fields[0]), args: fields[1:], rest: rest})
	}
	return out, nil
}

func stripComment(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		return s[:i]
	}
	return s
}

type labelLookup func(name string) *emitter.Label

func emitLine(code *emitter.InstructionBuilder, ln line, labelFor labelLookup) error {
	switch ln.mnemonic {
	case "ldc":
		v, err := parseLdcOperand(ln.rest)
		if err != nil {
			return err
		}
		code.VisitLdc(v)
	case "dump":
		code.VisitDump()
	case "add":
		code.VisitAdd()
	case "sub":
		code.VisitSub()
	case "mul":
		code.VisitMul()
	case "div":
		code.VisitDiv()
	case "mod":
		code.VisitMod()
	case "dup":
		code.VisitDup()
	case "swp":
		code.VisitSwp()
	case "nop":
		code.VisitNop()
	case "return":
		code.VisitReturn()
	case "store":
		k, err := parseLocalIndex(ln.args)
		if err != nil {
			return err
		}
		code.VisitStore(k)
	case "load":
		k, err := parseLocalIndex(ln.args)
		if err != nil {
			return err
		}
		code.VisitLoad(k)
	case "goto":
		if len(ln.args) != 1 {
			return fmt.Errorf("goto requires exactly one label operand")
		}
		code.VisitGoto(labelFor(ln.args[0]))
	case "func":
		name, paramSize, err := parseFuncOperands(ln.args)
		if err != nil {
			return err
		}
		code.VisitFunc(name, paramSize)
	case "invoke":
		name, paramSize, err := parseFuncOperands(ln.args)
		if err != nil {
			return err
		}
		return code.VisitInvoke(name, paramSize)
	default:
		return fmt.Errorf("unknown mnemonic %q", ln.mnemonic)
	}
	return nil
}

func parseLdcOperand(rest string) (bytecode.Stackable, error) {
	fields := strings.SplitN(rest, " ", 2)
	if len(fields) < 2 {
		return bytecode.Stackable{}, fmt.Errorf("ldc requires a type and a value, got %q", rest)
	}
	kind, raw := fields[0], strings.TrimSpace(fields[1])
	switch kind {
	case "int":
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return bytecode.Stackable{}, fmt.Errorf("ldc int: %w", err)
		}
		return bytecode.Int(int32(n)), nil
	case "long":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return bytecode.Stackable{}, fmt.Errorf("ldc long: %w", err)
		}
		return bytecode.Long(n), nil
	case "float":
		f, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return bytecode.Stackable{}, fmt.Errorf("ldc float: %w", err)
		}
		return bytecode.Float(float32(f)), nil
	case "double":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return bytecode.Stackable{}, fmt.Errorf("ldc double: %w", err)
		}
		return bytecode.Double(f), nil
	case "string":
		s, err := unquote(raw)
		if err != nil {
			return bytecode.Stackable{}, fmt.Errorf("ldc string: %w", err)
		}
		return bytecode.String(s), nil
	default:
		return bytecode.Stackable{}, fmt.Errorf("ldc: unknown type %q", kind)
	}
}

func unquote(raw string) (string, error) {
	if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return "", fmt.Errorf("string operand must be double-quoted, got %q", raw)
	}
	return raw[1 : len(raw)-1], nil
}

// parseLocalIndex parses a Store/Load operand, rejecting anything
// outside the wire format's u16 range.
func parseLocalIndex(args []string) (uint16, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one local index operand")
	}
	n, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("local index: %w", err)
	}
	if n > 65535 {
		return 0, fmt.Errorf("local index %d exceeds 65535", n)
	}
	return uint16(n), nil
}

func parseFuncOperands(args []string) (string, uint8, error) {
	if len(args) != 2 {
		return "", 0, fmt.Errorf("expected a function name and a parameter count")
	}
	n, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return "", 0, fmt.Errorf("parameter count: %w", err)
	}
	return args[0], uint8(n), nil
}
