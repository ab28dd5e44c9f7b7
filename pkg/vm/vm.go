// Package vm implements the Gearwork stack machine: a single-threaded,
// synchronous interpreter over a loaded bytecode.Image.
//
// Execution Model:
//
//	VM.Execute constructs a root Process at pc=0 and runs it to
//	completion. Each instruction advances the program counter by
//	exactly one, except Goto, which overwrites it outright. Invoke
//	spawns a nested child Process that runs synchronously to Return
//	or exhaustion before the parent resumes. There is no coroutine
//	suspension anywhere in this package.
//
// State Components:
//
//	pc:        instruction index into the shared, read-only code
//	stack:     operand stack, grows/shrinks with no fixed capacity
//	locals:    frame-local variable map, keyed by u16 slot
//	functions: (name index, param size) -> entry instruction index,
//	           populated by Func as it is encountered and snapshot
//	           into any child spawned by Invoke
package vm

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/kristofer/gearwork/pkg/bytecode"
)

// VM is the immutable constant pool and code vector produced by a
// load, shared by reference among a root Process and all of its
// descendants.
type VM struct {
	Constants []bytecode.Stackable
	Code      []bytecode.Instruction

	// Stdout is where Dump writes; defaults to os.Stdout in New.
	Stdout io.Writer
}

// New wraps a decoded image for execution.
func New(img *bytecode.Image) *VM {
	return &VM{Constants: img.Constants, Code: img.Code, Stdout: os.Stdout}
}

// Execute runs the program from pc=0 in a fresh root process and
// discards its result sequence. Use RunCustomDriver for callers that
// want the result.
func (vm *VM) Execute() error {
	_, err := vm.RunCustomDriver()
	return err
}

// RunCustomDriver constructs and runs the root process, returning its
// final result sequence: the operand stack at Return, or an empty
// sequence if the process falls off the end without returning.
func (vm *VM) RunCustomDriver() ([]bytecode.Stackable, error) {
	root := &Process{
		vm:        vm,
		name:      "main",
		functions: make(map[funcKey]int),
		locals:    make(map[uint16]bytecode.Stackable),
	}
	return root.run(nil)
}

// funcKey identifies a function by its (name constant index,
// parameter count) signature, matching Func's and Invoke's shared
// operand shape.
type funcKey struct {
	nameIdx   uint32
	paramSize uint8
}

// Process is one execution frame: program counter, operand stack,
// local-variable map, and function table. A Process is
// created per top-level Execute call and per Invoke; it terminates at
// Return or when pc walks past the last instruction.
type Process struct {
	vm        *VM
	name      string
	pc        int
	stack     []bytecode.Stackable
	locals    map[uint16]bytecode.Stackable
	functions map[funcKey]int
}

// run executes instructions from the current pc until Return or
// exhaustion. trace is the chain of StackFrames belonging to
// enclosing (already-suspended) processes, used only to build a
// RuntimeError if this process faults.
func (p *Process) run(trace []StackFrame) ([]bytecode.Stackable, error) {
	code := p.vm.Code
	for p.pc < len(code) {
		inst := code[p.pc]
		advance := true

		switch inst.Op {
		case bytecode.OpLdc:
			v, err := p.constant(inst.Index)
			if err != nil {
				return nil, p.fault(trace, err)
			}
			p.push(v)

		case bytecode.OpDump:
			v, err := p.pop()
			if err != nil {
				return nil, p.fault(trace, err)
			}
			fmt.Fprintln(p.vm.Stdout, v.Dump())

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
			result, err := p.arith(inst.Op)
			if err != nil {
				return nil, p.fault(trace, err)
			}
			p.push(result)

		case bytecode.OpDup:
			v, err := p.top()
			if err != nil {
				return nil, p.fault(trace, err)
			}
			p.push(v)

		case bytecode.OpSwp:
			if err := p.swap(); err != nil {
				return nil, p.fault(trace, err)
			}

		case bytecode.OpStore:
			v, err := p.pop()
			if err != nil {
				return nil, p.fault(trace, err)
			}
			p.locals[uint16(inst.Index)] = v

		case bytecode.OpLoad:
			v, ok := p.locals[uint16(inst.Index)]
			if !ok {
				return nil, p.fault(trace, fmt.Errorf("missing local variable %d", inst.Index))
			}
			p.push(v)

		case bytecode.OpGoto:
			p.pc = int(inst.Index)
			advance = false

		case bytecode.OpNop:
			// no effect

		case bytecode.OpFunc:
			if err := p.defineFunc(inst); err != nil {
				return nil, p.fault(trace, err)
			}

		case bytecode.OpReturn:
			return append([]bytecode.Stackable(nil), p.stack...), nil

		case bytecode.OpInvoke:
			results, err := p.invoke(inst, trace)
			if err != nil {
				return nil, err
			}
			p.stack = append(p.stack, results...)

		default:
			return nil, p.fault(trace, fmt.Errorf("unknown opcode %v", inst.Op))
		}

		if advance {
			p.pc++
		}
	}
	// Exhaustion yields an empty sequence regardless of what's left on
	// the operand stack.
	return nil, nil
}

func (p *Process) fault(trace []StackFrame, err error) error {
	return newRuntimeError("%s", append(trace, StackFrame{Name: p.name, IP: p.pc}), err.Error())
}

func (p *Process) constant(idx uint32) (bytecode.Stackable, error) {
	if int(idx) >= len(p.vm.Constants) {
		return bytecode.Stackable{}, fmt.Errorf("constant index out of range: %d", idx)
	}
	return p.vm.Constants[idx], nil
}

func (p *Process) push(v bytecode.Stackable) {
	p.stack = append(p.stack, v)
}

func (p *Process) pop() (bytecode.Stackable, error) {
	if len(p.stack) == 0 {
		return bytecode.Stackable{}, fmt.Errorf("stack underflow")
	}
	v := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
	return v, nil
}

func (p *Process) top() (bytecode.Stackable, error) {
	if len(p.stack) == 0 {
		return bytecode.Stackable{}, fmt.Errorf("stack underflow")
	}
	return p.stack[len(p.stack)-1], nil
}

// popN pops the top n values, returning them in push order: the
// bottom of the result is the earliest pushed value, matching the
// order Invoke's argument slice needs.
func (p *Process) popN(n int) ([]bytecode.Stackable, error) {
	if len(p.stack) < n {
		return nil, fmt.Errorf("stack underflow: need %d values, have %d", n, len(p.stack))
	}
	split := len(p.stack) - n
	args := append([]bytecode.Stackable(nil), p.stack[split:]...)
	p.stack = p.stack[:split]
	return args, nil
}

func (p *Process) swap() error {
	a, err := p.pop()
	if err != nil {
		return err
	}
	b, err := p.pop()
	if err != nil {
		return err
	}
	p.push(a)
	p.push(b)
	return nil
}

// arith pops b then a (b, a -> r), promotes, and computes the result
// for op with the more-recently-pushed operand (b) as the left-hand
// side: Sub/Div/Mod compute b-a, b/a, b%a.
func (p *Process) arith(op bytecode.Opcode) (bytecode.Stackable, error) {
	b, err := p.pop()
	if err != nil {
		return bytecode.Stackable{}, err
	}
	a, err := p.pop()
	if err != nil {
		return bytecode.Stackable{}, err
	}
	var fn func(x, y float64) float64
	switch op {
	case bytecode.OpAdd:
		fn = func(x, y float64) float64 { return x + y }
	case bytecode.OpSub:
		fn = func(x, y float64) float64 { return x - y }
	case bytecode.OpMul:
		fn = func(x, y float64) float64 { return x * y }
	case bytecode.OpDiv:
		fn = func(x, y float64) float64 { return x / y }
	case bytecode.OpMod:
		fn = func(x, y float64) float64 { return math.Mod(x, y) }
	}
	return bytecode.Arith(b, a, fn)
}

// defineFunc registers the function entry (pc+1) and then scans
// forward past the matching Return, tracking nested Func depth, so
// that the driver's post-dispatch pc++ skips the whole body without
// executing it in the defining frame.
func (p *Process) defineFunc(inst bytecode.Instruction) error {
	key := funcKey{nameIdx: inst.Index, paramSize: inst.ParamSize}
	p.functions[key] = p.pc + 1

	depth := 0
	scan := p.pc + 1
	for scan < len(p.vm.Code) {
		switch p.vm.Code[scan].Op {
		case bytecode.OpFunc:
			depth++
		case bytecode.OpReturn:
			if depth == 0 {
				p.pc = scan
				return nil
			}
			depth--
		}
		scan++
	}
	return fmt.Errorf("func at instruction %d has no matching return", p.pc)
}

// invoke pops the call's arguments, spawns a child process snapshotting
// this process's functions and locals, runs it to completion, and
// returns its result sequence for the caller to append to its stack.
func (p *Process) invoke(inst bytecode.Instruction, trace []StackFrame) ([]bytecode.Stackable, error) {
	key := funcKey{nameIdx: inst.Index, paramSize: inst.ParamSize}
	entry, ok := p.functions[key]
	if !ok {
		return nil, p.fault(trace, fmt.Errorf("invoke of unknown function (name_idx=%d, param_size=%d)", inst.Index, inst.ParamSize))
	}

	args, err := p.popN(int(inst.ParamSize))
	if err != nil {
		return nil, p.fault(trace, err)
	}

	child := &Process{
		vm:        p.vm,
		name:      p.childName(inst.Index),
		pc:        entry,
		stack:     args,
		locals:    cloneLocals(p.locals),
		functions: cloneFuncs(p.functions),
	}
	return child.run(append(trace, StackFrame{Name: p.name, IP: p.pc}))
}

func (p *Process) childName(nameIdx uint32) string {
	if int(nameIdx) < len(p.vm.Constants) {
		if c := p.vm.Constants[nameIdx]; c.Kind == bytecode.KindString {
			return c.S
		}
	}
	return fmt.Sprintf("func#%d", nameIdx)
}

func cloneLocals(in map[uint16]bytecode.Stackable) map[uint16]bytecode.Stackable {
	out := make(map[uint16]bytecode.Stackable, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneFuncs(in map[funcKey]int) map[funcKey]int {
	out := make(map[funcKey]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
