package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kristofer/gearwork/pkg/bytecode"
	"github.com/kristofer/gearwork/pkg/emitter"
	"github.com/kristofer/gearwork/pkg/loader"
)

// buildAndRun assembles via the emitter builder, loads the resulting
// image, executes it against a captured stdout, and returns what was
// dumped.
func buildAndRun(t *testing.T, fn func(ib *emitter.InstructionBuilder)) (string, error) {
	t.Helper()
	ib := emitter.New()
	code := ib.VisitCode()
	fn(code)
	if err := code.VisitEnd(); err != nil {
		t.Fatalf("VisitEnd: %v", err)
	}
	img, err := loader.Load(ib.VisitEnd())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var out bytes.Buffer
	m := New(img)
	m.Stdout = &out
	err = m.Execute()
	return out.String(), err
}

func TestConstAndArithDump(t *testing.T) {
	out, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		ib.VisitLdc(bytecode.Int(3))
		ib.VisitLdc(bytecode.Int(4))
		ib.VisitAdd()
		ib.VisitDump()
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "7\n" {
		t.Fatalf("expected %q, got %q", "7\n", out)
	}
}

func TestMixedPromotionDump(t *testing.T) {
	out, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		ib.VisitLdc(bytecode.Int(1))
		ib.VisitLdc(bytecode.Double(2.5))
		ib.VisitAdd()
		ib.VisitDump()
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "3.5D\n" {
		t.Fatalf("expected %q, got %q", "3.5D\n", out)
	}
}

func TestDupAndSwap(t *testing.T) {
	out, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		ib.VisitLdc(bytecode.Int(1))
		ib.VisitLdc(bytecode.Int(2))
		ib.VisitSwp()
		ib.VisitDump()
		ib.VisitDump()
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "1\n2\n" {
		t.Fatalf("expected %q, got %q", "1\n2\n", out)
	}
}

func TestLocalsStoreLoad(t *testing.T) {
	out, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		ib.VisitLdc(bytecode.Long(42))
		ib.VisitStore(0)
		ib.VisitLoad(0)
		ib.VisitDump()
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "42L\n" {
		t.Fatalf("expected %q, got %q", "42L\n", out)
	}
}

func TestStoreAtMaxLocalIndexSucceeds(t *testing.T) {
	out, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		ib.VisitLdc(bytecode.Int(9))
		ib.VisitStore(65535)
		ib.VisitLoad(65535)
		ib.VisitDump()
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "9\n" {
		t.Fatalf("expected %q, got %q", "9\n", out)
	}
}

func TestLoadMissingLocalIsFatal(t *testing.T) {
	_, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		ib.VisitLoad(7)
	})
	if err == nil {
		t.Fatal("expected error loading an unset local")
	}
	if !strings.Contains(err.Error(), "missing local variable") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestForwardGotoSkipsDump(t *testing.T) {
	out, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		skip := ib.MakeLabel()
		ib.VisitGoto(skip)
		ib.VisitLdc(bytecode.Int(999))
		ib.VisitDump() // skipped
		ib.VisitLabel(skip)
		ib.VisitLdc(bytecode.Int(1))
		ib.VisitDump()
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "1\n" {
		t.Fatalf("expected %q, got %q", "1\n", out)
	}
}

func TestBackwardGotoThenExits(t *testing.T) {
	// store a counter, jump forward to compute counter - 0 into local 1,
	// jump backward to dump it once, then jump forward out of the code.
	out, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		top := ib.MakeLabel()
		compute := ib.MakeLabel()
		done := ib.MakeLabel()

		ib.VisitLdc(bytecode.Int(3))
		ib.VisitStore(0) // counter = 3
		ib.VisitGoto(compute)

		ib.VisitLabel(top)
		ib.VisitLoad(1)
		ib.VisitDump()
		ib.VisitGoto(done)

		ib.VisitLabel(compute)
		ib.VisitLdc(bytecode.Int(0))
		ib.VisitLoad(0)
		ib.VisitSub() // 0 pushed below, counter on top: counter - 0
		ib.VisitStore(1)
		ib.VisitGoto(top) // backward jump

		ib.VisitLabel(done)
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "3\n" {
		t.Fatalf("expected %q, got %q", "3\n", out)
	}
}

func TestFuncBodyNotExecutedInDefiningFrame(t *testing.T) {
	// func f/0 { ldc 99; dump } ; ldc 1; dump
	// The Func's body must not run inline; only the final "1" dumps.
	out, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		ib.VisitFunc("f", 0)
		ib.VisitLdc(bytecode.Int(99))
		ib.VisitDump()
		ib.VisitReturn()

		ib.VisitLdc(bytecode.Int(1))
		ib.VisitDump()
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "1\n" {
		t.Fatalf("expected %q, got %q", "1\n", out)
	}
}

func TestInvokeCallsDeclaredFunction(t *testing.T) {
	// func add/2 { add; return } ; ldc 2; ldc 3; invoke add/2; dump
	out, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		ib.VisitFunc("add", 2)
		ib.VisitAdd()
		ib.VisitReturn()

		ib.VisitLdc(bytecode.Int(2))
		ib.VisitLdc(bytecode.Int(3))
		if err := ib.VisitInvoke("add", 2); err != nil {
			t.Fatalf("VisitInvoke: %v", err)
		}
		ib.VisitDump()
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "5\n" {
		t.Fatalf("expected %q, got %q", "5\n", out)
	}
}

func TestInvokeWithoutReturnYieldsNothingToAppend(t *testing.T) {
	// func noop/0 { nop } (falls off the end without Return) ; invoke
	// noop/0 must append nothing, so the stack is empty and Dump faults.
	_, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		ib.VisitFunc("noop", 0)
		ib.VisitNop()
		// no Return: this process frame exhausts instead, so invoke must
		// yield an empty sequence to its caller

		if err := ib.VisitInvoke("noop", 0); err != nil {
			t.Fatalf("VisitInvoke: %v", err)
		}
		ib.VisitDump()
	})
	if err == nil {
		t.Fatal("expected stack underflow dumping after an exhausted invoke")
	}
	if !strings.Contains(err.Error(), "stack underflow") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestNestedInvokeComputesExpected(t *testing.T) {
	// func mul2/1 { ldc 2; mul; return }
	// func addThenDouble/2 { add; invoke mul2/1; return }
	// ldc 800; ldc 100; invoke addThenDouble/2; dump -> 1800
	out, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		ib.VisitFunc("mul2", 1)
		ib.VisitLdc(bytecode.Int(2))
		ib.VisitMul()
		ib.VisitReturn()

		ib.VisitFunc("addThenDouble", 2)
		ib.VisitAdd()
		if err := ib.VisitInvoke("mul2", 1); err != nil {
			t.Fatalf("VisitInvoke mul2: %v", err)
		}
		ib.VisitReturn()

		ib.VisitLdc(bytecode.Int(800))
		ib.VisitLdc(bytecode.Int(100))
		if err := ib.VisitInvoke("addThenDouble", 2); err != nil {
			t.Fatalf("VisitInvoke addThenDouble: %v", err)
		}
		ib.VisitDump()
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "1800\n" {
		t.Fatalf("expected %q, got %q", "1800\n", out)
	}
}

func TestInvokeArgumentOrderPreserved(t *testing.T) {
	// func sub/2 subtracts the earlier-pushed operand from the
	// later-pushed one: ldc 10; ldc 3; invoke sub/2 -> 3 - 10 = -7.
	out, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		ib.VisitFunc("sub", 2)
		ib.VisitSub()
		ib.VisitReturn()

		ib.VisitLdc(bytecode.Int(10))
		ib.VisitLdc(bytecode.Int(3))
		if err := ib.VisitInvoke("sub", 2); err != nil {
			t.Fatalf("VisitInvoke: %v", err)
		}
		ib.VisitDump()
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "-7\n" {
		t.Fatalf("expected %q, got %q", "-7\n", out)
	}
}

func TestSubOperandOrder(t *testing.T) {
	// ldc 10; ldc 3; sub -> 3 - 10 = -7 (top minus below).
	out, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		ib.VisitLdc(bytecode.Int(10))
		ib.VisitLdc(bytecode.Int(3))
		ib.VisitSub()
		ib.VisitDump()
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "-7\n" {
		t.Fatalf("expected %q, got %q", "-7\n", out)
	}
}

func TestDivOperandOrder(t *testing.T) {
	// ldc 2; ldc 8; div -> 8 / 2 = 4 (top divided by below).
	out, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		ib.VisitLdc(bytecode.Int(2))
		ib.VisitLdc(bytecode.Int(8))
		ib.VisitDiv()
		ib.VisitDump()
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "4\n" {
		t.Fatalf("expected %q, got %q", "4\n", out)
	}
}

func TestModUsesFloatingPointRemainder(t *testing.T) {
	// ldc double 2.0; ldc double 5.5; mod -> 5.5 % 2.0 = 1.5 (top
	// modulo below), not the integer-truncated 1.0.
	out, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		ib.VisitLdc(bytecode.Double(2.0))
		ib.VisitLdc(bytecode.Double(5.5))
		ib.VisitMod()
		ib.VisitDump()
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "1.5D\n" {
		t.Fatalf("expected %q, got %q", "1.5D\n", out)
	}
}

func TestInvokeOfUndeclaredFunctionFailsAtRuntime(t *testing.T) {
	// Hand-build an instruction stream bypassing the emitter's
	// declaration check, to exercise the VM's own defense as well.
	ib := emitter.New()
	code := ib.VisitCode()
	code.VisitLdc(bytecode.Int(1))
	code.VisitDump()
	if err := code.VisitEnd(); err != nil {
		t.Fatalf("VisitEnd: %v", err)
	}
	img, err := loader.Load(ib.VisitEnd())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Splice in an Invoke of a function that was never registered.
	img.Code = append(img.Code, bytecode.Instruction{Op: bytecode.OpInvoke, Index: 999, ParamSize: 0})

	m := New(img)
	var out bytes.Buffer
	m.Stdout = &out
	if err := m.Execute(); err == nil {
		t.Fatal("expected error invoking an unregistered function")
	}
}

func TestStackUnderflowOnDump(t *testing.T) {
	_, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		ib.VisitDump()
	})
	if err == nil {
		t.Fatal("expected stack underflow error")
	}
	if !strings.Contains(err.Error(), "stack underflow") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLdcOutOfRangeIsFatal(t *testing.T) {
	ib := emitter.New()
	code := ib.VisitCode()
	code.VisitReturn()
	if err := code.VisitEnd(); err != nil {
		t.Fatalf("VisitEnd: %v", err)
	}
	img, err := loader.Load(ib.VisitEnd())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	img.Code = []bytecode.Instruction{{Op: bytecode.OpLdc, Index: 42}}

	m := New(img)
	var out bytes.Buffer
	m.Stdout = &out
	if err := m.Execute(); err == nil {
		t.Fatal("expected error for out-of-range constant index")
	}
}

func TestRuntimeErrorIncludesProcessTrace(t *testing.T) {
	_, err := buildAndRun(t, func(ib *emitter.InstructionBuilder) {
		ib.VisitFunc("boom", 0)
		ib.VisitDump() // underflow inside the child process
		ib.VisitReturn()

		if err := ib.VisitInvoke("boom", 0); err != nil {
			t.Fatalf("VisitInvoke: %v", err)
		}
	})
	if err == nil {
		t.Fatal("expected runtime error from invoked function's underflow")
	}
	if !strings.Contains(err.Error(), "process trace") {
		t.Errorf("expected process trace in error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected trace to name the invoked function, got: %v", err)
	}
}
