package emitter

import (
	"testing"

	"github.com/kristofer/gearwork/pkg/bytecode"
)

func build(t *testing.T, fn func(ib *InstructionBuilder)) []byte {
	t.Helper()
	ib := New()
	code := ib.VisitCode()
	fn(code)
	if err := code.VisitEnd(); err != nil {
		t.Fatalf("VisitEnd failed: %v", err)
	}
	return ib.VisitEnd()
}

func TestMagicNumberWritten(t *testing.T) {
	img := build(t, func(ib *InstructionBuilder) { ib.VisitReturn() })
	if string(img[:8]) != bytecode.Magic {
		t.Fatalf("expected magic header, got %q", img[:8])
	}
}

func TestInterningReusesIndexForEqualConstants(t *testing.T) {
	ib := New()
	code := ib.VisitCode()
	code.VisitLdc(bytecode.Int(7))
	code.VisitLdc(bytecode.Int(7))
	code.VisitLdc(bytecode.Int(8))
	if err := code.VisitEnd(); err != nil {
		t.Fatalf("VisitEnd: %v", err)
	}
	if len(code.constants) != 2 {
		t.Fatalf("expected 2 interned constants, got %d", len(code.constants))
	}
}

func TestInvokeWithoutDeclarationIsFatal(t *testing.T) {
	ib := New()
	code := ib.VisitCode()
	if err := code.VisitInvoke("undeclared", 0); err == nil {
		t.Fatal("expected error invoking an undeclared function")
	}
}

func TestInvokeAfterFuncSucceeds(t *testing.T) {
	ib := New()
	code := ib.VisitCode()
	code.VisitFunc("add", 2)
	code.VisitReturn()
	if err := code.VisitInvoke("add", 2); err != nil {
		t.Fatalf("expected invoke of declared function to succeed: %v", err)
	}
}

func TestUnboundLabelIsFatalAtVisitEnd(t *testing.T) {
	ib := New()
	code := ib.VisitCode()
	l := code.MakeLabel()
	code.VisitGoto(l)
	if err := code.VisitEnd(); err == nil {
		t.Fatal("expected error finalizing with an unbound label")
	}
}

func TestForwardAndBackwardGotoResolve(t *testing.T) {
	ib := New()
	code := ib.VisitCode()
	start := code.MakeLabel()
	skip := code.MakeLabel()

	code.VisitLabel(start)
	code.VisitGoto(skip) // forward jump
	code.VisitNop()      // skipped
	code.VisitLabel(skip)
	code.VisitGoto(start) // would be a backward jump if taken
	if err := code.VisitEnd(); err != nil {
		t.Fatalf("VisitEnd failed with both jump directions: %v", err)
	}
}
