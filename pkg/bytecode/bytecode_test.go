package bytecode

import "testing"

func TestPromoteSamePrecedence(t *testing.T) {
	a, b, prec, err := Promote(Int(3), Int(4))
	if err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if prec != PrecInt {
		t.Errorf("expected PrecInt, got %v", prec)
	}
	if a.I != 3 || b.I != 4 {
		t.Errorf("unexpected widened operands: %+v %+v", a, b)
	}
}

func TestPromoteMixed(t *testing.T) {
	tests := []struct {
		name string
		a, b Stackable
		want Precedence
	}{
		{"int+long", Int(1), Long(2), PrecLong},
		{"long+float", Long(1), Float(2.5), PrecFloat},
		{"float+double", Float(1.5), Double(2.5), PrecDouble},
		{"double+int", Double(1.5), Int(2), PrecDouble},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, prec, err := Promote(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Promote failed: %v", err)
			}
			if prec != tt.want {
				t.Errorf("expected precedence %v, got %v", tt.want, prec)
			}
		})
	}
}

func TestPromoteStringIsFatal(t *testing.T) {
	if _, _, _, err := Promote(String("x"), Int(1)); err == nil {
		t.Fatal("expected error promoting a String operand")
	}
}

func TestArithCommutative(t *testing.T) {
	pairs := []struct{ a, b Stackable }{
		{Int(3), Long(4)},
		{Float(1.5), Double(2.25)},
	}
	for _, p := range pairs {
		ab, err := Arith(p.a, p.b, func(x, y float64) float64 { return x + y })
		if err != nil {
			t.Fatalf("Arith failed: %v", err)
		}
		ba, err := Arith(p.b, p.a, func(x, y float64) float64 { return x + y })
		if err != nil {
			t.Fatalf("Arith failed: %v", err)
		}
		if ab.float64Value() != ba.float64Value() {
			t.Errorf("addition not commutative for %+v/%+v: %v != %v", p.a, p.b, ab, ba)
		}
	}
}

func TestLongPlusLongWidensThroughFloat64(t *testing.T) {
	// Arithmetic always widens through 64-bit float, even for
	// Long+Long, so precision above 2^53 is lost by design.
	huge := int64(1) << 60
	result, err := Arith(Long(huge), Long(1), func(x, y float64) float64 { return x + y })
	if err != nil {
		t.Fatalf("Arith failed: %v", err)
	}
	if result.Kind != KindLong {
		t.Fatalf("expected KindLong result, got %v", result.Kind)
	}
	if result.L == huge+1 {
		t.Fatalf("expected float64 widening to lose precision for %d+1, but it didn't", huge)
	}
}

func TestDumpFormatting(t *testing.T) {
	tests := []struct {
		v    Stackable
		want string
	}{
		{Int(3), "3"},
		{Long(42), "42L"},
		{Float(1.5), "1.5F"},
		{Double(2.5), "2.5D"},
		{String("hi"), "hi"},
	}
	for _, tt := range tests {
		if got := tt.v.Dump(); got != tt.want {
			t.Errorf("Dump(%+v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestEqualStructural(t *testing.T) {
	if !Int(1).Equal(Int(1)) {
		t.Error("Int(1) should equal Int(1)")
	}
	if Int(1).Equal(Long(1)) {
		t.Error("Int(1) should not equal Long(1) despite equal numeric value")
	}
	if !String("a").Equal(String("a")) {
		t.Error("String(a) should equal String(a)")
	}
}
