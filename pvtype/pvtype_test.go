package pvtype

import (
	"testing"
	"time"
)

func TestElementOfMatchesEveryScalarKind(t *testing.T) {
	if got := ElementOf[int32](); got != Int32 {
		t.Fatalf("ElementOf[int32]() = %v, want Int32", got)
	}
	if got := ElementOf[float64](); got != Float64 {
		t.Fatalf("ElementOf[float64]() = %v, want Float64", got)
	}
	if got := ElementOf[string](); got != String {
		t.Fatalf("ElementOf[string]() = %v, want String", got)
	}
	if got := ElementOf[struct{}](); got != Void {
		t.Fatalf("ElementOf[struct{}]() = %v, want Void", got)
	}
}

func TestVersionCompareOrdersBySequence(t *testing.T) {
	a := NewVersionAt(1, time.Unix(0, 0))
	b := NewVersionAt(2, time.Unix(0, 0))
	if !a.Less(b) {
		t.Fatal("expected a < b")
	}
	if a.Compare(a) != 0 {
		t.Fatal("expected a version to compare equal to itself")
	}
	if b.Compare(a) != 1 {
		t.Fatal("expected b to compare greater than a")
	}
}

func TestGeneratorNextIsStrictlyIncreasing(t *testing.T) {
	var g Generator
	first := g.Next()
	second := g.Next()
	if !first.Less(second) {
		t.Fatalf("expected %v < %v", first, second)
	}
}

func TestValueEqual(t *testing.T) {
	a := NewValue([]int32{1, 2, 3})
	b := NewValue([]int32{1, 2, 3})
	c := NewValue([]int32{1, 2, 4})
	if !a.Equal(b) {
		t.Fatal("expected equal values to compare equal")
	}
	if a.Equal(c) {
		t.Fatal("expected differing values to compare unequal")
	}
}

func TestValueCloneIsIndependent(t *testing.T) {
	original := NewValue([]int32{1, 2, 3})
	clone := original.Clone()
	clone.Elements()[0] = 99
	if original.Elements()[0] == 99 {
		t.Fatal("expected Clone to return an independently-owned copy")
	}
}
