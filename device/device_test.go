package device

import (
	"context"
	"testing"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvtype"
)

func TestDefaultElementType(t *testing.T) {
	cases := []struct {
		name string
		info RegisterInfo
		want pvtype.Element
	}{
		{"signed integral", RegisterInfo{Fundamental: FundamentalNumeric, Integral: true, Signed: true}, pvtype.Int32},
		{"unsigned integral", RegisterInfo{Fundamental: FundamentalNumeric, Integral: true, Signed: false}, pvtype.Uint32},
		{"floating", RegisterInfo{Fundamental: FundamentalNumeric, Integral: false}, pvtype.Float64},
		{"boolean", RegisterInfo{Fundamental: FundamentalBoolean}, pvtype.Uint32},
		{"unknown", RegisterInfo{Fundamental: FundamentalString}, pvtype.Unknown},
	}
	for _, c := range cases {
		if got := DefaultElementType(c.info); got != c.want {
			t.Errorf("%s: DefaultElementType = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestMemDeviceOpenAccessorRoundTrips(t *testing.T) {
	dev := NewMemDevice()
	AddRegister[int32](dev, RegisterInfo{Name: "r"}, true, true, []int32{1, 2, 3})

	accessor, err := OpenAccessor[int32](dev, "r")
	if err != nil {
		t.Fatalf("OpenAccessor: %v", err)
	}
	if accessor.NumberOfElements() != 3 {
		t.Fatalf("NumberOfElements = %d, want 3", accessor.NumberOfElements())
	}

	got, err := accessor.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 3 || got[0] != 1 {
		t.Fatalf("Read = %v, want [1 2 3]", got)
	}

	if err := accessor.Write(context.Background(), []int32{9, 9, 9}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err = accessor.Read(context.Background())
	if err != nil {
		t.Fatalf("Read after write: %v", err)
	}
	if got[0] != 9 {
		t.Fatalf("Read after write = %v, want [9 9 9]", got)
	}
}

func TestOpenAccessorWrongTypeFails(t *testing.T) {
	dev := NewMemDevice()
	AddRegister[int32](dev, RegisterInfo{Name: "r"}, true, true, []int32{1})
	if _, err := OpenAccessor[float64](dev, "r"); err == nil {
		t.Fatal("expected a type mismatch error")
	}
}

func TestCatalogueReportsDeclaredRegisters(t *testing.T) {
	dev := NewMemDevice()
	AddRegister[int32](dev, RegisterInfo{Name: "r", NumberOfElements: 1}, true, true, []int32{1})
	if !dev.Catalogue().HasRegister("r") {
		t.Fatal("catalogue should report the declared register")
	}
	if dev.Catalogue().HasRegister("missing") {
		t.Fatal("catalogue should not report an undeclared register")
	}
}
