package recordaddr

import (
	"errors"
	"testing"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvsupport"
)

func TestParseNameAndPVOnly(t *testing.T) {
	addr, err := Parse("app1 temperature")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if addr.Name != "app1" {
		t.Fatalf("Name = %q, want app1", addr.Name)
	}
	if addr.PV != "/temperature" {
		t.Fatalf("PV = %q, want /temperature", addr.PV)
	}
	if addr.HasValueType {
		t.Fatal("HasValueType should be false when no type was given")
	}
}

func TestParseWithValueType(t *testing.T) {
	addr, err := Parse("app1 temperature int32")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !addr.HasValueType || addr.ValueType != TypeInt32 {
		t.Fatalf("ValueType = %v (has=%v), want Int32", addr.ValueType, addr.HasValueType)
	}
}

func TestParseWithOptionsOnly(t *testing.T) {
	addr, err := Parse("app1 temperature (nobidirectional)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if addr.HasValueType {
		t.Fatal("HasValueType should be false")
	}
	if !addr.Options.NoBidirectional {
		t.Fatal("expected NoBidirectional to be set")
	}
}

func TestParseWithValueTypeAndOptions(t *testing.T) {
	addr, err := Parse("dev1 /some/path double (nobidirectional)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if addr.Name != "dev1" {
		t.Fatalf("Name = %q, want dev1", addr.Name)
	}
	if addr.PV != "/some/path" {
		t.Fatalf("PV = %q, want /some/path", addr.PV)
	}
	if !addr.HasValueType || addr.ValueType != TypeDouble {
		t.Fatalf("ValueType = %v (has=%v), want Double", addr.ValueType, addr.HasValueType)
	}
	if !addr.Options.NoBidirectional {
		t.Fatal("expected NoBidirectional to be set")
	}
}

func TestParsePVCanonicalisation(t *testing.T) {
	addr, err := Parse("app1 //foo//bar/")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if addr.PV != "/foo/bar" {
		t.Fatalf("PV = %q, want /foo/bar", addr.PV)
	}
}

func allValueTypeNames() []string {
	return []string{"bool", "int8", "uint8", "int16", "uint16", "int32", "uint32",
		"int64", "uint64", "float", "double", "string", "void"}
}

func TestParseEveryValueTypeName(t *testing.T) {
	for _, name := range allValueTypeNames() {
		addr, err := Parse("app1 pv " + name)
		if err != nil {
			t.Fatalf("Parse(%q): %v", name, err)
		}
		if addr.ValueType.String() != name {
			t.Fatalf("ValueType.String() = %q, want %q", addr.ValueType.String(), name)
		}
	}
}

func TestParseUnknownValueTypeFails(t *testing.T) {
	_, err := Parse("app1 pv complex128")
	assertAddressParseError(t, err)
}

func TestParseUnknownOptionFails(t *testing.T) {
	_, err := Parse("app1 pv (turbocharged)")
	assertAddressParseError(t, err)
}

func TestParseMissingNameFails(t *testing.T) {
	_, err := Parse("   pv")
	assertAddressParseError(t, err)
}

func TestParseTrailingGarbageFails(t *testing.T) {
	_, err := Parse("app1 pv int32 extra")
	assertAddressParseError(t, err)
}

func TestParseErrorReportsCharacterPosition(t *testing.T) {
	_, err := Parse("app1 pv nope")
	var perr *pvsupport.Error
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *pvsupport.Error", err)
	}
	if perr.Pos != 9 {
		t.Fatalf("Pos = %d, want 9 (where \"nope\" starts)", perr.Pos)
	}
}

func assertAddressParseError(t *testing.T, err error) {
	t.Helper()
	if !errors.Is(err, pvsupport.ErrAddressParse) {
		t.Fatalf("err = %v, want AddressParse", err)
	}
}
