package convert

import (
	"testing"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvstream"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvtype"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/sharedpv"
)

func int32ToFloat64(v int32) float64 { return float64(v) }
func float64ToInt32(v float64) int32 { return int32(v) }

func newOriginal(t *testing.T) *sharedpv.Handle[int32] {
	t.Helper()
	mode := pvstream.AccessMode{Readable: true, Writeable: true, Async: true}
	stream := pvstream.NewMemStream[int32]("conv/pv", 1, mode, nil, 0)
	shared := sharedpv.New[int32]("conv/pv", 0, stream, noopNotifier{}, nil)
	return shared.CreateHandle()
}

type noopNotifier struct{}

func (noopNotifier) RunInNotificationThread(task func()) { task() }
func (noopNotifier) WakeUpNotificationThread()           {}

func TestInitialValueIsConverted(t *testing.T) {
	h := newOriginal(t)
	wrapped := Wrap[int32, float64](h, int32ToFloat64, float64ToInt32)

	value, _, err := wrapped.InitialValue()
	if err != nil {
		t.Fatalf("InitialValue: %v", err)
	}
	if value.Len() != 1 || value.Elements()[0] != 0 {
		t.Fatalf("value = %v, want [0]", value.Elements())
	}
}

func TestWriteConvertsBackToOriginalType(t *testing.T) {
	h := newOriginal(t)
	wrapped := Wrap[int32, float64](h, int32ToFloat64, float64ToInt32)

	var ok bool
	immediate, err := wrapped.Write(pvtype.NewValue([]float64{3.9}), pvtype.NewVersion(1), func(bool) { ok = true }, nil)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !immediate || !ok {
		t.Fatalf("Write did not succeed synchronously: immediate=%v ok=%v", immediate, ok)
	}

	value, _, err := h.InitialValue()
	if err != nil {
		t.Fatalf("InitialValue on original: %v", err)
	}
	if value.Elements()[0] != 3 {
		t.Fatalf("original value = %v, want [3] (truncated from 3.9)", value.Elements())
	}
}

func TestCapabilitiesDelegateToOriginal(t *testing.T) {
	h := newOriginal(t)
	wrapped := Wrap[int32, float64](h, int32ToFloat64, float64ToInt32)
	if wrapped.CanRead() != h.CanRead() || wrapped.CanWrite() != h.CanWrite() || wrapped.CanNotify() != h.CanNotify() {
		t.Fatal("converting wrapper must delegate capability queries to the original")
	}
	if wrapped.NumberOfElements() != h.NumberOfElements() {
		t.Fatal("converting wrapper must delegate NumberOfElements to the original")
	}
}
