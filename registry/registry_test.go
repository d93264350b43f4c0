package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/device"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvstream"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvsupport"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvtype"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/streamingprovider"
)

func runDispatcher(t *testing.T, p *streamingprovider.Provider) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Dispatcher().Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func newApplication(t *testing.T) *streamingprovider.Provider {
	t.Helper()
	p := streamingprovider.New(1, nil)
	mode := pvstream.AccessMode{Readable: true, Writeable: true, Async: true}
	if _, err := streamingprovider.RegisterMemStream[int32](p, "temp", 1, mode); err != nil {
		t.Fatalf("RegisterMemStream: %v", err)
	}
	runDispatcher(t, p)
	return p
}

func memDeviceFactory(devices map[string]device.Device) DeviceFactory {
	return func(alias string) (device.Device, error) {
		dev, ok := devices[alias]
		if !ok {
			return nil, errors.New("no such device alias")
		}
		return dev, nil
	}
}

func TestRegisterApplicationAndCreatePVSupport(t *testing.T) {
	reg := New(nil, nil)
	app := newApplication(t)
	if err := reg.RegisterApplication("app1", app); err != nil {
		t.Fatalf("RegisterApplication: %v", err)
	}

	support, err := CreatePVSupport[int32](reg, "app1", "temp")
	if err != nil {
		t.Fatalf("CreatePVSupport: %v", err)
	}
	if !support.CanNotify() {
		t.Fatal("expected the streaming variable to support notification")
	}
}

func TestRegisterDuplicateNameFails(t *testing.T) {
	reg := New(nil, nil)
	app := newApplication(t)
	if err := reg.RegisterApplication("app1", app); err != nil {
		t.Fatalf("RegisterApplication: %v", err)
	}
	err := reg.RegisterApplication("app1", app)
	if !errors.Is(err, pvsupport.ErrDuplicateName) {
		t.Fatalf("err = %v, want DuplicateName", err)
	}
}

func TestGetNoSuchProvider(t *testing.T) {
	reg := New(nil, nil)
	if _, err := reg.Get("nope"); !errors.Is(err, pvsupport.ErrNoSuchProvider) {
		t.Fatalf("err = %v, want NoSuchProvider", err)
	}
}

func TestFinalizeCalledTwiceFails(t *testing.T) {
	reg := New(nil, nil)
	if err := reg.Finalize(); err != nil {
		t.Fatalf("first Finalize: %v", err)
	}
	if err := reg.Finalize(); !errors.Is(err, pvsupport.ErrAlreadyFinalised) {
		t.Fatalf("second Finalize err = %v, want AlreadyFinalised", err)
	}
}

func TestRegisterAfterFinalizeFails(t *testing.T) {
	reg := New(nil, nil)
	app := newApplication(t)
	if err := reg.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := reg.RegisterApplication("late", app); !errors.Is(err, pvsupport.ErrAlreadyFinalised) {
		t.Fatalf("err = %v, want AlreadyFinalised", err)
	}
}

func TestFinalizeSucceedsAfterWillWrite(t *testing.T) {
	reg := New(nil, nil)
	app := newApplication(t)
	if err := reg.RegisterApplication("app1", app); err != nil {
		t.Fatalf("RegisterApplication: %v", err)
	}

	support, err := CreatePVSupport[int32](reg, "app1", "temp")
	if err != nil {
		t.Fatalf("CreatePVSupport: %v", err)
	}
	support.WillWrite()

	if err := reg.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

func TestRegisterDeviceOpensThroughFactory(t *testing.T) {
	dev := device.NewMemDevice()
	device.AddRegister[int32](dev, device.RegisterInfo{
		Name:             "pos",
		NumberOfElements: 1,
		Fundamental:      device.FundamentalNumeric,
		Integral:         true,
		Signed:           true,
	}, true, true, []int32{0})
	reg := New(memDeviceFactory(map[string]device.Device{"alias1": dev}), nil)

	if err := reg.RegisterDevice("dev1", "alias1", 0); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	support, err := CreatePVSupport[int32](reg, "dev1", "pos")
	if err != nil {
		t.Fatalf("CreatePVSupport: %v", err)
	}
	if support.CanNotify() {
		t.Fatal("a polled device register must not support notification")
	}

	elementType, err := reg.DefaultType("dev1", "pos")
	if err != nil {
		t.Fatalf("DefaultType: %v", err)
	}
	if elementType != pvtype.Int32 {
		t.Fatalf("DefaultType = %v, want Int32", elementType)
	}
}

func TestRegisterDeviceUnknownAliasFails(t *testing.T) {
	reg := New(memDeviceFactory(map[string]device.Device{}), nil)
	if err := reg.RegisterDevice("dev1", "missing", 0); err == nil {
		t.Fatal("expected an error opening an unknown device alias")
	}
}

func TestRegisterDeviceWithoutFactoryFails(t *testing.T) {
	reg := New(nil, nil)
	err := reg.RegisterDevice("dev1", "alias1", 0)
	if !errors.Is(err, pvsupport.ErrUnsupportedOperation) {
		t.Fatalf("err = %v, want UnsupportedOperation", err)
	}
}
