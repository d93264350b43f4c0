package registrar

import (
	"context"
	"errors"
	"testing"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/device"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/registry"
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

func newRegistrarWithDevice(t *testing.T) (*Registrar, *registry.Registry) {
	t.Helper()
	dev := device.NewMemDevice()
	device.AddRegister[int32](dev, device.RegisterInfo{Name: "pos", NumberOfElements: 1}, true, true, []int32{0})
	reg := registry.New(func(alias string) (device.Device, error) {
		if alias != "alias1" {
			return nil, errors.New("no such alias")
		}
		return dev, nil
	}, nil)
	return New(reg, nil), reg
}

func TestDispatchConfigureApplication(t *testing.T) {
	reg := registry.New(nil, nil)
	r := New(reg, nil)
	app := streamingprovider.New(1, nil)
	runDispatcher(t, app)
	r.SetApplication(app)

	if err := r.Dispatch("configure_application app1"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := reg.Get("app1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func TestDispatchConfigureApplicationWithoutSetApplicationFails(t *testing.T) {
	r := New(registry.New(nil, nil), nil)
	if err := r.Dispatch("configure_application app1"); err == nil {
		t.Fatal("expected an error when no application has been configured")
	}
}

func TestDispatchOpenSyncDevice(t *testing.T) {
	r, reg := newRegistrarWithDevice(t)
	if err := r.Dispatch("open_sync_device dev1 alias1"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := reg.Get("dev1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func TestDispatchOpenAsyncDeviceRequiresPositiveThreadCount(t *testing.T) {
	r, _ := newRegistrarWithDevice(t)
	if err := r.Dispatch("open_async_device dev1 alias1 0"); err == nil {
		t.Fatal("expected an error for a zero thread count on an async device")
	}
	if err := r.Dispatch("open_async_device dev1 alias1 2"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
}

func TestDispatchSetDMapFilePath(t *testing.T) {
	reg := registry.New(nil, nil)
	r := New(reg, nil)
	if err := r.Dispatch("set_dmap_file_path /etc/example.dmap"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := reg.DMapFilePath(); got != "/etc/example.dmap" {
		t.Fatalf("DMapFilePath = %q, want /etc/example.dmap", got)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	r := New(registry.New(nil, nil), nil)
	if err := r.Dispatch("frobnicate whatever"); err == nil {
		t.Fatal("expected an error for an unrecognised command")
	}
}

func TestDispatchBlankLineIsNoOp(t *testing.T) {
	r := New(registry.New(nil, nil), nil)
	if err := r.Dispatch("   "); err != nil {
		t.Fatalf("Dispatch on a blank line: %v", err)
	}
}
