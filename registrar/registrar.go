// Package registrar exposes the registry's four shell-level configuration
// commands behind a single Dispatch entry point, the Go equivalent of the
// four iocsh functions registrar.cpp installs with epicsExportRegistrar:
// chimeraTKConfigureApplication, chimeraTKOpenAsyncDevice,
// chimeraTKOpenSyncDevice and chimeraTKSetDMapFilePath.
package registrar

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/registry"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/streamingprovider"
)

// Registrar dispatches text commands against a Registry, the way the
// original's iocsh functions each called a PVProviderRegistry static
// method. Unlike the original, which rebuilds an application's PVManager
// pair from scratch inside chimeraTKConfigureApplicationFunc, this Go port
// has no ApplicationBase singleton to reach for: the host binary builds its
// streamingprovider.Provider directly and hands it to SetApplication before
// configure_application is dispatched, the same way the original relies on
// ApplicationBase::getInstance() already existing by the time the iocsh
// command runs.
type Registrar struct {
	registry    *registry.Registry
	application *streamingprovider.Provider
	log         *slog.Logger
}

// New creates a Registrar over reg. Every command dispatched through it
// either succeeds silently or returns a single error describing what went
// wrong, the Go equivalent of the original's one-error-line-via-errorPrintf
// convention. Dispatch logs every failure at error level on log (slog.Default()
// when log is nil) and also returns it to the caller.
func New(reg *registry.Registry, log *slog.Logger) *Registrar {
	if log == nil {
		log = slog.Default()
	}
	return &Registrar{registry: reg, log: log}
}

// SetApplication records the provider that configure_application will
// register, playing the role ApplicationBase::getInstance() plays in the
// original: something the host process constructs once, ahead of any
// shell command.
func (r *Registrar) SetApplication(p *streamingprovider.Provider) { r.application = p }

// Dispatch parses one command line and runs it. Recognised commands are
// configure_application, open_async_device, open_sync_device and
// set_dmap_file_path; anything else is an error. A blank line is a no-op,
// matching an empty iocsh line.
func (r *Registrar) Dispatch(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	var err error
	switch cmd {
	case "configure_application":
		err = r.configureApplication(args)
	case "open_async_device":
		err = r.openAsyncDevice(args)
	case "open_sync_device":
		err = r.openSyncDevice(args)
	case "set_dmap_file_path":
		err = r.setDMapFilePath(args)
	default:
		err = fmt.Errorf("unknown registrar command %q", cmd)
	}
	if err != nil {
		r.log.Error("registrar command failed", "command", cmd, "error", err)
	}
	return err
}

func (r *Registrar) configureApplication(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("configure_application: application id must be specified")
	}
	id := args[0]
	if id == "" {
		return fmt.Errorf("configure_application: application id must not be empty")
	}
	if r.application == nil {
		return fmt.Errorf("configure_application: no application has been configured; call SetApplication first")
	}
	if err := r.registry.RegisterApplication(id, r.application); err != nil {
		return fmt.Errorf("configure_application: %w", err)
	}
	return nil
}

func (r *Registrar) openAsyncDevice(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("open_async_device: expected device id, device name alias, and number of I/O threads")
	}
	deviceID, alias, rawThreads := args[0], args[1], args[2]
	if deviceID == "" {
		return fmt.Errorf("open_async_device: device id must not be empty")
	}
	if alias == "" {
		return fmt.Errorf("open_async_device: device name alias must not be empty")
	}
	numberOfIoThreads, err := strconv.Atoi(rawThreads)
	if err != nil {
		return fmt.Errorf("open_async_device: number of I/O threads must be an integer: %w", err)
	}
	if numberOfIoThreads <= 0 {
		return fmt.Errorf("open_async_device: the number of I/O threads must be greater than zero")
	}
	if err := r.registry.RegisterDevice(deviceID, alias, numberOfIoThreads); err != nil {
		return fmt.Errorf("open_async_device: %w", err)
	}
	return nil
}

func (r *Registrar) openSyncDevice(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("open_sync_device: expected device id and device name alias")
	}
	deviceID, alias := args[0], args[1]
	if deviceID == "" {
		return fmt.Errorf("open_sync_device: device id must not be empty")
	}
	if alias == "" {
		return fmt.Errorf("open_sync_device: device name alias must not be empty")
	}
	if err := r.registry.RegisterDevice(deviceID, alias, 0); err != nil {
		return fmt.Errorf("open_sync_device: %w", err)
	}
	return nil
}

func (r *Registrar) setDMapFilePath(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("set_dmap_file_path: file path must be specified")
	}
	path := args[0]
	if path == "" {
		return fmt.Errorf("set_dmap_file_path: file path must not be empty")
	}
	if err := r.registry.SetDMapFilePath(path); err != nil {
		return fmt.Errorf("set_dmap_file_path: %w", err)
	}
	return nil
}
