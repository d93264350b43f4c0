// Command pvhost is a demo host process wiring a streaming application
// provider, a polled-device provider, and the registry/registrar surface
// that fronts them, the way examples/orion-pipeline/main.go wires
// stream-capture and framesupplier into one runnable pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/device"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvstream"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvtype"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/recordaddr"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/registrar"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/registry"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/streamingprovider"
)

// Config mirrors orion-pipeline's flag-populated Config struct.
type Config struct {
	AppID        string
	DeviceID     string
	DeviceAlias  string
	IoThreads    int
	Synchronous  bool
	ProduceEvery time.Duration
	Debug        bool
	RecordLink   string
}

func main() {
	config := parseFlags()

	logLevel := slog.LevelInfo
	if config.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received, stopping gracefully")
		cancel()
	}()

	if err := run(ctx, config, logger); err != nil && ctx.Err() == nil {
		logger.Error("pvhost failed", "error", err)
		os.Exit(1)
	}
	logger.Info("pvhost stopped gracefully")
}

func parseFlags() Config {
	var config Config
	flag.StringVar(&config.AppID, "app-id", "demo-app", "name to register the streaming application provider under")
	flag.StringVar(&config.DeviceID, "device-id", "demo-device", "name to register the polled device provider under")
	flag.StringVar(&config.DeviceAlias, "device-alias", "sim0", "device alias passed to open_sync_device/open_async_device")
	flag.IntVar(&config.IoThreads, "io-threads", 0, "number of device I/O worker threads (0 = synchronous mode)")
	flag.DurationVar(&config.ProduceEvery, "produce-every", time.Second, "interval between simulated temperature updates")
	flag.BoolVar(&config.Debug, "debug", false, "enable debug logging")
	flag.StringVar(&config.RecordLink, "record-link", "consumer temperature (nobidirectional)",
		"record-link address (spec §6 grammar) naming the consumer's handle on the temperature PV")
	flag.Parse()
	config.Synchronous = config.IoThreads == 0
	return config
}

func run(ctx context.Context, config Config, logger *slog.Logger) error {
	app := streamingprovider.New(1, logger)
	mode := pvstream.AccessMode{Readable: true, Writeable: true, Async: true}
	temperature, err := streamingprovider.RegisterMemStream[float64](app, "temperature", 1, mode)
	if err != nil {
		return fmt.Errorf("registering temperature stream: %w", err)
	}

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		if err := app.Dispatcher().Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("notification dispatcher failed", "error", err)
		}
	}()

	dev := device.NewMemDevice()
	device.AddRegister[int32](dev, device.RegisterInfo{
		Name:            "position",
		NumberOfElements: 1,
		Fundamental:     device.FundamentalNumeric,
		Integral:        true,
		Signed:          true,
	}, true, true, []int32{0})

	reg := registry.New(func(alias string) (device.Device, error) {
		if alias != config.DeviceAlias {
			return nil, fmt.Errorf("no such device alias %q", alias)
		}
		return dev, nil
	}, logger)

	r := registrar.New(reg, logger)
	r.SetApplication(app)

	if err := r.Dispatch(fmt.Sprintf("configure_application %s", config.AppID)); err != nil {
		return err
	}
	if config.Synchronous {
		if err := r.Dispatch(fmt.Sprintf("open_sync_device %s %s", config.DeviceID, config.DeviceAlias)); err != nil {
			return err
		}
	} else {
		if err := r.Dispatch(fmt.Sprintf("open_async_device %s %s %d", config.DeviceID, config.DeviceAlias, config.IoThreads)); err != nil {
			return err
		}
	}

	if err := reg.Finalize(); err != nil {
		return fmt.Errorf("finalizing registry: %w", err)
	}
	logger.Info("registry finalized", "app", config.AppID, "device", config.DeviceID)

	link, err := recordaddr.Parse(config.RecordLink)
	if err != nil {
		return fmt.Errorf("parsing record link %q: %w", config.RecordLink, err)
	}
	consumer, err := streamingprovider.CreatePVSupportWithOptions[float64](app, link.PV, !link.Options.NoBidirectional)
	if err != nil {
		return fmt.Errorf("creating consumer handle for %q: %w", link.PV, err)
	}
	logger.Info("consumer handle created", "record", link.Name, "pv", link.PV, "bidirectional", !link.Options.NoBidirectional)

	if consumer.CanNotify() {
		if err := consumer.Notify(
			func(value pvtype.Value[float64], version pvtype.Version) {
				logger.Info("consumer observed update", "record", link.Name, "value", value.Elements(), "version", version.String())
				consumer.NotifyFinished()
			},
			func(err error) {
				logger.Error("consumer notification failed", "record", link.Name, "error", err)
			},
		); err != nil {
			return fmt.Errorf("subscribing consumer handle for %q: %w", link.PV, err)
		}
		defer consumer.CancelNotify()
	}

	versions := &pvtype.Generator{}
	go produceTemperature(ctx, temperature, versions, config.ProduceEvery, logger)

	<-ctx.Done()
	<-dispatcherDone
	return ctx.Err()
}

// produceTemperature simulates a backing application pushing new values,
// playing the producer role a real application thread would play against
// a ChimeraTK process array.
func produceTemperature(ctx context.Context, stream *pvstream.MemStream[float64], versions *pvtype.Generator, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	reading := 20.0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reading += 0.1
			version := versions.Next()
			if err := stream.Push(ctx, pvtype.NewValue([]float64{reading}), version); err != nil {
				if ctx.Err() == nil {
					logger.Error("pushing temperature update failed", "error", err)
				}
				return
			}
			logger.Debug("pushed temperature update", "value", reading, "version", version.String())
		}
	}
}
