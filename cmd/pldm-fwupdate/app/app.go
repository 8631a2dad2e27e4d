// Package app implements the pldm-fwupdate command: it drives a firmware
// update session end to end, either against the built-in simulated device
// or with a caller-supplied DSP0267 package file, and reports activation
// progress until the session reaches a terminal phase.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"cloupeer.io/pldmfwupdate/internal/pkg/metrics"
	"cloupeer.io/pldmfwupdate/internal/pldm/config"
	"cloupeer.io/pldmfwupdate/internal/pldm/deviceupdater"
	"cloupeer.io/pldmfwupdate/internal/pldm/loop"
	"cloupeer.io/pldmfwupdate/internal/pldm/pkgparser"
	"cloupeer.io/pldmfwupdate/internal/pldm/requester"
	"cloupeer.io/pldmfwupdate/internal/pldm/sim"
	"cloupeer.io/pldmfwupdate/internal/pldm/updatemanager"
	"cloupeer.io/pldmfwupdate/pkg/pldmlog"
)

const (
	commandName = "pldm-fwupdate"
	commandDesc = `pldm-fwupdate drives a DSP0267 firmware update session from package
acceptance through activation. By default it generates a demonstration
package and updates an in-memory simulated device; pass --package to
feed it a real package file instead.`
)

// Options aggregates the command's flag groups, following the options-
// struct-per-concern layout used by every binary in this module family.
type Options struct {
	PLDM *config.Options
	Log  *pldmlog.Options

	// PackagePath, when set, is mmap'd and used instead of the generated
	// demonstration package.
	PackagePath string

	// Endpoint the simulated device answers on.
	Endpoint uint8

	// SimChunkSize is how many bytes the simulated device pulls per
	// RequestFirmwareData.
	SimChunkSize uint32

	// MetricsAddr, when set, serves the core's Prometheus registry on
	// this address under /metrics for the duration of the run.
	MetricsAddr string
}

// NewOptions returns Options with defaults applied.
func NewOptions() *Options {
	return &Options{
		PLDM:         config.NewOptions(),
		Log:          pldmlog.NewOptions(),
		Endpoint:     10,
		SimChunkSize: 512,
	}
}

// AddFlags binds every flag group to fs.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.PLDM.AddFlags(fs)
	o.Log.AddFlags(fs)
	fs.StringVar(&o.PackagePath, "package", o.PackagePath,
		"Path to a DSP0267 firmware update package file. Empty generates a demonstration package in memory.")
	fs.Uint8Var(&o.Endpoint, "endpoint", o.Endpoint,
		"Endpoint identifier the simulated device answers on.")
	fs.Uint32Var(&o.SimChunkSize, "sim-chunk-size", o.SimChunkSize,
		"Transfer chunk size, in bytes, the simulated device requests per pull.")
	fs.StringVar(&o.MetricsAddr, "metrics-addr", o.MetricsAddr,
		"Address to serve Prometheus metrics on (e.g. :9090). Empty disables the metrics endpoint.")
}

// Validate aggregates the flag groups' validation errors.
func (o *Options) Validate() error {
	var errs []error
	errs = append(errs, o.PLDM.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	if o.SimChunkSize < 64 {
		errs = append(errs, fmt.Errorf("sim-chunk-size must be >= 64, got %d", o.SimChunkSize))
	}
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// NewCommand builds the root cobra command.
func NewCommand() *cobra.Command {
	opts := NewOptions()

	cmd := &cobra.Command{
		Use:          commandName,
		Short:        "Drive a PLDM firmware update session",
		Long:         commandDesc,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			bindViper(cmd)
			return opts.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	opts.AddFlags(cmd.Flags())
	return cmd
}

// bindViper layers PLDM_FWUPDATE_* environment variables under any flag
// the user did not set explicitly on the command line.
func bindViper(cmd *cobra.Command) {
	v := viper.New()
	v.SetEnvPrefix("PLDM_FWUPDATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if !f.Changed && v.IsSet(f.Name) {
			_ = cmd.Flags().Set(f.Name, fmt.Sprint(v.Get(f.Name)))
		}
	})
}

func run(opts *Options) error {
	pldmlog.Init(opts.Log)
	log := pldmlog.WithName(commandName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pkgBytes []byte
	if opts.PackagePath != "" {
		mapped, err := pkgparser.MapFile(opts.PackagePath)
		if err != nil {
			return err
		}
		defer mapped.Close()
		pkgBytes = mapped.Bytes()
		log.Info("loaded package", "path", opts.PackagePath, "size", len(pkgBytes))
	} else {
		pkgBytes = sim.BuildDemoPackage()
		log.Info("generated demonstration package", "size", len(pkgBytes))
	}

	// The simulated device advertises exactly what the package's first FD
	// record asks for, so any well-formed package matches it.
	parsed, err := pkgparser.Parse(pkgBytes)
	if err != nil {
		return fmt.Errorf("package rejected: %w", err)
	}
	if len(parsed.FirmwareDeviceIDRecords) == 0 {
		return fmt.Errorf("package carries no firmware device id records")
	}
	caps := updatemanager.DeviceCapabilities{
		Descriptors:    parsed.FirmwareDeviceIDRecords[0].Descriptors,
		ComponentIndex: make(deviceupdater.ComponentInfo, len(parsed.ComponentImageInfos)),
	}
	for i, c := range parsed.ComponentImageInfos {
		key := pkgparser.ComponentKey{Classification: c.Classification, Identifier: c.Identifier}
		caps.ComponentIndex[key] = uint8(i)
	}

	l := loop.New()
	go l.Run()
	defer l.Stop()

	device := sim.NewDevice(opts.Endpoint, l, log.WithName("device"), opts.SimChunkSize)
	bus := requester.New(l, device, log.WithName("requester"), opts.PLDM.RequesterOptions())
	mgr := updatemanager.New(l, bus, device, log.WithName("manager"), opts.PLDM.DeviceUpdaterOptions(), opts.PLDM.MaxTransferSize)
	device.Attach(mgr)

	if opts.MetricsAddr != "" {
		go serveMetrics(opts.MetricsAddr, log)
	}

	errCh := make(chan error, 1)
	l.Defer(func() {
		errCh <- mgr.AcceptPackage(pkgBytes, map[uint8]updatemanager.DeviceCapabilities{opts.Endpoint: caps})
	})
	if err := <-errCh; err != nil {
		return err
	}

	l.Defer(func() { errCh <- mgr.Activate() })
	if err := <-errCh; err != nil {
		return err
	}

	return watch(ctx, mgr, log)
}

// watch polls the activation surface until the session reaches a terminal
// phase, logging progress along the way.
func watch(ctx context.Context, mgr *updatemanager.Manager, log pldmlog.Logger) error {
	start := time.Now()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	lastProgress := -1
	for {
		select {
		case <-ctx.Done():
			if err := mgr.Cancel(); err != nil {
				log.Warn("cancel failed", "err", err)
			}
			return ctx.Err()
		case <-ticker.C:
		}

		surface := mgr.Surface()
		if surface.Progress != lastProgress {
			log.Info("activation progress", "phase", surface.Phase, "progress", surface.Progress)
			lastProgress = surface.Progress
		}

		switch surface.Phase {
		case updatemanager.PhaseActive:
			log.Info("activation succeeded", "elapsed_ms", time.Since(start).Milliseconds(), "version", surface.VersionString)
			return nil
		case updatemanager.PhaseFailed, updatemanager.PhaseInvalid:
			return fmt.Errorf("activation finished in phase %q", surface.Phase)
		}
	}
}

func serveMetrics(addr string, log pldmlog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	log.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error(err, "metrics server stopped")
	}
}
