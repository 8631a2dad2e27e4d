// Package config collects the runtime knobs of the update core: transfer
// sizing, retry pacing, and the policy flags DSP0267 leaves to the update
// agent's discretion (proceeding on MayBeUpdateable is opt-in; honoring
// self-contained activation is on by default). It follows the
// same Options/AddFlags/Validate shape as pkg/pldmlog.Options.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"cloupeer.io/pldmfwupdate/internal/pldm/deviceupdater"
	"cloupeer.io/pldmfwupdate/internal/pldm/requester"
)

// Options holds every runtime knob plus the protocol policy flags.
// Zero-value fields
// are replaced by documented defaults in NewOptions and in the
// withDefaults helpers of the packages that consume them.
type Options struct {
	// MaxTransferSize is the largest RequestFirmwareData chunk this UA
	// will serve. Must be >= 64.
	MaxTransferSize uint32 `json:"max-transfer-size,omitempty" mapstructure:"max-transfer-size"`

	// RequestRetries bounds how many times RequesterBus resends an
	// outbound request before letting it ride out to instance-id expiry.
	// Zero selects the requester's default of 2 retries.
	RequestRetries int `json:"request-retries,omitempty" mapstructure:"request-retries"`

	// ResponseTimeoutMS is the inter-retry timeout, in milliseconds.
	ResponseTimeoutMS int `json:"response-timeout-ms,omitempty" mapstructure:"response-timeout-ms"`

	// InstanceIDExpirySeconds bounds how long an instance id may stay
	// allocated awaiting a response before RequesterBus frees it and
	// reports a timeout.
	InstanceIDExpirySeconds int `json:"instance-id-expiry-s,omitempty" mapstructure:"instance-id-expiry-s"`

	// UAT2Seconds is the DSP0267 UA_T2 transfer-stage watchdog.
	UAT2Seconds int `json:"ua-t2-s,omitempty" mapstructure:"ua-t2-s"`

	// ProceedOnMayBeUpdateable governs whether a MayBeUpdateable component
	// response is treated as acceptance. Default false: do not proceed
	// absent explicit opt-in.
	ProceedOnMayBeUpdateable bool `json:"proceed-on-may-be-updateable,omitempty" mapstructure:"proceed-on-may-be-updateable"`

	// HonorSelfContainedActivation governs the ActivateFirmware
	// self_contained flag. Default true: honor the FD's requested
	// activation method.
	HonorSelfContainedActivation bool `json:"honor-self-contained-activation,omitempty" mapstructure:"honor-self-contained-activation"`
}

// NewOptions returns Options populated with the documented defaults.
func NewOptions() *Options {
	return &Options{
		MaxTransferSize:              4096,
		RequestRetries:               2,
		ResponseTimeoutMS:            100,
		InstanceIDExpirySeconds:      5,
		UAT2Seconds:                  60,
		ProceedOnMayBeUpdateable:     false,
		HonorSelfContainedActivation: true,
	}
}

// AddFlags binds command-line flags to the Options fields.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.Uint32Var(&o.MaxTransferSize, "pldm.max-transfer-size", o.MaxTransferSize,
		"Largest RequestFirmwareData chunk this update agent will serve (minimum 64).")
	fs.IntVar(&o.RequestRetries, "pldm.request-retries", o.RequestRetries,
		"Number of times an outbound PLDM request is resent before the instance id is left to expire (0 selects the default of 2).")
	fs.IntVar(&o.ResponseTimeoutMS, "pldm.response-timeout-ms", o.ResponseTimeoutMS,
		"Inter-retry timeout for outbound PLDM requests, in milliseconds.")
	fs.IntVar(&o.InstanceIDExpirySeconds, "pldm.instance-id-expiry-s", o.InstanceIDExpirySeconds,
		"How long an instance id may stay allocated awaiting a response, in seconds.")
	fs.IntVar(&o.UAT2Seconds, "pldm.ua-t2-s", o.UAT2Seconds,
		"UA_T2 transfer-stage watchdog: how long to wait for RequestFirmwareData before failing a component.")
	fs.BoolVar(&o.ProceedOnMayBeUpdateable, "pldm.proceed-on-may-be-updateable", o.ProceedOnMayBeUpdateable,
		"Treat a MayBeUpdateable PassComponentTable/UpdateComponent response as an acceptance.")
	fs.BoolVar(&o.HonorSelfContainedActivation, "pldm.honor-self-contained-activation", o.HonorSelfContainedActivation,
		"Set ActivateFirmware.self_contained when the FD's requested activation methods include self-contained activation.")
}

// Validate checks the DSP0267 RequestUpdate field minimums this Options
// feeds into. It never mutates o.
func (o *Options) Validate() []error {
	var errs []error
	if o.MaxTransferSize < 64 {
		errs = append(errs, fmt.Errorf("config: max-transfer-size must be >= 64, got %d", o.MaxTransferSize))
	}
	if o.RequestRetries < 0 {
		errs = append(errs, fmt.Errorf("config: request-retries must be >= 0, got %d", o.RequestRetries))
	}
	if o.ResponseTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("config: response-timeout-ms must be > 0, got %d", o.ResponseTimeoutMS))
	}
	if o.InstanceIDExpirySeconds <= 0 {
		errs = append(errs, fmt.Errorf("config: instance-id-expiry-s must be > 0, got %d", o.InstanceIDExpirySeconds))
	}
	if o.UAT2Seconds <= 0 {
		errs = append(errs, fmt.Errorf("config: ua-t2-s must be > 0, got %d", o.UAT2Seconds))
	}
	return errs
}

// RequesterOptions projects the retry/timeout knobs into requester.Options.
func (o *Options) RequesterOptions() requester.Options {
	return requester.Options{
		Retries:          o.RequestRetries,
		ResponseTimeout:  time.Duration(o.ResponseTimeoutMS) * time.Millisecond,
		InstanceIDExpiry: time.Duration(o.InstanceIDExpirySeconds) * time.Second,
	}
}

// DeviceUpdaterOptions projects the watchdog/policy knobs into
// deviceupdater.Options.
func (o *Options) DeviceUpdaterOptions() deviceupdater.Options {
	return deviceupdater.Options{
		UAT2:                         time.Duration(o.UAT2Seconds) * time.Second,
		ProceedOnMayBeUpdateable:     o.ProceedOnMayBeUpdateable,
		HonorSelfContainedActivation: o.HonorSelfContainedActivation,
	}
}
