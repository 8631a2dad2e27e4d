// Package deviceupdater drives the DSP0267 update exchange for one device
// using one firmware device identification record, for the subset of
// component images the record marks applicable.
package deviceupdater

import (
	"time"

	"cloupeer.io/pldmfwupdate/internal/pldm/pkgparser"
	"cloupeer.io/pldmfwupdate/internal/pldm/wire"
)

// baselineTransferSize aliases the DSP0267 minimum RequestFirmwareData
// length the wire codec defines.
const baselineTransferSize = wire.BaselineTransferSize

// ManagerCallback is the narrow, non-owning handle a DeviceUpdater uses to
// notify its owner. It deliberately exposes nothing else: no back
// reference to the UpdateManager, no shared mutable session state.
type ManagerCallback interface {
	// ProgressTick is called once per successful ApplyComplete.
	ProgressTick()

	// DeviceFinished is called exactly once, when this updater reaches a
	// terminal state.
	DeviceFinished(endpoint uint8, ok bool)
}

// ComponentKey identifies a component independent of its index in the
// package, for looking up the device-reported classification index that
// must accompany PassComponentTable and UpdateComponent for it.
type ComponentKey = pkgparser.ComponentKey

// ComponentInfo maps each applicable component to the classification
// index the device reported it under at discovery.
type ComponentInfo map[ComponentKey]uint8

// Options configures the per-device watchdog and the policy decisions
// left open by the protocol.
type Options struct {
	// UA_T2 bounds how long a component may sit in the Transferring
	// state without an inbound RequestFirmwareData before this updater
	// gives up on it.
	UAT2 time.Duration

	// ProceedOnMayBeUpdateable governs whether a PassComponentTable
	// response of MayBeUpdateable is treated as an acceptance. Off by
	// default: absent an explicit opt-in, this core does not proceed.
	ProceedOnMayBeUpdateable bool

	// HonorSelfContainedActivation, when true, sets the
	// self_contained_activation_request flag on ActivateFirmware whenever
	// the FD's requested activation methods include self-contained
	// activation.
	HonorSelfContainedActivation bool
}

func (o Options) withDefaults() Options {
	if o.UAT2 == 0 {
		o.UAT2 = 60 * time.Second
	}
	return o
}
