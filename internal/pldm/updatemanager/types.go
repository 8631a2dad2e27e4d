// Package updatemanager implements the top-level PLDM firmware-update
// coordinator: package lifecycle, the activation phase machine, progress
// aggregation across every matched device, and inbound request dispatch
// by endpoint. ActivationSurface is the pure read-only projection an
// external object-directory adapter polls.
package updatemanager

import (
	"cloupeer.io/pldmfwupdate/internal/pldm/deviceupdater"
	"cloupeer.io/pldmfwupdate/internal/pldm/pkgparser"
)

// ActivationPhase is the activation lifecycle state:
// NotReady -> Ready -> Activating -> {Active | Failed | Invalid}.
type ActivationPhase string

const (
	PhaseNotReady   ActivationPhase = "not_ready"
	PhaseReady      ActivationPhase = "ready"
	PhaseActivating ActivationPhase = "activating"
	PhaseActive     ActivationPhase = "active"
	PhaseFailed     ActivationPhase = "failed"
	PhaseInvalid    ActivationPhase = "invalid"
)

// DeviceCapabilities is everything a discovered device contributes at
// match time: the descriptor set DescriptorMatcher compares against each
// FDR, and the ComponentKey -> classification-index mapping the device
// reported, which DeviceUpdater must echo back in PassComponentTable and
// UpdateComponent.
type DeviceCapabilities struct {
	Descriptors    pkgparser.DescriptorSet
	ComponentIndex deviceupdater.ComponentInfo
}

// ActivationSurface is the pure, outward-facing session snapshot: no
// logic, just the fields an external object-directory adapter mirrors.
type ActivationSurface struct {
	Phase         ActivationPhase
	Progress      int
	VersionString string
}
