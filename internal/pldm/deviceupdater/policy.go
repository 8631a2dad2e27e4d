package deviceupdater

import "cloupeer.io/pldmfwupdate/internal/pldm/wire"

// activationMethodSelfContained is the bit in a component's requested
// activation methods that this core treats as "self-contained". It is not
// applied to update option flags or component options: UpdateComponent
// carries the FD record's update option flags unchanged.
const activationMethodSelfContained = 1 << 1

// shouldProceedOnMayBeUpdateable decides whether a MayBeUpdateable
// PassComponentTable response should be treated as an acceptance for this
// session.
func shouldProceedOnMayBeUpdateable(proceed bool) bool {
	return proceed
}

// shouldRequestSelfContainedActivation decides the value of
// ActivateFirmwareRequest.SelfContainedActivationRequest for a given
// component's requested activation methods.
func shouldRequestSelfContainedActivation(honor bool, requestedMethods uint16) bool {
	if !honor {
		return false
	}
	return requestedMethods&activationMethodSelfContained != 0
}

// completionCodeOK reports whether a completion code represents success.
func completionCodeOK(cc wire.CompletionCode) bool {
	return cc == wire.CcSuccess
}
