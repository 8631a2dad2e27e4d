package updatemanager

import "errors"

// Errors returned by Manager's public entry points. A package that fails
// to parse moves the session to PhaseInvalid and AcceptPackage returns the
// parser's error wrapped. Protocol, transport, rejection, and timeout
// failures happen after AcceptPackage has returned; they are surfaced as a
// per-device failure rather than as a Go error.
var (
	// ErrBusy is returned by AcceptPackage when a package is submitted
	// while the current session is Activating.
	ErrBusy = errors.New("updatemanager: activation already in progress")

	// ErrNoMatchingDevice is returned by AcceptPackage when the package
	// parses cleanly but matches none of the supplied devices.
	ErrNoMatchingDevice = errors.New("updatemanager: package matches no discovered device")
)
