package updatemanager

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cloupeer.io/pldmfwupdate/internal/pkg/metrics"
	"cloupeer.io/pldmfwupdate/internal/pldm/deviceupdater"
	"cloupeer.io/pldmfwupdate/internal/pldm/loop"
	"cloupeer.io/pldmfwupdate/internal/pldm/match"
	"cloupeer.io/pldmfwupdate/internal/pldm/pkgparser"
	"cloupeer.io/pldmfwupdate/internal/pldm/requester"
	"cloupeer.io/pldmfwupdate/internal/pldm/wire"
	"cloupeer.io/pldmfwupdate/pkg/pldmlog"
)

// Manager is the single in-flight update session coordinator.
// Session-mutating methods (AcceptPackage, Activate, Cancel,
// OnMessage) must only be called from the same event-loop goroutine that
// drives the Bus and every DeviceUpdater it constructs, exactly like
// requester.Bus itself. Progress, Phase, and Surface take their own lock
// so an external object-directory adapter may poll them from any
// goroutine.
type Manager struct {
	loop      *loop.Loop
	bus       *requester.Bus
	transport requester.Transport
	log       pldmlog.Logger

	duOpts          deviceupdater.Options
	maxTransferSize uint32

	mu sync.Mutex

	phase         ActivationPhase
	versionString string

	total     int
	completed int

	startTime time.Time

	pkg      *pkgparser.Package
	stream   *pkgparser.StreamReader
	updaters map[uint8]*deviceupdater.DeviceUpdater
	done     map[uint8]bool
}

// New constructs a Manager in phase NotReady. loop, bus, and transport
// must be the same instances shared by every collaborator in this
// session; maxTransferSize and duOpts are applied to every DeviceUpdater
// this Manager constructs.
func New(l *loop.Loop, bus *requester.Bus, transport requester.Transport, log pldmlog.Logger, duOpts deviceupdater.Options, maxTransferSize uint32) *Manager {
	return &Manager{
		loop:            l,
		bus:             bus,
		transport:       transport,
		log:             log,
		duOpts:          duOpts,
		maxTransferSize: maxTransferSize,
		phase:           PhaseNotReady,
	}
}

// AcceptPackage runs the package acceptance sequence:
// reject while Activating, clear a terminal session, parse, match against
// devices, and construct one DeviceUpdater per matching endpoint.
func (m *Manager) AcceptPackage(pkgBytes []byte, devices map[uint8]DeviceCapabilities) error {
	m.mu.Lock()
	phase := m.phase
	m.mu.Unlock()

	if phase == PhaseActivating {
		return ErrBusy
	}
	if phase == PhaseActive || phase == PhaseFailed || phase == PhaseInvalid {
		m.Clear()
	}

	pkg, err := pkgparser.Parse(pkgBytes)
	if err != nil {
		m.setPhase(PhaseInvalid)
		return fmt.Errorf("updatemanager: %w", err)
	}

	matchDevices := make([]match.Device, 0, len(devices))
	for endpoint, caps := range devices {
		matchDevices = append(matchDevices, match.Device{Endpoint: endpoint, Descriptors: caps.Descriptors})
	}
	associations := match.Match(pkg.FirmwareDeviceIDRecords, matchDevices)
	if len(associations) == 0 {
		m.setPhase(PhaseInvalid)
		return ErrNoMatchingDevice
	}

	stream := pkgparser.NewStreamReader(pkgBytes)
	updaters := make(map[uint8]*deviceupdater.DeviceUpdater, len(associations))
	total := 0
	for _, a := range associations {
		record := pkg.FirmwareDeviceIDRecords[a.RecordIndex]
		caps := devices[a.Endpoint]
		du := deviceupdater.New(
			a.Endpoint, m.loop, m.bus, m.transport, stream,
			record, pkg.ComponentImageInfos, caps.ComponentIndex,
			m.maxTransferSize, m, m.duOpts, m.log,
		)
		updaters[a.Endpoint] = du
		total += len(record.ApplicableComponents)
	}

	m.mu.Lock()
	m.pkg = pkg
	m.stream = stream
	m.updaters = updaters
	m.done = make(map[uint8]bool, len(updaters))
	m.total = total
	m.completed = 0
	m.versionString = pkg.VersionString
	m.phase = PhaseReady
	m.mu.Unlock()

	metrics.ActivationProgress.Set(0)
	m.log.Info("message-registry event", "event", "PackageAccepted", "devices", len(updaters), "total_components", total)
	return nil
}

// Activate transitions Ready -> Activating and starts every DeviceUpdater
// in this session.
func (m *Manager) Activate() error {
	m.mu.Lock()
	if m.phase != PhaseReady {
		phase := m.phase
		m.mu.Unlock()
		return fmt.Errorf("updatemanager: cannot activate from phase %q", phase)
	}
	m.startTime = time.Now()
	m.phase = PhaseActivating
	updaters := make([]*deviceupdater.DeviceUpdater, 0, len(m.updaters))
	for _, du := range m.updaters {
		updaters = append(updaters, du)
	}
	m.mu.Unlock()

	for _, du := range updaters {
		if err := du.Start(); err != nil {
			m.log.Warn("failed to start device updater", "endpoint", du.Endpoint(), "err", err)
		}
	}
	return nil
}

// Cancel tears down every DeviceUpdater in an Activating session:
// in-flight instance ids are left to expire
// through the RequesterBus's own timers rather than forced. Each
// updater's teardown is independent, so it fans out through errgroup
// rather than a sequential loop.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	if m.phase != PhaseActivating {
		phase := m.phase
		m.mu.Unlock()
		return fmt.Errorf("updatemanager: cannot cancel from phase %q", phase)
	}
	updaters := make([]*deviceupdater.DeviceUpdater, 0, len(m.updaters))
	for _, du := range m.updaters {
		updaters = append(updaters, du)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, du := range updaters {
		du := du
		g.Go(func() error {
			du.Cancel()
			return nil
		})
	}
	_ = g.Wait()

	m.Clear()
	return nil
}

// Clear returns the Manager to PhaseNotReady, discarding the current
// session.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

func (m *Manager) clearLocked() {
	m.pkg = nil
	m.stream = nil
	m.updaters = nil
	m.done = nil
	m.total = 0
	m.completed = 0
	m.versionString = ""
	m.phase = PhaseNotReady
	metrics.ActivationProgress.Set(0)
}

func (m *Manager) setPhase(p ActivationPhase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
}

// OnMessage is the transport's single inbound entry point: it dispatches
// a response-typed message to the RequesterBus, and a request-typed
// message to the DeviceUpdater for its endpoint. A request for an
// unknown endpoint, or any command other
// than RequestFirmwareData/TransferComplete/VerifyComplete/ApplyComplete,
// gets the standard PLDM_FWUP_COMMAND_NOT_EXPECTED completion code.
func (m *Manager) OnMessage(endpoint uint8, msg []byte) {
	h, err := wire.DecodeHeader(msg)
	if err != nil {
		m.log.Warn("dropping malformed inbound message", "endpoint", endpoint, "err", err)
		return
	}

	if !h.Request {
		m.bus.OnResponse(endpoint, msg)
		return
	}

	m.mu.Lock()
	du, ok := m.updaters[endpoint]
	m.mu.Unlock()
	if !ok {
		m.replyCommandNotExpected(endpoint, h)
		return
	}

	switch h.Command {
	case wire.CmdRequestFirmwareData:
		du.HandleRequestFirmwareData(msg)
	case wire.CmdTransferComplete:
		du.HandleTransferComplete(msg)
	case wire.CmdVerifyComplete:
		du.HandleVerifyComplete(msg)
	case wire.CmdApplyComplete:
		du.HandleApplyComplete(msg)
	default:
		m.replyCommandNotExpected(endpoint, h)
	}
}

func (m *Manager) replyCommandNotExpected(endpoint uint8, h wire.Header) {
	msg := make([]byte, wire.HeaderLength+1)
	if err := wire.EncodeHeader(wire.Header{InstanceID: h.InstanceID, Type: h.Type, Command: h.Command}, msg); err != nil {
		m.log.Error(err, "failed to encode command-not-expected response")
		return
	}
	msg[wire.HeaderLength] = uint8(wire.CcCommandNotExpected)
	if err := m.transport.Send(endpoint, msg); err != nil {
		m.log.Error(err, "failed to send command-not-expected response", "endpoint", endpoint)
	}
}

// ProgressTick implements deviceupdater.ManagerCallback. It is called
// once per successful ApplyComplete, across every DeviceUpdater in the
// session.
func (m *Manager) ProgressTick() {
	m.mu.Lock()
	m.completed++
	p := m.progressLocked()
	m.mu.Unlock()
	metrics.ActivationProgress.Set(float64(p))
}

// DeviceFinished implements deviceupdater.ManagerCallback. Once every
// DeviceUpdater in the session has reported in, the session transitions
// to Active (all succeeded) or Failed (any failed) and the elapsed time
// since Activate is logged.
func (m *Manager) DeviceFinished(endpoint uint8, ok bool) {
	m.mu.Lock()
	if m.done == nil {
		m.mu.Unlock()
		return
	}
	m.done[endpoint] = ok

	finished := len(m.done) == len(m.updaters)
	var elapsed time.Duration
	if finished {
		allOK := true
		for _, v := range m.done {
			if !v {
				allOK = false
				break
			}
		}
		if allOK {
			m.phase = PhaseActive
		} else {
			m.phase = PhaseFailed
		}
		elapsed = time.Since(m.startTime)
	}
	m.mu.Unlock()

	if finished {
		m.log.Info("activation finished", "elapsed_ms", elapsed.Milliseconds())
	}
}

// progressLocked computes floor(100*completed/total), clamped to [0,100].
// Callers must hold m.mu.
func (m *Manager) progressLocked() int {
	if m.total <= 0 {
		return 0
	}
	p := 100 * m.completed / m.total
	if p > 100 {
		p = 100
	}
	return p
}

// Progress reports the current activation progress, 0-100.
func (m *Manager) Progress() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progressLocked()
}

// Phase reports the current activation phase.
func (m *Manager) Phase() ActivationPhase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Surface returns the pure snapshot an external object-directory adapter
// mirrors.
func (m *Manager) Surface() ActivationSurface {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ActivationSurface{
		Phase:         m.phase,
		Progress:      m.progressLocked(),
		VersionString: m.versionString,
	}
}
