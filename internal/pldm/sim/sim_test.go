package sim_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cloupeer.io/pldmfwupdate/internal/pldm/deviceupdater"
	"cloupeer.io/pldmfwupdate/internal/pldm/loop"
	"cloupeer.io/pldmfwupdate/internal/pldm/pkgparser"
	"cloupeer.io/pldmfwupdate/internal/pldm/requester"
	"cloupeer.io/pldmfwupdate/internal/pldm/sim"
	"cloupeer.io/pldmfwupdate/internal/pldm/updatemanager"
	"cloupeer.io/pldmfwupdate/pkg/pldmlog"
)

func TestBuildDemoPackageParses(t *testing.T) {
	pkg, err := pkgparser.Parse(sim.BuildDemoPackage())
	require.NoError(t, err)

	require.Equal(t, uint8(3), pkg.FormatRevision)
	require.Equal(t, "demo-pkg-1.0", pkg.VersionString)
	require.Len(t, pkg.FirmwareDeviceIDRecords, 1)
	require.Empty(t, pkg.DownstreamDeviceIDRecords)
	require.Len(t, pkg.ComponentImageInfos, 2)

	rec := pkg.FirmwareDeviceIDRecords[0]
	require.Equal(t, pkgparser.ApplicableComponents{0, 1}, rec.ApplicableComponents)
	require.Equal(t, sim.DemoUUID, rec.Descriptors[pkgparser.DescriptorTypeUUID].Data)

	require.Equal(t, uint32(8*1024), pkg.ComponentImageInfos[0].Size)
	require.Equal(t, uint32(16*1024), pkg.ComponentImageInfos[1].Size)
}

func TestBuildPackageRejectsCorruptedChecksum(t *testing.T) {
	pkg := sim.BuildDemoPackage()
	pkg[len(pkg)-1] ^= 0xFF

	_, err := pkgparser.Parse(pkg)
	require.ErrorIs(t, err, pkgparser.ErrInvalidPackage)
}

func TestBuildPackageRequiresUUID(t *testing.T) {
	_, err := sim.BuildPackage(sim.PackageSpec{UUID: []byte{1, 2, 3}})
	require.Error(t, err)
}

// TestDeviceCompletesActivation wires the simulated device to a real
// UpdateManager and drives the demo package to Active, the same path the
// pldm-fwupdate command exercises.
func TestDeviceCompletesActivation(t *testing.T) {
	const endpoint uint8 = 20

	l := loop.New()
	go l.Run()
	t.Cleanup(l.Stop)

	log := pldmlog.NewNopLogger()
	device := sim.NewDevice(endpoint, l, log, 512)
	bus := requester.New(l, device, log, requester.Options{
		Retries: 2, ResponseTimeout: 50 * time.Millisecond, InstanceIDExpiry: 2 * time.Second,
	})
	mgr := updatemanager.New(l, bus, device, log, deviceupdater.Options{UAT2: 2 * time.Second}, 512)
	device.Attach(mgr)

	pkgBytes := sim.BuildDemoPackage()
	parsed, err := pkgparser.Parse(pkgBytes)
	require.NoError(t, err)

	caps := updatemanager.DeviceCapabilities{
		Descriptors:    parsed.FirmwareDeviceIDRecords[0].Descriptors,
		ComponentIndex: make(deviceupdater.ComponentInfo),
	}
	for i, c := range parsed.ComponentImageInfos {
		caps.ComponentIndex[pkgparser.ComponentKey{Classification: c.Classification, Identifier: c.Identifier}] = uint8(i)
	}

	errCh := make(chan error, 1)
	l.Defer(func() {
		errCh <- mgr.AcceptPackage(pkgBytes, map[uint8]updatemanager.DeviceCapabilities{endpoint: caps})
	})
	require.NoError(t, <-errCh)

	l.Defer(func() { errCh <- mgr.Activate() })
	require.NoError(t, <-errCh)

	select {
	case <-device.Activated():
	case <-time.After(5 * time.Second):
		t.Fatal("device was never activated")
	}

	require.Eventually(t, func() bool { return mgr.Phase() == updatemanager.PhaseActive }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 100, mgr.Progress())
	require.Equal(t, "demo-pkg-1.0", mgr.Surface().VersionString)
}
