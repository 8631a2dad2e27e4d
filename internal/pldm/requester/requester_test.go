package requester

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cloupeer.io/pldmfwupdate/internal/pldm/loop"
	"cloupeer.io/pldmfwupdate/internal/pldm/wire"
	"cloupeer.io/pldmfwupdate/pkg/pldmlog"
)

type fakeTransport struct {
	mu    sync.Mutex
	sends [][]byte
	fail  bool
}

func (f *fakeTransport) Send(endpoint uint8, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errFakeSendFailure
	}
	f.sends = append(f.sends, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

var errFakeSendFailure = &fakeSendError{}

type fakeSendError struct{}

func (*fakeSendError) Error() string { return "fake transport failure" }

func newTestBus(t *testing.T, opts Options) (*Bus, *fakeTransport, *loop.Loop) {
	t.Helper()
	l := loop.New()
	go l.Run()
	t.Cleanup(l.Stop)

	tr := &fakeTransport{}
	bus := New(l, tr, pldmlog.NewNopLogger(), opts)
	return bus, tr, l
}

func TestSendAndReceiveResponse(t *testing.T) {
	bus, tr, l := newTestBus(t, Options{InstanceIDExpiry: time.Second, ResponseTimeout: 50 * time.Millisecond})

	responses := make(chan Response, 1)
	l.Defer(func() {
		err := bus.Send(7, wire.TypeFirmwareUpdate, wire.CmdRequestUpdate, []byte{1, 2, 3}, func(r Response) {
			responses <- r
		})
		require.NoError(t, err)
	})

	require.Eventually(t, func() bool { return tr.sendCount() == 1 }, time.Second, 5*time.Millisecond)

	sent := tr.sends[0]
	h, err := wire.DecodeHeader(sent)
	require.NoError(t, err)

	respMsg := make([]byte, wire.HeaderLength)
	require.NoError(t, wire.EncodeHeader(wire.Header{
		Request:    false,
		InstanceID: h.InstanceID,
		Type:       h.Type,
		Command:    h.Command,
	}, respMsg))

	l.Defer(func() { bus.OnResponse(7, respMsg) })

	select {
	case r := <-responses:
		require.NotNil(t, r.Message)
	case <-time.After(time.Second):
		t.Fatal("response callback never fired")
	}
}

func TestInstanceIDExpiryInvokesCallbackOnce(t *testing.T) {
	bus, _, l := newTestBus(t, Options{InstanceIDExpiry: 20 * time.Millisecond, ResponseTimeout: 5 * time.Millisecond, Retries: 0})

	var callCount int
	var mu sync.Mutex
	done := make(chan struct{})

	var sentHeader wire.Header
	l.Defer(func() {
		err := bus.Send(3, wire.TypeFirmwareUpdate, wire.CmdRequestUpdate, nil, func(r Response) {
			mu.Lock()
			callCount++
			mu.Unlock()
			close(done)
		})
		require.NoError(t, err)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expiry callback never fired")
	}

	// A late response arriving after expiry must not invoke the callback
	// a second time.
	l.Defer(func() {
		msg := make([]byte, wire.HeaderLength)
		wire.EncodeHeader(wire.Header{InstanceID: 0, Type: wire.TypeFirmwareUpdate, Command: wire.CmdRequestUpdate}, msg)
		bus.OnResponse(3, msg)
		_ = sentHeader
	})

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, callCount)
}

func TestLiveCountNeverExceeds32(t *testing.T) {
	bus, _, l := newTestBus(t, Options{InstanceIDExpiry: time.Second, ResponseTimeout: time.Second})

	done := make(chan struct{})
	l.Defer(func() {
		defer close(done)
		for i := 0; i < 40; i++ {
			_ = bus.Send(1, wire.TypeFirmwareUpdate, wire.CmdRequestUpdate, nil, func(Response) {})
		}
		require.LessOrEqual(t, bus.LiveCount(1), 32)
	})
	<-done
}

func TestSendFailsWhenTransportErrors(t *testing.T) {
	bus, tr, l := newTestBus(t, Options{InstanceIDExpiry: time.Second, ResponseTimeout: time.Second})
	tr.fail = true

	errCh := make(chan error, 1)
	l.Defer(func() {
		errCh <- bus.Send(1, wire.TypeFirmwareUpdate, wire.CmdRequestUpdate, nil, func(Response) {})
	})

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrTransport)
	case <-time.After(time.Second):
		t.Fatal("send never returned")
	}
}
