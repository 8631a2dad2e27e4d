// Package requester implements the in-flight PLDM request registry: per
// endpoint instance-id allocation, retry pacing, instance-id expiry, and
// response dispatch keyed by (endpoint, instance id, type, command).
package requester

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"cloupeer.io/pldmfwupdate/internal/pldm/loop"
	"cloupeer.io/pldmfwupdate/internal/pldm/wire"
	"cloupeer.io/pldmfwupdate/internal/pkg/metrics"
	"cloupeer.io/pldmfwupdate/pkg/pldmlog"
)

// Errors returned by Send.
var (
	ErrTooManyResources = errors.New("requester: no free instance id for endpoint")
	ErrTransport         = errors.New("requester: transport send failed")
)

// Transport is the external collaborator that actually puts bytes on the
// wire. This core never frames or addresses MCTP itself.
type Transport interface {
	Send(endpoint uint8, data []byte) error
}

// Response is what a completed request resolves to: either a decoded
// response message, or nothing at all when the instance id expired
// without a reply.
type Response struct {
	// Message is nil when the request timed out.
	Message []byte
}

// Options configures retry pacing and instance-id lifetime. Zero values
// are replaced by the documented defaults.
type Options struct {
	Retries            int
	ResponseTimeout     time.Duration
	InstanceIDExpiry    time.Duration
}

func (o Options) withDefaults() Options {
	if o.Retries == 0 {
		o.Retries = 2
	}
	if o.ResponseTimeout == 0 {
		o.ResponseTimeout = 100 * time.Millisecond
	}
	if o.InstanceIDExpiry == 0 {
		o.InstanceIDExpiry = 5 * time.Second
	}
	return o
}

type requestKey struct {
	endpoint   uint8
	instanceID uint8
	pldmType   uint8
	command    uint8
}

type inFlight struct {
	key        requestKey
	body       []byte
	onResponse func(Response)
	retriesLeft int
	backoff     backoff.BackOff
	expiry      *loop.Timer
	retryTimer  *loop.Timer
	done        bool
}

// Bus is the requester-side instance-id pool and response dispatcher for
// every endpoint this core talks to. It must only be used from the event
// loop goroutine it was constructed with.
type Bus struct {
	loop      *loop.Loop
	transport Transport
	log       pldmlog.Logger
	opts      Options

	// pool is a per-endpoint bitmap of allocated instance ids, bit i set
	// means instance id i is currently in flight for that endpoint.
	pool map[uint8]uint32

	inflight map[requestKey]*inFlight
}

// New constructs a Bus. loop must be the same Loop that drives every
// DeviceUpdater and UpdateManager callback in this session.
func New(l *loop.Loop, transport Transport, log pldmlog.Logger, opts Options) *Bus {
	return &Bus{
		loop:      l,
		transport: transport,
		log:       log,
		opts:      opts.withDefaults(),
		pool:      make(map[uint8]uint32),
		inflight:  make(map[requestKey]*inFlight),
	}
}

// Send issues a request with a freshly allocated instance id. onResponse
// is invoked exactly once, either with a decoded response or, on timeout,
// with a zero Response whose Message is nil. It is always called on the
// loop goroutine.
func (b *Bus) Send(endpoint, pldmType, command uint8, body []byte, onResponse func(Response)) error {
	instanceID, ok := b.allocate(endpoint)
	if !ok {
		return fmt.Errorf("%w: endpoint %d", ErrTooManyResources, endpoint)
	}

	key := requestKey{endpoint: endpoint, instanceID: instanceID, pldmType: pldmType, command: command}

	msg, err := buildRequest(instanceID, pldmType, command, body)
	if err != nil {
		b.free(endpoint, instanceID)
		return err
	}

	f := &inFlight{
		key:         key,
		body:        msg,
		onResponse:  onResponse,
		retriesLeft: b.opts.Retries,
		backoff:     backoff.NewConstantBackOff(b.opts.ResponseTimeout),
	}
	b.inflight[key] = f

	if err := b.transport.Send(endpoint, msg); err != nil {
		delete(b.inflight, key)
		b.free(endpoint, instanceID)
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	metrics.InFlightRequests.WithLabelValues(fmt.Sprint(endpoint)).Inc()
	f.retryTimer = b.loop.After(b.opts.ResponseTimeout, func() { b.onRetryTimeout(key) })
	f.expiry = b.loop.After(b.opts.InstanceIDExpiry, func() { b.onExpiry(key) })

	return nil
}

// OnResponse routes an inbound response-typed message to its waiting
// caller. Unsolicited responses (no matching in-flight entry) are
// dropped: the instance id they reference is not ours to free twice.
func (b *Bus) OnResponse(endpoint uint8, msg []byte) {
	h, err := wire.DecodeHeader(msg)
	if err != nil {
		b.log.Warn("dropping response with invalid header", "endpoint", endpoint, "err", err)
		return
	}
	key := requestKey{endpoint: endpoint, instanceID: h.InstanceID, pldmType: h.Type, command: h.Command}

	f, ok := b.inflight[key]
	if !ok || f.done {
		return
	}
	b.complete(f, Response{Message: msg})
}

func (b *Bus) onRetryTimeout(key requestKey) {
	f, ok := b.inflight[key]
	if !ok || f.done {
		return
	}
	if f.retriesLeft <= 0 {
		return
	}
	f.retriesLeft--
	metrics.RetriesTotal.WithLabelValues(fmt.Sprint(key.command)).Inc()

	if err := b.transport.Send(key.endpoint, f.body); err != nil {
		b.log.Error(err, "retry send failed", "endpoint", key.endpoint, "command", key.command)
	}
	f.retryTimer = b.loop.After(f.backoff.NextBackOff(), func() { b.onRetryTimeout(key) })
}

func (b *Bus) onExpiry(key requestKey) {
	f, ok := b.inflight[key]
	if !ok || f.done {
		return
	}
	metrics.TimeoutsTotal.WithLabelValues(fmt.Sprint(key.endpoint), "instance_id_expiry").Inc()
	b.complete(f, Response{})
}

// complete finalizes f exactly once: it stops any pending timers, frees
// the instance id, removes the bookkeeping entry, and invokes the
// callback. Both the response path and the expiry path call this, and
// the f.done guard is what keeps a late response from double-invoking
// the callback after expiry already fired it.
func (b *Bus) complete(f *inFlight, resp Response) {
	if f.done {
		return
	}
	f.done = true

	if f.retryTimer != nil {
		f.retryTimer.Stop()
	}
	if f.expiry != nil {
		f.expiry.Stop()
	}

	delete(b.inflight, f.key)
	b.free(f.key.endpoint, f.key.instanceID)
	metrics.InFlightRequests.WithLabelValues(fmt.Sprint(f.key.endpoint)).Dec()

	f.onResponse(resp)
}

func (b *Bus) allocate(endpoint uint8) (uint8, bool) {
	mask := b.pool[endpoint]
	for i := uint8(0); i <= wire.MaxInstanceID; i++ {
		if mask&(1<<i) == 0 {
			b.pool[endpoint] = mask | (1 << i)
			return i, true
		}
	}
	return 0, false
}

func (b *Bus) free(endpoint, instanceID uint8) {
	b.pool[endpoint] &^= 1 << instanceID
}

// LiveCount reports the number of instance ids currently allocated for
// endpoint. Always <= 32.
func (b *Bus) LiveCount(endpoint uint8) int {
	mask := b.pool[endpoint]
	n := 0
	for mask != 0 {
		n += int(mask & 1)
		mask >>= 1
	}
	return n
}

func buildRequest(instanceID, pldmType, command uint8, body []byte) ([]byte, error) {
	msg := make([]byte, wire.HeaderLength+len(body))
	if err := wire.EncodeHeader(wire.Header{
		Request:    true,
		InstanceID: instanceID,
		Type:       pldmType,
		Command:    command,
	}, msg); err != nil {
		return nil, err
	}
	copy(msg[wire.HeaderLength:], body)
	return msg, nil
}
