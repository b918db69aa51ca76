// Package uplink is the facade: a Host wraps configuration, the mesh
// core (bridge.NetworkController), and its lifecycle (statemachine.Machine)
// behind a small public API (Configure/Start/Stop/Send/Subscribe),
// dispatching ten observer callbacks through a single registry.
package uplink

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hypelabs/uplink-go/bridge"
	"github.com/hypelabs/uplink-go/config"
	"github.com/hypelabs/uplink-go/executor"
	"github.com/hypelabs/uplink-go/logging"
	"github.com/hypelabs/uplink-go/statemachine"
)

// Observer is the full set of lifecycle and mesh-event callbacks a
// subscriber implements as one interface.
type Observer interface {
	OnStarted()
	OnStopped(err error)
	OnFailedStart(err error)
	OnReady()
	OnInstanceFound(instance bridge.Instance)
	OnInstanceLost(instance bridge.Instance, err error)
	OnMessageReceived(payload []byte, source bridge.Instance)
	OnMessageSent(info bridge.MessageInfo, destination bridge.Instance, progress float32, done bool)
	OnMessageDelivered(info bridge.MessageInfo, destination bridge.Instance, progress float32, done bool)
	OnMessageFailedSending(info bridge.MessageInfo, destination bridge.Instance, err error)
}

// observerRegistry guards the subscriber list with its own mutex;
// dispatch always happens against a snapshot taken outside that lock, so
// an observer calling back into Subscribe/Send from its own callback
// cannot deadlock against the registry.
type observerRegistry struct {
	mu        sync.Mutex
	observers []Observer
}

func (r *observerRegistry) subscribe(o Observer) {
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

func (r *observerRegistry) clear() {
	r.mu.Lock()
	r.observers = nil
	r.mu.Unlock()
}

func (r *observerRegistry) snapshot() []Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Observer, len(r.observers))
	copy(out, r.observers)
	return out
}

// Host is one bridge instance: its configuration, its lifecycle, and the
// mesh core once started. The zero value is not usable; construct with
// NewHost.
type Host struct {
	transport bridge.DeviceTransport
	log       logging.Logger

	cfg config.HostConfig

	registry observerRegistry
	machine  *statemachine.Machine
	exec     *executor.Executor

	mu       sync.Mutex
	instance bridge.Instance
	network  *bridge.NetworkController
}

// NewHost returns an unconfigured, unstarted Host driving transport. log
// may be nil, in which case a logging.NopLogger is used.
func NewHost(transport bridge.DeviceTransport, log logging.Logger) *Host {
	if log == nil {
		log = logging.NopLogger{}
	}
	h := &Host{
		transport: transport,
		log:       log,
		exec:      executor.New(4),
	}
	h.machine = statemachine.New(hostEntity{h}, statemachine.Callbacks{
		OnStart:       h.notifyStarted,
		OnStop:        h.notifyStopped,
		OnFailedStart: h.notifyFailedStart,
	})
	return h
}

// hostEntity adapts Host's Start/Stop work onto the statemachine's
// Entity contract, running each on the Host's own executor so the calls
// the machine makes (from Start()/Stop(), after releasing its lock) never
// block waiting for mesh setup or teardown.
type hostEntity struct{ h *Host }

func (e hostEntity) Start() { e.h.exec.Spawn(e.h.doStart) }
func (e hostEntity) Stop()  { e.h.exec.Spawn(e.h.doStop) }

// Configure installs the host's identity and options. It may be called
// only once; a second call returns config.ErrAlreadyConfigured.
func (h *Host) Configure(appIdentifierHex string, context interface{}, ackTimeout time.Duration) error {
	return h.cfg.Configure(appIdentifierHex, context, ackTimeout)
}

// Start requests the host move toward Running. Non-blocking: completion
// is reported to subscribed observers via OnStarted or OnFailedStart.
func (h *Host) Start() {
	h.machine.Start()
}

// Stop requests the host move toward Idle. Non-blocking; completion is
// reported via OnStopped.
func (h *Host) Stop() {
	h.machine.Stop()
}

// Send queues an application payload for destination. It fails fast with
// bridge.ErrNotConnected if the host is not currently running.
func (h *Host) Send(payload []byte, destination bridge.Instance, wantAck bool) (bridge.MessageInfo, error) {
	h.mu.Lock()
	n := h.network
	h.mu.Unlock()
	if n == nil {
		return bridge.MessageInfo{}, bridge.Errorf(bridge.ErrNotConnected, "uplink: host is not running")
	}
	return n.Send(payload, destination, wantAck), nil
}

// Subscribe registers o to receive every observer callback from here on.
// There is no per-observer unsubscribe: spec's cooperative stop()
// unregisters every subscriber at once, matching "observer registries
// guarded by mutex, notifications dispatched outside the lock."
func (h *Host) Subscribe(o Observer) {
	h.registry.subscribe(o)
}

// Instance returns the host's own mesh identity. Only meaningful once
// Start has completed; returns the zero Instance beforehand.
func (h *Host) Instance() bridge.Instance {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.instance
}

// DeviceConnected reports that the platform transport adapter has
// established a stream pair to device (inbound discovery, outbound
// connect, it makes no difference here), handing the pair to the mesh
// core for handshake and route exchange. Not one of spec's five public
// entry points: it is the seam the DeviceTransport side of the system
// (out of this package's scope) drives whenever it completes a
// connection, since the BLE radio/discovery layer itself is external.
func (h *Host) DeviceConnected(device bridge.DeviceID, in bridge.InputStream, out bridge.OutputStream) error {
	h.mu.Lock()
	n := h.network
	h.mu.Unlock()
	if n == nil {
		return bridge.Errorf(bridge.ErrNotConnected, "uplink: host is not running")
	}
	n.DeviceConnected(device, in, out)
	return nil
}

// RoutingTable exposes the running mesh core's routing table for
// read-only inspection (e.g. diagnostics, cmd/uplinkdemo's walkthrough
// narration). Returns nil if the host is not currently running.
func (h *Host) RoutingTable() *bridge.RoutingTable {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.network == nil {
		return nil
	}
	return h.network.RoutingTable()
}

// NotifyAdapterReady reports a platform transport readiness signal
// (e.g. the radio turning on), independent of the Start/Stop lifecycle.
// It simply fans out to OnReady.
func (h *Host) NotifyAdapterReady() {
	for _, o := range h.registry.snapshot() {
		o.OnReady()
	}
}

// NotifyAdapterFailure reports an adapter-level failure from the
// embedding platform's transport adapter. Per spec's error propagation
// policy, it surfaces as OnFailedStart while starting or OnStopped(err)
// while running, and in both cases settles the state machine in Idle so
// a later readiness signal can restart it. Outside those two states
// there is nothing in flight to fail.
func (h *Host) NotifyAdapterFailure(err error) {
	switch h.machine.State() {
	case statemachine.Starting:
		h.machine.NotifyFailedStart(err)
	case statemachine.Running:
		h.machine.NotifyStopped(err)
	}
}

// Close releases the Host's own executor goroutine. Not part of spec's
// five-entry API; callers that construct a Host for the lifetime of a
// test or a short-lived process should defer it to avoid leaking that
// goroutine.
func (h *Host) Close() {
	h.exec.Close()
}

func (h *Host) doStart() {
	if !h.cfg.Configured() {
		h.machine.NotifyFailedStart(bridge.Errorf(bridge.ErrUnknown, "uplink: Configure must be called before Start"))
		return
	}

	inst, err := bridge.NewLocalInstance(h.cfg.AppIdentifier)
	if err != nil {
		h.machine.NotifyFailedStart(bridge.WrapError(bridge.ErrUnknown, err))
		return
	}

	network := bridge.NewNetworkController(h.transport, bridge.NetworkConfig{
		Host:       inst,
		AckTimeout: h.cfg.AckTimeout,
		Delegate:   h,
		Log:        h.log,
	})

	h.mu.Lock()
	h.instance = inst
	h.network = network
	h.mu.Unlock()

	network.Start()
	h.machine.NotifyStarted()
}

func (h *Host) doStop() {
	h.mu.Lock()
	n := h.network
	h.network = nil
	h.mu.Unlock()

	if n != nil {
		n.Stop()
	}
	h.machine.NotifyStopped(nil)
	h.registry.clear()
}

func (h *Host) notifyStarted() {
	for _, o := range h.registry.snapshot() {
		o.OnStarted()
	}
}

func (h *Host) notifyStopped(err error) {
	for _, o := range h.registry.snapshot() {
		o.OnStopped(err)
	}
}

func (h *Host) notifyFailedStart(err error) {
	for _, o := range h.registry.snapshot() {
		o.OnFailedStart(err)
	}
}

// --- bridge.NetworkDelegate ---

func (h *Host) OnInstanceFound(instance bridge.Instance) {
	for _, o := range h.registry.snapshot() {
		o.OnInstanceFound(instance)
	}
}

func (h *Host) OnInstanceLost(instance bridge.Instance, err error) {
	for _, o := range h.registry.snapshot() {
		o.OnInstanceLost(instance, err)
	}
}

func (h *Host) OnMessageReceived(payload []byte, source bridge.Instance) {
	for _, o := range h.registry.snapshot() {
		o.OnMessageReceived(payload, source)
	}
}

func (h *Host) OnMessageSent(info bridge.MessageInfo, destination bridge.Instance, progress float32, done bool) {
	for _, o := range h.registry.snapshot() {
		o.OnMessageSent(info, destination, progress, done)
	}
}

func (h *Host) OnMessageDelivered(info bridge.MessageInfo, destination bridge.Instance, progress float32, done bool) {
	for _, o := range h.registry.snapshot() {
		o.OnMessageDelivered(info, destination, progress, done)
	}
}

func (h *Host) OnMessageFailedSending(info bridge.MessageInfo, destination bridge.Instance, err error) {
	for _, o := range h.registry.snapshot() {
		o.OnMessageFailedSending(info, destination, err)
	}
}

var _ bridge.NetworkDelegate = (*Host)(nil)

// --- package-level singleton ---

var current atomic.Pointer[Host]

// SetHost installs h as the process-wide Host singleton. Per spec, this
// is set-once with compare-and-swap: a duplicate call is a no-op and
// reports false, leaving the first-installed Host in place.
func SetHost(h *Host) bool {
	return current.CompareAndSwap(nil, h)
}

// CurrentHost returns the singleton installed by SetHost, if any.
func CurrentHost() (*Host, bool) {
	h := current.Load()
	return h, h != nil
}
