package bridge

import (
	"sync"
	"time"

	"github.com/hypelabs/uplink-go/bridge/codec"
	"github.com/hypelabs/uplink-go/logging"
)

// NetworkDelegate is the set of mesh-event observer callbacks
// NetworkController drives: instance discovery/loss and message send/
// deliver/fail. The lifecycle callbacks (started/stopped/failed-start/
// ready) belong to the statemachine-driven uplink.Host instead.
type NetworkDelegate interface {
	OnInstanceFound(instance Instance)
	OnInstanceLost(instance Instance, err error)
	OnMessageReceived(payload []byte, source Instance)
	OnMessageSent(info MessageInfo, destination Instance, progress float32, done bool)
	OnMessageDelivered(info MessageInfo, destination Instance, progress float32, done bool)
	OnMessageFailedSending(info MessageInfo, destination Instance, err error)
}

// InternetHandler performs the out-of-band HTTP call a gateway peer makes
// on behalf of a relayed Internet request. It is an external collaborator:
// actually reaching the network is not this core's concern.
type InternetHandler func(url string, body []byte) (status uint16, responseBody []byte, err error)

// NetworkController is the integration point: handshake on stream open,
// route-update propagation with split horizon, application send/forward/
// deliver, ack correlation with timeout, and Internet relay.
type NetworkController struct {
	host     Instance
	hasInet  bool
	internet InternetHandler

	routing *RoutingTable
	io      *IoController
	seq     SequenceGen
	delegate NetworkDelegate
	log      logging.Logger

	ackTimeout time.Duration

	mu      sync.Mutex
	tickets map[uint32]*ticket

	pendingInternet map[uint32]Instance // seq -> gateway the request was sent toward, for in-flight gateway requests this host issued

	sweepStop chan struct{}
}

// NetworkConfig bundles a NetworkController's fixed configuration.
type NetworkConfig struct {
	Host             Instance
	HasInternet      bool
	InternetHandler  InternetHandler
	AckTimeout       time.Duration
	Delegate         NetworkDelegate
	Log              logging.Logger
}

// NewNetworkController builds a NetworkController bound to transport via
// a fresh IoController. Call Start to begin the ticket sweeper; the
// controller is otherwise ready to use immediately.
func NewNetworkController(transport DeviceTransport, cfg NetworkConfig) *NetworkController {
	if cfg.Log == nil {
		cfg.Log = logging.NopLogger{}
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 30 * time.Second
	}
	n := &NetworkController{
		host:            cfg.Host,
		hasInet:         cfg.HasInternet,
		internet:        cfg.InternetHandler,
		delegate:        cfg.Delegate,
		log:             cfg.Log,
		ackTimeout:      cfg.AckTimeout,
		tickets:         make(map[uint32]*ticket),
		pendingInternet: make(map[uint32]Instance),
	}
	n.routing = NewRoutingTable(n)
	n.io = NewIoController(transport, n, cfg.Log)
	return n
}

// Start begins the ticket-expiry sweeper, a ticker loop stopped by
// closing sweepStop.
func (n *NetworkController) Start() {
	n.mu.Lock()
	if n.sweepStop != nil {
		n.mu.Unlock()
		return
	}
	n.sweepStop = make(chan struct{})
	stop := n.sweepStop
	n.mu.Unlock()

	go n.sweepLoop(stop)
}

// Stop halts the sweeper and the underlying IoController cooperatively:
// in-flight writes are not aborted, but every pending acknowledgement
// ticket is failed immediately rather than left to time out on its own.
func (n *NetworkController) Stop() {
	n.mu.Lock()
	stop := n.sweepStop
	n.sweepStop = nil
	pending := n.tickets
	n.tickets = make(map[uint32]*ticket)
	n.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	n.io.Close()

	for _, tk := range pending {
		n.delegate.OnMessageFailedSending(tk.info, tk.info.Destination, Errorf(ErrNotConnected, "service stopping"))
	}
}

func (n *NetworkController) sweepLoop(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n.sweepExpiredTickets()
		}
	}
}

func (n *NetworkController) sweepExpiredTickets() {
	now := time.Now()
	var expired []*ticket

	n.mu.Lock()
	for seq, tk := range n.tickets {
		if now.After(tk.expiresAt) {
			expired = append(expired, tk)
			delete(n.tickets, seq)
		}
	}
	n.mu.Unlock()

	for _, tk := range expired {
		n.delegate.OnMessageFailedSending(tk.info, tk.info.Destination, Errorf(ErrConnectionTimeout, "acknowledgement not received within %s", n.ackTimeout))
	}
}

// DeviceConnected is called once a direct stream to device is open
// (inbound or outbound). It attaches the stream pair to the IoController
// and immediately enqueues this host's Handshake.
func (n *NetworkController) DeviceConnected(device DeviceID, in InputStream, out OutputStream) {
	n.io.Attach(device, in, out)
	n.io.Enqueue(IoPacket{
		Packet:  codec.Handshake{Seq: n.seq.Next(), Instance: codec.Instance(n.host)},
		NextHop: alwaysHop(device),
	})
	n.announceKnownRoutesTo(device)
}

// announceKnownRoutesTo replays every route this host already knows
// about (learned via other neighbors before device connected) so a
// neighbor that joins the mesh after those routes converged still hears
// about them, instead of waiting for an unrelated future link_update.
func (n *NetworkController) announceKnownRoutesTo(device DeviceID) {
	for _, dest := range n.routing.Destinations() {
		link, ok := n.routing.BestLink(dest, device)
		if !ok {
			continue
		}
		if link.HopCount+1 >= MaxHopCount {
			continue
		}
		update := codec.Update{
			Seq:              n.seq.Next(),
			Destination:      codec.Instance(dest),
			HopCount:         link.HopCount,
			InternetHopCount: link.InternetHopCount,
		}
		n.io.Enqueue(IoPacket{Packet: update, NextHop: alwaysHop(device)})
	}
}

// Send queues an application payload for destination, optionally
// tracked for end-to-end acknowledgement.
func (n *NetworkController) Send(payload []byte, destination Instance, wantAck bool) MessageInfo {
	seq := n.seq.Next()
	info := MessageInfo{Sequence: seq, Destination: destination, WantAck: wantAck, QueuedAt: time.Now()}

	if wantAck {
		n.mu.Lock()
		n.tickets[seq] = &ticket{info: info, expiresAt: info.QueuedAt.Add(n.ackTimeout)}
		n.mu.Unlock()
	}

	pkt := codec.Data{
		Seq:         seq,
		Origin:      codec.Instance(n.host),
		Destination: codec.Instance(destination),
		WantAck:     wantAck,
		Payload:     payload,
	}
	n.io.Enqueue(IoPacket{Packet: pkt, NextHop: n.resolve(destination, "")})
	return info
}

func (n *NetworkController) resolve(destination Instance, splitHorizon DeviceID) func() (DeviceID, bool) {
	return func() (DeviceID, bool) {
		link, ok := n.routing.BestLink(destination, splitHorizon)
		if !ok {
			return "", false
		}
		return link.NextHop, true
	}
}

func alwaysHop(device DeviceID) func() (DeviceID, bool) {
	return func() (DeviceID, bool) { return device, true }
}

// --- IoDelegate ---

func (n *NetworkController) PacketReceived(device DeviceID, packet codec.Packet) {
	switch p := packet.(type) {
	case codec.Handshake:
		n.routing.RegisterOrUpdate(device, Instance(p.Instance), 1, n.initialInternetHops(), time.Now())
	case codec.Update:
		n.handleUpdate(device, p)
	case codec.Data:
		n.handleData(device, p)
	case codec.Acknowledgement:
		n.handleAck(device, p)
	case codec.Internet:
		n.handleInternet(device, p)
	case codec.InternetResponse:
		n.handleInternetResponse(device, p)
	default:
		n.log.Warnf("bridge: unhandled packet type %T from %s", p, device)
	}
}

func (n *NetworkController) initialInternetHops() uint8 {
	if n.hasInet {
		return 1
	}
	return InfinityHops
}

func (n *NetworkController) handleUpdate(device DeviceID, u codec.Update) {
	dest := Instance(u.Destination)
	if dest == n.host {
		return
	}
	hc := u.HopCount
	if hc < InfinityHops {
		hc++
	}
	ihc := u.InternetHopCount
	if ihc < InfinityHops {
		ihc++
	}
	n.routing.RegisterOrUpdate(device, dest, hc, ihc, time.Now())
}

func (n *NetworkController) handleData(sourceDevice DeviceID, d codec.Data) {
	destination := Instance(d.Destination)
	origin := Instance(d.Origin)

	if destination == n.host {
		n.delegate.OnMessageReceived(d.Payload, origin)
		if d.WantAck {
			ack := codec.Acknowledgement{Seq: d.Seq, Origin: codec.Instance(n.host), Destination: d.Origin}
			// No split horizon here: the path back to the origin normally
			// runs through the device the Data packet arrived on.
			n.io.Enqueue(IoPacket{Packet: ack, NextHop: n.resolve(origin, "")})
		}
		return
	}

	// Forward unchanged: the protocol never rewrites origin/destination/seq.
	n.io.Enqueue(IoPacket{Packet: d, NextHop: n.resolve(destination, sourceDevice)})
}

func (n *NetworkController) handleAck(sourceDevice DeviceID, a codec.Acknowledgement) {
	if Instance(a.Destination) != n.host {
		// Not ours: relay toward the original sender unchanged.
		n.io.Enqueue(IoPacket{Packet: a, NextHop: n.resolve(Instance(a.Destination), sourceDevice)})
		return
	}

	n.mu.Lock()
	tk, ok := n.tickets[a.Seq]
	if ok && tk.info.Destination == Instance(a.Origin) {
		delete(n.tickets, a.Seq)
	} else {
		ok = false
	}
	n.mu.Unlock()

	if ok {
		n.delegate.OnMessageDelivered(tk.info, tk.info.Destination, 1.0, true)
	}
}

func (n *NetworkController) handleInternet(sourceDevice DeviceID, i codec.Internet) {
	if n.hasInet {
		if n.internet == nil {
			n.log.Warnf("bridge: host advertises Internet but no InternetHandler configured")
			return
		}
		go n.serveInternetRequest(i)
		return
	}

	if i.HopCount+1 >= MaxHopCount {
		return
	}
	link, ok := n.routing.BestInternetLink(sourceDevice)
	if !ok {
		return
	}
	forwarded := i
	forwarded.HopCount++
	n.io.Enqueue(IoPacket{Packet: forwarded, NextHop: alwaysHop(link.NextHop)})
}

// serveInternetRequest performs the out-of-band HTTP call. Spec's
// scheduling model puts Internet egress on its own single-threaded
// executor; here that isolation is a dedicated goroutine per request
// instead, since the mesh side never blocks waiting on it.
func (n *NetworkController) serveInternetRequest(i codec.Internet) {
	status, body, err := n.internet(i.URL, i.Body)
	if err != nil {
		n.log.Warnf("bridge: internet request seq=%d failed: %v", i.Seq, err)
		return
	}
	resp := codec.InternetResponse{Seq: i.Seq, Origin: i.Origin, Status: status, Body: body}
	n.io.Enqueue(IoPacket{Packet: resp, NextHop: n.resolve(Instance(i.Origin), "")})
}

// SendInternetRequest issues a gateway request toward destination,
// returning the sequence number the eventual InternetResponse will carry.
func (n *NetworkController) SendInternetRequest(destination Instance, url string, body []byte, testID uint8) uint32 {
	seq := n.seq.Next()
	n.mu.Lock()
	n.pendingInternet[seq] = destination
	n.mu.Unlock()

	pkt := codec.Internet{Seq: seq, Origin: codec.Instance(n.host), HopCount: 0, TestID: testID, URL: url, Body: body}
	n.io.Enqueue(IoPacket{Packet: pkt, NextHop: n.resolve(destination, "")})
	return seq
}

func (n *NetworkController) handleInternetResponse(sourceDevice DeviceID, r codec.InternetResponse) {
	n.mu.Lock()
	_, mine := n.pendingInternet[r.Seq]
	if mine {
		delete(n.pendingInternet, r.Seq)
	}
	n.mu.Unlock()

	if mine {
		// Delivered to this host; the embedding application consumes it
		// through whatever side channel issued SendInternetRequest.
		return
	}

	// Not ours: forward toward the originator like a Data packet, keyed
	// by seq instead of destination (InternetResponse carries no
	// explicit destination field — only the originator's Instance).
	n.io.Enqueue(IoPacket{Packet: r, NextHop: n.resolve(Instance(r.Origin), sourceDevice)})
}

func (n *NetworkController) PacketWritten(item IoPacket) {
	d, ok := item.Packet.(codec.Data)
	if !ok || Instance(d.Origin) != n.host {
		return // not an application send this host originated, just a relay
	}
	n.delegate.OnMessageSent(MessageInfo{Sequence: d.Seq, Destination: Instance(d.Destination), WantAck: d.WantAck}, Instance(d.Destination), 1.0, true)
}

func (n *NetworkController) WriteFailed(item IoPacket, err error) {
	d, ok := item.Packet.(codec.Data)
	if !ok || Instance(d.Origin) != n.host {
		return // not an application send this host originated, just a relay
	}
	seq := d.Seq
	dest := Instance(d.Destination)

	n.mu.Lock()
	delete(n.tickets, seq)
	n.mu.Unlock()

	n.delegate.OnMessageFailedSending(MessageInfo{Sequence: seq, Destination: dest, WantAck: d.WantAck}, dest, err)
}

func (n *NetworkController) StreamClosed(device DeviceID, err error) {
	n.routing.Unregister(device, err)
}

// --- RoutingTableDelegate ---

func (n *NetworkController) InstanceFound(instance Instance) {
	n.delegate.OnInstanceFound(instance)
}

func (n *NetworkController) InstanceLost(instance Instance, err error) {
	n.delegate.OnInstanceLost(instance, err)
}

// LinkUpdate propagates a routing change to every other direct neighbor,
// applying poison reverse: a neighbor never hears a route that points
// back through itself, and a route that would become unreachable once
// the neighbor applies its own +1 on receipt is not advertised at all.
// The wire hop_count carries the link's own hop_count unmodified; each
// receiving neighbor is the one that increments (handleUpdate), so a
// route's hop_count grows by exactly one per mesh hop it crosses.
func (n *NetworkController) LinkUpdate(link Link) {
	if link.HopCount+1 >= MaxHopCount {
		return
	}

	update := codec.Update{
		Destination:      codec.Instance(link.Destination),
		HopCount:         link.HopCount,
		InternetHopCount: link.InternetHopCount,
	}
	for _, neighbor := range n.routing.NextHops() {
		if neighbor == link.NextHop {
			continue // split horizon / poison reverse
		}
		update.Seq = n.seq.Next()
		n.io.Enqueue(IoPacket{Packet: update, NextHop: alwaysHop(neighbor)})
	}
}

// RoutingTable exposes the controller's routing table for read-only
// inspection (e.g. the uplink facade's best_link queries).
func (n *NetworkController) RoutingTable() *RoutingTable {
	return n.routing
}
