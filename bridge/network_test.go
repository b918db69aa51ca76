package bridge_test

import (
	"sync"
	"testing"
	"time"

	"github.com/hypelabs/uplink-go/bridge"
	"github.com/hypelabs/uplink-go/bridge/memtransport"
)

type recordingDelegate struct {
	mu        sync.Mutex
	found     []bridge.Instance
	lost      []bridge.Instance
	received  []receivedMsg
	sent      []bridge.Instance
	delivered []bridge.Instance
	failed    []bridge.Instance
	events    chan string
}

type receivedMsg struct {
	payload []byte
	source  bridge.Instance
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{events: make(chan string, 64)}
}

func (d *recordingDelegate) OnInstanceFound(instance bridge.Instance) {
	d.mu.Lock()
	d.found = append(d.found, instance)
	d.mu.Unlock()
	d.events <- "found"
}

func (d *recordingDelegate) OnInstanceLost(instance bridge.Instance, err error) {
	d.mu.Lock()
	d.lost = append(d.lost, instance)
	d.mu.Unlock()
	d.events <- "lost"
}

func (d *recordingDelegate) OnMessageReceived(payload []byte, source bridge.Instance) {
	d.mu.Lock()
	d.received = append(d.received, receivedMsg{payload: payload, source: source})
	d.mu.Unlock()
	d.events <- "received"
}

func (d *recordingDelegate) OnMessageSent(info bridge.MessageInfo, destination bridge.Instance, progress float32, done bool) {
	d.mu.Lock()
	d.sent = append(d.sent, destination)
	d.mu.Unlock()
	d.events <- "sent"
}

func (d *recordingDelegate) OnMessageDelivered(info bridge.MessageInfo, destination bridge.Instance, progress float32, done bool) {
	d.mu.Lock()
	d.delivered = append(d.delivered, destination)
	d.mu.Unlock()
	d.events <- "delivered"
}

func (d *recordingDelegate) OnMessageFailedSending(info bridge.MessageInfo, destination bridge.Instance, err error) {
	d.mu.Lock()
	d.failed = append(d.failed, destination)
	d.mu.Unlock()
	d.events <- "failed"
}

func (d *recordingDelegate) waitFor(t *testing.T, event string, n int) {
	t.Helper()
	seen := 0
	deadline := time.After(2 * time.Second)
	for seen < n {
		select {
		case e := <-d.events:
			if e == event {
				seen++
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %d x %q (saw %d)", n, event, seen)
		}
	}
}

func instanceWithByte(b byte) bridge.Instance {
	var inst bridge.Instance
	inst[0] = b
	return inst
}

func newNode(name bridge.DeviceID, host bridge.Instance, hasInternet bool, handler bridge.InternetHandler) (*bridge.NetworkController, *memtransport.Transport, *recordingDelegate) {
	tr := memtransport.New(name)
	delegate := newRecordingDelegate()
	nc := bridge.NewNetworkController(tr, bridge.NetworkConfig{
		Host:            host,
		HasInternet:     hasInternet,
		InternetHandler: handler,
		AckTimeout:      2 * time.Second,
		Delegate:        delegate,
	})
	nc.Start()
	return nc, tr, delegate
}

// TestLoopbackHandshake checks that two nodes opening a stream and
// exchanging handshakes both see the other's instance reported to
// their observer.
func TestLoopbackHandshake(t *testing.T) {
	instA := instanceWithByte(0xA0)
	instB := instanceWithByte(0xB0)

	ncA, trA, delA := newNode("A", instA, false, nil)
	ncB, trB, delB := newNode("B", instB, false, nil)
	defer ncA.Stop()
	defer ncB.Stop()

	memtransport.Link(trA, trB)

	inA, outA, err := trA.Open("B")
	if err != nil {
		t.Fatalf("trA.Open: %v", err)
	}
	inB, outB, err := trB.Open("A")
	if err != nil {
		t.Fatalf("trB.Open: %v", err)
	}
	ncA.DeviceConnected("B", inA, outA)
	ncB.DeviceConnected("A", inB, outB)

	delA.waitFor(t, "found", 1)
	delB.waitFor(t, "found", 1)

	delA.mu.Lock()
	if len(delA.found) != 1 || delA.found[0] != instB {
		t.Fatalf("A should have found B, got %v", delA.found)
	}
	delA.mu.Unlock()

	delB.mu.Lock()
	if len(delB.found) != 1 || delB.found[0] != instA {
		t.Fatalf("B should have found A, got %v", delB.found)
	}
	delB.mu.Unlock()
}

// TestTwoHopDiscoveryAndAckRoundTrip covers two-hop discovery via route
// propagation and an application send with acknowledgement.
func TestTwoHopDiscoveryAndAckRoundTrip(t *testing.T) {
	instA := instanceWithByte(0xA0)
	instB := instanceWithByte(0xB0)
	instC := instanceWithByte(0xC0)

	ncA, trA, delA := newNode("A", instA, false, nil)
	ncB, trB, delB := newNode("B", instB, false, nil)
	ncC, trC, delC := newNode("C", instC, false, nil)
	defer ncA.Stop()
	defer ncB.Stop()
	defer ncC.Stop()

	connect := func(nc1 *bridge.NetworkController, tr1 *memtransport.Transport, id1 bridge.DeviceID,
		nc2 *bridge.NetworkController, tr2 *memtransport.Transport, id2 bridge.DeviceID) {
		memtransport.Link(tr1, tr2)
		in1, out1, err := tr1.Open(id2)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		in2, out2, err := tr2.Open(id1)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		nc1.DeviceConnected(id2, in1, out1)
		nc2.DeviceConnected(id1, in2, out2)
	}

	connect(ncA, trA, "A", ncB, trB, "B")

	// Let the A<->B handshake fully settle, including B's routing table
	// learning about A, before B connects to C: otherwise whether B
	// already knows about A when it announces its known routes to C is a
	// race, not a guarantee.
	delA.waitFor(t, "found", 1)

	connect(ncB, trB, "B", ncC, trC, "C")

	delC.waitFor(t, "found", 1) // B itself
	delC.waitFor(t, "found", 1) // A, via B's route announcement

	delC.mu.Lock()
	foundA := false
	for _, inst := range delC.found {
		if inst == instA {
			foundA = true
		}
	}
	delC.mu.Unlock()
	if !foundA {
		t.Fatal("C should eventually discover A via B's route update")
	}

	link, ok := ncC.RoutingTable().BestLink(instA, "")
	if !ok {
		t.Fatal("C should have a route to A")
	}
	if link.NextHop != "B" || link.HopCount != 2 {
		t.Fatalf("expected next hop B at hop count 2, got %s/%d", link.NextHop, link.HopCount)
	}

	// A sends an acknowledged message to C; it should forward through B
	// and come back acknowledged.
	info := ncA.Send([]byte("hello C"), instC, true)
	if info.Destination != instC {
		t.Fatalf("unexpected destination in MessageInfo: %v", info.Destination)
	}
	delA.waitFor(t, "sent", 1)
	delA.waitFor(t, "delivered", 1)

	// B only relays this message; its own observer never originated it and
	// must not see message-sent/failed callbacks for traffic it forwards.
	delB.mu.Lock()
	defer delB.mu.Unlock()
	if len(delB.sent) != 0 {
		t.Fatalf("expected relay node B to see no on_message_sent, got %d", len(delB.sent))
	}
	if len(delB.failed) != 0 {
		t.Fatalf("expected relay node B to see no on_message_failed_sending, got %d", len(delB.failed))
	}
}

// TestDisconnectLosesTransitiveRoute checks that when A learns about C
// only through B, and the A-B link drops, A loses both B (direct) and C
// (transitive), each exactly once, in either order.
func TestDisconnectLosesTransitiveRoute(t *testing.T) {
	instA := instanceWithByte(0xA1)
	instB := instanceWithByte(0xB1)
	instC := instanceWithByte(0xC1)

	ncA, trA, delA := newNode("A", instA, false, nil)
	ncB, trB, _ := newNode("B", instB, false, nil)
	ncC, trC, _ := newNode("C", instC, false, nil)
	defer ncA.Stop()
	defer ncB.Stop()
	defer ncC.Stop()

	connect := func(nc1 *bridge.NetworkController, tr1 *memtransport.Transport, id1 bridge.DeviceID,
		nc2 *bridge.NetworkController, tr2 *memtransport.Transport, id2 bridge.DeviceID) {
		memtransport.Link(tr1, tr2)
		in1, out1, err := tr1.Open(id2)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		in2, out2, err := tr2.Open(id1)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		nc1.DeviceConnected(id2, in1, out1)
		nc2.DeviceConnected(id1, in2, out2)
	}

	connect(ncB, trB, "B", ncC, trC, "C")
	connect(ncA, trA, "A", ncB, trB, "B")

	delA.waitFor(t, "found", 1) // B
	delA.waitFor(t, "found", 1) // C, via B

	if err := trA.Close("B"); err != nil {
		t.Fatalf("trA.Close: %v", err)
	}

	delA.waitFor(t, "lost", 1)
	delA.waitFor(t, "lost", 1)

	delA.mu.Lock()
	defer delA.mu.Unlock()
	if len(delA.lost) != 2 {
		t.Fatalf("expected exactly 2 instance_lost events, got %d: %v", len(delA.lost), delA.lost)
	}
	sawB, sawC := false, false
	for _, inst := range delA.lost {
		switch inst {
		case instB:
			sawB = true
		case instC:
			sawC = true
		}
	}
	if !sawB || !sawC {
		t.Fatalf("expected to lose both B and C, got %v", delA.lost)
	}

	if _, ok := ncA.RoutingTable().BestLink(instC, ""); ok {
		t.Fatal("A should no longer have a route to C")
	}
}
