// Command uplinkdemo runs a three-node mesh entirely in-process over
// bridge/memtransport, narrating a direct handshake, two-hop route
// discovery, and an acknowledged application send forwarded through
// the middle node.
package main

import (
	"fmt"
	"log"
	"time"

	"github.com/hypelabs/uplink-go/bridge"
	"github.com/hypelabs/uplink-go/bridge/memtransport"
	"github.com/hypelabs/uplink-go/logging"
	"github.com/hypelabs/uplink-go/uplink"
)

type node struct {
	name  bridge.DeviceID
	host  *uplink.Host
	tr    *memtransport.Transport
	watch *eventWatcher
}

// eventWatcher is the demo's Observer: it narrates every callback to
// stdout and lets the walkthrough block on specific milestones instead
// of guessing sleep durations.
type eventWatcher struct {
	label   string
	started chan struct{}
	stopped chan struct{}
	found   chan bridge.Instance
	done    chan struct{}
}

func newWatcher(label string) *eventWatcher {
	return &eventWatcher{
		label:   label,
		started: make(chan struct{}, 1),
		stopped: make(chan struct{}, 1),
		found:   make(chan bridge.Instance, 8),
		done:    make(chan struct{}, 8),
	}
}

func (w *eventWatcher) OnStarted() {
	fmt.Printf("[%s] started\n", w.label)
	w.started <- struct{}{}
}

func (w *eventWatcher) waitStarted(timeout time.Duration) {
	select {
	case <-w.started:
	case <-time.After(timeout):
		log.Fatalf("[%s] timed out waiting to start", w.label)
	}
}

func (w *eventWatcher) waitStopped(timeout time.Duration) {
	select {
	case <-w.stopped:
	case <-time.After(timeout):
		log.Fatalf("[%s] timed out waiting to stop", w.label)
	}
}
func (w *eventWatcher) OnStopped(err error) {
	fmt.Printf("[%s] stopped (err=%v)\n", w.label, err)
	w.stopped <- struct{}{}
}
func (w *eventWatcher) OnFailedStart(err error) {
	fmt.Printf("[%s] failed to start: %v\n", w.label, err)
}
func (w *eventWatcher) OnReady() {
	fmt.Printf("[%s] adapter ready\n", w.label)
}
func (w *eventWatcher) OnInstanceFound(instance bridge.Instance) {
	fmt.Printf("[%s] discovered peer %s\n", w.label, instance)
	w.found <- instance
}
func (w *eventWatcher) OnInstanceLost(instance bridge.Instance, err error) {
	fmt.Printf("[%s] lost peer %s (err=%v)\n", w.label, instance, err)
}
func (w *eventWatcher) OnMessageReceived(payload []byte, source bridge.Instance) {
	fmt.Printf("[%s] received %q from %s\n", w.label, payload, source)
}
func (w *eventWatcher) OnMessageSent(info bridge.MessageInfo, destination bridge.Instance, progress float32, done bool) {
	fmt.Printf("[%s] sent seq=%d to %s\n", w.label, info.Sequence, destination)
}
func (w *eventWatcher) OnMessageDelivered(info bridge.MessageInfo, destination bridge.Instance, progress float32, done bool) {
	fmt.Printf("[%s] delivered seq=%d to %s\n", w.label, info.Sequence, destination)
	w.done <- struct{}{}
}
func (w *eventWatcher) OnMessageFailedSending(info bridge.MessageInfo, destination bridge.Instance, err error) {
	fmt.Printf("[%s] failed to send seq=%d to %s: %v\n", w.label, info.Sequence, destination, err)
}

func (w *eventWatcher) waitFound(timeout time.Duration) bridge.Instance {
	select {
	case inst := <-w.found:
		return inst
	case <-time.After(timeout):
		log.Fatalf("[%s] timed out waiting to discover a peer", w.label)
		return bridge.Instance{}
	}
}

func (w *eventWatcher) waitDelivered(timeout time.Duration) {
	select {
	case <-w.done:
	case <-time.After(timeout):
		log.Fatalf("[%s] timed out waiting for delivery", w.label)
	}
}

func newNode(name bridge.DeviceID) *node {
	tr := memtransport.New(name)
	logger := logging.NewDefaultLogger(string(name))
	host := uplink.NewHost(tr, logger)
	if err := host.Configure("cafef00d", "uplinkdemo-context", 2*time.Second); err != nil {
		logger.Errorf("configure: %v", err)
		panic(err)
	}
	watch := newWatcher(string(name))
	host.Subscribe(watch)
	host.Start()
	watch.waitStarted(2 * time.Second)
	return &node{name: name, host: host, tr: tr, watch: watch}
}

func connect(a, b *node) {
	memtransport.Link(a.tr, b.tr)
	inA, outA, err := a.tr.Open(b.name)
	if err != nil {
		log.Fatalf("open %s->%s: %v", a.name, b.name, err)
	}
	inB, outB, err := b.tr.Open(a.name)
	if err != nil {
		log.Fatalf("open %s->%s: %v", b.name, a.name, err)
	}
	if err := a.host.DeviceConnected(b.name, inA, outA); err != nil {
		log.Fatalf("%s.DeviceConnected(%s): %v", a.name, b.name, err)
	}
	if err := b.host.DeviceConnected(a.name, inB, outB); err != nil {
		log.Fatalf("%s.DeviceConnected(%s): %v", b.name, a.name, err)
	}
}

func main() {
	fmt.Println("=== uplinkdemo: three-node mesh walkthrough ===")

	a := newNode("A")
	b := newNode("B")
	c := newNode("C")
	defer a.host.Close()
	defer b.host.Close()
	defer c.host.Close()

	fmt.Println("\n--- direct handshake between A and B ---")
	connect(a, b)
	instB := a.watch.waitFound(2 * time.Second)
	instA := b.watch.waitFound(2 * time.Second)
	fmt.Printf("A now knows B as %s; B now knows A as %s\n", instB, instA)

	fmt.Println("\n--- B connects to C, route to A propagates ---")
	connect(b, c)
	c.watch.waitFound(2 * time.Second) // B itself
	instAviaB := c.watch.waitFound(2 * time.Second)
	if link, ok := c.host.RoutingTable().BestLink(instAviaB, ""); ok {
		fmt.Printf("C learned a route to A via next hop %s at hop count %d\n", link.NextHop, link.HopCount)
	}

	fmt.Println("\n--- A sends an acknowledged message to C, forwarded through B ---")
	info, err := a.host.Send([]byte("hello from A"), c.host.Instance(), true)
	if err != nil {
		log.Fatalf("send: %v", err)
	}
	fmt.Printf("A queued seq=%d toward C\n", info.Sequence)
	a.watch.waitDelivered(2 * time.Second)

	fmt.Println("\n=== walkthrough complete ===")

	a.host.Stop()
	b.host.Stop()
	c.host.Stop()
	a.watch.waitStopped(2 * time.Second)
	b.watch.waitStopped(2 * time.Second)
	c.watch.waitStopped(2 * time.Second)
}
