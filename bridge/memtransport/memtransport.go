// Package memtransport is an in-process bridge.DeviceTransport: two
// Transports wired together with io.Pipe exchange bytes directly, no
// network or radio involved. It stands in for a physical radio
// transport in tests and in cmd/uplinkdemo.
package memtransport

import (
	"fmt"
	"io"
	"sync"

	"github.com/hypelabs/uplink-go/bridge"
)

// Transport is one node's endpoint. The zero value is not usable;
// construct with New.
type Transport struct {
	name bridge.DeviceID

	mu    sync.Mutex
	peers map[bridge.DeviceID]*pipeEnd
}

type pipeEnd struct {
	in  *io.PipeReader
	out *io.PipeWriter
}

// New returns a Transport identified by name among its peers.
func New(name bridge.DeviceID) *Transport {
	return &Transport{
		name:  name,
		peers: make(map[bridge.DeviceID]*pipeEnd),
	}
}

// Link wires a and b together bidirectionally: a's output feeds b's
// input and vice versa. Call before either side calls Open.
func Link(a, b *Transport) {
	abR, abW := io.Pipe() // a writes, b reads
	baR, baW := io.Pipe() // b writes, a reads

	a.mu.Lock()
	a.peers[b.name] = &pipeEnd{in: baR, out: abW}
	a.mu.Unlock()

	b.mu.Lock()
	b.peers[a.name] = &pipeEnd{in: abR, out: baW}
	b.mu.Unlock()
}

// Open returns the input/output stream pair bridge.DeviceTransport
// promises, for a peer already connected via Link.
func (t *Transport) Open(device bridge.DeviceID) (bridge.InputStream, bridge.OutputStream, error) {
	t.mu.Lock()
	end, ok := t.peers[device]
	t.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("memtransport: %s has no link to %s", t.name, device)
	}
	return end.in, end.out, nil
}

// Close tears down the pipe pair to device, if any is open. Both ends'
// pending Read/Write calls unblock with io.ErrClosedPipe.
func (t *Transport) Close(device bridge.DeviceID) error {
	t.mu.Lock()
	end, ok := t.peers[device]
	if ok {
		delete(t.peers, device)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	end.in.Close()
	return end.out.Close()
}
