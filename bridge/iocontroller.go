package bridge

import (
	"io"
	"sync"

	"github.com/hypelabs/uplink-go/bridge/codec"
	"github.com/hypelabs/uplink-go/logging"
)

// IoDelegate receives the events an IoController produces. PacketWritten
// and WriteFailed are called from the controller's own dequeue goroutine;
// PacketReceived and StreamClosed from the reading goroutine of the
// device's input stream (or from whoever calls HandleInput). A slow
// delegate method holds up that goroutine until it returns.
type IoDelegate interface {
	PacketReceived(device DeviceID, packet codec.Packet)
	PacketWritten(item IoPacket)
	WriteFailed(item IoPacket, err error)
	// StreamClosed is called once a device's input stream stops
	// producing readable bytes, whether because the remote end closed
	// it cleanly or because of a read error. err is nil for a clean EOF.
	StreamClosed(device DeviceID, err error)
}

// IoPacket is one entry in the outbound queue: a packet to send, and a
// lazily resolved next hop. NextHop is called at dequeue time, not at
// enqueue time, so a route change between enqueue and send is picked up
// automatically instead of sending down a now-stale link.
type IoPacket struct {
	Packet  codec.Packet
	NextHop func() (DeviceID, bool)
}

// IoController owns every input stream's receive buffer and the single
// global outbound queue. It never has more than one write outstanding at
// a time (stop-and-wait): the dequeue loop is one goroutine that fully
// finishes writing one packet before starting the next, which is what
// makes "no two writes outstanding on the same output stream"
// (invariant 6) true of the whole controller, not just per-stream.
type IoController struct {
	transport DeviceTransport
	delegate  IoDelegate
	codec     *codec.Codec
	log       logging.Logger

	mu       sync.Mutex
	queue    []IoPacket
	notEmpty *sync.Cond
	closed   bool

	outputs map[DeviceID]OutputStream
	inputs  map[DeviceID]*StreamBuffer
}

// NewIoController returns a running IoController. Call Close to stop its
// dequeue goroutine.
func NewIoController(transport DeviceTransport, delegate IoDelegate, log logging.Logger) *IoController {
	if log == nil {
		log = logging.NopLogger{}
	}
	c := &IoController{
		transport: transport,
		delegate:  delegate,
		codec:     codec.NewCodec(),
		log:       log,
		outputs:   make(map[DeviceID]OutputStream),
		inputs:    make(map[DeviceID]*StreamBuffer),
	}
	c.notEmpty = sync.NewCond(&c.mu)
	go c.dequeueLoop()
	return c
}

// Enqueue appends item to the outbound queue. It never blocks.
func (c *IoController) Enqueue(item IoPacket) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, item)
	c.mu.Unlock()
	c.notEmpty.Signal()
}

// Close stops the dequeue loop once its current write (if any) finishes,
// and closes every attached device's stream pair so the per-device
// readPump goroutines unblock from their pending Read and exit instead
// of leaking. Pending queued packets are dropped without emitting
// WriteFailed; the controller is being torn down, not encountering a
// routing failure.
func (c *IoController) Close() {
	c.mu.Lock()
	c.closed = true
	c.queue = nil
	devices := make(map[DeviceID]struct{}, len(c.outputs)+len(c.inputs))
	for d := range c.outputs {
		devices[d] = struct{}{}
	}
	for d := range c.inputs {
		devices[d] = struct{}{}
	}
	c.mu.Unlock()
	c.notEmpty.Broadcast()

	for d := range devices {
		_ = c.transport.Close(d)
	}
}

func (c *IoController) dequeueLoop() {
	for {
		item, ok := c.popBlocking()
		if !ok {
			return
		}
		c.sendOne(item)
	}
}

// popBlocking waits without busy-waiting until either an item is queued
// or the controller is closed.
func (c *IoController) popBlocking() (IoPacket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) == 0 && !c.closed {
		c.notEmpty.Wait()
	}
	if c.closed {
		return IoPacket{}, false
	}
	item := c.queue[0]
	c.queue = c.queue[1:]
	return item, true
}

func (c *IoController) sendOne(item IoPacket) {
	device, ok := item.NextHop()
	if !ok {
		c.delegate.WriteFailed(item, Errorf(ErrNotConnected, "no route to destination"))
		return
	}

	out, err := c.outputFor(device)
	if err != nil {
		c.delegate.WriteFailed(item, err)
		return
	}

	wire := codec.Encode(nil, item.Packet)
	if _, err := out.Write(wire); err != nil {
		c.invalidate(device)
		c.delegate.WriteFailed(item, WrapError(ErrStreamNotOpen, err))
		return
	}
	c.delegate.PacketWritten(item)
}

func (c *IoController) outputFor(device DeviceID) (OutputStream, error) {
	c.mu.Lock()
	out, ok := c.outputs[device]
	c.mu.Unlock()
	if ok {
		return out, nil
	}

	in, opened, err := c.transport.Open(device)
	if err != nil {
		return nil, WrapError(ErrNotConnected, err)
	}
	c.mu.Lock()
	c.outputs[device] = opened
	c.mu.Unlock()
	go c.readPump(device, in)
	return opened, nil
}

// invalidate drops the cached output stream for device, forcing the next
// send to reopen it, and tears down the transport's view of the
// connection: a failed write means the link is suspect, not just the
// one packet.
func (c *IoController) invalidate(device DeviceID) {
	c.mu.Lock()
	delete(c.outputs, device)
	c.mu.Unlock()
	_ = c.transport.Close(device)
}

// Attach registers the stream pair obtained from DeviceTransport.Open for
// device: out is cached for future sends, and a dedicated goroutine pumps
// in into the device's receive buffer until it errors or reaches EOF.
func (c *IoController) Attach(device DeviceID, in InputStream, out OutputStream) {
	c.mu.Lock()
	c.outputs[device] = out
	c.inputs[device] = NewStreamBuffer(0)
	c.mu.Unlock()

	go c.readPump(device, in)
}

func (c *IoController) readPump(device DeviceID, in InputStream) {
	buf := make([]byte, 4096)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			c.HandleInput(device, buf[:n])
		}
		if err != nil {
			c.mu.Lock()
			delete(c.inputs, device)
			c.mu.Unlock()
			if err == io.EOF {
				c.delegate.StreamClosed(device, nil)
			} else {
				c.delegate.StreamClosed(device, err)
			}
			return
		}
	}
}

// HandleInput feeds newly read bytes from device's input stream through
// that device's receive buffer, decoding and delivering as many complete
// packets as are available.
func (c *IoController) HandleInput(device DeviceID, data []byte) {
	c.mu.Lock()
	sb, ok := c.inputs[device]
	if !ok {
		sb = NewStreamBuffer(0)
		c.inputs[device] = sb
	}
	c.mu.Unlock()

	if err := sb.Append(data); err != nil {
		c.log.Warnf("bridge: stream buffer overflow for %s, closing stream: %v", device, err)
		c.closeInput(device)
		return
	}

	for {
		res := c.codec.Decode(sb.Peek())
		switch res.Outcome {
		case codec.NeedMoreData:
			return
		case codec.Decoded:
			sb.Trim(res.Consumed)
			c.delegate.PacketReceived(device, res.Packet)
		case codec.Malformed:
			sb.Trim(res.Consumed)
			c.log.Warnf("bridge: malformed packet from %s dropped", device)
		case codec.UnknownType:
			// No length is known for a type this codec version does not
			// recognize, so the stream cannot be resynchronized past it.
			// This cannot happen between peers running the same protocol
			// version; treat it as a protocol violation on the stream
			// rather than spinning forever waiting for bytes that will
			// never complete a frame this codec understands.
			c.log.Warnf("bridge: unknown packet type from %s, closing stream", device)
			c.closeInput(device)
			return
		}
	}
}

func (c *IoController) closeInput(device DeviceID) {
	c.mu.Lock()
	delete(c.inputs, device)
	c.mu.Unlock()
	_ = c.transport.Close(device)
}
