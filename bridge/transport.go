package bridge

import "io"

// InputStream is a readable byte stream from one directly connected
// device. Implementations deliver whatever bytes the radio has received;
// the IoController is responsible for buffering partial packets.
type InputStream interface {
	io.Reader
}

// OutputStream is a writable byte stream to one directly connected
// device. Write must not be called concurrently by more than one
// goroutine; the IoController's single outbound queue already guarantees
// that.
type OutputStream interface {
	io.Writer
}

// DeviceTransport is the abstract reliable transport collaborator the
// embedding application supplies — a BLE central/peripheral pairing in
// the reference deployment, a pair of in-process pipes in
// bridge/memtransport for tests and the demo. The bridge core depends
// only on this interface and never on any specific radio stack.
type DeviceTransport interface {
	// Open establishes (or reuses) the bidirectional stream pair to the
	// named device. It may block until the underlying link is ready.
	Open(device DeviceID) (InputStream, OutputStream, error)

	// Close tears down the stream pair to the named device. Calling
	// Close on a device with no open stream is a no-op.
	Close(device DeviceID) error
}
