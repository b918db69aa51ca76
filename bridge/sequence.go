package bridge

import "sync/atomic"

// SequenceGen issues the sequence numbers carried on the Handshake,
// Update, Data and Internet packets a host emits (an InternetResponse
// reuses its request's sequence number). The counter is incremented first and the
// pre-increment value handed out, so the first issued sequence is 0 and
// the field wraps at 2^32 the same way a uint32 wire field does.
type SequenceGen struct {
	counter atomic.Uint32
}

// Next returns the next sequence number, starting at 0. It is safe for
// concurrent use.
func (g *SequenceGen) Next() uint32 {
	return g.counter.Add(1) - 1
}
