package bridge

import "time"

// MessageInfo identifies one outbound application message for the
// lifetime of its delivery tracking: its wire sequence number and the
// instance it was addressed to.
type MessageInfo struct {
	Sequence    uint32
	Destination Instance
	WantAck     bool
	QueuedAt    time.Time
}

// ticket is the pending-acknowledgement bookkeeping entry kept per
// outstanding want_ack send, keyed by sequence number and swept for age
// by the controller's ticket sweeper.
type ticket struct {
	info      MessageInfo
	expiresAt time.Time
}
