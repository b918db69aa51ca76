// Package bridge implements the transport-independent mesh bridge: the
// packet codec's typed packets, the routing table, the per-stream I/O
// controller, and the network controller gluing them together into the
// handshake / route-propagation / forwarding / acknowledgement protocol.
//
// The package deliberately knows nothing about any specific radio. It
// consumes DeviceTransport, an abstract reliable byte-stream-per-device
// collaborator the embedding application supplies.
package bridge

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hypelabs/uplink-go/config"
)

// MaxHopCount is the protocol-level TTL. Updates advertising a hop count
// at or beyond this value are unreachable and must never be installed.
const MaxHopCount = 3

// InfinityHops is the sentinel meaning "no known Internet path."
const InfinityHops = 0xFF

// InstanceSize is the wire size of an Instance: 4 bytes app identifier +
// 12 bytes device identifier.
const InstanceSize = 16

// Instance is the network-wide identifier of one application-on-device.
// It is immutable once constructed: equality and hashing are over the
// full 16 bytes, so Instance is a valid Go map key as-is.
type Instance [InstanceSize]byte

// NewInstance builds an Instance from an app identifier and a 12-byte
// device identifier.
func NewInstance(app config.AppIdentifier, deviceID [12]byte) Instance {
	var inst Instance
	copy(inst[0:4], app[:])
	copy(inst[4:16], deviceID[:])
	return inst
}

// NewLocalInstance mints a fresh Instance for this process: the app
// identifier supplied at configuration time, and a randomly drawn device
// identifier with enough entropy that collisions between independently
// started hosts are negligible.
func NewLocalInstance(app config.AppIdentifier) (Instance, error) {
	var deviceID [12]byte
	if _, err := rand.Read(deviceID[:]); err != nil {
		return Instance{}, fmt.Errorf("bridge: generating device identifier: %w", err)
	}
	return NewInstance(app, deviceID), nil
}

// AppIdentifier returns the 4-byte app identifier prefix.
func (i Instance) AppIdentifier() config.AppIdentifier {
	var app config.AppIdentifier
	copy(app[:], i[0:4])
	return app
}

func (i Instance) String() string {
	return hex.EncodeToString(i[0:4]) + "-" + hex.EncodeToString(i[4:16])
}

// DeviceID identifies one direct radio link, stable for the lifetime of
// that link. The discovery subsystem (outside this package) mints these;
// the bridge only ever treats them as opaque, comparable handles.
type DeviceID string

// DeviceState is the connection/lifecycle state of a Device as tracked by
// the bridge. It is distinct from the four-state statemachine.State used
// for component lifecycles: a Device has no "starting" phase of its own
// from the bridge's point of view, only connected/disconnected.
type DeviceState int

const (
	DeviceConnecting DeviceState = iota
	DeviceConnected
	DeviceDisconnected
)

func (s DeviceState) String() string {
	switch s {
	case DeviceConnecting:
		return "Connecting"
	case DeviceConnected:
		return "Connected"
	case DeviceDisconnected:
		return "Disconnected"
	default:
		return "DeviceState(unknown)"
	}
}

// Device is a local handle to one peer reachable over a single direct
// radio link: a stable identifier, its bidirectional byte channel, and a
// lifecycle state. Two Devices referring to the same remote Instance over
// different transports are distinct entities — the bridge never
// collapses them.
type Device struct {
	ID        DeviceID
	Transport DeviceTransport
	State     DeviceState
}

// Link is one routing-table edge: the next hop to take, the destination
// Instance it reaches, how many direct hops away that destination is, how
// many hops to the nearest Internet-capable peer via this link, and when
// the link was installed (used to rank stability).
type Link struct {
	NextHop          DeviceID
	Destination      Instance
	HopCount         uint8
	InternetHopCount uint8
	CreatedAt        time.Time
}

// Reachable reports whether HopCount is within the protocol TTL.
func (l Link) Reachable() bool {
	return l.HopCount < MaxHopCount
}

// HasInternet reports whether this link has a known, finite-hop path to
// an Internet-capable peer.
func (l Link) HasInternet() bool {
	return l.InternetHopCount < InfinityHops
}

// CompareTo orders two links by preference: lower hop count wins; ties
// broken by older CreatedAt (the more stable link wins). Returns a
// negative number if l sorts before other, 0 if equivalent, positive
// otherwise — following the Go convention used by sort.Interface-style
// comparators.
func (l Link) CompareTo(other Link) int {
	if l.HopCount != other.HopCount {
		if l.HopCount < other.HopCount {
			return -1
		}
		return 1
	}
	if l.CreatedAt.Equal(other.CreatedAt) {
		return 0
	}
	if l.CreatedAt.Before(other.CreatedAt) {
		return -1
	}
	return 1
}
