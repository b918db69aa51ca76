package bridge

import (
	"sync"
	"time"
)

// RoutingTableDelegate receives the three routing events: found, lost,
// and an incremental link update, generalized from "install one CIDR"
// to "install one mesh edge". All three are invoked synchronously from
// whichever goroutine calls into RoutingTable — callers needing
// serialization run the table on their own executor, as NetworkController
// does.
type RoutingTableDelegate interface {
	InstanceFound(instance Instance)
	InstanceLost(instance Instance, err error)
	LinkUpdate(link Link)
}

// RoutingTable maps reachable Instances to the Links that reach them,
// ranking links for the same destination by Link.CompareTo and enforcing
// split horizon on every lookup.
type RoutingTable struct {
	mu       sync.RWMutex
	links    map[Instance]map[DeviceID]Link
	delegate RoutingTableDelegate
}

// NewRoutingTable returns an empty table reporting events to delegate,
// which may be nil (events are then simply dropped).
func NewRoutingTable(delegate RoutingTableDelegate) *RoutingTable {
	return &RoutingTable{
		links:    make(map[Instance]map[DeviceID]Link),
		delegate: delegate,
	}
}

// RegisterOrUpdate installs or refreshes the link (nextHop, destination).
// Links at or beyond MaxHopCount are unreachable and are not installed;
// if they replace a previously installed link, that link is removed as
// though Unregister had targeted just this (nextHop, destination) edge.
// createdAt should be the time the advertisement was received (used only
// for CompareTo's stability tie-break, not wall-clock TTL).
func (t *RoutingTable) RegisterOrUpdate(nextHop DeviceID, destination Instance, hopCount, internetHopCount uint8, createdAt time.Time) {
	t.mu.Lock()

	if hopCount >= MaxHopCount {
		lost := t.removeLocked(nextHop, destination)
		t.mu.Unlock()
		if lost && t.delegate != nil {
			t.delegate.InstanceLost(destination, nil)
		}
		return
	}

	byDevice, known := t.links[destination]
	wasFirstLink := !known || len(byDevice) == 0
	if byDevice == nil {
		byDevice = make(map[DeviceID]Link)
		t.links[destination] = byDevice
	}

	oldBest, hadBest := bestOfLocked(byDevice)

	existing, hadThisEdge := byDevice[nextHop]
	link := Link{
		NextHop:          nextHop,
		Destination:      destination,
		HopCount:         hopCount,
		InternetHopCount: internetHopCount,
		CreatedAt:        createdAt,
	}
	if hadThisEdge {
		link.CreatedAt = existing.CreatedAt // re-advertisement does not reset stability rank
	}
	byDevice[nextHop] = link

	newBest, _ := bestOfLocked(byDevice)

	t.mu.Unlock()

	if t.delegate == nil {
		return
	}
	if wasFirstLink {
		t.delegate.InstanceFound(destination)
	}
	if !hadBest || newBest.CompareTo(oldBest) != 0 {
		t.delegate.LinkUpdate(newBest)
	}
}

// bestOfLocked returns the most preferred link among byDevice, excluding
// nothing. Callers must hold t.mu.
func bestOfLocked(byDevice map[DeviceID]Link) (Link, bool) {
	var best Link
	found := false
	for _, link := range byDevice {
		if !found || link.CompareTo(best) < 0 {
			best = link
			found = true
		}
	}
	return best, found
}

// Unregister removes every link whose next hop is device — called when
// the direct connection to that device is lost. Any Instance left with
// no remaining links emits exactly one InstanceLost.
func (t *RoutingTable) Unregister(device DeviceID, err error) {
	t.mu.Lock()
	var lost []Instance
	for inst, byDevice := range t.links {
		if _, ok := byDevice[device]; !ok {
			continue
		}
		delete(byDevice, device)
		if len(byDevice) == 0 {
			delete(t.links, inst)
			lost = append(lost, inst)
		}
	}
	t.mu.Unlock()

	if t.delegate == nil {
		return
	}
	for _, inst := range lost {
		t.delegate.InstanceLost(inst, err)
	}
}

// removeLocked deletes the (nextHop, destination) edge and reports whether
// it was the last link to destination. Callers must hold t.mu.
func (t *RoutingTable) removeLocked(nextHop DeviceID, destination Instance) bool {
	byDevice, ok := t.links[destination]
	if !ok {
		return false
	}
	if _, had := byDevice[nextHop]; !had {
		return false
	}
	delete(byDevice, nextHop)
	if len(byDevice) == 0 {
		delete(t.links, destination)
		return true
	}
	return false
}

// BestLink returns the most preferred link to destination, excluding any
// link whose next hop is splitHorizon (pass "" to exclude nothing).
func (t *RoutingTable) BestLink(destination Instance, splitHorizon DeviceID) (Link, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byDevice, ok := t.links[destination]
	if !ok {
		return Link{}, false
	}
	var best Link
	found := false
	for nextHop, link := range byDevice {
		if nextHop == splitHorizon {
			continue
		}
		if !found || link.CompareTo(best) < 0 {
			best = link
			found = true
		}
	}
	return best, found
}

// BestInternetLink returns the link with the lowest InternetHopCount
// across every known destination, excluding links whose next hop is
// splitHorizon. It is used to pick the direction to forward an Internet
// packet when the host itself has no Internet connectivity.
func (t *RoutingTable) BestInternetLink(splitHorizon DeviceID) (Link, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var best Link
	found := false
	for _, byDevice := range t.links {
		for nextHop, link := range byDevice {
			if nextHop == splitHorizon || !link.HasInternet() {
				continue
			}
			if !found || link.InternetHopCount < best.InternetHopCount ||
				(link.InternetHopCount == best.InternetHopCount && link.CreatedAt.Before(best.CreatedAt)) {
				best = link
				found = true
			}
		}
	}
	return best, found
}

// Links returns every installed link to destination, for callers that
// need to fan a message out (e.g. update propagation neighbor lists);
// the returned slice is a snapshot, safe to range over after this call
// returns.
func (t *RoutingTable) Links(destination Instance) []Link {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byDevice, ok := t.links[destination]
	if !ok {
		return nil
	}
	out := make([]Link, 0, len(byDevice))
	for _, l := range byDevice {
		out = append(out, l)
	}
	return out
}

// Destinations returns every Instance currently reachable by at least one
// installed link, used to replay known routes to a newly connected
// neighbor (distance-vector convergence requires more than just
// incremental link_update events: a node joining the mesh later than its
// neighbor's other routes were learned must still hear about them).
func (t *RoutingTable) Destinations() []Instance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Instance, 0, len(t.links))
	for inst := range t.links {
		out = append(out, inst)
	}
	return out
}

// NextHops returns the set of distinct next-hop devices currently used to
// reach any instance — i.e. every direct neighbor with at least one
// installed route, used by NetworkController to decide who to send route
// updates to.
func (t *RoutingTable) NextHops() []DeviceID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[DeviceID]struct{})
	for _, byDevice := range t.links {
		for nextHop := range byDevice {
			seen[nextHop] = struct{}{}
		}
	}
	out := make([]DeviceID, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	return out
}
