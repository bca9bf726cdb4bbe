// Package subscription maintains the vehicle -> interested-subscribers index
// consumed on every accepted location report. Updates are incremental; a
// change takes effect on the next evaluation cycle.
package subscription

import (
	"sort"
	"sync"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
)

// Index maps vehicles to the subscribers tracking them. A subscriber tracks a
// vehicle either explicitly or through the zone their home falls in.
type Index struct {
	mu sync.RWMutex

	subscribers map[string]domain.Subscriber
	byVehicle   map[string]map[string]struct{}

	zones       map[string]domain.Zone
	zoneVehicle map[string]string
}

func NewIndex() *Index {
	return &Index{
		subscribers: make(map[string]domain.Subscriber),
		byVehicle:   make(map[string]map[string]struct{}),
		zones:       make(map[string]domain.Zone),
		zoneVehicle: make(map[string]string),
	}
}

// SetZone registers or updates a service zone. Existing memberships derived
// from the zone are re-resolved.
func (ix *Index) SetZone(z domain.Zone) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.zones[z.ID] = z
	ix.reindexLocked()
}

// AssignVehicle binds a vehicle to a zone, remapping every subscriber whose
// tracked vehicle derives from that zone.
func (ix *Index) AssignVehicle(zoneID, vehicleID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.zoneVehicle[zoneID] = vehicleID
	ix.reindexLocked()
}

// Upsert adds or updates a subscriber. A subscriber with a home location but
// no zone is auto-assigned to the first zone containing the home.
func (ix *Index) Upsert(sub domain.Subscriber) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.dropMembershipLocked(sub.ID)
	if sub.ZoneID == "" && sub.HasHome {
		sub.ZoneID = ix.zoneContainingLocked(sub.HomeLat, sub.HomeLng)
	}
	ix.subscribers[sub.ID] = sub
	ix.addMembershipLocked(sub)
}

// Remove deletes a subscriber from the index.
func (ix *Index) Remove(subscriberID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.dropMembershipLocked(subscriberID)
	delete(ix.subscribers, subscriberID)
}

// SubscribersFor returns the subscribers currently tracking the vehicle,
// sorted by id for deterministic fan-out. Alert enablement is not filtered
// here: disabled subscribers still receive live location updates, and the
// alert machine skips them.
func (ix *Index) SubscribersFor(vehicleID string) []domain.Subscriber {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids, ok := ix.byVehicle[vehicleID]
	if !ok {
		return nil
	}
	out := make([]domain.Subscriber, 0, len(ids))
	for id := range ids {
		out = append(out, ix.subscribers[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscriber returns one subscriber by id.
func (ix *Index) Subscriber(id string) (domain.Subscriber, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	sub, ok := ix.subscribers[id]
	return sub, ok
}

// VehicleFor resolves the vehicle a subscriber currently tracks, preferring
// an explicit choice over the zone assignment.
func (ix *Index) VehicleFor(subscriberID string) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	sub, ok := ix.subscribers[subscriberID]
	if !ok {
		return "", false
	}
	return ix.resolveVehicleLocked(sub)
}

func (ix *Index) resolveVehicleLocked(sub domain.Subscriber) (string, bool) {
	if sub.VehicleID != "" {
		return sub.VehicleID, true
	}
	if sub.ZoneID != "" {
		if v, ok := ix.zoneVehicle[sub.ZoneID]; ok {
			return v, true
		}
	}
	return "", false
}

func (ix *Index) zoneContainingLocked(lat, lng float64) string {
	ids := make([]string, 0, len(ix.zones))
	for id := range ix.zones {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if ix.zones[id].Contains(lat, lng) {
			return id
		}
	}
	return ""
}

func (ix *Index) addMembershipLocked(sub domain.Subscriber) {
	vehicleID, ok := ix.resolveVehicleLocked(sub)
	if !ok {
		return
	}
	set, ok := ix.byVehicle[vehicleID]
	if !ok {
		set = make(map[string]struct{})
		ix.byVehicle[vehicleID] = set
	}
	set[sub.ID] = struct{}{}
}

func (ix *Index) dropMembershipLocked(subscriberID string) {
	for vehicleID, set := range ix.byVehicle {
		delete(set, subscriberID)
		if len(set) == 0 {
			delete(ix.byVehicle, vehicleID)
		}
	}
}

// reindexLocked rebuilds memberships after zone or assignment changes. The
// subscriber count is small enough that a full pass is cheaper than tracking
// reverse edges.
func (ix *Index) reindexLocked() {
	ix.byVehicle = make(map[string]map[string]struct{})
	for _, sub := range ix.subscribers {
		if sub.ZoneID == "" && sub.HasHome {
			sub.ZoneID = ix.zoneContainingLocked(sub.HomeLat, sub.HomeLng)
			ix.subscribers[sub.ID] = sub
		}
		ix.addMembershipLocked(sub)
	}
}
