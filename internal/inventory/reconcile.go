package inventory

import (
	"sort"
	"time"
)

// Reconcile merges a fresh fetch into the previous registry and returns the
// next registry. previous is not modified.
//
// Every previously known device comes back inactive unless it is present in
// fetched, in which case its mutable attributes are replaced with the fetched
// values and it is marked active. No device is ever removed here.
func Reconcile(previous Registry, fetched []Device) Registry {
	next := make(Registry, len(previous)+len(fetched))
	for id, d := range previous {
		d.Active = false
		next[id] = d
	}

	for _, f := range fetched {
		if f.ID == "" {
			continue
		}
		cur, ok := next[f.ID]
		if !ok {
			f.Active = true
			next[f.ID] = f
			continue
		}
		next[f.ID] = merge(cur, f)
	}

	return next
}

// merge applies the overwrite list. ID never changes and MACAddress is only
// filled when the known record has none.
func merge(cur, fresh Device) Device {
	cur.Name = fresh.Name
	cur.UserFriendlyName = fresh.UserFriendlyName
	cur.HostName = fresh.HostName
	cur.UserHostName = fresh.UserHostName
	cur.IPAddress = fresh.IPAddress
	cur.InterfaceType = fresh.InterfaceType
	cur.DeviceType = fresh.DeviceType
	cur.LastSeen = fresh.LastSeen
	if cur.MACAddress == "" {
		cur.MACAddress = fresh.MACAddress
	}
	cur.Active = true
	return cur
}

// Prune drops inactive devices not seen within retention of now and returns
// the removed IDs in sorted order. A non-positive retention keeps everything.
func Prune(r Registry, now time.Time, retention time.Duration) (Registry, []string) {
	if retention <= 0 {
		return r, nil
	}
	cutoff := now.Add(-retention)

	var removed []string
	out := make(Registry, len(r))
	for id, d := range r {
		if !d.Active && !d.LastSeen.IsZero() && d.LastSeen.Before(cutoff) {
			removed = append(removed, id)
			continue
		}
		out[id] = d
	}
	sort.Strings(removed)
	return out, removed
}

// Deactivate returns a copy of r with every device marked inactive. It is used
// to seed the registry from persisted state at startup.
func Deactivate(r Registry) Registry {
	out := make(Registry, len(r))
	for id, d := range r {
		d.Active = false
		out[id] = d
	}
	return out
}
