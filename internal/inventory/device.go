// Package inventory holds the device registry maintained by the coordinator
// and the pure functions that move it from one refresh cycle to the next.
package inventory

import (
	"sort"
	"strings"
	"time"
)

const (
	InterfaceWiFi     = "WiFi"
	InterfaceEthernet = "Ethernet"
)

// Device describes one host the gateway has reported at least once.
type Device struct {
	ID               string    `json:"id"`
	Name             string    `json:"name,omitempty"`
	UserFriendlyName string    `json:"user_friendly_name,omitempty"`
	HostName         string    `json:"host_name,omitempty"`
	UserHostName     string    `json:"user_host_name,omitempty"`
	MACAddress       string    `json:"mac_address"`
	IPAddress        string    `json:"ip_address,omitempty"`
	InterfaceType    string    `json:"interface_type,omitempty"`
	DeviceType       string    `json:"device_type,omitempty"`
	LastSeen         time.Time `json:"last_seen"`
	Active           bool      `json:"active"`
}

// DisplayName returns Name, then UserFriendlyName, then the MAC address.
func (d Device) DisplayName() string {
	if s := strings.TrimSpace(d.Name); s != "" {
		return s
	}
	if s := strings.TrimSpace(d.UserFriendlyName); s != "" {
		return s
	}
	return d.MACAddress
}

// DisplayHostName returns UserHostName, then HostName. It may be empty.
func (d Device) DisplayHostName() string {
	if s := strings.TrimSpace(d.UserHostName); s != "" {
		return s
	}
	return strings.TrimSpace(d.HostName)
}

func (d Device) IsWireless() bool {
	return strings.EqualFold(d.InterfaceType, InterfaceWiFi)
}

func (d Device) IsWired() bool {
	return strings.EqualFold(d.InterfaceType, InterfaceEthernet)
}

// Registry maps device identity to the device record.
type Registry map[string]Device

func (r Registry) Clone() Registry {
	out := make(Registry, len(r))
	for id, d := range r {
		out[id] = d
	}
	return out
}

// IDs returns the registry keys in sorted order.
func (r Registry) IDs() []string {
	out := make([]string, 0, len(r))
	for id := range r {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Sorted returns the devices ordered by ID.
func (r Registry) Sorted() []Device {
	out := make([]Device, 0, len(r))
	for _, id := range r.IDs() {
		out = append(out, r[id])
	}
	return out
}

func (r Registry) Counts() (active, inactive int) {
	for _, d := range r {
		if d.Active {
			active++
		} else {
			inactive++
		}
	}
	return active, inactive
}

// Filter selects devices by interface type. Devices whose interface type is
// neither WiFi nor Ethernet pass when either flag is set.
type Filter struct {
	Wireless bool
	Wired    bool
}

func (f Filter) Match(d Device) bool {
	switch {
	case d.IsWireless():
		return f.Wireless
	case d.IsWired():
		return f.Wired
	default:
		return f.Wireless || f.Wired
	}
}

func (f Filter) Apply(r Registry) Registry {
	out := make(Registry, len(r))
	for id, d := range r {
		if f.Match(d) {
			out[id] = d
		}
	}
	return out
}
