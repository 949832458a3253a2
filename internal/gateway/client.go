// Package gateway defines the capability set the coordinator consumes from a
// residential gateway, and the closed set of failure kinds adapters report.
package gateway

import (
	"context"

	"gatewatch/internal/inventory"
)

// Client is implemented by every gateway adapter. Calls other than Login are
// only valid between a successful Login and the matching Logout.
type Client interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	GetHosts(ctx context.Context, onlyActive bool) ([]inventory.Device, error)
	GetDeviceInfo(ctx context.Context) (Info, error)
	Reboot(ctx context.Context) error
}

// Dumper is implemented by adapters that can return a raw view of the
// gateway's state for diagnostics.
type Dumper interface {
	Dump(ctx context.Context) (map[string]any, error)
}

// Info identifies the gateway itself.
type Info struct {
	MACAddress      string `json:"mac_address,omitempty"`
	SerialNumber    string `json:"serial_number,omitempty"`
	Manufacturer    string `json:"manufacturer,omitempty"`
	ModelName       string `json:"model_name,omitempty"`
	ModelNumber     string `json:"model_number,omitempty"`
	SoftwareVersion string `json:"software_version,omitempty"`
	Description     string `json:"description,omitempty"`
}

// DisplayName mirrors how the gateway is named in the device list.
func (i Info) DisplayName() string {
	switch {
	case i.Manufacturer != "" && i.ModelNumber != "":
		return i.Manufacturer + " " + i.ModelNumber
	case i.ModelName != "":
		return i.ModelName
	case i.Description != "":
		return i.Description
	default:
		return i.MACAddress
	}
}
