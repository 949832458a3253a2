// Package arp implements gateway.Client for a Linux router by reading the
// kernel neighbour table. Useful when gatewatch runs on the gateway itself.
package arp

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gatewatch/internal/gateway"
	"gatewatch/internal/inventory"
	"gatewatch/internal/naming"
)

const DefaultPath = "/proc/net/arp"

// ATF_COM from <net/if_arp.h>.
const flagComplete = 0x2

type Client struct {
	path     string
	leases   string
	hostname func() (string, error)
	now      func() time.Time
}

func NewClient(path string) *Client {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	return &Client{path: path, hostname: os.Hostname, now: time.Now}
}

// WithLeases names hosts from a dnsmasq lease file. An empty path disables it.
func (c *Client) WithLeases(path string) *Client {
	c.leases = strings.TrimSpace(path)
	return c
}

type entry struct {
	IP       netip.Addr
	MAC      string
	Flags    int64
	Device   string
	Complete bool
}

func parseProcNetARP(content string) ([]entry, error) {
	s := bufio.NewScanner(strings.NewReader(content))

	// Header line: "IP address       HW type     Flags       HW address            Mask     Device"
	if !s.Scan() {
		return nil, nil
	}

	var out []entry
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) < 6 {
			continue
		}

		flags, err := strconv.ParseInt(fields[2], 0, 64)
		if err != nil {
			continue
		}
		mac, ok := gateway.NormalizeMAC(fields[3])
		if !ok {
			continue
		}
		if _, err := net.ParseMAC(mac); err != nil {
			continue
		}
		ip, err := netip.ParseAddr(fields[0])
		if err != nil {
			continue
		}
		out = append(out, entry{
			IP:       ip,
			MAC:      mac,
			Flags:    flags,
			Device:   fields[5],
			Complete: flags&flagComplete != 0,
		})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// parseLeases maps MAC to the client-supplied host name in a dnsmasq lease
// file ("expiry mac ip hostname client-id").
func parseLeases(content string) map[string]string {
	out := map[string]string{}
	s := bufio.NewScanner(strings.NewReader(content))
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) < 4 {
			continue
		}
		mac, ok := gateway.NormalizeMAC(fields[1])
		if !ok {
			continue
		}
		if _, err := net.ParseMAC(mac); err != nil {
			continue
		}
		out[mac] = fields[3]
	}
	return out
}

// leaseNames reads the lease file. A file dnsmasq has not written yet yields
// no names.
func (c *Client) leaseNames(op string) (map[string]string, error) {
	if c.leases == "" {
		return nil, nil
	}
	content, err := os.ReadFile(c.leases)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if errors.Is(err, os.ErrPermission) {
			return nil, gateway.Errorf(op, gateway.KindAuthRestricted, err)
		}
		return nil, gateway.Errorf(op, gateway.KindConnection, err)
	}
	return parseLeases(string(content)), nil
}

func (c *Client) read(op string) ([]entry, error) {
	content, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, gateway.Errorf(op, gateway.KindAuthRestricted, err)
		}
		return nil, gateway.Errorf(op, gateway.KindConnection, err)
	}
	entries, err := parseProcNetARP(string(content))
	if err != nil {
		return nil, gateway.Errorf(op, gateway.KindUnknown, err)
	}
	return entries, nil
}

// Login checks the table is readable. There is no session to hold.
func (c *Client) Login(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return gateway.Errorf("login", gateway.Classify(err), err)
	}
	f, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return gateway.Errorf("login", gateway.KindAuthRestricted, err)
		}
		return gateway.Errorf("login", gateway.KindConnection, err)
	}
	return f.Close()
}

func (c *Client) Logout(ctx context.Context) error { return nil }

func (c *Client) GetHosts(ctx context.Context, onlyActive bool) ([]inventory.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, gateway.Errorf("get_hosts", gateway.Classify(err), err)
	}
	entries, err := c.read("get_hosts")
	if err != nil {
		return nil, err
	}
	names, err := c.leaseNames("get_hosts")
	if err != nil {
		return nil, err
	}

	now := c.now()
	seen := make(map[string]struct{}, len(entries))
	out := make([]inventory.Device, 0, len(entries))
	for _, e := range entries {
		if onlyActive && !e.Complete {
			continue
		}
		if _, dup := seen[e.MAC]; dup {
			continue
		}
		seen[e.MAC] = struct{}{}
		d := inventory.Device{
			ID:            e.MAC,
			MACAddress:    e.MAC,
			IPAddress:     e.IP.String(),
			InterfaceType: gateway.InterfaceTypeFromName(e.Device),
			LastSeen:      now,
			Active:        true,
		}
		if raw, ok := names[e.MAC]; ok {
			if name, ok := naming.ChooseHostName([]naming.Candidate{{Name: raw, Source: naming.SourceDHCP}}); ok {
				d.HostName = name
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// GetDeviceInfo describes the local host, which is the gateway in this mode.
func (c *Client) GetDeviceInfo(ctx context.Context) (gateway.Info, error) {
	info := gateway.Info{Description: "linux neighbour table " + c.path}
	if name, err := c.hostname(); err == nil {
		info.ModelName = name
	}
	return info, nil
}

func (c *Client) Reboot(ctx context.Context) error {
	return gateway.Errorf("reboot", gateway.KindUnsupported, gateway.ErrUnsupported)
}

func (c *Client) Dump(ctx context.Context) (map[string]any, error) {
	entries, err := c.read("dump")
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, map[string]any{
			"ip":       e.IP.String(),
			"mac":      e.MAC,
			"flags":    "0x" + strconv.FormatInt(e.Flags, 16),
			"device":   e.Device,
			"complete": e.Complete,
		})
	}
	dump := map[string]any{"path": c.path, "entries": rows}
	if c.leases != "" {
		dump["leases_path"] = c.leases
	}
	return dump, nil
}
