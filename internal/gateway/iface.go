package gateway

import (
	"strings"

	"gatewatch/internal/inventory"
)

var (
	wirelessPrefixes = []string{"wl", "wlan", "ath", "wifi", "ra", "rai", "phy", "wlx", "eth1.wl"}
	wiredPrefixes    = []string{"eth", "en", "lan", "ge", "fe", "port", "sw"}
)

// InterfaceTypeFromName guesses the link type of a host from the name of the
// gateway interface it was learned on. Bridges and unknown names yield "".
func InterfaceTypeFromName(ifName string) string {
	name := strings.ToLower(strings.TrimSpace(ifName))
	if name == "" || strings.HasPrefix(name, "br") {
		return ""
	}
	if strings.Contains(name, "wifi") || strings.Contains(name, "wlan") || strings.Contains(name, "wireless") {
		return inventory.InterfaceWiFi
	}
	for _, p := range wirelessPrefixes {
		if strings.HasPrefix(name, p) {
			return inventory.InterfaceWiFi
		}
	}
	for _, p := range wiredPrefixes {
		if strings.HasPrefix(name, p) {
			return inventory.InterfaceEthernet
		}
	}
	return ""
}

// NormalizeMAC lowercases a colon separated hardware address and reports
// whether it is usable as an identity.
func NormalizeMAC(mac string) (string, bool) {
	m := strings.ToLower(strings.TrimSpace(mac))
	m = strings.ReplaceAll(m, "-", ":")
	if m == "" || m == "00:00:00:00:00:00" || m == "ff:ff:ff:ff:ff:ff" {
		return "", false
	}
	return m, true
}
