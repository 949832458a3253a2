// Package snmp implements gateway.Client over SNMP. Hosts are read from the
// gateway's IP-to-media (ARP) table and attributed to the interface they were
// learned on.
package snmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"gatewatch/internal/gateway"
	"gatewatch/internal/inventory"
	"gatewatch/internal/naming"
)

type Config struct {
	Host           string
	Port           uint16
	Community      string
	Version        string // "2c" (default) | "1" | "3"
	Username       string // v3 only
	AuthPassword   string // v3 only
	PrivPassword   string // v3 only; empty selects authNoPriv
	Timeout        time.Duration
	Retries        int
	MaxRepetitions uint32
}

// Client holds at most one SNMP session, opened by Login and closed by Logout.
type Client struct {
	cfg Config
	now func() time.Time

	mu   sync.Mutex
	sess *gosnmp.GoSNMP
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.Community) == "" {
		cfg.Community = "public"
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = "2c"
	}
	if cfg.Port == 0 {
		cfg.Port = 161
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.MaxRepetitions == 0 {
		cfg.MaxRepetitions = 20
	}
	return &Client{cfg: cfg, now: time.Now}
}

const (
	oidSysDescr0    = "1.3.6.1.2.1.1.1.0"
	oidSysObjectID0 = "1.3.6.1.2.1.1.2.0"
	oidSysUpTime0   = "1.3.6.1.2.1.1.3.0"
	oidSysContact0  = "1.3.6.1.2.1.1.4.0"
	oidSysName0     = "1.3.6.1.2.1.1.5.0"
	oidSysLocation0 = "1.3.6.1.2.1.1.6.0"

	oidIfDescr       = "1.3.6.1.2.1.2.2.1.2"
	oidIfPhysAddress = "1.3.6.1.2.1.2.2.1.6"
	oidIfName        = "1.3.6.1.2.1.31.1.1.1.1"

	oidIPNetToMediaPhysAddress = "1.3.6.1.2.1.4.22.1.2"
	oidIPNetToMediaType        = "1.3.6.1.2.1.4.22.1.4"

	// ENTITY-MIB, chassis entry 1.
	oidEntSoftwareRev1 = "1.3.6.1.2.1.47.1.1.1.1.10.1"
	oidEntSerialNum1   = "1.3.6.1.2.1.47.1.1.1.1.11.1"
	oidEntMfgName1     = "1.3.6.1.2.1.47.1.1.1.1.12.1"
	oidEntModelName1   = "1.3.6.1.2.1.47.1.1.1.1.13.1"
)

// ipNetToMediaType values.
const (
	mediaTypeInvalid = 2
)

func (c *Client) connect(ctx context.Context) (*gosnmp.GoSNMP, error) {
	s := &gosnmp.GoSNMP{
		Context:        ctx,
		Target:         c.cfg.Host,
		Port:           c.cfg.Port,
		Community:      c.cfg.Community,
		Timeout:        c.cfg.Timeout,
		Retries:        c.cfg.Retries,
		MaxRepetitions: c.cfg.MaxRepetitions,
	}

	switch strings.ToLower(strings.TrimSpace(c.cfg.Version)) {
	case "2c", "v2c", "":
		s.Version = gosnmp.Version2c
	case "1", "v1":
		s.Version = gosnmp.Version1
	case "3", "v3":
		s.Version = gosnmp.Version3
		s.SecurityModel = gosnmp.UserSecurityModel
		usm := &gosnmp.UsmSecurityParameters{
			UserName:                 c.cfg.Username,
			AuthenticationProtocol:   gosnmp.SHA,
			AuthenticationPassphrase: c.cfg.AuthPassword,
		}
		s.MsgFlags = gosnmp.AuthNoPriv
		if c.cfg.PrivPassword != "" {
			usm.PrivacyProtocol = gosnmp.AES
			usm.PrivacyPassphrase = c.cfg.PrivPassword
			s.MsgFlags = gosnmp.AuthPriv
		}
		s.SecurityParameters = usm
	default:
		return nil, gateway.Errorf("login", gateway.KindUnsupported, fmt.Errorf("unsupported snmp version %q", c.cfg.Version))
	}

	if err := s.Connect(); err != nil {
		return nil, classify("login", err)
	}
	return s, nil
}

// Login opens the session and proves it works by reading sysName.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		return gateway.Errorf("login", gateway.KindSessionLimit, errors.New("session already open"))
	}

	s, err := c.connect(ctx)
	if err != nil {
		return err
	}
	pkt, err := s.Get([]string{oidSysName0})
	if err == nil && pkt.Error != gosnmp.NoError {
		err = fmt.Errorf("agent returned %s", pkt.Error)
	}
	if err != nil {
		_ = s.Conn.Close()
		return classify("login", err)
	}

	c.sess = s
	return nil
}

func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return nil
	}
	err := c.sess.Conn.Close()
	c.sess = nil
	if err != nil {
		return classify("logout", err)
	}
	return nil
}

func (c *Client) session(ctx context.Context, op string) (*gosnmp.GoSNMP, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil, gateway.Errorf(op, gateway.KindConnection, errors.New("not logged in"))
	}
	c.sess.Context = ctx
	return c.sess, nil
}

func (c *Client) GetHosts(ctx context.Context, onlyActive bool) ([]inventory.Device, error) {
	s, err := c.session(ctx, "get_hosts")
	if err != nil {
		return nil, err
	}

	ifNames, err := walkInterfaceNames(s)
	if err != nil {
		return nil, classify("get_hosts", err)
	}

	mediaTypes := map[string]int{}
	if onlyActive {
		pdus, err := walk(s, oidIPNetToMediaType)
		if err != nil {
			return nil, classify("get_hosts", err)
		}
		for _, p := range pdus {
			if n, ok := pduInt(p); ok {
				mediaTypes[strings.TrimPrefix(p.Name, "."+oidIPNetToMediaType)] = n
			}
		}
	}

	pdus, err := walk(s, oidIPNetToMediaPhysAddress)
	if err != nil {
		return nil, classify("get_hosts", err)
	}

	now := c.now()
	seen := make(map[string]struct{}, len(pdus))
	out := make([]inventory.Device, 0, len(pdus))
	for _, p := range pdus {
		suffix := strings.TrimPrefix(p.Name, "."+oidIPNetToMediaPhysAddress)
		if onlyActive && mediaTypes[suffix] == mediaTypeInvalid {
			continue
		}
		ifIndex, ip, ok := parseNetToMediaIndex(suffix)
		if !ok {
			continue
		}
		mac, ok := pduMAC(p)
		if !ok {
			continue
		}
		if _, dup := seen[mac]; dup {
			continue
		}
		seen[mac] = struct{}{}

		out = append(out, inventory.Device{
			ID:            mac,
			MACAddress:    mac,
			IPAddress:     ip,
			InterfaceType: gateway.InterfaceTypeFromName(ifNames[ifIndex]),
			LastSeen:      now,
			Active:        true,
		})
	}
	return out, nil
}

func (c *Client) GetDeviceInfo(ctx context.Context) (gateway.Info, error) {
	s, err := c.session(ctx, "get_device_info")
	if err != nil {
		return gateway.Info{}, err
	}

	pkt, err := s.Get([]string{oidSysDescr0, oidSysName0, oidEntSerialNum1, oidEntMfgName1, oidEntModelName1, oidEntSoftwareRev1})
	if err != nil {
		return gateway.Info{}, classify("get_device_info", err)
	}

	info := infoFromPDUs(pkt.Variables)

	if pdus, err := walk(s, oidIfPhysAddress); err == nil {
		for _, p := range pdus {
			if mac, ok := pduMAC(p); ok {
				info.MACAddress = mac
				break
			}
		}
	}
	return info, nil
}

// Reboot is not part of any standard MIB.
func (c *Client) Reboot(ctx context.Context) error {
	return gateway.Errorf("reboot", gateway.KindUnsupported, gateway.ErrUnsupported)
}

// Dump returns the system group and the interface table.
func (c *Client) Dump(ctx context.Context) (map[string]any, error) {
	s, err := c.session(ctx, "dump")
	if err != nil {
		return nil, err
	}

	pkt, err := s.Get([]string{oidSysDescr0, oidSysObjectID0, oidSysUpTime0, oidSysContact0, oidSysName0, oidSysLocation0})
	if err != nil {
		return nil, classify("dump", err)
	}
	system := map[string]any{}
	for _, v := range pkt.Variables {
		if str, ok := pduString(v); ok {
			system[strings.TrimPrefix(v.Name, ".")] = str
			continue
		}
		system[strings.TrimPrefix(v.Name, ".")] = gosnmp.ToBigInt(v.Value).String()
	}

	ifNames, err := walkInterfaceNames(s)
	if err != nil {
		return nil, classify("dump", err)
	}
	interfaces := make(map[string]string, len(ifNames))
	for idx, name := range ifNames {
		interfaces[strconv.Itoa(idx)] = name
	}

	return map[string]any{"system": system, "interfaces": interfaces}, nil
}

func walkInterfaceNames(s *gosnmp.GoSNMP) (map[int]string, error) {
	out := map[int]string{}
	for _, base := range []string{oidIfName, oidIfDescr} {
		pdus, err := walk(s, base)
		if err != nil {
			if len(out) > 0 {
				break
			}
			return nil, err
		}
		for _, p := range pdus {
			idx, ok := lastOIDIndexInt(p.Name)
			if !ok {
				continue
			}
			if _, have := out[idx]; have {
				continue
			}
			if str, ok := pduString(p); ok {
				out[idx] = str
			}
		}
	}
	return out, nil
}

// parseNetToMediaIndex splits "<ifIndex>.<a>.<b>.<c>.<d>" as used by the
// ipNetToMediaTable.
func parseNetToMediaIndex(suffix string) (int, string, bool) {
	parts := strings.Split(strings.Trim(suffix, "."), ".")
	if len(parts) != 5 {
		return 0, "", false
	}
	ifIndex, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	ip := net.ParseIP(strings.Join(parts[1:], "."))
	if ip == nil || ip.To4() == nil {
		return 0, "", false
	}
	return ifIndex, ip.String(), true
}

func infoFromPDUs(vars []gosnmp.SnmpPDU) gateway.Info {
	var info gateway.Info
	for _, v := range vars {
		str, ok := pduString(v)
		if !ok {
			continue
		}
		switch strings.TrimPrefix(v.Name, ".") {
		case oidSysDescr0:
			info.Description = str
		case oidSysName0:
			// sysName is often an FQDN; keep the bare label when it is usable.
			if name, _, ok := naming.NormalizeHostName(naming.SourceSNMP, str); ok {
				str = name
			}
			info.ModelName = str
		case oidEntSerialNum1:
			info.SerialNumber = str
		case oidEntMfgName1:
			info.Manufacturer = str
		case oidEntModelName1:
			info.ModelNumber = str
		case oidEntSoftwareRev1:
			info.SoftwareVersion = str
		}
	}
	return info
}

func pduString(pdu gosnmp.SnmpPDU) (string, bool) {
	switch v := pdu.Value.(type) {
	case string:
		s := strings.TrimSpace(v)
		return s, s != ""
	case []byte:
		s := strings.TrimSpace(string(v))
		return s, s != ""
	default:
		return "", false
	}
}

func pduInt(pdu gosnmp.SnmpPDU) (int, bool) {
	switch v := pdu.Value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	default:
		return 0, false
	}
}

func pduMAC(pdu gosnmp.SnmpPDU) (string, bool) {
	b, ok := pdu.Value.([]byte)
	if !ok || len(b) != 6 {
		return "", false
	}
	return gateway.NormalizeMAC(net.HardwareAddr(b).String())
}

func lastOIDIndexInt(oid string) (int, bool) {
	oid = strings.TrimSpace(oid)
	if oid == "" {
		return 0, false
	}
	i := strings.LastIndex(oid, ".")
	n, err := strconv.Atoi(oid[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// classify tags SNMP library errors, which are mostly plain strings, with a
// gateway.Kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unknown user"),
		strings.Contains(msg, "wrong digest"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "decryption"),
		strings.Contains(msg, "authorizationerror"):
		return gateway.Errorf(op, gateway.KindInvalidCredentials, err)
	case strings.Contains(msg, "noaccess"):
		return gateway.Errorf(op, gateway.KindAuthRestricted, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return gateway.Errorf(op, gateway.KindTimeout, err)
	}
	return gateway.Errorf(op, gateway.Classify(err), err)
}

// walk uses GETBULK where the protocol version has it.
func walk(s *gosnmp.GoSNMP, oid string) ([]gosnmp.SnmpPDU, error) {
	if s.Version == gosnmp.Version1 {
		return s.WalkAll(oid)
	}
	return s.BulkWalkAll(oid)
}
