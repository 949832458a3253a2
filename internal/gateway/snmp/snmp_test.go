package snmp

import (
	"context"
	"errors"
	"testing"

	"github.com/gosnmp/gosnmp"

	"gatewatch/internal/gateway"
)

func TestParseNetToMediaIndex(t *testing.T) {
	idx, ip, ok := parseNetToMediaIndex(".3.192.168.1.20")
	if !ok || idx != 3 || ip != "192.168.1.20" {
		t.Fatalf("unexpected idx=%d ip=%q ok=%v", idx, ip, ok)
	}

	for _, bad := range []string{"", ".3.192.168.1", ".x.192.168.1.20", ".3.192.168.1.999"} {
		if _, _, ok := parseNetToMediaIndex(bad); ok {
			t.Fatalf("expected %q rejected", bad)
		}
	}
}

func TestPDUMAC(t *testing.T) {
	mac, ok := pduMAC(gosnmp.SnmpPDU{Value: []byte{0xAA, 0xBB, 0xCC, 0x00, 0x11, 0x22}})
	if !ok || mac != "aa:bb:cc:00:11:22" {
		t.Fatalf("unexpected mac=%q ok=%v", mac, ok)
	}
	if _, ok := pduMAC(gosnmp.SnmpPDU{Value: []byte{0, 0, 0, 0, 0, 0}}); ok {
		t.Fatalf("expected zero mac rejected")
	}
	if _, ok := pduMAC(gosnmp.SnmpPDU{Value: "aa:bb"}); ok {
		t.Fatalf("expected non-byte value rejected")
	}
}

func TestPDUString(t *testing.T) {
	if s, ok := pduString(gosnmp.SnmpPDU{Value: []byte(" eth0 ")}); !ok || s != "eth0" {
		t.Fatalf("unexpected %q ok=%v", s, ok)
	}
	if _, ok := pduString(gosnmp.SnmpPDU{Value: "   "}); ok {
		t.Fatalf("expected blank string rejected")
	}
	if _, ok := pduString(gosnmp.SnmpPDU{Value: 5}); ok {
		t.Fatalf("expected int rejected")
	}
}

func TestInfoFromPDUs(t *testing.T) {
	info := infoFromPDUs([]gosnmp.SnmpPDU{
		{Name: "." + oidSysDescr0, Value: []byte("RouterOS RB5009")},
		{Name: "." + oidSysName0, Value: []byte("core-gw.home.arpa.")},
		{Name: oidEntSerialNum1, Value: "HG1234"},
		{Name: oidEntMfgName1, Value: []byte("MikroTik")},
		{Name: oidEntModelName1, Value: []byte("RB5009UG+S+")},
		{Name: oidEntSoftwareRev1, Value: []byte("7.14")},
	})
	want := gateway.Info{
		Description:     "RouterOS RB5009",
		ModelName:       "core-gw",
		SerialNumber:    "HG1234",
		Manufacturer:    "MikroTik",
		ModelNumber:     "RB5009UG+S+",
		SoftwareVersion: "7.14",
	}
	if info != want {
		t.Fatalf("unexpected info:\n got %+v\nwant %+v", info, want)
	}
}

func TestInfoFromPDUs_KeepsUnusableSysName(t *testing.T) {
	info := infoFromPDUs([]gosnmp.SnmpPDU{{Name: oidSysName0, Value: []byte("Main Office Router")}})
	if info.ModelName != "Main Office Router" {
		t.Fatalf("expected raw sysName kept, got %q", info.ModelName)
	}
}

func TestLastOIDIndexInt(t *testing.T) {
	if n, ok := lastOIDIndexInt(".1.3.6.1.2.1.31.1.1.1.1.12"); !ok || n != 12 {
		t.Fatalf("unexpected n=%d ok=%v", n, ok)
	}
	if _, ok := lastOIDIndexInt(""); ok {
		t.Fatalf("expected empty oid rejected")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want gateway.Kind
	}{
		{errors.New("request timeout (after 1 retries)"), gateway.KindTimeout},
		{errors.New("unknown user name"), gateway.KindInvalidCredentials},
		{errors.New("wrong digest"), gateway.KindInvalidCredentials},
		{errors.New("agent returned NoAccess"), gateway.KindAuthRestricted},
		{errors.New("something odd"), gateway.KindUnknown},
	}
	for _, tc := range cases {
		got := gateway.Classify(classify("login", tc.err))
		if got != tc.want {
			t.Fatalf("classify(%q): expected %s, got %s", tc.err, tc.want, got)
		}
	}

	tagged := gateway.Errorf("login", gateway.KindSessionLimit, errors.New("busy"))
	if got := classify("login", tagged); got != tagged {
		t.Fatalf("expected already tagged error passed through")
	}
}

func TestClient_RequiresLogin(t *testing.T) {
	c := NewClient(Config{Host: "192.0.2.1"})

	_, err := c.GetHosts(context.Background(), true)
	if gateway.Classify(err) != gateway.KindConnection {
		t.Fatalf("expected connection error before login, got %v", err)
	}
	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("expected logout without session to be a no-op, got %v", err)
	}
}

func TestClient_RebootUnsupported(t *testing.T) {
	c := NewClient(Config{Host: "192.0.2.1"})
	err := c.Reboot(context.Background())
	if !errors.Is(err, gateway.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if gateway.Classify(err) != gateway.KindUnsupported {
		t.Fatalf("expected unsupported kind, got %s", gateway.Classify(err))
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{Host: "192.0.2.1"})
	if c.cfg.Community != "public" || c.cfg.Version != "2c" || c.cfg.Port != 161 || c.cfg.MaxRepetitions != 20 {
		t.Fatalf("unexpected defaults: %+v", c.cfg)
	}
}

func TestLogin_UnsupportedVersion(t *testing.T) {
	c := NewClient(Config{Host: "192.0.2.1", Version: "9"})
	err := c.Login(context.Background())
	if gateway.Classify(err) != gateway.KindUnsupported {
		t.Fatalf("expected unsupported kind, got %v", err)
	}
}
