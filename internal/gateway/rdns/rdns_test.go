package rdns

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"gatewatch/internal/gateway"
	"gatewatch/internal/inventory"
	"gatewatch/internal/tagging"
)

type fakeClient struct {
	hosts []inventory.Device
	err   error
}

func (f *fakeClient) Login(ctx context.Context) error  { return nil }
func (f *fakeClient) Logout(ctx context.Context) error { return nil }
func (f *fakeClient) GetHosts(ctx context.Context, onlyActive bool) ([]inventory.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]inventory.Device, len(f.hosts))
	copy(out, f.hosts)
	return out, nil
}
func (f *fakeClient) GetDeviceInfo(ctx context.Context) (gateway.Info, error) {
	return gateway.Info{}, nil
}
func (f *fakeClient) Reboot(ctx context.Context) error { return nil }

// startTestServer starts an in-process UDP DNS server on a random port.
func startTestServer(t *testing.T, handler func(dns.ResponseWriter, *dns.Msg)) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	srv := &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(handler)}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func ptrHandler(records map[string]string) func(dns.ResponseWriter, *dns.Msg) {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		target, ok := records[q.Name]
		if !ok {
			m.Rcode = dns.RcodeNameError
			_ = w.WriteMsg(m)
			return
		}
		m.Answer = append(m.Answer, &dns.PTR{
			Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 60},
			Ptr: target,
		})
		_ = w.WriteMsg(m)
	}
}

func TestGetHosts_FillsHostNameAndDeviceType(t *testing.T) {
	addr := startTestServer(t, ptrHandler(map[string]string{
		"10.1.168.192.in-addr.arpa.": "Living-Room-TV.lan.",
		"11.1.168.192.in-addr.arpa.": "unknown-aabbcc.lan.",
	}))

	inner := &fakeClient{hosts: []inventory.Device{
		{ID: "a", MACAddress: "a", IPAddress: "192.168.1.10"},
		{ID: "b", MACAddress: "b", IPAddress: "192.168.1.11"},
		{ID: "c", MACAddress: "c", IPAddress: "192.168.1.12", HostName: "pixel-7"},
		{ID: "d", MACAddress: "d", IPAddress: "192.168.1.13"},
	}}
	c := Wrap(zerolog.Nop(), inner, addr, time.Second)

	hosts, err := c.GetHosts(context.Background(), true)
	if err != nil {
		t.Fatalf("get hosts: %v", err)
	}
	if hosts[0].HostName != "living-room-tv" || hosts[0].DeviceType != tagging.TagTV {
		t.Fatalf("unexpected enrichment for a: %+v", hosts[0])
	}
	if hosts[1].HostName != "" {
		t.Fatalf("expected placeholder ptr to be ignored, got %q", hosts[1].HostName)
	}
	if hosts[2].HostName != "pixel-7" || hosts[2].DeviceType != tagging.TagSmartphone {
		t.Fatalf("expected existing host name kept and classified, got %+v", hosts[2])
	}
	if hosts[3].HostName != "" {
		t.Fatalf("expected NXDOMAIN to leave host name empty, got %q", hosts[3].HostName)
	}
	if inner.hosts[0].HostName != "" {
		t.Fatalf("expected inner adapter data untouched")
	}
}

func TestGetHosts_KeepsGatewayDeviceType(t *testing.T) {
	inner := &fakeClient{hosts: []inventory.Device{
		{ID: "a", Name: "Pixel-7", DeviceType: "Phone"},
	}}
	c := Wrap(zerolog.Nop(), inner, "", 0)

	hosts, err := c.GetHosts(context.Background(), true)
	if err != nil {
		t.Fatalf("get hosts: %v", err)
	}
	if hosts[0].DeviceType != "Phone" {
		t.Fatalf("expected gateway device type kept, got %q", hosts[0].DeviceType)
	}
}

func TestGetHosts_GatewayNameSkipsLookup(t *testing.T) {
	var queries atomic.Int32
	addr := startTestServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		queries.Add(1)
		ptrHandler(map[string]string{"11.1.168.192.in-addr.arpa.": "desk.lan."})(w, r)
	})

	inner := &fakeClient{hosts: []inventory.Device{
		{ID: "a", Name: "nas-01.lan", IPAddress: "192.168.1.10"},
		{ID: "b", Name: "Living Room Speaker", IPAddress: "192.168.1.11"},
	}}
	c := Wrap(zerolog.Nop(), inner, addr, time.Second)

	hosts, err := c.GetHosts(context.Background(), true)
	if err != nil {
		t.Fatalf("get hosts: %v", err)
	}
	if hosts[0].HostName != "nas-01" {
		t.Fatalf("expected gateway name used as host name, got %q", hosts[0].HostName)
	}
	if hosts[1].HostName != "desk" {
		t.Fatalf("expected ptr lookup for a name that is not a host label, got %q", hosts[1].HostName)
	}
	if n := queries.Load(); n != 1 {
		t.Fatalf("expected exactly one ptr query, got %d", n)
	}
}

func TestGetHosts_PropagatesAdapterError(t *testing.T) {
	want := gateway.Errorf("get_hosts", gateway.KindTimeout, context.DeadlineExceeded)
	c := Wrap(zerolog.Nop(), &fakeClient{err: want}, "", 0)

	if _, err := c.GetHosts(context.Background(), true); err != want {
		t.Fatalf("expected adapter error unchanged, got %v", err)
	}
}

func TestDump_Unsupported(t *testing.T) {
	c := Wrap(zerolog.Nop(), &fakeClient{}, "", 0)
	if _, err := c.Dump(context.Background()); gateway.Classify(err) != gateway.KindUnsupported {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestGetHosts_SilentResolverFailsWithTimeout(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	inner := &fakeClient{hosts: []inventory.Device{
		{ID: "a", MACAddress: "a", IPAddress: "192.168.1.10"},
		{ID: "b", MACAddress: "b", IPAddress: "192.168.1.11"},
	}}
	c := Wrap(zerolog.Nop(), inner, pc.LocalAddr().String(), 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	hosts, err := c.GetHosts(ctx, true)
	if hosts != nil {
		t.Fatalf("expected no partial result, got %+v", hosts)
	}
	if gateway.Classify(err) != gateway.KindTimeout || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout, got %v", err)
	}
}
