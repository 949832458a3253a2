// Package rdns decorates a gateway.Client so fetched hosts without a host
// name get one, either from a gateway-reported name that is already a usable
// host label or from a PTR lookup. Hosts without a device type get one
// classified from their names.
package rdns

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"gatewatch/internal/gateway"
	"gatewatch/internal/inventory"
	"gatewatch/internal/naming"
	"gatewatch/internal/tagging"
)

const defaultTimeout = 500 * time.Millisecond

type Client struct {
	gateway.Client

	log    zerolog.Logger
	server string
	dns    *dns.Client
}

// Wrap returns inner with host-name enrichment. server is a "host:port"
// resolver address, normally the gateway itself. An empty server disables
// PTR lookups but keeps classification. GetHosts fails with KindTimeout when
// ctx ends before every lookup finished; partial results are never returned.
func Wrap(log zerolog.Logger, inner gateway.Client, server string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		Client: inner,
		log:    log,
		server: server,
		dns:    &dns.Client{Timeout: timeout},
	}
}

func (c *Client) GetHosts(ctx context.Context, onlyActive bool) ([]inventory.Device, error) {
	hosts, err := c.Client.GetHosts(ctx, onlyActive)
	if err != nil {
		return nil, err
	}

	resolved := 0
	for i := range hosts {
		h := &hosts[i]
		if h.HostName == "" && h.Name != "" {
			if name, ok := naming.ChooseHostName([]naming.Candidate{{Name: h.Name, Source: naming.SourceGateway}}); ok {
				h.HostName = name
			}
		}
		if h.HostName == "" && h.IPAddress != "" && c.server != "" {
			if err := expired(ctx); err != nil {
				return nil, gateway.Errorf("get_hosts", gateway.KindTimeout, err)
			}
			names, err := c.lookupPTR(ctx, h.IPAddress)
			if err != nil {
				if ctxErr := expired(ctx); ctxErr != nil {
					return nil, gateway.Errorf("get_hosts", gateway.KindTimeout, ctxErr)
				}
				c.log.Debug().Err(err).Str("ip", h.IPAddress).Msg("reverse lookup failed")
			}
			candidates := make([]naming.Candidate, 0, len(names))
			for _, n := range names {
				candidates = append(candidates, naming.Candidate{Name: n, Source: naming.SourceReverseDNS})
			}
			if name, ok := naming.ChooseHostName(candidates); ok {
				h.HostName = name
				resolved++
			}
		}
		if h.DeviceType == "" {
			h.DeviceType = tagging.Classify(h.Name, h.UserFriendlyName, h.HostName, h.UserHostName)
		}
	}
	if resolved > 0 {
		c.log.Debug().Int("resolved", resolved).Int("hosts", len(hosts)).Msg("reverse dns enrichment")
	}
	return hosts, nil
}

// expired reports ctx as done once its deadline has passed, even if the
// context timer has not fired yet.
func expired(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
		return context.DeadlineExceeded
	}
	return nil
}

func (c *Client) lookupPTR(ctx context.Context, ip string) ([]string, error) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return nil, err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	resp, _, err := c.dns.ExchangeContext(ctx, msg, c.server)
	if err != nil {
		return nil, fmt.Errorf("ptr %s: %w", ip, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("ptr %s: rcode %s", ip, dns.RcodeToString[resp.Rcode])
	}

	var out []string
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			out = append(out, ptr.Ptr)
		}
	}
	return out, nil
}

// Dump forwards to the wrapped adapter when it supports diagnostics.
func (c *Client) Dump(ctx context.Context) (map[string]any, error) {
	d, ok := c.Client.(gateway.Dumper)
	if !ok {
		return nil, gateway.Errorf("dump", gateway.KindUnsupported, gateway.ErrUnsupported)
	}
	out, err := d.Dump(ctx)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	out["reverse_dns_server"] = c.server
	return out, nil
}

var _ gateway.Dumper = (*Client)(nil)
