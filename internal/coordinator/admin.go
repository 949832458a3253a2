package coordinator

import (
	"context"
	"fmt"

	"gatewatch/internal/gateway"
	"gatewatch/internal/inventory"
)

// Reboot asks the gateway to restart. It waits for any running cycle to
// finish and holds the session for its own duration. A successful reboot
// drops the session on the gateway side, so logout only follows a failure.
func (c *Coordinator) Reboot(ctx context.Context) error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	log := c.log.With().Str("op", "reboot").Logger()
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Login(cctx); err != nil {
		return fmt.Errorf("reboot login: %w", err)
	}
	if err := c.client.Reboot(cctx); err != nil {
		c.release(cctx, log)
		log.Warn().Err(err).Str("kind", classify(cctx, err).String()).Msg("gateway reboot failed")
		return fmt.Errorf("reboot: %w", err)
	}
	log.Info().Msg("gateway reboot requested")
	return nil
}

// Diagnostics bundles what an operator needs to debug the integration.
type Diagnostics struct {
	Status    Status             `json:"status"`
	Gateway   *gateway.Info      `json:"gateway,omitempty"`
	Devices   []inventory.Device `json:"devices"`
	Dump      map[string]any     `json:"dump,omitempty"`
	DumpError string             `json:"dump_error,omitempty"`
}

// Diagnostics collects the registry, status and, when the adapter supports
// it, a raw dump of the gateway state. The dump needs a session, so it waits
// for the cycle lock like Reboot does.
func (c *Coordinator) Diagnostics(ctx context.Context) Diagnostics {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	out := Diagnostics{
		Status:  c.Status(),
		Devices: c.Data().Sorted(),
	}
	if info, ok := c.Gateway(); ok {
		out.Gateway = &info
	}

	dumper, ok := c.client.(gateway.Dumper)
	if !ok {
		return out
	}

	log := c.log.With().Str("op", "diagnostics").Logger()
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Login(cctx); err != nil {
		out.DumpError = err.Error()
		return out
	}
	dump, err := dumper.Dump(cctx)
	c.release(cctx, log)
	if err != nil {
		out.DumpError = err.Error()
		return out
	}
	out.Dump = dump
	return out
}
