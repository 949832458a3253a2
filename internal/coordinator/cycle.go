package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gatewatch/internal/gateway"
	"gatewatch/internal/inventory"
)

// Refresh runs one cycle: login, fetch active hosts, logout, reconcile and
// publish. It returns ErrCycleInProgress without waiting if another cycle
// holds the session. Failures return a *CycleError and leave the registry
// untouched.
func (c *Coordinator) Refresh(ctx context.Context) (Result, error) {
	if !c.cycleMu.TryLock() {
		return Result{}, ErrCycleInProgress
	}
	defer c.cycleMu.Unlock()
	return c.refresh(ctx, false)
}

// Setup reads the gateway identity and runs the first refresh. Failures are
// flagged as setup failures so the caller can tell "never worked" apart from
// "stopped working".
func (c *Coordinator) Setup(ctx context.Context) (gateway.Info, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	info, err := c.readDeviceInfo(ctx)
	if err != nil {
		return gateway.Info{}, err
	}

	c.mu.Lock()
	c.info = info
	c.hasInfo = true
	c.mu.Unlock()

	c.log.Info().
		Str("gateway", info.DisplayName()).
		Str("serial_number", info.SerialNumber).
		Str("software_version", info.SoftwareVersion).
		Msg("gateway identified")

	if _, err := c.refresh(ctx, true); err != nil {
		return info, err
	}
	return info, nil
}

func (c *Coordinator) readDeviceInfo(ctx context.Context) (gateway.Info, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	log := c.log.With().Str("op", "setup").Logger()

	if err := c.client.Login(cctx); err != nil {
		return gateway.Info{}, c.setupError(cctx, log, PhaseAuthenticating, err)
	}
	info, err := c.client.GetDeviceInfo(cctx)
	c.release(cctx, log)
	if err != nil {
		return gateway.Info{}, c.setupError(cctx, log, PhaseFetching, err)
	}
	return info, nil
}

func (c *Coordinator) setupError(ctx context.Context, log zerolog.Logger, phase Phase, err error) error {
	kind := classify(ctx, err)
	log.Error().Err(err).Str("kind", kind.String()).Str("phase", phase.String()).Msg("gateway setup failed")
	return &CycleError{Kind: kind, Phase: phase, Setup: true, Err: err}
}

func (c *Coordinator) refresh(ctx context.Context, setup bool) (Result, error) {
	c.running.Store(true)
	defer c.running.Store(false)

	res := Result{CycleID: uuid.NewString(), Setup: setup, StartedAt: c.now()}
	log := c.log.With().Str("cycle_id", res.CycleID).Bool("setup", setup).Logger()

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.setPhase(PhaseAuthenticating)
	if err := c.client.Login(cctx); err != nil {
		// No session was opened, so there is nothing to release.
		return c.fail(ctx, cctx, log, res, PhaseAuthenticating, err)
	}

	if c.settle > 0 {
		t := time.NewTimer(c.settle)
		select {
		case <-cctx.Done():
			t.Stop()
			c.release(cctx, log)
			return c.fail(ctx, cctx, log, res, PhaseAuthenticating, cctx.Err())
		case <-t.C:
		}
	}

	c.setPhase(PhaseFetching)
	hosts, err := c.client.GetHosts(cctx, true)
	c.release(cctx, log)
	if err != nil {
		return c.fail(ctx, cctx, log, res, PhaseFetching, err)
	}
	// A fetch that only returned after the deadline is not published.
	if err := cctx.Err(); err != nil {
		return c.fail(ctx, cctx, log, res, PhaseFetching, err)
	}

	c.setPhase(PhaseReconciling)
	stamp := c.now()
	for i := range hosts {
		hosts[i].LastSeen = stamp
	}

	c.mu.Lock()
	next := inventory.Reconcile(c.registry, hosts)
	next, pruned := inventory.Prune(next, stamp, c.retain)
	c.registry = next
	c.phase = PhasePublished
	active, inactive := next.Counts()
	c.status.Ready = true
	c.status.Cycles++
	c.status.ConsecutiveFailures = 0
	c.status.LastSuccess = stamp
	c.mu.Unlock()

	res.Fetched = len(hosts)
	res.Active = active
	res.Inactive = inactive
	res.Pruned = pruned
	res.FinishedAt = c.now()

	log.Info().
		Int("fetched", res.Fetched).
		Int("active", active).
		Int("inactive", inactive).
		Int("pruned", len(pruned)).
		Dur("duration", res.FinishedAt.Sub(res.StartedAt)).
		Msg("refresh cycle published")

	c.metrics.ObserveCycle(res.Outcome(), "", res.FinishedAt.Sub(res.StartedAt))
	c.metrics.SetDevices(active, inactive, stamp)
	c.metrics.AddPruned(len(pruned))

	if ls := c.snapshotListeners(); len(ls) > 0 {
		snapshot := next.Clone()
		for _, l := range ls {
			l.fn(snapshot)
		}
	}

	c.record(ctx, log, res)
	c.setPhase(PhaseIdle)
	return res, nil
}

func (c *Coordinator) fail(ctx, cctx context.Context, log zerolog.Logger, res Result, phase Phase, err error) (Result, error) {
	kind := classify(cctx, err)
	res.Kind = kind
	res.Err = err
	res.FinishedAt = c.now()

	c.mu.Lock()
	c.phase = PhaseFailed
	c.status.Cycles++
	c.status.ConsecutiveFailures++
	c.status.LastFailure = res.FinishedAt
	c.status.LastKind = kind.String()
	c.status.LastError = err.Error()
	failures := c.status.ConsecutiveFailures
	c.mu.Unlock()

	var ev *zerolog.Event
	switch {
	case kind == gateway.KindUnknown, kind.IsAuth(), res.Setup:
		ev = log.Error()
	default:
		ev = log.Warn()
	}
	ev.Err(err).
		Str("kind", kind.String()).
		Str("phase", phase.String()).
		Int("consecutive_failures", failures).
		Msg("refresh cycle failed")

	c.metrics.ObserveCycle(res.Outcome(), kind.String(), res.FinishedAt.Sub(res.StartedAt))
	c.record(ctx, log, res)
	c.setPhase(PhaseIdle)
	return res, &CycleError{Kind: kind, Phase: phase, Setup: res.Setup, Err: err}
}

// classify resolves the failure kind, treating any error raised after the
// cycle deadline passed as a timeout.
func classify(cctx context.Context, err error) gateway.Kind {
	kind := gateway.Classify(err)
	if kind == gateway.KindUnknown && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return gateway.KindTimeout
	}
	return kind
}

// release ends the session. It runs on every exit path after a successful
// login; when the cycle deadline has already passed it gets a short detached
// context of its own. Failures are logged and otherwise ignored.
func (c *Coordinator) release(cctx context.Context, log zerolog.Logger) {
	if cctx.Err() != nil {
		bg, cancel := context.WithTimeout(context.WithoutCancel(cctx), releaseTimeout)
		defer cancel()
		cctx = bg
	}
	if err := c.client.Logout(cctx); err != nil {
		log.Warn().Err(err).Str("kind", gateway.Classify(err).String()).Msg("gateway logout failed")
	}
}

func (c *Coordinator) record(ctx context.Context, log zerolog.Logger, res Result) {
	if c.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := c.recorder.RecordCycle(rctx, res); err != nil {
		log.Warn().Err(err).Msg("failed to record refresh cycle")
	}
}
