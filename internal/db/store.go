package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"gatewatch/internal/coordinator"
	"gatewatch/internal/inventory"
	"gatewatch/internal/sqlcgen"
)

// Queries is the subset of *sqlcgen.Queries the store needs.
type Queries interface {
	UpsertGatewayDevice(ctx context.Context, arg sqlcgen.UpsertGatewayDeviceParams) error
	ListGatewayDevices(ctx context.Context) ([]sqlcgen.GatewayDevice, error)
	DeleteGatewayDevices(ctx context.Context, ids []string) (int64, error)
	InsertRefreshCycle(ctx context.Context, arg sqlcgen.InsertRefreshCycleParams) error
	ListRefreshCycles(ctx context.Context, limit int32) ([]sqlcgen.RefreshCycle, error)
}

// Store persists the published registry and journals refresh cycles.
type Store struct {
	log     zerolog.Logger
	q       Queries
	timeout time.Duration

	// begin and bind are set for pool-backed stores. Without them writes run
	// directly on q, one statement at a time.
	begin func(ctx context.Context) (pgx.Tx, error)
	bind  func(tx pgx.Tx) Queries
}

func NewStore(log zerolog.Logger, q Queries) *Store {
	return &Store{log: log, q: q, timeout: 5 * time.Second}
}

// NewPoolStore returns a Store whose multi-statement writes each run in one
// transaction on p.
func NewPoolStore(log zerolog.Logger, p *Pool) *Store {
	q := p.Queries()
	s := NewStore(log, q)
	s.begin = p.Begin
	s.bind = func(tx pgx.Tx) Queries { return q.WithTx(tx) }
	return s
}

// inTx runs fn inside a transaction when the store has one available. The
// transaction is rolled back unless fn succeeds and the commit goes through.
func (s *Store) inTx(ctx context.Context, fn func(q Queries) error) error {
	if s.begin == nil {
		return fn(s.q)
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(s.bind(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Load reads the last persisted registry. It seeds the coordinator at start.
func (s *Store) Load(ctx context.Context) (inventory.Registry, error) {
	rows, err := s.q.ListGatewayDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list gateway devices: %w", err)
	}
	reg := make(inventory.Registry, len(rows))
	for _, row := range rows {
		d := fromRow(row)
		reg[d.ID] = d
	}
	return reg, nil
}

// Save upserts every device in reg. On a pool-backed store either all rows
// are written or none are.
func (s *Store) Save(ctx context.Context, reg inventory.Registry) error {
	return s.inTx(ctx, func(q Queries) error {
		for _, id := range reg.IDs() {
			if err := q.UpsertGatewayDevice(ctx, toParams(reg[id])); err != nil {
				return fmt.Errorf("upsert gateway device %s: %w", id, err)
			}
		}
		return nil
	})
}

// Listener adapts Save to a coordinator listener.
func (s *Store) Listener() func(inventory.Registry) {
	return func(reg inventory.Registry) {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.Save(ctx, reg); err != nil {
			s.log.Error().Err(err).Int("devices", len(reg)).Msg("failed to persist registry")
		}
	}
}

// RecordCycle journals one refresh cycle and forgets pruned devices.
func (s *Store) RecordCycle(ctx context.Context, r coordinator.Result) error {
	id := r.CycleID
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}

	arg := sqlcgen.InsertRefreshCycleParams{
		ID:         id,
		Setup:      r.Setup,
		Outcome:    r.Outcome(),
		Fetched:    int32(r.Fetched),
		Active:     int32(r.Active),
		Inactive:   int32(r.Inactive),
		Pruned:     int32(len(r.Pruned)),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.Err != nil {
		kind := r.Kind.String()
		msg := r.Err.Error()
		arg.ErrorKind = &kind
		arg.LastError = &msg
	}
	var deleted int64
	err := s.inTx(ctx, func(q Queries) error {
		if err := q.InsertRefreshCycle(ctx, arg); err != nil {
			return fmt.Errorf("insert refresh cycle: %w", err)
		}
		if len(r.Pruned) == 0 {
			return nil
		}
		n, err := q.DeleteGatewayDevices(ctx, r.Pruned)
		if err != nil {
			return fmt.Errorf("delete pruned devices: %w", err)
		}
		deleted = n
		return nil
	})
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted", deleted).Str("cycle_id", id).Msg("pruned devices removed from store")
	}
	return nil
}

// CycleRecord is the journal entry as served by the API.
type CycleRecord struct {
	ID         string    `json:"id"`
	Setup      bool      `json:"setup"`
	Outcome    string    `json:"outcome"`
	ErrorKind  *string   `json:"error_kind,omitempty"`
	LastError  *string   `json:"last_error,omitempty"`
	Fetched    int       `json:"fetched"`
	Active     int       `json:"active"`
	Inactive   int       `json:"inactive"`
	Pruned     int       `json:"pruned"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RecentCycles returns the newest journal entries first.
func (s *Store) RecentCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.q.ListRefreshCycles(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list refresh cycles: %w", err)
	}
	out := make([]CycleRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, CycleRecord{
			ID:         row.ID,
			Setup:      row.Setup,
			Outcome:    row.Outcome,
			ErrorKind:  row.ErrorKind,
			LastError:  row.LastError,
			Fetched:    int(row.Fetched),
			Active:     int(row.Active),
			Inactive:   int(row.Inactive),
			Pruned:     int(row.Pruned),
			StartedAt:  row.StartedAt,
			FinishedAt: row.FinishedAt,
		})
	}
	return out, nil
}

func toParams(d inventory.Device) sqlcgen.UpsertGatewayDeviceParams {
	p := sqlcgen.UpsertGatewayDeviceParams{
		ID:               d.ID,
		MACAddress:       nonEmpty(d.MACAddress),
		Name:             nonEmpty(d.Name),
		UserFriendlyName: nonEmpty(d.UserFriendlyName),
		HostName:         nonEmpty(d.HostName),
		UserHostName:     nonEmpty(d.UserHostName),
		IPAddress:        nonEmpty(d.IPAddress),
		InterfaceType:    nonEmpty(d.InterfaceType),
		DeviceType:       nonEmpty(d.DeviceType),
		Active:           d.Active,
	}
	if !d.LastSeen.IsZero() {
		t := d.LastSeen
		p.LastSeen = &t
	}
	return p
}

func fromRow(row sqlcgen.GatewayDevice) inventory.Device {
	d := inventory.Device{
		ID:               row.ID,
		MACAddress:       deref(row.MACAddress),
		Name:             deref(row.Name),
		UserFriendlyName: deref(row.UserFriendlyName),
		HostName:         deref(row.HostName),
		UserHostName:     deref(row.UserHostName),
		IPAddress:        deref(row.IPAddress),
		InterfaceType:    deref(row.InterfaceType),
		DeviceType:       deref(row.DeviceType),
		Active:           row.Active,
	}
	if row.LastSeen != nil {
		d.LastSeen = *row.LastSeen
	}
	return d
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
