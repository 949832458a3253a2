package sqlcgen

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const upsertGatewayDevice = `-- name: UpsertGatewayDevice :exec
INSERT INTO gateway_devices (
  id,
  mac_address,
  name,
  user_friendly_name,
  host_name,
  user_host_name,
  ip_address,
  interface_type,
  device_type,
  active,
  last_seen,
  updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
ON CONFLICT (id) DO UPDATE
SET mac_address = COALESCE(gateway_devices.mac_address, EXCLUDED.mac_address),
    name = EXCLUDED.name,
    user_friendly_name = EXCLUDED.user_friendly_name,
    host_name = EXCLUDED.host_name,
    user_host_name = EXCLUDED.user_host_name,
    ip_address = EXCLUDED.ip_address,
    interface_type = EXCLUDED.interface_type,
    device_type = EXCLUDED.device_type,
    active = EXCLUDED.active,
    last_seen = COALESCE(EXCLUDED.last_seen, gateway_devices.last_seen),
    updated_at = now()
`

type UpsertGatewayDeviceParams struct {
	ID               string
	MACAddress       *string
	Name             *string
	UserFriendlyName *string
	HostName         *string
	UserHostName     *string
	IPAddress        *string
	InterfaceType    *string
	DeviceType       *string
	Active           bool
	LastSeen         *time.Time
}

func (q *Queries) UpsertGatewayDevice(ctx context.Context, arg UpsertGatewayDeviceParams) error {
	_, err := q.db.Exec(ctx, upsertGatewayDevice,
		arg.ID,
		arg.MACAddress,
		arg.Name,
		arg.UserFriendlyName,
		arg.HostName,
		arg.UserHostName,
		arg.IPAddress,
		arg.InterfaceType,
		arg.DeviceType,
		arg.Active,
		arg.LastSeen,
	)
	return err
}

const listGatewayDevices = `-- name: ListGatewayDevices :many
SELECT id, mac_address, name, user_friendly_name, host_name, user_host_name,
       ip_address, interface_type, device_type, active, last_seen, updated_at
FROM gateway_devices
ORDER BY id ASC
`

func (q *Queries) ListGatewayDevices(ctx context.Context) ([]GatewayDevice, error) {
	rows, err := q.db.Query(ctx, listGatewayDevices)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GatewayDevice
	for rows.Next() {
		var i GatewayDevice
		if err := rows.Scan(
			&i.ID,
			&i.MACAddress,
			&i.Name,
			&i.UserFriendlyName,
			&i.HostName,
			&i.UserHostName,
			&i.IPAddress,
			&i.InterfaceType,
			&i.DeviceType,
			&i.Active,
			&i.LastSeen,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteGatewayDevices = `-- name: DeleteGatewayDevices :execrows
DELETE FROM gateway_devices
WHERE id = ANY($1::text[])
`

func (q *Queries) DeleteGatewayDevices(ctx context.Context, ids []string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteGatewayDevices, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const insertRefreshCycle = `-- name: InsertRefreshCycle :exec
INSERT INTO refresh_cycles (
  id,
  setup,
  outcome,
  error_kind,
  last_error,
  fetched,
  active,
  inactive,
  pruned,
  started_at,
  finished_at
)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

type InsertRefreshCycleParams struct {
	ID         string
	Setup      bool
	Outcome    string
	ErrorKind  *string
	LastError  *string
	Fetched    int32
	Active     int32
	Inactive   int32
	Pruned     int32
	StartedAt  time.Time
	FinishedAt time.Time
}

func (q *Queries) InsertRefreshCycle(ctx context.Context, arg InsertRefreshCycleParams) error {
	_, err := q.db.Exec(ctx, insertRefreshCycle,
		arg.ID,
		arg.Setup,
		arg.Outcome,
		arg.ErrorKind,
		arg.LastError,
		arg.Fetched,
		arg.Active,
		arg.Inactive,
		arg.Pruned,
		arg.StartedAt,
		arg.FinishedAt,
	)
	return err
}

const listRefreshCycles = `-- name: ListRefreshCycles :many
SELECT id::text, setup, outcome, error_kind, last_error, fetched, active, inactive, pruned, started_at, finished_at
FROM refresh_cycles
ORDER BY started_at DESC
LIMIT $1
`

func (q *Queries) ListRefreshCycles(ctx context.Context, limit int32) ([]RefreshCycle, error) {
	rows, err := q.db.Query(ctx, listRefreshCycles, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RefreshCycle
	for rows.Next() {
		var i RefreshCycle
		if err := rows.Scan(
			&i.ID,
			&i.Setup,
			&i.Outcome,
			&i.ErrorKind,
			&i.LastError,
			&i.Fetched,
			&i.Active,
			&i.Inactive,
			&i.Pruned,
			&i.StartedAt,
			&i.FinishedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
