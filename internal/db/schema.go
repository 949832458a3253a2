package db

const (
	GatewayDevicesTableSQL = `
		CREATE TABLE IF NOT EXISTS gateway_devices (
			id text PRIMARY KEY,
			mac_address text,
			name text,
			user_friendly_name text,
			host_name text,
			user_host_name text,
			ip_address text,
			interface_type text,
			device_type text,
			active boolean NOT NULL DEFAULT false,
			last_seen timestamptz,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`

	RefreshCyclesTableSQL = `
		CREATE TABLE IF NOT EXISTS refresh_cycles (
			id uuid PRIMARY KEY,
			setup boolean NOT NULL DEFAULT false,
			outcome text NOT NULL,
			error_kind text,
			last_error text,
			fetched integer NOT NULL DEFAULT 0,
			active integer NOT NULL DEFAULT 0,
			inactive integer NOT NULL DEFAULT 0,
			pruned integer NOT NULL DEFAULT 0,
			started_at timestamptz NOT NULL,
			finished_at timestamptz NOT NULL
		)
	`

	RefreshCyclesStartedIndexSQL = `
		CREATE INDEX IF NOT EXISTS refresh_cycles_started_at_idx
		ON refresh_cycles (started_at DESC)
	`
)

func AllTables() []string {
	return []string{
		GatewayDevicesTableSQL,
		RefreshCyclesTableSQL,
		RefreshCyclesStartedIndexSQL,
	}
}
