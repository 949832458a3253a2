package sqlcgen

import "time"

type GatewayDevice struct {
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
	UpdatedAt        time.Time
}

type RefreshCycle struct {
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
