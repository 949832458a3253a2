// Package config loads gatewatch settings from an optional YAML file, an
// optional .env file and GATEWATCH_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	AdapterSNMP = "snmp"
	AdapterARP  = "arp"

	MinScanInterval = 10 * time.Second
)

type Config struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	HTTPAddr    string `yaml:"http_addr"`
	DatabaseURL string `yaml:"database_url"`

	ScanInterval  time.Duration `yaml:"scan_interval"`
	CycleTimeout  time.Duration `yaml:"cycle_timeout"`
	SessionSettle time.Duration `yaml:"session_settle"`
	Retention     time.Duration `yaml:"retention"`

	TrackWirelessClients bool `yaml:"track_wireless_clients"`
	TrackWiredClients    bool `yaml:"track_wired_clients"`

	Gateway Gateway `yaml:"gateway"`
	MQTT    MQTT    `yaml:"mqtt"`
	API     API     `yaml:"api"`
}

type Gateway struct {
	Adapter      string        `yaml:"adapter"`
	Host         string        `yaml:"host"`
	Port         uint16        `yaml:"port"`
	Version      string        `yaml:"snmp_version"`
	Community    string        `yaml:"community"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	PrivPassword string        `yaml:"priv_password"`
	Timeout      time.Duration `yaml:"timeout"`
	Retries      int           `yaml:"retries"`
	ARPPath      string        `yaml:"arp_path"`
	LeasesPath   string        `yaml:"leases_path"`
	ReverseDNS   bool          `yaml:"reverse_dns"`
	DNSServer    string        `yaml:"dns_server"`
}

type MQTT struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// API throttles the endpoints that touch the gateway outside the schedule.
type API struct {
	RefreshEvery time.Duration `yaml:"refresh_every"`
	RebootEvery  time.Duration `yaml:"reboot_every"`
}

func Default() Config {
	return Config{
		LogLevel:             "info",
		LogFormat:            "json",
		HTTPAddr:             ":8081",
		ScanInterval:         MinScanInterval,
		CycleTimeout:         10 * time.Second,
		SessionSettle:        time.Second,
		Retention:            30 * 24 * time.Hour,
		TrackWirelessClients: true,
		TrackWiredClients:    true,
		Gateway: Gateway{
			Adapter:   AdapterSNMP,
			Version:   "2c",
			Community: "public",
			Timeout:   2 * time.Second,
			Retries:   1,
		},
		MQTT: MQTT{
			Broker:      "tcp://localhost:1883",
			ClientID:    "gatewatch",
			TopicPrefix: "gatewatch",
		},
		API: API{
			RefreshEvery: 10 * time.Second,
			RebootEvery:  5 * time.Minute,
		},
	}
}

// Load builds the configuration. path may be empty; GATEWATCH_CONFIG is used
// then. A missing .env file is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv("GATEWATCH_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decodeYAML(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.ScanInterval < MinScanInterval {
		c.ScanInterval = MinScanInterval
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 10 * time.Second
	}
	if c.SessionSettle < 0 {
		c.SessionSettle = 0
	}
	if c.Retention < 0 {
		c.Retention = 0
	}
	c.Gateway.Adapter = strings.ToLower(strings.TrimSpace(c.Gateway.Adapter))
	if c.Gateway.ReverseDNS && c.Gateway.DNSServer == "" && c.Gateway.Host != "" {
		c.Gateway.DNSServer = net.JoinHostPort(c.Gateway.Host, "53")
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "gatewatch"
	}
}

func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be json or console", c.LogFormat))
	}

	switch c.Gateway.Adapter {
	case AdapterSNMP:
		if strings.TrimSpace(c.Gateway.Host) == "" {
			errs = append(errs, errors.New("gateway.host is required for the snmp adapter"))
		}
		switch strings.ToLower(c.Gateway.Version) {
		case "1", "2c", "3":
		default:
			errs = append(errs, fmt.Errorf("gateway.snmp_version %q must be 1, 2c or 3", c.Gateway.Version))
		}
		if c.Gateway.Version == "3" && c.Gateway.Username == "" {
			errs = append(errs, errors.New("gateway.username is required for snmp v3"))
		}
	case AdapterARP:
	default:
		errs = append(errs, fmt.Errorf("gateway.adapter %q must be %s or %s", c.Gateway.Adapter, AdapterSNMP, AdapterARP))
	}

	if c.Gateway.ReverseDNS && c.Gateway.DNSServer == "" {
		errs = append(errs, errors.New("gateway.dns_server is required when reverse_dns is enabled without a host"))
	}
	if !c.TrackWirelessClients && !c.TrackWiredClients {
		errs = append(errs, errors.New("at least one of track_wireless_clients or track_wired_clients must be enabled"))
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS))
		}
	}

	return errors.Join(errs...)
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays GATEWATCH_* variables. Unset variables leave the value
// alone; malformed ones are an error.
func applyEnv(c *Config, lookup lookupFunc) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("GATEWATCH_LOG_LEVEL", &c.LogLevel)
	str("GATEWATCH_LOG_FORMAT", &c.LogFormat)
	str("GATEWATCH_HTTP_ADDR", &c.HTTPAddr)
	str("GATEWATCH_DATABASE_URL", &c.DatabaseURL)
	dur("GATEWATCH_SCAN_INTERVAL", &c.ScanInterval)
	dur("GATEWATCH_CYCLE_TIMEOUT", &c.CycleTimeout)
	dur("GATEWATCH_SESSION_SETTLE", &c.SessionSettle)
	dur("GATEWATCH_RETENTION", &c.Retention)
	boolean("GATEWATCH_TRACK_WIRELESS_CLIENTS", &c.TrackWirelessClients)
	boolean("GATEWATCH_TRACK_WIRED_CLIENTS", &c.TrackWiredClients)

	str("GATEWATCH_GATEWAY_ADAPTER", &c.Gateway.Adapter)
	str("GATEWATCH_GATEWAY_HOST", &c.Gateway.Host)
	if v, ok := lookup("GATEWATCH_GATEWAY_PORT"); ok {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			errs = append(errs, fmt.Errorf("GATEWATCH_GATEWAY_PORT: %w", err))
		} else {
			c.Gateway.Port = uint16(n)
		}
	}
	str("GATEWATCH_GATEWAY_SNMP_VERSION", &c.Gateway.Version)
	str("GATEWATCH_GATEWAY_COMMUNITY", &c.Gateway.Community)
	str("GATEWATCH_GATEWAY_USERNAME", &c.Gateway.Username)
	str("GATEWATCH_GATEWAY_PASSWORD", &c.Gateway.Password)
	str("GATEWATCH_GATEWAY_PRIV_PASSWORD", &c.Gateway.PrivPassword)
	dur("GATEWATCH_GATEWAY_TIMEOUT", &c.Gateway.Timeout)
	integer("GATEWATCH_GATEWAY_RETRIES", &c.Gateway.Retries)
	str("GATEWATCH_GATEWAY_ARP_PATH", &c.Gateway.ARPPath)
	str("GATEWATCH_GATEWAY_LEASES_PATH", &c.Gateway.LeasesPath)
	boolean("GATEWATCH_GATEWAY_REVERSE_DNS", &c.Gateway.ReverseDNS)
	str("GATEWATCH_GATEWAY_DNS_SERVER", &c.Gateway.DNSServer)

	boolean("GATEWATCH_MQTT_ENABLED", &c.MQTT.Enabled)
	str("GATEWATCH_MQTT_BROKER", &c.MQTT.Broker)
	str("GATEWATCH_MQTT_CLIENT_ID", &c.MQTT.ClientID)
	str("GATEWATCH_MQTT_USERNAME", &c.MQTT.Username)
	str("GATEWATCH_MQTT_PASSWORD", &c.MQTT.Password)
	str("GATEWATCH_MQTT_TOPIC_PREFIX", &c.MQTT.TopicPrefix)
	integer("GATEWATCH_MQTT_QOS", &c.MQTT.QoS)

	dur("GATEWATCH_API_REFRESH_EVERY", &c.API.RefreshEvery)
	dur("GATEWATCH_API_REBOOT_EVERY", &c.API.RebootEvery)

	return errors.Join(errs...)
}

var durationType = reflect.TypeOf(time.Duration(0))

// decodeYAML decodes b into cfg, reading bare integers in duration fields as
// seconds the same way environment variables are read.
func decodeYAML(b []byte, cfg *Config) error {
	var root yaml.Node
	if err := yaml.Unmarshal(b, &root); err != nil {
		return err
	}
	if root.Kind == 0 {
		return nil
	}
	for _, doc := range root.Content {
		secondsAsDurations(doc, reflect.TypeOf(*cfg))
	}
	return root.Decode(cfg)
}

func secondsAsDurations(n *yaml.Node, t reflect.Type) {
	if n.Kind != yaml.MappingNode || t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		f, ok := fieldByYAMLName(t, n.Content[i].Value)
		if !ok {
			continue
		}
		v := n.Content[i+1]
		switch {
		case f.Type == durationType && v.Kind == yaml.ScalarNode:
			if secs, err := strconv.Atoi(strings.TrimSpace(v.Value)); err == nil {
				v.Value = strconv.Itoa(secs) + "s"
				v.Tag = "!!str"
			}
		case f.Type.Kind() == reflect.Struct:
			secondsAsDurations(v, f.Type)
		}
	}
}

func fieldByYAMLName(t reflect.Type, name string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if strings.Split(f.Tag.Get("yaml"), ",")[0] == name {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}
