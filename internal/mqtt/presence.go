package mqtt

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"gatewatch/internal/inventory"
)

const (
	StateHome    = "home"
	StateNotHome = "not_home"

	publishTimeout = 5 * time.Second
)

// Publisher is the part of paho.Client presence publishing needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

type attributes struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	HostName      string `json:"host_name,omitempty"`
	IPAddress     string `json:"ip_address,omitempty"`
	MACAddress    string `json:"mac_address,omitempty"`
	InterfaceType string `json:"interface_type,omitempty"`
	DeviceType    string `json:"device_type,omitempty"`
	LastSeen      string `json:"last_seen,omitempty"`
}

// Presence turns published registries into retained MQTT messages. A device
// is only republished when its state or attributes changed.
type Presence struct {
	log    zerolog.Logger
	pub    Publisher
	prefix string
	qos    byte
	filter inventory.Filter

	mu   sync.Mutex
	sent map[string]string
}

func NewPresence(log zerolog.Logger, pub Publisher, prefix string, qos byte, filter inventory.Filter) *Presence {
	return &Presence{
		log:    log,
		pub:    pub,
		prefix: normalizePrefix(prefix),
		qos:    qos,
		filter: filter,
		sent:   map[string]string{},
	}
}

// Listener adapts Publish to a coordinator listener.
func (p *Presence) Listener() func(inventory.Registry) {
	return func(reg inventory.Registry) {
		if n, err := p.Publish(reg); err != nil {
			p.log.Warn().Err(err).Int("published", n).Msg("mqtt presence publish incomplete")
		}
	}
}

// Publish sends every changed device in reg and returns how many were sent.
// Devices that failed to publish are retried on the next call.
func (p *Presence) Publish(reg inventory.Registry) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	published := 0
	for _, id := range p.filter.Apply(reg).IDs() {
		d := reg[id]
		state := StateNotHome
		if d.Active {
			state = StateHome
		}
		attrs, err := json.Marshal(toAttributes(d))
		if err != nil {
			return published, fmt.Errorf("marshal attributes for %s: %w", id, err)
		}

		fingerprint := state + "|" + string(attrs)
		if p.sent[id] == fingerprint {
			continue
		}

		base := p.prefix + "/" + TopicID(id)
		if err := p.send(base+"/state", state); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := p.send(base+"/attributes", attrs); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p.sent[id] = fingerprint
		published++
	}

	if published > 0 {
		p.log.Debug().Int("published", published).Msg("mqtt presence updated")
	}
	return published, firstErr
}

func (p *Presence) send(topic string, payload interface{}) error {
	token := p.pub.Publish(topic, p.qos, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func toAttributes(d inventory.Device) attributes {
	a := attributes{
		ID:            d.ID,
		Name:          d.DisplayName(),
		HostName:      d.DisplayHostName(),
		IPAddress:     d.IPAddress,
		MACAddress:    d.MACAddress,
		InterfaceType: d.InterfaceType,
		DeviceType:    d.DeviceType,
	}
	if !d.LastSeen.IsZero() {
		a.LastSeen = d.LastSeen.UTC().Format(time.RFC3339)
	}
	return a
}

// TopicID makes a device id safe to use as a single topic level. Ids that are
// already safe are used as is. Any other id is sanitised and suffixed with a
// hash of the original, so "aa:bb" and "aa_bb" never share a topic.
func TopicID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == id {
		return out
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return fmt.Sprintf("%s_%08x", out, h.Sum32())
}

func StatusTopic(prefix string) string {
	return normalizePrefix(prefix) + "/status"
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "gatewatch"
	}
	return prefix
}
