// Package mqtt publishes device presence to an MQTT broker as retained
// per-device state and attribute topics.
package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// Client owns the broker connection. The availability topic
// "<prefix>/status" reads "online" while connected and "offline" otherwise.
type Client struct {
	client paho.Client
	log    zerolog.Logger
	status string
	qos    byte
}

func Connect(log zerolog.Logger, cfg Config) (*Client, error) {
	status := StatusTopic(cfg.TopicPrefix)

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetWill(status, "offline", cfg.QoS, true)
	opts.SetOnConnectHandler(func(c paho.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
		c.Publish(status, cfg.QoS, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, token.Error())
	}

	return &Client{client: client, log: log, status: status, qos: cfg.QoS}, nil
}

// Native exposes the paho client for publishers.
func (c *Client) Native() paho.Client {
	return c.client
}

func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close marks the service offline and disconnects.
func (c *Client) Close() {
	if token := c.client.Publish(c.status, c.qos, true, "offline"); !token.WaitTimeout(time.Second) {
		c.log.Warn().Msg("mqtt offline status not acknowledged")
	}
	c.client.Disconnect(250)
	c.log.Info().Msg("mqtt disconnected")
}
