// Package mqtt publishes loop status to an MQTT broker and carries remote
// commands to hosts subscribed on the broker (for example a home server
// that forwards them to the looping phone).
package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	keepAlive      = 60 * time.Second
	pingTimeout    = 10 * time.Second
	connectTimeout = 15 * time.Second
	disconnectMs   = 250
)

// ClientConfig holds MQTT connection settings.
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Logger   *slog.Logger
}

// Client owns the paho connection.
type Client struct {
	client paho.Client
	log    *slog.Logger
}

// Connect dials the broker and waits for the first connection. Later drops
// reconnect automatically.
func Connect(cfg ClientConfig) (*Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "mqtt", "broker", cfg.Broker)

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(keepAlive)
	opts.SetPingTimeout(pingTimeout)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(func(paho.Client) {
		log.Info("connected")
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn("connection lost", "error", err)
	})

	c := paho.NewClient(opts)
	if err := awaitConnect(c, connectTimeout); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}
	return &Client{client: c, log: log}, nil
}

// connector is the part of paho.Client that awaitConnect drives.
type connector interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
}

// awaitConnect waits for the first connection. On failure the client is
// disconnected so its retry goroutine stops.
func awaitConnect(c connector, timeout time.Duration) error {
	tok := c.Connect()
	if !tok.WaitTimeout(timeout) {
		c.Disconnect(0)
		return errors.New("timed out")
	}
	if err := tok.Error(); err != nil {
		c.Disconnect(0)
		return err
	}
	return nil
}

// Native returns the underlying paho client for publishers.
func (c *Client) Native() paho.Client { return c.client }

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool { return c.client.IsConnected() }

// Close disconnects, allowing in-flight messages a short grace period.
func (c *Client) Close() {
	c.client.Disconnect(disconnectMs)
	c.log.Info("disconnected")
}
