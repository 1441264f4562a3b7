package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/telemetry-core/internal/infrastructure/config"
)

// Client is the service's connection to the MQTT broker.
//
// Outbound it carries stored telemetry records and API key lifecycle
// events; inbound it carries the optional device ingest subscription.
// paho reconnects on its own with exponential backoff, and every
// subscription registered through Subscribe is replayed once the session
// is back.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig
	topics  Topics

	connected atomic.Bool

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	hooks   hooks
	hooksMu sync.RWMutex
}

// hooks are the optional observers installed after Connect.
type hooks struct {
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is the subset of logging.Logger the client reports through.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one inbound message. topic is the concrete topic
// with wildcards resolved. A returned error is logged; the message is
// acknowledged either way.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker described by cfg and blocks until the session is
// up or the connect timeout expires.
//
// A retained "offline" status is registered as the Last Will on
// {prefix}/system/status, and "online" is published there on every
// (re)connect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	topics := NewTopics(cfg.TopicPrefix)
	opts := buildClientOptions(cfg)
	configureLWT(opts, topics, cfg.Broker.ClientID)

	c := &Client{
		cfg:           cfg,
		topics:        topics,
		options:       opts,
		subscriptions: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onSessionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onSessionLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.logWarn("MQTT reconnecting", "broker", cfg.Broker.Host)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The on-connect handler runs on a paho goroutine and may lag behind
	// the token.
	c.connected.Store(true)

	return c, nil
}

func (c *Client) onSessionUp() {
	c.connected.Store(true)

	c.subMu.RLock()
	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
	c.subMu.RUnlock()

	c.client.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true, //nolint:gosec // QoS validated by config
		buildStatusPayload(c.cfg.Broker.ClientID, "online", ""))

	if fn := c.currentHooks().onConnect; fn != nil {
		fn()
	}
}

func (c *Client) onSessionLost(err error) {
	c.connected.Store(false)

	if fn := c.currentHooks().onDisconnect; fn != nil {
		fn(err)
	}
}

// Close announces a graceful "offline" status, lets in-flight messages
// drain and disconnects. Closing a client that never connected is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true, //nolint:gosec // QoS validated by config
			buildStatusPayload(c.cfg.Broker.ClientID, "offline", "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)

	return nil
}

// HealthCheck returns ErrNotConnected while the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Topics returns the topic builders for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// IsConnected reports the last known session state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// SetOnConnect installs a callback run after the initial connect and every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.hooksMu.Lock()
	c.hooks.onConnect = callback
	c.hooksMu.Unlock()
}

// SetOnDisconnect installs a callback run when the session is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.hooksMu.Lock()
	c.hooks.onDisconnect = callback
	c.hooksMu.Unlock()
}

// SetLogger sets where handler failures and reconnects are reported.
// Without one they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.hooksMu.Lock()
	c.hooks.logger = logger
	c.hooksMu.Unlock()
}

func (c *Client) currentHooks() hooks {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	return c.hooks
}

func (c *Client) logWarn(msg string, args ...any) {
	if logger := c.currentHooks().logger; logger != nil {
		logger.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	if logger := c.currentHooks().logger; logger != nil {
		logger.Error(msg, args...)
	}
}

// wrapHandler adapts a MessageHandler to paho, recovering panics so one bad
// message cannot take down paho's router goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logError("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logWarn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
