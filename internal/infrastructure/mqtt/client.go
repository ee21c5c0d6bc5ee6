package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tagsakay/tagsakay-core/internal/infrastructure/config"
)

// Client is the core's connection to the scanner bus.
//
// Scanners publish tag reads and presence on per-device topics; the core
// answers with classification results and fans scan events out. All methods
// are safe for concurrent use. Subscriptions survive reconnects.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected atomic.Bool

	hooksMu      sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is the subset of logging.Logger the client needs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler receives a message with wildcards already expanded in topic.
// It runs on a paho goroutine and must not block for long. A returned error
// is logged; the message is acknowledged either way.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and waits for the first CONNACK.
//
// A retained offline status is registered as the Last Will on
// tagsakay/system/status so scanners can tell a crashed core from a clean
// shutdown and fall back to local buffering.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	will, err := statusPayload(cfg.Broker.ClientID, "offline", "unexpected_disconnect")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	opts.SetWill(Topics{}.SystemStatus(), string(will), 1, true)

	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.logWarn("MQTT reconnecting", "broker", cfg.Broker.Host)
	})

	c.client = pahomqtt.NewClient(opts)
	if err := wait(c.client.Connect(), defaultConnectTimeout, ErrConnectionFailed); err != nil {
		return nil, err
	}

	// The connect handler fires asynchronously.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.resubscribe()
	c.announce("online", "")

	c.hooksMu.RLock()
	hook := c.onConnect
	c.hooksMu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.hooksMu.RLock()
	hook := c.onDisconnect
	c.hooksMu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// resubscribe replays tracked subscriptions after a reconnect. Failures are
// logged; the next reconnect tries again.
func (c *Client) resubscribe() {
	c.subMu.RLock()
	subs := make(map[string]subscription, len(c.subscriptions))
	for topic, sub := range c.subscriptions {
		subs[topic] = sub
	}
	c.subMu.RUnlock()

	for topic, sub := range subs {
		token := c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
		go func(topic string) {
			if err := wait(token, defaultPublishTimeout, ErrSubscribeFailed); err != nil {
				c.logWarn("MQTT resubscribe failed", "topic", topic, "error", err)
			}
		}(topic)
	}
}

// announce publishes the retained core status without waiting for the ack.
func (c *Client) announce(status, reason string) pahomqtt.Token {
	payload, err := statusPayload(c.cfg.Broker.ClientID, status, reason)
	if err != nil {
		c.logWarn("MQTT status payload failed", "error", err)
		return nil
	}
	return c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, payload)
}

// Close announces a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		if token := c.announce("offline", "graceful_shutdown"); token != nil {
			token.WaitTimeout(defaultPublishTimeout)
		}
	}

	c.client.Disconnect(uint(defaultDisconnectQuiesce / time.Millisecond))
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected when the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known link state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect sets a hook run after the initial connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.hooksMu.Lock()
	c.onConnect = fn
	c.hooksMu.Unlock()
}

// SetOnDisconnect sets a hook run when the link drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hooksMu.Lock()
	c.onDisconnect = fn
	c.hooksMu.Unlock()
}

// SetLogger sets the logger for handler failures. Without one they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.hooksMu.Lock()
	c.logger = logger
	c.hooksMu.Unlock()
}

func (c *Client) logWarn(msg string, args ...any) {
	c.hooksMu.RLock()
	logger := c.logger
	c.hooksMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	c.hooksMu.RLock()
	logger := c.logger
	c.hooksMu.RUnlock()
	if logger != nil {
		logger.Error(msg, args...)
	}
}

// wrapHandler adapts a MessageHandler to paho, recovering panics so one bad
// scanner payload cannot take down the delivery goroutine.
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

// wait blocks on a paho token and wraps a timeout or failure in sentinel.
func wait(token pahomqtt.Token, timeout time.Duration, sentinel error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
