package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/lora-bridge/internal/infrastructure/config"
)

// conn is the subset of pahomqtt.Client the wrapper uses.
type conn interface {
	IsConnected() bool
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked on paho's goroutines. They must not block and must
// not touch state owned by the engine loop.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client wraps paho.mqtt.golang for a cooperative loop.
//
// No method blocks on the network: Maintain starts connection attempts and
// polls their completion, and Publish hands messages to paho without waiting
// for acknowledgement.
//
// Thread Safety:
//   - All methods are safe for concurrent use, although the bridge only
//     calls Maintain and Publish from its loop goroutine.
type Client struct {
	conn    conn
	cfg     config.MQTTConfig
	will    *Will
	retry   time.Duration
	logger  Logger
	offline []byte

	mu          sync.Mutex
	connected   bool
	pending     pahomqtt.Token
	lastAttempt time.Time
	attempts    int
	published   int
	dropped     int

	subMu         sync.RWMutex
	subscriptions map[string]subscription
}

// New creates a client for cfg. The will, if set, is registered with the
// broker on every connection and published by Close on a clean shutdown
// with the given offline payload. No connection is attempted until Maintain
// is called.
//
// Parameters:
//   - cfg: Broker address, credentials and client id
//   - will: Last-will message, or nil for none
//   - offline: Payload Close publishes to the will topic
//   - retry: Minimum time between connection attempts
//
// Returns:
//   - *Client: Disconnected client; drive it with Maintain
func New(cfg config.MQTTConfig, will *Will, offline string, retry time.Duration) *Client {
	return newClient(pahomqtt.NewClient(buildClientOptions(cfg, will)), cfg, will, offline, retry)
}

func newClient(c conn, cfg config.MQTTConfig, will *Will, offline string, retry time.Duration) *Client {
	return &Client{
		conn:          c,
		cfg:           cfg,
		will:          will,
		retry:         retry,
		logger:        noopLogger{},
		offline:       []byte(offline),
		subscriptions: make(map[string]subscription),
	}
}

// SetLogger sets a logger for connection and handler diagnostics.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// Maintain advances the connection state machine and reports whether the
// client became connected during this call. Callers use that edge to
// republish retained state.
//
// A new connection attempt is started at most once per retry interval; the
// attempt runs in the background and its outcome is picked up by a later
// Maintain call.
func (c *Client) Maintain(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		select {
		case <-c.pending.Done():
		default:
			return false
		}
		err := c.pending.Error()
		c.pending = nil
		if err != nil {
			c.logger.Warn("mqtt connection attempt failed",
				"broker", c.brokerAddr(),
				"attempt", c.attempts,
				"error", err,
			)
		}
	}

	if c.conn.IsConnected() {
		if c.connected {
			return false
		}
		c.connected = true
		c.logger.Info("mqtt connected", "broker", c.brokerAddr(), "attempts", c.attempts)
		c.attempts = 0
		c.restoreSubscriptions()
		return true
	}

	if c.connected {
		c.connected = false
		c.logger.Warn("mqtt connection lost", "broker", c.brokerAddr())
	}

	if !c.lastAttempt.IsZero() && now.Sub(c.lastAttempt) < c.retry {
		return false
	}
	c.lastAttempt = now
	c.attempts++
	c.pending = c.conn.Connect()
	return false
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Publish queues payload for topic without waiting for the broker.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
//
// An immediately failed token is reported as ErrPublishFailed; later
// delivery failures are not observed.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.conn.IsConnected() {
		c.count(false)
		return ErrNotConnected
	}

	token := c.conn.Publish(topic, qos, retained, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			c.count(false)
			return fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
	default:
	}
	c.count(true)
	return nil
}

func (c *Client) count(ok bool) {
	c.mu.Lock()
	if ok {
		c.published++
	} else {
		c.dropped++
	}
	c.mu.Unlock()
}

// Counts returns the number of accepted and dropped publishes.
func (c *Client) Counts() (published, dropped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published, c.dropped
}

// QoS returns the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS) //nolint:gosec // validated to 0..2 by config
}

// Subscribe registers handler for topic. The subscription is sent to the
// broker now if connected and again on every new connection.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()

	if c.conn.IsConnected() {
		c.conn.Subscribe(topic, qos, c.wrapHandler(handler))
	}
	return nil
}

// SubscriptionCount returns the number of registered subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// restoreSubscriptions re-sends every registered subscription. Tokens are
// not awaited.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, sub := range c.subscriptions {
		c.conn.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// wrapHandler wraps a MessageHandler with panic recovery and logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.getLogger().Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.getLogger().Warn("MQTT handler returned error",
				"topic", msg.Topic(),
				"error", err,
			)
		}
	}
}

// Close publishes the offline status (if a will is configured and the
// client is connected) and disconnects.
func (c *Client) Close() error {
	if c.conn.IsConnected() && c.will != nil && c.will.Topic != "" {
		token := c.conn.Publish(c.will.Topic, c.will.QoS, c.will.Retained, c.offline)
		token.WaitTimeout(defaultCloseTimeout)
	}
	c.conn.Disconnect(defaultDisconnectQuiesce)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// HealthCheck reports ErrNotConnected when the broker connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (c *Client) brokerAddr() string {
	return fmt.Sprintf("%s:%d", c.cfg.Broker.Host, c.cfg.Broker.Port)
}

// Probe performs one blocking connect and disconnect against the broker in
// cfg and reports whether it succeeded. It backs the settings page's
// connection test and never touches a running client.
func Probe(ctx context.Context, cfg config.MQTTConfig) error {
	probeCfg := cfg
	probeCfg.Broker.ClientID = cfg.Broker.ClientID + "-probe"
	client := pahomqtt.NewClient(buildClientOptions(probeCfg, nil))

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	client.Disconnect(0)
	return nil
}
