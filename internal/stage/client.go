// Package stage carries render directives to the paper-theater display
// fleet over MQTT and tracks which displays are alive. The broker is
// optional: everything here degrades to log-only when it is absent.
package stage

import (
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Topics the displays and the engine agree on.
const (
	DirectiveTopic = "kamishibai/stage/directive"
	HelloTopic     = "kamishibai/stage/hello"
	HeartbeatTopic = "kamishibai/stage/heartbeat"
)

// opTimeout bounds every broker round trip.
const opTimeout = 10 * time.Second

// TimeoutError reports a broker operation that never completed.
type TimeoutError struct {
	Op    string
	Topic string
}

func (e *TimeoutError) Error() string {
	if e.Topic == "" {
		return "mqtt " + e.Op + " timeout"
	}
	return "mqtt " + e.Op + " timeout: " + e.Topic
}

// Client wraps the Paho MQTT client for the stage transport.
type Client struct {
	client paho.Client
	log    *zap.Logger
	mu     sync.Mutex
}

// BrokerURL reads KAMISHIBAI_MQTT_URL, defaulting to a local broker.
func BrokerURL() string {
	if url := os.Getenv("KAMISHIBAI_MQTT_URL"); url != "" {
		return url
	}
	return "tcp://localhost:1883"
}

// NewClient creates a new MQTT client but does not connect. An empty broker
// falls back to BrokerURL().
func NewClient(clientID, broker string, logger *zap.Logger) *Client {
	if broker == "" {
		broker = BrokerURL()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	return &Client{
		client: paho.NewClient(opts),
		log:    logger.With(zap.String("component", "stage"), zap.String("broker", broker)),
	}
}

// await blocks on a token with the operation timeout.
func await(token paho.Token, op, topic string) error {
	if !token.WaitTimeout(opTimeout) {
		return &TimeoutError{Op: op, Topic: topic}
	}
	return token.Error()
}

// Connect attempts to connect to the broker. With connect-retry enabled the
// paho client keeps trying in the background even after an error here.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return await(c.client.Connect(), "connect", "")
}

// Publish sends a payload to a topic at QoS 1.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return await(c.client.Publish(topic, 1, retained, payload), "publish", topic)
}

// Subscribe subscribes to a topic with the given handler at QoS 1.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return await(c.client.Subscribe(topic, 1, handler), "subscribe", topic)
}

// Disconnect flushes in-flight work and drops the broker connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client.Disconnect(1000)
}

// IsConnected reports whether the client currently has a broker connection.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// StartWithRetry attempts the initial connect, logging failure instead of
// crashing. A false return still becomes a live connection once the broker
// appears.
func (c *Client) StartWithRetry() bool {
	if err := c.Connect(); err != nil {
		c.log.Warn("mqtt connect failed, retrying in background", zap.Error(err))
		return false
	}
	c.log.Info("mqtt connected")
	return true
}
