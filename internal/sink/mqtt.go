package sink

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/dudu/yolocam/internal/detector"
)

// MQTTConfig configures the MQTT result sink
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	Encoding Encoding
	// Source names this camera in published messages
	Source string
}

// MQTTStats contains sink statistics
type MQTTStats struct {
	Connected bool
	Published uint64
	Dropped   uint64
	Errors    uint64
}

type publishFunc func(topic string, qos byte, payload []byte) error

// MQTT publishes every result set to a broker topic. SetResults never
// blocks: messages are queued and sent from a background goroutine, and
// dropped when the queue is full.
type MQTT struct {
	config  MQTTConfig
	client  mqtt.Client
	publish publishFunc

	mu     sync.RWMutex
	closed bool
	queue  chan Message
	wg     sync.WaitGroup
	seq    atomic.Uint64

	connected atomic.Bool
	published atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

// NewMQTT connects to the broker and starts the publisher
func NewMQTT(config MQTTConfig) (*MQTT, error) {
	if config.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if config.ClientID == "" {
		config.ClientID = "yolocam-" + uuid.NewString()[:8]
	}

	s := &MQTT{}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		s.connected.Store(true)
		slog.Info("mqtt connection established",
			"broker", config.Broker,
			"client_id", config.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.connected.Store(false)
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", config.Broker)
	}

	client := mqtt.NewClient(opts)
	slog.Info("connecting to mqtt broker", "broker", config.Broker)

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	s.connected.Store(true)

	s.client = client
	s.init(config, func(topic string, qos byte, payload []byte) error {
		if !s.connected.Load() {
			return fmt.Errorf("mqtt not connected")
		}
		t := client.Publish(topic, qos, false, payload)
		if !t.WaitTimeout(2 * time.Second) {
			return fmt.Errorf("publish timeout")
		}
		return t.Error()
	})
	return s, nil
}

func newMQTT(config MQTTConfig, publish publishFunc) *MQTT {
	s := &MQTT{}
	s.init(config, publish)
	return s
}

func (s *MQTT) init(config MQTTConfig, publish publishFunc) {
	if config.Topic == "" {
		config.Topic = "yolocam/detections"
	}
	if config.Encoding == "" {
		config.Encoding = EncodingJSON
	}
	s.config = config
	s.publish = publish
	s.queue = make(chan Message, 8)
	s.wg.Add(1)
	go s.loop()
}

// SetResults queues dets for publishing
func (s *MQTT) SetResults(dets []detector.Detection) {
	m := Message{
		Source:     s.config.Source,
		Seq:        s.seq.Add(1),
		Timestamp:  time.Now(),
		Detections: dets,
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- m:
	default:
		s.dropped.Add(1)
	}
}

func (s *MQTT) loop() {
	defer s.wg.Done()
	for m := range s.queue {
		payload, err := Encode(s.config.Encoding, m)
		if err != nil {
			s.errors.Add(1)
			slog.Error("mqtt: failed to encode detections", "error", err)
			continue
		}
		if err := s.publish(s.config.Topic, s.config.QoS, payload); err != nil {
			s.errors.Add(1)
			slog.Debug("mqtt: publish failed", "topic", s.config.Topic, "error", err)
			continue
		}
		s.published.Add(1)
	}
}

// Stats returns sink statistics
func (s *MQTT) Stats() MQTTStats {
	return MQTTStats{
		Connected: s.connected.Load(),
		Published: s.published.Load(),
		Dropped:   s.dropped.Load(),
		Errors:    s.errors.Load(),
	}
}

// Close flushes queued messages and disconnects
func (s *MQTT) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}
	s.connected.Store(false)
	return nil
}
