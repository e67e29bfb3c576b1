// Package mqtt provides an MQTT transport for relaying decoded KWP2000 traffic.
//
// Frames are published to "{prefix}/{busID}/frames" as JSON objects carrying
// the frame's wire bytes (base64) and its start and end times. Decode errors
// are published to "{prefix}/{busID}/errors". Unless PublishOnly is set, the
// transport also subscribes to both topics and delivers what other sniffers
// publish for the same bus.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/kabili207/kwp2000-go/core/codec"
	"github.com/kabili207/kwp2000-go/core/dedupe"
	"github.com/kabili207/kwp2000-go/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultTopicPrefix is the default MQTT topic prefix for KWP2000 traffic.
	DefaultTopicPrefix = "kwp2000"

	framesSuffix = "frames"
	errorsSuffix = "errors"

	// qos is at-least-once; redeliveries are dropped by the deduplicator.
	qos = 1
)

// Config holds the configuration for an MQTT transport.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "kwp2000").
	TopicPrefix string
	// BusID identifies the diagnostic bus (e.g., "bench-kline").
	BusID string
	// PublishOnly disables the subscription, for sniffers that only relay.
	PublishOnly bool
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over MQTT.
type Transport struct {
	cfg          Config
	client       paho.Client
	log          *slog.Logger
	seen         *dedupe.Deduplicator
	mu           sync.RWMutex
	connected    bool
	frameHandler transport.FrameHandler
	errorHandler transport.ErrorHandler
	stateHandler transport.StateHandler
}

// New creates a new MQTT transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg:  cfg,
		log:  cfg.Logger.WithGroup("mqtt"),
		seen: dedupe.New(),
	}
}

// Start connects to the MQTT broker and begins listening for frames.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}
	if t.cfg.BusID == "" {
		return errors.New("bus ID is required")
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "kwp2000-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetOnConnectHandler(t.onConnected).
		SetConnectionLostHandler(t.onConnectionLost).
		SetReconnectingHandler(t.onReconnecting)

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}
	if t.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	t.client = paho.NewClient(opts)

	token := t.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(30 * time.Second):
		return errors.New("connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if token.Error() != nil {
		return fmt.Errorf("connecting to broker: %w", token.Error())
	}

	return nil
}

// Stop gracefully disconnects from the MQTT broker.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		t.client.Disconnect(1000)
		t.connected = false
	}
	return nil
}

// IsConnected returns true if the transport is connected to the broker.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.client != nil && t.client.IsConnected()
}

// SetFrameHandler sets the callback for frames published by other sniffers.
func (t *Transport) SetFrameHandler(fn transport.FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frameHandler = fn
}

// SetErrorHandler sets the callback for errors published by other sniffers.
func (t *Transport) SetErrorHandler(fn transport.ErrorHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandler = fn
}

// SetStateHandler sets the callback for transport state changes.
func (t *Transport) SetStateHandler(fn transport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

// SendFrame publishes a frame to the bus's frames topic.
func (t *Transport) SendFrame(frame *codec.Frame) error {
	if !t.IsConnected() {
		return errors.New("not connected")
	}

	payload, err := encodeFrameMessage(frame)
	if err != nil {
		return err
	}
	return t.publish(t.topic(framesSuffix), payload)
}

// PublishError publishes a decode error to the bus's errors topic.
func (t *Transport) PublishError(decErr *codec.DecodeError) error {
	if !t.IsConnected() {
		return errors.New("not connected")
	}

	payload, err := encodeErrorMessage(decErr)
	if err != nil {
		return err
	}
	return t.publish(t.topic(errorsSuffix), payload)
}

func (t *Transport) publish(topic string, payload []byte) error {
	token := t.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("timeout publishing to MQTT")
	}
	return token.Error()
}

func (t *Transport) topic(suffix string) string {
	return t.cfg.TopicPrefix + "/" + t.cfg.BusID + "/" + suffix
}

func (t *Transport) subscribe() {
	topics := map[string]byte{
		t.topic(framesSuffix): qos,
		t.topic(errorsSuffix): qos,
	}
	t.client.SubscribeMultiple(topics, t.handleMessage)
	t.log.Debug("subscribed to bus topics", "frames", t.topic(framesSuffix), "errors", t.topic(errorsSuffix))
}

func (t *Transport) handleMessage(_ paho.Client, message paho.Message) {
	if t.seen.HasSeen(message.Topic(), message.Payload()) {
		t.log.Debug("dropping redelivered message", "topic", message.Topic())
		return
	}

	switch {
	case strings.HasSuffix(message.Topic(), "/"+framesSuffix):
		t.handleFrameMessage(message.Payload())
	case strings.HasSuffix(message.Topic(), "/"+errorsSuffix):
		t.handleErrorMessage(message.Payload())
	default:
		t.log.Debug("ignoring message on unexpected topic", "topic", message.Topic())
	}
}

func (t *Transport) handleFrameMessage(payload []byte) {
	t.mu.RLock()
	handler := t.frameHandler
	t.mu.RUnlock()

	if handler == nil {
		return
	}

	frame, err := decodeFrameMessage(payload)
	if err != nil {
		t.log.Debug("failed to parse frame message", "error", err)
		return
	}

	handler(frame, transport.FrameSourceMQTT)
}

func (t *Transport) handleErrorMessage(payload []byte) {
	t.mu.RLock()
	handler := t.errorHandler
	t.mu.RUnlock()

	if handler == nil {
		return
	}

	decErr, err := decodeErrorMessage(payload)
	if err != nil {
		t.log.Debug("failed to parse error message", "error", err)
		return
	}

	handler(decErr, transport.FrameSourceMQTT)
}

func (t *Transport) onConnected(_ paho.Client) {
	t.mu.Lock()
	t.connected = true
	handler := t.stateHandler
	t.mu.Unlock()

	if !t.cfg.PublishOnly {
		t.subscribe()
	}
	t.log.Info("connected to MQTT broker", "broker", t.cfg.Broker)

	if handler != nil {
		handler(t, transport.EventConnected)
	}
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Error("MQTT connection lost", "error", err)

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}

func (t *Transport) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	t.mu.RLock()
	handler := t.stateHandler
	t.mu.RUnlock()

	t.log.Info("reconnecting to MQTT broker")

	if handler != nil {
		handler(t, transport.EventReconnecting)
	}
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
