// Package serial provides a serial transport for sniffing a K-line bus.
//
// A K-line interface (for example a KKL or FTDI-based VAG-COM cable) exposes
// the bus as a plain serial port. Every byte on the bus, including the bytes
// this transport writes, is read back, timestamped from the line rate and
// decoded into KWP2000 frames.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/kabili207/kwp2000-go/core/clock"
	"github.com/kabili207/kwp2000-go/core/codec"
	"github.com/kabili207/kwp2000-go/core/stream"
	"github.com/kabili207/kwp2000-go/transport"
	"go.bug.st/serial"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultBaudRate is the default baud rate for K-line connections.
	DefaultBaudRate = clock.DefaultBaudRate

	// readBufSize is the size of the serial read buffer.
	readBufSize = 256
)

// Config holds the configuration for a serial transport.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to 10400.
	BaudRate int
	// Skip is the number of leading bytes to discard before decoding.
	Skip int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over a serial connection.
type Transport struct {
	cfg          Config
	port         serial.Port
	log          *slog.Logger
	clock        *clock.Clock
	stream       *stream.Stream
	mu           sync.RWMutex
	connected    bool
	cancel       context.CancelFunc
	done         chan struct{}
	frameHandler transport.FrameHandler
	errorHandler transport.ErrorHandler
	stateHandler transport.StateHandler
}

// New creates a new serial transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t := &Transport{
		cfg:   cfg,
		log:   cfg.Logger.WithGroup("serial"),
		clock: clock.New(cfg.BaudRate),
		stream: stream.New(stream.Config{
			Skip:   cfg.Skip,
			Logger: cfg.Logger,
		}),
	}
	t.stream.SetFrameHandler(t.dispatchFrame)
	t.stream.SetErrorHandler(t.dispatchError)
	return t
}

// Start opens the serial port and begins decoding bus traffic.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Port == "" {
		return errors.New("serial port is required")
	}

	mode := &serial.Mode{
		BaudRate: t.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(t.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("opening serial port: %w", err)
	}

	done := make(chan struct{})
	readCtx, cancel := context.WithCancel(ctx)

	t.clock.Reset()
	t.stream.Reset()

	t.mu.Lock()
	t.port = port
	t.connected = true
	t.done = done
	t.cancel = cancel
	handler := t.stateHandler
	t.mu.Unlock()

	go t.readLoop(readCtx, port, done)

	t.log.Info("connected to serial port", "port", t.cfg.Port, "baud", t.cfg.BaudRate, "skip", t.cfg.Skip)

	if handler != nil {
		handler(t, transport.EventConnected)
	}

	return nil
}

// Stop closes the serial port and stops the read loop.
func (t *Transport) Stop() error {
	t.mu.Lock()
	handler := t.stateHandler
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	t.mu.Lock()
	t.connected = false
	port := t.port
	t.port = nil
	done := t.done
	t.mu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}

	// Wait for read loop to finish
	if done != nil {
		<-done
	}

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}

	return err
}

// IsConnected returns true if the serial port is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SetFrameHandler sets the callback for decoded frames.
func (t *Transport) SetFrameHandler(fn transport.FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frameHandler = fn
}

// SetErrorHandler sets the callback for decode errors.
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

// Counters returns the decode statistics of the bus.
func (t *Transport) Counters() stream.CountersSnapshot {
	return t.stream.Counters()
}

// SendFrame encodes a KWP2000 frame and writes it to the bus.
// The frame is echoed back by the K-line and decoded like any other traffic.
func (t *Transport) SendFrame(frame *codec.Frame) error {
	t.mu.RLock()
	port := t.port
	connected := t.connected
	t.mu.RUnlock()

	if !connected || port == nil {
		return errors.New("not connected")
	}

	data, err := codec.EncodeFrame(frame)
	if err != nil {
		return fmt.Errorf("encoding KWP2000 frame: %w", err)
	}

	_, err = port.Write(data)
	if err != nil {
		return fmt.Errorf("writing to serial port: %w", err)
	}

	return nil
}

// readLoop continuously reads from port and feeds the decoder. It owns its
// copy of the port so Stop can clear the field while a read is blocked.
func (t *Transport) readLoop(ctx context.Context, port io.Reader, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, readBufSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return // context cancelled, clean shutdown
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				t.handleDisconnect(err)
				return
			}
			t.log.Error("serial read error", "error", err)
			t.handleDisconnect(err)
			return
		}

		if n == 0 {
			continue
		}

		t.processBytes(buf[:n])
	}
}

// processBytes timestamps a batch of bytes read together and pushes them
// through the decoder in order. The serial driver does not report framing
// errors per byte, so no byte is flagged as a bus error.
func (t *Transport) processBytes(data []byte) {
	spans := t.clock.Stamp(len(data))
	for i, b := range data {
		t.stream.Push(codec.ByteEvent{
			Value: b,
			Start: spans[i].Start,
			End:   spans[i].End,
		})
	}
}

func (t *Transport) dispatchFrame(frame *codec.Frame) {
	t.mu.RLock()
	handler := t.frameHandler
	t.mu.RUnlock()

	t.log.Debug("frame", "service", frame.ServiceName, "dst", frame.Dst, "src", frame.Src, "len", frame.Length())

	if handler != nil {
		handler(frame, transport.FrameSourceSerial)
	}
}

func (t *Transport) dispatchError(decErr *codec.DecodeError) {
	t.mu.RLock()
	handler := t.errorHandler
	t.mu.RUnlock()

	if handler != nil {
		handler(decErr, transport.FrameSourceSerial)
	}
}

func (t *Transport) handleDisconnect(err error) {
	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()

	if err != nil {
		t.log.Error("serial disconnected", "error", err)
	}

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
}
