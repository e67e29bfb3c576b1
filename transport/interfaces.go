// Package transport provides transport interfaces and implementations for
// observing KWP2000 traffic on a diagnostic bus and relaying decoded frames.
package transport

import (
	"context"

	"github.com/kabili207/kwp2000-go/core/codec"
)

// Transport is the base interface for all transport implementations.
type Transport interface {
	// Start begins the transport's connection and message handling.
	// The provided context controls the transport's lifetime.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the transport.
	Stop() error
	// IsConnected returns true if the transport is currently connected.
	IsConnected() bool
	// SetFrameHandler sets the callback for decoded frames.
	SetFrameHandler(fn FrameHandler)
	// SetErrorHandler sets the callback for decode errors.
	SetErrorHandler(fn ErrorHandler)
	// SetStateHandler sets the callback for transport state changes.
	SetStateHandler(fn StateHandler)
	// SendFrame encodes and transmits a frame over the transport.
	SendFrame(frame *codec.Frame) error
}

// FrameHandler is called when a KWP2000 frame is received.
type FrameHandler func(frame *codec.Frame, source FrameSource)

// ErrorHandler is called when a malformed frame is observed.
type ErrorHandler func(err *codec.DecodeError, source FrameSource)

// StateHandler is called when the transport state changes.
type StateHandler func(transport Transport, event Event)

// Event represents transport state change events.
type Event int

const (
	// EventConnected is fired when the transport connects.
	EventConnected Event = iota
	// EventDisconnected is fired when the transport disconnects.
	EventDisconnected
	// EventReconnecting is fired when the transport is attempting to reconnect.
	EventReconnecting
	// EventError is fired when an error occurs.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// FrameSource indicates where a frame originated from.
type FrameSource int

const (
	// FrameSourceSerial indicates the frame was decoded from a serial K-line adapter.
	FrameSourceSerial FrameSource = iota
	// FrameSourceMQTT indicates the frame was relayed over MQTT.
	FrameSourceMQTT
	// FrameSourceCapture indicates the frame was decoded from a capture export.
	FrameSourceCapture
	// FrameSourceLocal indicates the frame was originated by this process (TX).
	FrameSourceLocal
)

func (s FrameSource) String() string {
	switch s {
	case FrameSourceSerial:
		return "serial"
	case FrameSourceMQTT:
		return "mqtt"
	case FrameSourceCapture:
		return "capture"
	case FrameSourceLocal:
		return "local"
	default:
		return "unknown"
	}
}
