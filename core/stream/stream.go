// Package stream drives a frame decoder from a sequence of byte events.
//
// A Stream owns one codec.Decoder. It discards a configured number of leading
// events before decoding, keeps decode statistics, and hands every decoded
// frame and decode error to optional handlers.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/kabili207/kwp2000-go/core/codec"
)

// Source supplies byte events in bus order.
// Next returns io.EOF when the source is exhausted.
type Source interface {
	Next() (codec.ByteEvent, error)
}

// FrameHandler is called for every decoded frame.
type FrameHandler func(frame *codec.Frame)

// ErrorHandler is called for every decode error.
type ErrorHandler func(err *codec.DecodeError)

// Config holds the configuration for a Stream.
type Config struct {
	// Skip is the number of leading byte events to discard before decoding.
	Skip int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Stream feeds byte events into a decoder. It is not safe for concurrent
// use, except for Counters which may be read from any goroutine.
type Stream struct {
	cfg          Config
	log          *slog.Logger
	dec          *codec.Decoder
	skip         int
	counters     Counters
	frameHandler FrameHandler
	errorHandler ErrorHandler
}

// New creates a new Stream with the given configuration.
func New(cfg Config) *Stream {
	if cfg.Skip < 0 {
		cfg.Skip = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Stream{
		cfg:  cfg,
		log:  cfg.Logger.WithGroup("stream"),
		dec:  codec.NewDecoder(),
		skip: cfg.Skip,
	}
}

// SetFrameHandler sets the callback for decoded frames.
func (s *Stream) SetFrameHandler(fn FrameHandler) {
	s.frameHandler = fn
}

// SetErrorHandler sets the callback for decode errors.
func (s *Stream) SetErrorHandler(fn ErrorHandler) {
	s.errorHandler = fn
}

// Phase returns the decoder's current phase.
func (s *Stream) Phase() codec.Phase {
	return s.dec.Phase()
}

// Counters returns a snapshot of the decode statistics.
func (s *Stream) Counters() CountersSnapshot {
	return s.counters.Snapshot()
}

// Reset restores the skip count, discards any partial frame and zeroes the counters.
func (s *Stream) Reset() {
	s.skip = s.cfg.Skip
	s.dec.Reset()
	s.counters.Reset()
}

// Push consumes one byte event. The outcome is returned and also passed to
// the matching handler.
func (s *Stream) Push(ev codec.ByteEvent) (*codec.Frame, *codec.DecodeError) {
	s.counters.BytesIn.Add(1)

	if s.skip > 0 {
		s.skip--
		s.counters.Skipped.Add(1)
		return nil, nil
	}

	if ev.BusError {
		s.counters.BusErrors.Add(1)
		s.log.Debug("ignoring byte with bus error", "value", ev.Value, "start", ev.Start)
	}

	frame, err := s.dec.FeedEvent(ev)
	if err != nil {
		var decErr *codec.DecodeError
		if !errors.As(err, &decErr) {
			// Feed only ever fails with a DecodeError.
			panic(fmt.Sprintf("stream: unexpected decoder error %v", err))
		}
		s.countError(decErr.Kind)
		s.log.Debug("decode error", "kind", decErr.Kind, "start", decErr.Start)
		if s.errorHandler != nil {
			s.errorHandler(decErr)
		}
		return nil, decErr
	}

	if frame != nil {
		s.counters.Frames.Add(1)
		if s.frameHandler != nil {
			s.frameHandler(frame)
		}
	}
	return frame, nil
}

// Run pushes events from src until it is exhausted, it fails, or ctx is done.
// Exhausting the source is not an error.
func (s *Stream) Run(ctx context.Context, src Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading byte event: %w", err)
		}

		s.Push(ev)
	}
}

func (s *Stream) countError(kind codec.ErrorKind) {
	switch kind {
	case codec.KindUnsupportedFormat:
		s.counters.UnsupportedFormat.Add(1)
	case codec.KindInvalidLength:
		s.counters.InvalidLength.Add(1)
	case codec.KindInvalidChecksum:
		s.counters.InvalidChecksum.Add(1)
	}
}
