package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kabili207/kwp2000-go/core/codec"
	"github.com/kabili207/kwp2000-go/transport"
)

// relayQueueSize bounds the number of outcomes waiting to be published.
const relayQueueSize = 256

// publisher is the subset of the MQTT transport the relay needs.
type publisher interface {
	SendFrame(frame *codec.Frame) error
	PublishError(err *codec.DecodeError) error
}

type outcome struct {
	frame  *codec.Frame
	decErr *codec.DecodeError
}

// relay logs decoded outcomes and forwards them to a publisher. By default it
// never blocks the goroutine that decodes the bus and drops outcomes when the
// queue is full.
type relay struct {
	log   *slog.Logger
	pub   publisher
	queue chan outcome
	wait  <-chan struct{} // non-nil: enqueue blocks until queued or closed
}

func newRelay(log *slog.Logger, pub publisher) *relay {
	return &relay{log: log, pub: pub, queue: make(chan outcome, relayQueueSize)}
}

// blockUntil makes enqueue wait for queue space instead of dropping, until
// done is closed. Used for offline input, which has no real-time deadline.
func (r *relay) blockUntil(done <-chan struct{}) {
	r.wait = done
}

func (r *relay) frame(f *codec.Frame, source transport.FrameSource) {
	attrs := []any{
		"source", source,
		"service_id", f.Service,
		"start", f.Start,
		"end", f.End,
	}
	if f.HasAddress() {
		attrs = append(attrs, "dst", f.Dst, "src", f.Src)
	}
	r.log.Info(f.String(), attrs...)

	if source != transport.FrameSourceMQTT {
		r.enqueue(outcome{frame: f})
	}
}

func (r *relay) decodeError(e *codec.DecodeError, source transport.FrameSource) {
	r.log.Warn("error: "+e.Error(), "source", source, "kind", e.Kind, "start", e.Start, "end", e.End)

	if source != transport.FrameSourceMQTT {
		r.enqueue(outcome{decErr: e})
	}
}

func (r *relay) enqueue(o outcome) {
	if r.pub == nil {
		return
	}
	if r.wait != nil {
		select {
		case r.queue <- o:
		case <-r.wait:
			r.log.Warn("relay stopped, dropping outcome")
		}
		return
	}
	select {
	case r.queue <- o:
	default:
		r.log.Warn("relay queue full, dropping outcome")
	}
}

// run publishes queued outcomes until ctx is done, then drains what is left.
func (r *relay) run(ctx context.Context) error {
	for {
		select {
		case o := <-r.queue:
			r.publish(o)
		case <-ctx.Done():
			for {
				select {
				case o := <-r.queue:
					r.publish(o)
				default:
					if errors.Is(ctx.Err(), context.Canceled) {
						return nil
					}
					return ctx.Err()
				}
			}
		}
	}
}

func (r *relay) publish(o outcome) {
	if r.pub == nil {
		return
	}

	var err error
	if o.frame != nil {
		err = r.pub.SendFrame(o.frame)
	} else {
		err = r.pub.PublishError(o.decErr)
	}
	if err != nil {
		r.log.Warn("failed to publish", "error", err)
	}
}
