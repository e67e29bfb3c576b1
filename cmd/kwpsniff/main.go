// Command kwpsniff decodes KWP2000 traffic from a K-line serial adapter or a
// logic analyser capture, logs every frame and decode error, and optionally
// relays them to an MQTT broker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kabili207/kwp2000-go/core/capture"
	"github.com/kabili207/kwp2000-go/core/codec"
	"github.com/kabili207/kwp2000-go/core/stream"
	"github.com/kabili207/kwp2000-go/internal/config"
	"github.com/kabili207/kwp2000-go/internal/metrics"
	"github.com/kabili207/kwp2000-go/transport"
	"github.com/kabili207/kwp2000-go/transport/mqtt"
	"github.com/kabili207/kwp2000-go/transport/serial"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "kwpsniff:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseFlags(args)
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pub *mqtt.Transport
	if cfg.MQTT.Enabled() {
		pub = mqtt.New(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			UseTLS:      cfg.MQTT.UseTLS,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			BusID:       cfg.MQTT.BusID,
			PublishOnly: cfg.Serial.Port != "" || cfg.Capture.Path != "",
			Logger:      log,
		})
	}

	switch {
	case cfg.Capture.Path != "":
		return runCapture(ctx, cfg, log, pub)
	case cfg.Serial.Port != "":
		return runSerial(ctx, cfg, log, pub)
	case pub != nil:
		return runMonitor(ctx, log, pub)
	default:
		return errors.New("nothing to do: set a serial port, a capture file or an MQTT broker")
	}
}

func parseFlags(args []string) (config.Config, error) {
	fs := flag.NewFlagSet("kwpsniff", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a TOML config file")
	port := fs.String("port", "", "serial port of the K-line adapter")
	baud := fs.Int("baud", config.DefaultBaudRate, "serial baud rate")
	capturePath := fs.String("capture", "", "CSV capture export to decode instead of a serial port")
	skip := fs.Int("skip", 0, "number of leading bytes to discard")
	level := fs.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	metricsAddr := fs.String("metrics", "", "address to serve Prometheus metrics on, e.g. :9108")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	// Explicit flags override the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Serial.Port = *port
		case "baud":
			cfg.Serial.BaudRate = *baud
		case "capture":
			cfg.Capture.Path = *capturePath
		case "skip":
			cfg.Skip = *skip
		case "log-level":
			cfg.LogLevel = *level
		case "metrics":
			cfg.Metrics.Listen = *metricsAddr
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runCapture(ctx context.Context, cfg config.Config, log *slog.Logger, pub *mqtt.Transport) error {
	f, err := os.Open(cfg.Capture.Path)
	if err != nil {
		return fmt.Errorf("opening capture: %w", err)
	}
	defer f.Close()

	if pub != nil {
		if err := pub.Start(ctx); err != nil {
			return err
		}
		defer pub.Stop()
	}

	r := newRelay(log, publisherOf(pub))
	s := stream.New(stream.Config{Skip: cfg.Skip, Logger: log})
	s.SetFrameHandler(func(fr *codec.Frame) { r.frame(fr, transport.FrameSourceCapture) })
	s.SetErrorHandler(func(e *codec.DecodeError) { r.decodeError(e, transport.FrameSourceCapture) })

	g, gctx := errgroup.WithContext(ctx)
	r.blockUntil(gctx.Done())
	relayCtx, stopRelay := context.WithCancel(gctx)
	g.Go(func() error { return r.run(relayCtx) })
	g.Go(func() error {
		defer stopRelay()
		return s.Run(gctx, capture.NewReader(f))
	})
	if cfg.Metrics.Listen != "" {
		g.Go(func() error { return serveMetrics(relayCtx, cfg, log, s.Counters) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	c := s.Counters()
	log.Info("capture decoded",
		"bytes", c.BytesIn, "skipped", c.Skipped, "bus_errors", c.BusErrors,
		"frames", c.Frames, "errors", c.Errors())
	return nil
}

func runSerial(ctx context.Context, cfg config.Config, log *slog.Logger, pub *mqtt.Transport) error {
	kline := serial.New(serial.Config{
		Port:     cfg.Serial.Port,
		BaudRate: cfg.Serial.BaudRate,
		Skip:     cfg.Skip,
		Logger:   log,
	})

	r := newRelay(log, publisherOf(pub))
	kline.SetFrameHandler(r.frame)
	kline.SetErrorHandler(r.decodeError)
	stateHandler, lost := watchLoss(log)
	kline.SetStateHandler(stateHandler)

	// The MQTT connect blocks until the broker answers.
	var g errgroup.Group
	g.Go(func() error { return kline.Start(ctx) })
	if pub != nil {
		pub.SetStateHandler(logState(log))
		g.Go(func() error { return pub.Start(ctx) })
	}
	if err := g.Wait(); err != nil {
		kline.Stop()
		if pub != nil {
			pub.Stop()
		}
		return err
	}

	err := relayUntilLost(ctx, cfg, log, r, lost, kline.Counters)

	kline.Stop()
	if pub != nil {
		pub.Stop()
	}

	c := kline.Counters()
	log.Info("sniffer stopped", "bytes", c.BytesIn, "frames", c.Frames, "errors", c.Errors())
	return err
}

// relayUntilLost relays outcomes until ctx is done or the port is lost.
func relayUntilLost(ctx context.Context, cfg config.Config, log *slog.Logger, r *relay, lost <-chan struct{}, counters metrics.SnapshotFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.run(gctx) })
	g.Go(func() error { return untilLost(gctx, lost) })
	if cfg.Metrics.Listen != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg, log, counters) })
	}
	return g.Wait()
}

func runMonitor(ctx context.Context, log *slog.Logger, sub *mqtt.Transport) error {
	r := newRelay(log, nil)
	sub.SetFrameHandler(r.frame)
	sub.SetErrorHandler(r.decodeError)
	sub.SetStateHandler(logState(log))

	if err := sub.Start(ctx); err != nil {
		return err
	}
	defer sub.Stop()

	return r.run(ctx)
}

func serveMetrics(ctx context.Context, cfg config.Config, log *slog.Logger, fn metrics.SnapshotFunc) error {
	bus := cfg.MQTT.BusID
	if bus == "" {
		bus = "local"
	}
	reg, err := metrics.NewRegistry(metrics.NewCollector(bus, fn))
	if err != nil {
		return err
	}
	return metrics.Serve(ctx, cfg.Metrics.Listen, reg, log)
}

// publisherOf keeps a nil transport from becoming a non-nil publisher.
func publisherOf(t *mqtt.Transport) publisher {
	if t == nil {
		return nil
	}
	return t
}

func logState(log *slog.Logger) transport.StateHandler {
	return func(_ transport.Transport, event transport.Event) {
		log.Info("transport state", "event", event)
	}
}

var errPortLost = errors.New("serial port disconnected")

// watchLoss logs state changes and closes lost on the first disconnect.
func watchLoss(log *slog.Logger) (transport.StateHandler, <-chan struct{}) {
	lost := make(chan struct{})
	var once sync.Once
	logged := logState(log)

	return func(t transport.Transport, event transport.Event) {
		logged(t, event)
		if event == transport.EventDisconnected {
			once.Do(func() { close(lost) })
		}
	}, lost
}

// untilLost blocks until lost is closed or ctx is done.
func untilLost(ctx context.Context, lost <-chan struct{}) error {
	select {
	case <-lost:
		return errPortLost
	case <-ctx.Done():
		return nil
	}
}
