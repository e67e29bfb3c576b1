// Package metrics exposes decode statistics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kabili207/kwp2000-go/core/codec"
	"github.com/kabili207/kwp2000-go/core/stream"
)

const namespace = "kwp2000"

// SnapshotFunc returns the current decode statistics of one stream.
type SnapshotFunc func() stream.CountersSnapshot

// Collector reports a stream's counters. The counters are read at scrape
// time, so the decode path never touches Prometheus.
type Collector struct {
	snapshot SnapshotFunc

	bytesIn   *prometheus.Desc
	skipped   *prometheus.Desc
	busErrors *prometheus.Desc
	frames    *prometheus.Desc
	errors    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for the stream decoding bus.
func NewCollector(bus string, fn SnapshotFunc) *Collector {
	labels := prometheus.Labels{"bus": bus}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "decoder", name), help, variable, labels)
	}

	return &Collector{
		snapshot:  fn,
		bytesIn:   desc("bytes_total", "Byte events received."),
		skipped:   desc("skipped_bytes_total", "Leading byte events discarded before decoding."),
		busErrors: desc("bus_errors_total", "Byte events flagged with a bus error."),
		frames:    desc("frames_total", "Frames decoded."),
		errors:    desc("errors_total", "Decode errors by kind.", "kind"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesIn
	ch <- c.skipped
	ch <- c.busErrors
	ch <- c.frames
	ch <- c.errors
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.bytesIn, s.BytesIn)
	counter(c.skipped, s.Skipped)
	counter(c.busErrors, s.BusErrors)
	counter(c.frames, s.Frames)
	counter(c.errors, s.UnsupportedFormat, codec.KindUnsupportedFormat.String())
	counter(c.errors, s.InvalidLength, codec.KindInvalidLength.String())
	counter(c.errors, s.InvalidChecksum, codec.KindInvalidChecksum.String())
}

// NewRegistry returns a registry holding the given collectors.
func NewRegistry(collectors ...prometheus.Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return reg, nil
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// Serve listens on addr until ctx is done.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
