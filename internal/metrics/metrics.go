// Package metrics exposes relay counters in Prometheus format.
//
// Labels are bounded: bot usernames come from the registry, every other
// label is one of a small fixed set of values chosen by the relay.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/relaybot/core/logger"
)

const component = "metrics"

// Recorder implements the relay counter sink on top of Prometheus collectors.
type Recorder struct {
	events     *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	edits      *prometheus.CounterVec
	heals      *prometheus.CounterVec
	failures   *prometheus.CounterVec
	updates    *prometheus.HistogramVec
	swept      *prometheus.CounterVec
	workers    prometheus.Gauge
}

// NewRecorder builds the collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Relay events handled, by kind and outcome.",
		}, []string{"bot", "kind", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Messages delivered across the relay.",
		}, []string{"bot", "direction", "topology"}),
		edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_edits_total",
			Help: "Edit propagation attempts.",
		}, []string{"bot", "direction", "result"}),
		heals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_thread_heals_total",
			Help: "Threads recreated after the original disappeared.",
		}, []string{"bot", "result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_failures_total",
			Help: "Relay errors by kind.",
		}, []string{"bot", "kind"}),
		updates: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_update_duration_seconds",
			Help:    "Time spent handling one update.",
			Buckets: prometheus.DefBuckets,
		}, []string{"bot", "kind", "status"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_swept_rows_total",
			Help: "Rows removed by the expiry sweep.",
		}, []string{"target"}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_workers_running",
			Help: "Bots with a running update loop.",
		}),
	}
	for _, c := range []prometheus.Collector{r.events, r.deliveries, r.edits, r.heals, r.failures, r.updates, r.swept, r.workers} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

func (r *Recorder) Event(bot, kind, outcome string) {
	r.events.WithLabelValues(bot, kind, outcome).Inc()
}

func (r *Recorder) Delivery(bot, direction, topology string) {
	r.deliveries.WithLabelValues(bot, direction, topology).Inc()
}

func (r *Recorder) Edit(bot, direction, result string) {
	r.edits.WithLabelValues(bot, direction, result).Inc()
}

func (r *Recorder) ThreadHeal(bot, result string) {
	r.heals.WithLabelValues(bot, result).Inc()
}

func (r *Recorder) Failure(bot, kind string) {
	r.failures.WithLabelValues(bot, kind).Inc()
}

// Swept adds the rows removed from target by one sweep.
func (r *Recorder) Swept(target string, removed int64) {
	r.swept.WithLabelValues(target).Add(float64(removed))
}

// SetWorkers records the number of running bots.
func (r *Recorder) SetWorkers(n int) {
	r.workers.Set(float64(n))
}

// UpdateObserver returns a per-bot hook for the update middleware.
func (r *Recorder) UpdateObserver(bot string) func(kind string, took time.Duration, err error) {
	return func(kind string, took time.Duration, err error) {
		status := "ok"
		if err != nil {
			status = "fail"
		}
		r.updates.WithLabelValues(bot, kind, status).Observe(took.Seconds())
	}
}

// Serve exposes gatherer on listen under /metrics until ctx ends.
// An empty listen address disables the endpoint.
func Serve(ctx context.Context, listen string, gatherer prometheus.Gatherer) error {
	if listen == "" {
		return nil
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", listen, err)
	}
	return serve(ctx, ln, gatherer)
}

func serve(ctx context.Context, ln net.Listener, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	logger.Info(ctx, component, "metrics.listening", slog.String("addr", ln.Addr().String()))
	done := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- err
		}
		close(done)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	return nil
}
