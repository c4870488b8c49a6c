// Package metrics exposes the agent's own health as Prometheus metrics:
// status publishes, round timeouts, command results, dropped inbound
// messages, connect attempts, run outcomes, and broker availability.
//
// All methods are safe on a nil *Metrics so components can be built
// without a metrics endpoint.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hostreporter"

// Metrics holds the agent collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	statusPublishes *prometheus.CounterVec
	roundTimeouts   prometheus.Counter
	commands        *prometheus.CounterVec
	inboundDropped  *prometheus.CounterVec
	connectAttempts *prometheus.CounterVec
	runs            *prometheus.CounterVec
	online          prometheus.Gauge
}

// New creates and registers the agent collectors together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		statusPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_publishes_total",
			Help:      "Sensor status publishes by result.",
		}, []string{"result"}),
		roundTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_round_timeouts_total",
			Help:      "Status rounds abandoned after exceeding the round timeout.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Executed commands by command id and result.",
		}, []string{"command", "result"}),
		inboundDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_dropped_total",
			Help:      "Inbound messages dropped before dispatch, by reason.",
		}, []string{"reason"}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Broker connect attempts by result.",
		}, []string{"result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed broker sessions by outcome.",
		}, []string{"outcome"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 while the agent reports itself online to the broker.",
		}),
	}
	m.registry.MustRegister(
		m.statusPublishes,
		m.roundTimeouts,
		m.commands,
		m.inboundDropped,
		m.connectAttempts,
		m.runs,
		m.online,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the agent collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// StatusPublished counts one sensor publish.
func (m *Metrics) StatusPublished(ok bool) {
	if m == nil {
		return
	}
	m.statusPublishes.WithLabelValues(result(ok)).Inc()
}

// RoundTimedOut counts one abandoned status round.
func (m *Metrics) RoundTimedOut() {
	if m == nil {
		return
	}
	m.roundTimeouts.Inc()
}

// CommandExecuted counts one command execution.
func (m *Metrics) CommandExecuted(command string, ok bool) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, result(ok)).Inc()
}

// Drop reasons for [Metrics.InboundDropped].
const (
	DropFull    = "full"
	DropClosed  = "closed"
	DropUnknown = "unknown_topic"
)

// InboundDropped counts one dropped inbound message.
func (m *Metrics) InboundDropped(reason string) {
	if m == nil {
		return
	}
	m.inboundDropped.WithLabelValues(reason).Inc()
}

// ConnectAttempt counts one broker connect attempt.
func (m *Metrics) ConnectAttempt(ok bool) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result(ok)).Inc()
}

// RunFinished counts one finished session with outcome "clean" or
// "error".
func (m *Metrics) RunFinished(err error) {
	if m == nil {
		return
	}
	outcome := "clean"
	if err != nil {
		outcome = "error"
	}
	m.runs.WithLabelValues(outcome).Inc()
}

// SetOnline records the availability last published.
func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}

// Handler returns the /metrics HTTP handler for the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve listens on addr and serves /metrics until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
