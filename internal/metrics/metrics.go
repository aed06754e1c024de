// Package metrics bundles the Prometheus collectors of the flight pipeline and
// implements the observer hooks of the upstream client, reconciler and scene
// hub.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unklstewy/flightglobe/internal/reconcile"
	"github.com/unklstewy/flightglobe/pkg/flights"
)

// Collector holds every flightglobe metric.
type Collector struct {
	gatherer prometheus.Gatherer

	GatewayRequests  *prometheus.CounterVec
	GatewayDurations *prometheus.HistogramVec
	TokenRefreshes   *prometheus.CounterVec

	PollCycles     *prometheus.CounterVec
	DroppedRows    prometheus.Counter
	FlightsInView  prometheus.Gauge
	EntitiesActive prometheus.Gauge
	EntityChanges  *prometheus.CounterVec

	SceneClients prometheus.Gauge
	SceneDrops   prometheus.Counter
}

// New registers the collectors against reg, defaulting to the global
// Prometheus registry when nil. Registering twice against the same registry
// returns the existing collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.GatewayRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flightglobe_gateway_requests_total",
		Help: "Requests served by /api/flights, labeled by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if c.GatewayDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flightglobe_gateway_request_duration_seconds",
		Help:    "Upstream round-trip latency of /api/flights in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if c.TokenRefreshes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flightglobe_token_refreshes_total",
		Help: "OAuth credential exchanges, labeled by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if c.PollCycles, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flightglobe_poll_cycles_total",
		Help: "Poll cycles, labeled by outcome (live, fallback, not_ready, error).",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if c.DroppedRows, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flightglobe_state_vectors_dropped_total",
		Help: "State vectors dropped for failing shape checks.",
	})); err != nil {
		return nil, err
	}
	if c.FlightsInView, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flightglobe_flights_in_region",
		Help: "Flights inside the configured regions in the last batch.",
	})); err != nil {
		return nil, err
	}
	if c.EntitiesActive, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flightglobe_entities_tracked",
		Help: "Rendered flight entities after the last reconcile.",
	})); err != nil {
		return nil, err
	}
	if c.EntityChanges, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flightglobe_entity_changes_total",
		Help: "Entity lifecycle events, labeled by kind (created, updated, retired, failed).",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if c.SceneClients, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flightglobe_scene_clients",
		Help: "Connected scene stream clients.",
	})); err != nil {
		return nil, err
	}
	if c.SceneDrops, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flightglobe_scene_clients_dropped_total",
		Help: "Scene clients disconnected for falling behind.",
	})); err != nil {
		return nil, err
	}

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveGateway records one /api/flights request.
func (c *Collector) ObserveGateway(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.GatewayRequests.WithLabelValues(outcome).Inc()
	c.GatewayDurations.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// TokenRefreshed implements opensky.Observer.
func (c *Collector) TokenRefreshed(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.TokenRefreshes.WithLabelValues(result).Inc()
}

// ObserveBatch records the outcome of a fetch.
func (c *Collector) ObserveBatch(b flights.Batch) {
	if c == nil {
		return
	}
	c.DroppedRows.Add(float64(b.Dropped))
	c.FlightsInView.Set(float64(len(b.Records)))
}

// ObserveCycle records how a poll cycle ended.
func (c *Collector) ObserveCycle(b flights.Batch, err error) {
	if c == nil {
		return
	}
	outcome := "live"
	switch {
	case errors.Is(err, reconcile.ErrTemplateNotReady):
		outcome = "not_ready"
	case err != nil:
		outcome = "error"
	case b.Fallback:
		outcome = "fallback"
	}
	c.PollCycles.WithLabelValues(outcome).Inc()
}

// Reconciled implements reconcile.Observer.
func (c *Collector) Reconciled(res reconcile.Result, tracked int) {
	if c == nil {
		return
	}
	c.EntitiesActive.Set(float64(tracked))
	c.EntityChanges.WithLabelValues("created").Add(float64(res.Created))
	c.EntityChanges.WithLabelValues("updated").Add(float64(res.Updated))
	c.EntityChanges.WithLabelValues("retired").Add(float64(res.Retired))
	c.EntityChanges.WithLabelValues("failed").Add(float64(res.Failed))
}

// ClientsChanged implements scene.Observer.
func (c *Collector) ClientsChanged(n int) {
	if c == nil {
		return
	}
	c.SceneClients.Set(float64(n))
}

// ClientDropped implements scene.Observer.
func (c *Collector) ClientDropped() {
	if c == nil {
		return
	}
	c.SceneDrops.Inc()
}

// register adds col to reg, returning the already registered collector of the
// same type when there is one.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
