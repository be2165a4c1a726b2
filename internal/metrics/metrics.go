// Package metrics exposes Prometheus metrics for the expiry cache, order
// flow, broker calls and the HTTP API.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/models"
)

const namespace = "quicktrade"

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	expiryHits          *prometheus.CounterVec
	expiryRefreshes     *prometheus.CounterVec
	expiryRefreshErrors *prometheus.CounterVec
	orders              *prometheus.CounterVec
	exits               *prometheus.CounterVec
	brokerCalls         *prometheus.HistogramVec
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

// New creates the metrics on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		expiryHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expiry_cache_hits_total",
				Help:      "Expiry lookups served from the cache",
			},
			[]string{"index"},
		),
		expiryRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expiry_refreshes_total",
				Help:      "Successful expiry refreshes",
			},
			[]string{"index", "classification"},
		),
		expiryRefreshErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expiry_refresh_errors_total",
				Help:      "Failed expiry refreshes",
			},
			[]string{"index"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_total",
				Help:      "Entry orders by outcome",
			},
			[]string{"index", "status", "paper"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exits_total",
				Help:      "Exit orders by outcome",
			},
			[]string{"action", "status"},
		),
		brokerCalls: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "broker_call_duration_seconds",
				Help:      "Broker API call latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"broker", "operation", "outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.expiryHits,
		m.expiryRefreshes,
		m.expiryRefreshErrors,
		m.orders,
		m.exits,
		m.brokerCalls,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ExpiryHit counts a cache hit.
func (m *Metrics) ExpiryHit(index models.Index) {
	m.expiryHits.WithLabelValues(string(index)).Inc()
}

// ExpiryRefreshed counts a successful refresh.
func (m *Metrics) ExpiryRefreshed(rec models.ExpiryRecord) {
	m.expiryRefreshes.WithLabelValues(string(rec.Index), string(rec.Classification)).Inc()
}

// ExpiryRefreshFailed counts a failed refresh.
func (m *Metrics) ExpiryRefreshFailed(index models.Index, err error) {
	m.expiryRefreshErrors.WithLabelValues(string(index)).Inc()
}

// RecordTrade counts a journaled order attempt. It never fails.
func (m *Metrics) RecordTrade(ctx context.Context, trade *models.Trade) error {
	if trade.Action == models.TradeActionEntry {
		m.orders.WithLabelValues(string(trade.Index), string(trade.Status), strconv.FormatBool(trade.IsPaper)).Inc()
		return nil
	}
	m.exits.WithLabelValues(string(trade.Action), string(trade.Status)).Inc()
	return nil
}

// BrokerCall observes the latency of one broker API call.
func (m *Metrics) BrokerCall(broker, op string, elapsed time.Duration, err error) {
	m.brokerCalls.WithLabelValues(broker, op, outcome(err)).Observe(elapsed.Seconds())
}

// Middleware records request counts and latency per route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			m.httpRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind, ok := apperrors.KindOf(err); ok {
		return string(kind)
	}
	return "error"
}
