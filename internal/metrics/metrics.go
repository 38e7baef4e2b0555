// Package metrics exposes Prometheus instrumentation for the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patungan_http_requests_total",
		Help: "HTTP requests by route pattern and status code.",
	}, []string{"route", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "patungan_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	TransactionsPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patungan_transactions_posted_total",
		Help: "Transactions posted, partitioned by lateness.",
	}, []string{"late"})

	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patungan_notifications_published_total",
		Help: "Notification messages published to the bus by kind.",
	}, []string{"kind"})

	NotificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patungan_notifications_delivered_total",
		Help: "Notification messages handled by the worker by outcome.",
	}, []string{"outcome"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records one finished HTTP request.
func ObserveRequest(route string, status int, elapsed time.Duration) {
	RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
