package server

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rewardrails/internal/settlement"
)

type metricsRegistry struct {
	registry      *prometheus.Registry
	requestsTotal *prometheus.CounterVec
	resultsTotal  *prometheus.CounterVec
}

func newMetricsRegistry(r *prometheus.Registry) *metricsRegistry {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardrails_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})

	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rewardrails_settlement_requests_total",
		Help: "Settlement requests received over HTTP by action and status",
	}, []string{"action", "status"})

	r.MustRegister(requests, results)

	return &metricsRegistry{
		registry:      r,
		requestsTotal: requests,
		resultsTotal:  results,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) observeRequest(route string, code int) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *metricsRegistry) incResult(res settlement.Result) {
	m.resultsTotal.WithLabelValues(string(res.Action), string(res.Status)).Inc()
}
